package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the browser-automation driver over its local HTTP API.
// The driver process owns the actual headless browsers; each session id
// maps to one logged-in portal UI.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given driver base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

type launchRequest struct {
	OwnerID  string `json:"owner_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type launchResponse struct {
	SessionID string `json:"session_id"`
}

// Launch implements Driver.Launch. The driver performs the full login
// flow before responding, so this can take a while.
func (c *Client) Launch(ctx context.Context, creds Credentials) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	var resp launchResponse
	err := c.postJSON(ctx, "/sessions", launchRequest{
		OwnerID:  creds.OwnerID,
		Username: creds.Username,
		Password: creds.Password,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("launching session for %s: %w", creds.OwnerID, err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("launching session for %s: driver returned empty session id", creds.OwnerID)
	}
	return resp.SessionID, nil
}

type listPageResponse struct {
	PageHTML string `json:"page_html"`
	HasNext  bool   `json:"has_next"`
}

// FetchListPage implements Driver.FetchListPage. The driver returns the
// rendered list-view table as HTML; the rows are decoded here. Malformed
// pages produce an *ExtractionError so callers can skip rather than abort.
func (c *Client) FetchListPage(ctx context.Context, sessionID, entityType string, page int) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/sessions/%s/list/%s?page=%d", c.baseURL, sessionID, entityType, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetching %s page %d: %w", entityType, page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetching %s page %d: driver returned %s: %s", entityType, page, resp.Status, readErrorBody(resp.Body))
	}

	var body listPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decoding driver response for %s page %d: %w", entityType, page, err)
	}

	records, err := ParseListTable(body.PageHTML)
	if err != nil {
		// Pagination info survives a malformed table, so a crawl can
		// skip this page and keep going.
		return Page{HasNext: body.HasNext}, &ExtractionError{EntityType: entityType, Page: page, Err: err}
	}
	return Page{Records: records, HasNext: body.HasNext}, nil
}

type submitOrderRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// SubmitOrder implements Driver.SubmitOrder.
func (c *Client) SubmitOrder(ctx context.Context, sessionID, payloadJSON string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	err := c.postJSON(ctx, "/sessions/"+sessionID+"/orders", submitOrderRequest{
		Payload: json.RawMessage(payloadJSON),
	}, nil)
	if err != nil {
		return fmt.Errorf("submitting order: %w", err)
	}
	return nil
}

// Close implements Driver.Close.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("closing session: driver returned %s", resp.Status)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("driver returned %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
