package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLaunch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			OwnerID  string `json:"owner_id"`
			Username string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding launch request: %v", err)
		}
		if req.OwnerID != "u1" || req.Username != "mario" {
			t.Errorf("launch request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s-9"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.Launch(context.Background(), Credentials{OwnerID: "u1", Username: "mario", Password: "x"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if id != "s-9" {
		t.Errorf("session id = %q, want s-9", id)
	}
}

func TestLaunchDriverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "login rejected", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Launch(context.Background(), Credentials{OwnerID: "u1"}); err == nil {
		t.Fatal("Launch against failing driver succeeded, want error")
	}
}

func TestFetchListPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/s-1/list/products" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "3" {
			t.Errorf("page = %q, want 3", r.URL.Query().Get("page"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"page_html": productsTable,
			"has_next":  true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	page, err := c.FetchListPage(context.Background(), "s-1", "products", 3)
	if err != nil {
		t.Fatalf("FetchListPage: %v", err)
	}
	if len(page.Records) != 2 || !page.HasNext {
		t.Fatalf("page = %+v, want 2 records with has_next", page)
	}
}

func TestFetchListPageMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"page_html": "<div>maintenance in progress</div>",
			"has_next":  true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	page, err := c.FetchListPage(context.Background(), "s-1", "orders", 1)
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
	if extractionErr.EntityType != "orders" || extractionErr.Page != 1 {
		t.Errorf("ExtractionError = %+v", extractionErr)
	}
	// Pagination survives the malformed table so the crawl can continue.
	if !page.HasNext {
		t.Error("page.HasNext = false, want true alongside extraction error")
	}
}

func TestFetchListPageDriverDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "browser crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.FetchListPage(context.Background(), "s-1", "orders", 1)
	if err == nil {
		t.Fatal("FetchListPage against failing driver succeeded, want error")
	}
	// Driver failure is not an extraction problem; callers must abort, not skip.
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want non-extraction error", err)
	}
}

func TestSubmitOrderAndClose(t *testing.T) {
	var submitted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions/s-1/orders":
			var req struct {
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding submit request: %v", err)
			}
			submitted = string(req.Payload)
		case r.Method == http.MethodDelete && r.URL.Path == "/sessions/s-1":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.SubmitOrder(context.Background(), "s-1", `{"customer":"c1"}`); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if submitted != `{"customer":"c1"}` {
		t.Errorf("submitted payload = %q", submitted)
	}

	if err := c.Close(context.Background(), "s-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
