package portal

import (
	"context"
	"fmt"
)

// Record is one row extracted from a portal list view.
type Record struct {
	ID     string
	Fields map[string]string
}

// Page is one fetched list-view page.
type Page struct {
	Records []Record
	HasNext bool
}

// Credentials authenticate one portal identity.
type Credentials struct {
	OwnerID  string
	Username string
	Password string
}

// Driver abstracts the browser-automation driver. One driver session is
// one logged-in portal UI; the session pool owns their lifecycle and
// nothing here is safe for concurrent use of the same session id.
type Driver interface {
	// Launch starts a driver session and performs the login flow.
	Launch(ctx context.Context, creds Credentials) (sessionID string, err error)

	// FetchListPage navigates the session to the given entity type's
	// list view and extracts one page of records. Pages are 1-based.
	FetchListPage(ctx context.Context, sessionID, entityType string, page int) (Page, error)

	// SubmitOrder drives the order-creation flow with the given payload.
	SubmitOrder(ctx context.Context, sessionID, payloadJSON string) error

	// Close tears the session down. Closing an unknown session is not
	// an error.
	Close(ctx context.Context, sessionID string) error
}

// ExtractionError reports that a list-view page's data was malformed.
// The delta engine logs and skips the page instead of aborting the run.
type ExtractionError struct {
	EntityType string
	Page       int
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s page %d: %v", e.EntityType, e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
