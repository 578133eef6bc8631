package fetch

import (
	"context"
	"encoding/json"

	"ghscope/internal/domain/models"
)

// RawPage is one page of raw records from the upstream API. Cursors are
// opaque tokens; the core never infers structure from them.
type RawPage struct {
	Records    []json.RawMessage
	NextCursor string
	Exhausted  bool
}

// FetchAdapter is the external collaborator boundary around the GitHub
// API. Implementations own pagination mechanics, authentication, and
// transient-error retries.
type FetchAdapter interface {
	FetchPage(ctx context.Context, repository string, kind models.EntityKind, cursor string, pageSize int) (*RawPage, error)
	// Viewer returns the authenticated user's login.
	Viewer(ctx context.Context) (string, error)
	// Validate checks the fetch mechanism is installed and authenticated.
	Validate(ctx context.Context) error
}
