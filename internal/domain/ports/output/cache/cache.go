package cache

import (
	"context"
	"time"

	"ghscope/internal/domain/models"

	"github.com/google/uuid"
)

// Freshness is the store's answer to "is cached data usable for this
// window under this mode".
type Freshness int

const (
	// Fresh means cached rows cover the window and are within the
	// staleness ceiling; serve from cache.
	Fresh Freshness = iota
	// Stale means a fetch is required before serving.
	Stale
	// Offline means serve whatever is cached regardless of age.
	Offline
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// CacheStore persists normalized rows keyed by (repository, entity kind,
// natural id) plus per-kind fetch watermarks. UpsertPage is atomic: the
// page's rows and the updated watermark commit together or not at all.
type CacheStore interface {
	PullRequests(ctx context.Context, repository string, states []models.PRState, since time.Time) ([]models.PullRequest, error)
	Reviews(ctx context.Context, repository string, since time.Time) ([]models.Review, error)
	Commits(ctx context.Context, repository string, since time.Time) ([]models.Commit, error)
	Releases(ctx context.Context, repository string) ([]models.Release, error)
	Issues(ctx context.Context, repository string, since time.Time) ([]models.Issue, error)

	UpsertPage(ctx context.Context, repository string, kind models.EntityKind, rows models.Rows, wm models.Watermark) (int, error)
	Watermark(ctx context.Context, repository string, kind models.EntityKind) (*models.Watermark, error)

	// Freshness applies the staleness ceiling and the contiguous-coverage
	// invariant. It returns utils.ErrCacheIntegrity when rows and
	// watermark disagree, and utils.ErrNoOfflineData when mode is offline
	// and the kind has nothing cached.
	Freshness(ctx context.Context, repository string, kind models.EntityKind, from time.Time, mode models.FreshnessMode) (Freshness, error)

	// EarliestAuthoredPR consults full cached history, not a window.
	EarliestAuthoredPR(ctx context.Context, repository, author string) (*time.Time, error)
	// AuthorSpans summarizes every author's full cached PR history.
	AuthorSpans(ctx context.Context, repository string) (map[string]models.AuthorSpan, error)

	SetBatchGroups(ctx context.Context, repository string, groups map[int]uuid.UUID) error
	ResetKind(ctx context.Context, repository string, kind models.EntityKind) error
	HasAnyRows(ctx context.Context, repository string) (bool, error)
	Clear(ctx context.Context, repository string) error
	Close() error
}
