package models

// EntityKind identifies one independently synced row set. Each kind has
// its own watermark and pagination cursor; the three PR kinds share a
// table but sync separately because GitHub paginates them per state.
type EntityKind string

const (
	KindPRMerged EntityKind = "pr_merged"
	KindPRClosed EntityKind = "pr_closed"
	KindPROpen   EntityKind = "pr_open"
	KindReviews  EntityKind = "reviews"
	KindCommits  EntityKind = "commits"
	KindReleases EntityKind = "releases"
	KindIssues   EntityKind = "issues"
)

func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindPRMerged, KindPRClosed, KindPROpen,
		KindReviews, KindCommits, KindReleases, KindIssues,
	}
}
