package models

// FreshnessMode is the caller-selected policy for reusing cached data.
type FreshnessMode string

const (
	// ModeCached serves cached rows when fresh enough, fetching otherwise.
	ModeCached FreshnessMode = "cached"
	// ModeRefresh always refetches regardless of cache age.
	ModeRefresh FreshnessMode = "refresh"
	// ModeOffline serves cached rows regardless of age and never touches
	// the network; a repository with no cached rows fails the request.
	ModeOffline FreshnessMode = "offline"
)

// SyncRequest is the full set of externally tunable sync inputs.
type SyncRequest struct {
	Repository string
	Kinds      []EntityKind
	Days       int
	Limit      int
	Mode       FreshnessMode
}

type SyncStatus string

const (
	SyncSkipped SyncStatus = "skipped"
	SyncFetched SyncStatus = "fetched"
	SyncFailed  SyncStatus = "failed"
)

// SyncOutcome reports one entity kind's sync result. Failures carry the
// cause and never abort sibling kinds.
type SyncOutcome struct {
	Kind   EntityKind
	Status SyncStatus
	Pages  int
	Rows   int
	Err    error
}

// ReportRequest selects which reports to compute and under what window.
type ReportRequest struct {
	Repository string
	Reports    []ReportKind
	Days       int
	Limit      int
	Mode       FreshnessMode
	// Author filters the assess report; empty means the gh viewer when
	// online, or every cached open PR when offline.
	Author string
}
