package models

import "time"

// Watermark records how much of an entity kind's history has been synced
// for a repository. CoveredFrom/CoveredTo always form a single contiguous
// interval; syncs only ever extend it. A request reaching earlier than
// CoveredFrom forces a full refetch of the kind.
type Watermark struct {
	Repository   string
	Kind         EntityKind
	LastSyncedAt time.Time
	CoveredFrom  time.Time
	CoveredTo    time.Time
	LastCursor   string
}

// Rows is one normalized page ready for an atomic commit. Only the slices
// matching the page's entity kind are populated; the reviews kind populates
// both pull requests and reviews since review actions arrive embedded in
// their PR nodes.
type Rows struct {
	PullRequests []PullRequest
	Reviews      []Review
	Commits      []Commit
	Releases     []Release
	Issues       []Issue
}

func (r Rows) Len() int {
	return len(r.PullRequests) + len(r.Reviews) + len(r.Commits) + len(r.Releases) + len(r.Issues)
}

// OldestPrimary returns the oldest primary timestamp in the page, used to
// stop paging once a page falls outside the requested lookback window.
func (r Rows) OldestPrimary() (time.Time, bool) {
	var oldest time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(oldest) {
			oldest = t
			found = true
		}
	}
	for i := range r.PullRequests {
		consider(r.PullRequests[i].CreatedAt)
	}
	for i := range r.Commits {
		consider(r.Commits[i].CommittedAt)
	}
	for i := range r.Releases {
		consider(r.Releases[i].PublishedAt)
	}
	for i := range r.Issues {
		consider(r.Issues[i].CreatedAt)
	}
	return oldest, found
}
