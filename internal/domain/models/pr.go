package models

import (
	"time"

	"github.com/google/uuid"
)

type PRState string

const (
	PRStateOpen   PRState = "OPEN"
	PRStateClosed PRState = "CLOSED"
	PRStateMerged PRState = "MERGED"
)

// PullRequest is the normalized row for one pull request, scoped to a
// repository. Rows are immutable after commit except for state transitions
// (open to closed or merged) observed by a later sync.
type PullRequest struct {
	Repository   string
	Number       int
	Title        string
	Author       string
	State        PRState
	CreatedAt    time.Time
	ClosedAt     *time.Time
	MergedAt     *time.Time
	MergedBy     string
	Additions    int
	Deletions    int
	ChangedFiles int
	ReviewCount  int
	Category     string
	FirstTimer   bool
	BatchGroup   *uuid.UUID
}

// SizeBucket maps additions+deletions onto the XS..XL scale.
func (p *PullRequest) SizeBucket() string {
	total := p.Additions + p.Deletions
	switch {
	case total <= 10:
		return "XS"
	case total <= 50:
		return "S"
	case total <= 200:
		return "M"
	case total <= 500:
		return "L"
	default:
		return "XL"
	}
}

// MergeDuration returns merged_at - created_at for merged PRs.
func (p *PullRequest) MergeDuration() (time.Duration, bool) {
	if p.MergedAt == nil {
		return 0, false
	}
	return p.MergedAt.Sub(p.CreatedAt), true
}

// Age measures created_at to terminal state, or to now for open PRs.
func (p *PullRequest) Age(now time.Time) time.Duration {
	end := now
	if p.MergedAt != nil {
		end = *p.MergedAt
	} else if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(p.CreatedAt)
}
