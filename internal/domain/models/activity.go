package models

import "time"

type ReviewDisposition string

const (
	ReviewApproved         ReviewDisposition = "APPROVED"
	ReviewChangesRequested ReviewDisposition = "CHANGES_REQUESTED"
	ReviewCommented        ReviewDisposition = "COMMENTED"
)

// Review is one review action on a pull request.
type Review struct {
	Repository  string
	ID          string
	PRNumber    int
	Reviewer    string
	SubmittedAt time.Time
	Disposition ReviewDisposition
}

// Commit is one commit on the default branch.
type Commit struct {
	Repository  string
	SHA         string
	Author      string
	CommittedAt time.Time
}

// Release is one published release tag.
type Release struct {
	Repository  string
	Tag         string
	PublishedAt time.Time
}

// Issue tracks creation and first maintainer response.
type Issue struct {
	Repository      string
	Number          int
	CreatedAt       time.Time
	FirstResponseAt *time.Time
}

// AuthorSpan summarizes one author's full cached PR history for a
// repository, independent of any lookback window.
type AuthorSpan struct {
	Author  string
	First   time.Time
	Last    time.Time
	PRCount int
}
