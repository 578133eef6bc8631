package models

import "time"

// ReportKind enumerates the closed set of reports. Each kind declares a
// fixed list of named sub-tables; nothing is inferred at runtime.
type ReportKind string

const (
	ReportTriage    ReportKind = "triage"
	ReportReview    ReportKind = "review"
	ReportContribs  ReportKind = "contribs"
	ReportHealth    ReportKind = "health"
	ReportAssess    ReportKind = "assess"
	ReportScorecard ReportKind = "scorecard"
)

func AllReportKinds() []ReportKind {
	return []ReportKind{
		ReportTriage, ReportReview, ReportContribs,
		ReportHealth, ReportAssess, ReportScorecard,
	}
}

// EntityKindsFor maps a report kind to the entity kinds it consumes.
func EntityKindsFor(r ReportKind) []EntityKind {
	switch r {
	case ReportTriage:
		return []EntityKind{KindPRMerged, KindPRClosed, KindPROpen}
	case ReportReview:
		return []EntityKind{KindReviews, KindPRMerged, KindPROpen}
	case ReportContribs:
		return []EntityKind{KindPRMerged, KindPRClosed, KindPROpen}
	case ReportHealth:
		return []EntityKind{KindCommits, KindIssues, KindReleases, KindPRMerged}
	case ReportAssess:
		return []EntityKind{KindPROpen, KindPRMerged, KindPRClosed}
	case ReportScorecard:
		return AllEntityKinds()
	default:
		return nil
	}
}

// Table is one named tabular result: columns are fixed per report kind,
// rows hold typed values. A nil cell renders as "n/a".
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Report is one computed report. Incomplete lists entity kinds whose sync
// failed; the affected sections still render, explicitly marked.
type Report struct {
	Kind       ReportKind
	Tables     []Table
	Incomplete []string
}

// ReportSet is the full result of one request.
type ReportSet struct {
	Repository  string
	GeneratedAt time.Time
	Days        int
	Reports     []Report
}
