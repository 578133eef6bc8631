// Package normalize turns raw GitHub records into cache rows: timestamps
// to UTC, categories derived from titles and labels, and the first-timer
// flag resolved against the full cached history.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ghscope/internal/domain/models"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/utils"
)

// historyReader is the slice of the cache store the normalizer needs.
type historyReader interface {
	EarliestAuthoredPR(ctx context.Context, repository, author string) (*time.Time, error)
}

type Normalizer struct {
	store historyReader
	log   ports.Logger
}

func New(store historyReader, log ports.Logger) *Normalizer {
	return &Normalizer{store: store, log: log}
}

// Normalize converts one raw page into rows for the given kind. The
// review kinds emit both pull request and review rows from the same
// nodes; pull requests come first so review foreign keys resolve.
func (n *Normalizer) Normalize(ctx context.Context, repository string, kind models.EntityKind, records []json.RawMessage) (models.Rows, error) {
	switch kind {
	case models.KindPRMerged:
		return n.normalizePRs(ctx, repository, records, models.PRStateMerged, false)
	case models.KindPRClosed:
		return n.normalizePRs(ctx, repository, records, models.PRStateClosed, false)
	case models.KindPROpen:
		return n.normalizePRs(ctx, repository, records, models.PRStateOpen, true)
	case models.KindReviews:
		return n.normalizePRs(ctx, repository, records, models.PRStateMerged, true)
	case models.KindCommits:
		return n.normalizeCommits(repository, records)
	case models.KindReleases:
		return n.normalizeReleases(repository, records)
	case models.KindIssues:
		return n.normalizeIssues(repository, records)
	default:
		return models.Rows{}, utils.ErrUnknownEntityKind
	}
}

type actor struct {
	Login string `json:"login"`
}

type prNode struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Author    *actor     `json:"author"`
	MergedBy  *actor     `json:"mergedBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	Labels    struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	ChangedFiles int `json:"changedFiles"`
	Reviews      struct {
		TotalCount int `json:"totalCount"`
		Nodes      []struct {
			Author      *actor     `json:"author"`
			State       string     `json:"state"`
			SubmittedAt *time.Time `json:"submittedAt"`
		} `json:"nodes"`
	} `json:"reviews"`
}

func login(a *actor) string {
	if a == nil {
		// Deleted accounts come back as a null author.
		return "ghost"
	}
	return a.Login
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (n *Normalizer) normalizePRs(ctx context.Context, repository string, records []json.RawMessage, state models.PRState, withReviews bool) (models.Rows, error) {
	var rows models.Rows
	nodes := make([]prNode, 0, len(records))
	for _, rec := range records {
		var node prNode
		if err := json.Unmarshal(rec, &node); err != nil {
			return rows, fmt.Errorf("decode pull request node: %w", err)
		}
		nodes = append(nodes, node)
	}

	// Earliest created_at per author within this page, so two debut PRs
	// arriving on the same page resolve first-timer consistently.
	pageEarliest := map[string]time.Time{}
	for i := range nodes {
		author := login(nodes[i].Author)
		created := nodes[i].CreatedAt.UTC()
		if prev, ok := pageEarliest[author]; !ok || created.Before(prev) {
			pageEarliest[author] = created
		}
	}

	for i := range nodes {
		node := &nodes[i]
		author := login(node.Author)
		created := node.CreatedAt.UTC()

		firstTimer, err := n.isFirstTimer(ctx, repository, author, created, pageEarliest[author])
		if err != nil {
			return rows, err
		}

		labels := make([]string, 0, len(node.Labels.Nodes))
		for _, l := range node.Labels.Nodes {
			labels = append(labels, l.Name)
		}

		pr := models.PullRequest{
			Repository:   repository,
			Number:       node.Number,
			Title:        node.Title,
			Author:       author,
			State:        state,
			CreatedAt:    created,
			ClosedAt:     toUTC(node.ClosedAt),
			MergedAt:     toUTC(node.MergedAt),
			Additions:    node.Additions,
			Deletions:    node.Deletions,
			ChangedFiles: node.ChangedFiles,
			ReviewCount:  node.Reviews.TotalCount,
			Category:     Categorize(node.Title, labels),
			FirstTimer:   firstTimer,
		}
		if node.MergedBy != nil {
			pr.MergedBy = node.MergedBy.Login
		}
		// A merged PR's closed time is its merge time.
		if pr.State == models.PRStateMerged && pr.MergedAt != nil {
			pr.ClosedAt = pr.MergedAt
		}
		rows.PullRequests = append(rows.PullRequests, pr)

		if withReviews {
			for _, rv := range node.Reviews.Nodes {
				if rv.SubmittedAt == nil {
					continue
				}
				submitted := rv.SubmittedAt.UTC()
				rows.Reviews = append(rows.Reviews, models.Review{
					Repository:  repository,
					ID:          fmt.Sprintf("%d:%s:%d", node.Number, login(rv.Author), submitted.Unix()),
					PRNumber:    node.Number,
					Reviewer:    login(rv.Author),
					SubmittedAt: submitted,
					Disposition: disposition(rv.State),
				})
			}
		}
	}
	return rows, nil
}

// isFirstTimer reports whether no PR by the author exists strictly
// earlier, in the cache or on the current page. Re-observing an already
// cached PR compares equal to its own stored row, so refetches are
// idempotent.
func (n *Normalizer) isFirstTimer(ctx context.Context, repository, author string, created, pageEarliest time.Time) (bool, error) {
	if pageEarliest.Before(created) {
		return false, nil
	}
	cached, err := n.store.EarliestAuthoredPR(ctx, repository, author)
	if err != nil {
		return false, err
	}
	return cached == nil || !cached.Before(created), nil
}

func disposition(state string) models.ReviewDisposition {
	switch state {
	case "APPROVED":
		return models.ReviewApproved
	case "CHANGES_REQUESTED":
		return models.ReviewChangesRequested
	default:
		return models.ReviewCommented
	}
}

type commitNode struct {
	OID           string    `json:"oid"`
	CommittedDate time.Time `json:"committedDate"`
	Author        struct {
		User *actor `json:"user"`
	} `json:"author"`
}

func (n *Normalizer) normalizeCommits(repository string, records []json.RawMessage) (models.Rows, error) {
	var rows models.Rows
	for _, rec := range records {
		var node commitNode
		if err := json.Unmarshal(rec, &node); err != nil {
			return rows, fmt.Errorf("decode commit node: %w", err)
		}
		rows.Commits = append(rows.Commits, models.Commit{
			Repository:  repository,
			SHA:         node.OID,
			Author:      login(node.Author.User),
			CommittedAt: node.CommittedDate.UTC(),
		})
	}
	return rows, nil
}

type releaseNode struct {
	TagName     string    `json:"tagName"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (n *Normalizer) normalizeReleases(repository string, records []json.RawMessage) (models.Rows, error) {
	var rows models.Rows
	for _, rec := range records {
		var node releaseNode
		if err := json.Unmarshal(rec, &node); err != nil {
			return rows, fmt.Errorf("decode release node: %w", err)
		}
		if node.TagName == "" {
			continue
		}
		rows.Releases = append(rows.Releases, models.Release{
			Repository:  repository,
			Tag:         node.TagName,
			PublishedAt: node.PublishedAt.UTC(),
		})
	}
	return rows, nil
}

type issueNode struct {
	Number    int       `json:"number"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *actor    `json:"author"`
	Comments  struct {
		Nodes []struct {
			CreatedAt time.Time `json:"createdAt"`
			Author    *actor    `json:"author"`
		} `json:"nodes"`
	} `json:"comments"`
}

func (n *Normalizer) normalizeIssues(repository string, records []json.RawMessage) (models.Rows, error) {
	var rows models.Rows
	for _, rec := range records {
		var node issueNode
		if err := json.Unmarshal(rec, &node); err != nil {
			return rows, fmt.Errorf("decode issue node: %w", err)
		}
		issue := models.Issue{
			Repository: repository,
			Number:     node.Number,
			CreatedAt:  node.CreatedAt.UTC(),
		}
		// First response is the first comment not left by the issue
		// author themselves.
		for _, c := range node.Comments.Nodes {
			if login(c.Author) == login(node.Author) {
				continue
			}
			responded := c.CreatedAt.UTC()
			issue.FirstResponseAt = &responded
			break
		}
		rows.Issues = append(rows.Issues, issue)
	}
	return rows, nil
}

var (
	depsPattern = regexp.MustCompile(`\bdependabot\b|\brenovate\b|\bbump\b`)
	fixPattern  = regexp.MustCompile(`\bfix(es|ed)?\b`)
	featPattern = regexp.MustCompile(`\badd(s|ed)?\b|\bimplement\b`)
)

var prefixCategories = []struct {
	prefix   string
	category string
}{
	{"fix", "fix"}, {"bug", "fix"},
	{"feat", "feat"}, {"feature", "feat"},
	{"doc", "docs"}, {"readme", "docs"},
	{"dep", "deps"}, {"bump", "deps"}, {"upgrade", "deps"}, {"chore(deps)", "deps"},
	{"refactor", "refactor"}, {"cleanup", "refactor"}, {"clean up", "refactor"},
	{"test", "test"}, {"ci", "ci"}, {"chore", "chore"},
}

// Categorize buckets a PR by conventional-commit title prefix, then
// labels, then title keywords.
func Categorize(title string, labels []string) string {
	titleLower := strings.ToLower(strings.TrimSpace(title))

	for _, pc := range prefixCategories {
		if strings.HasPrefix(titleLower, pc.prefix) {
			return pc.category
		}
	}

	for _, label := range labels {
		labelLower := strings.ToLower(label)
		switch {
		case strings.Contains(labelLower, "bug"), strings.Contains(labelLower, "fix"):
			return "fix"
		case strings.Contains(labelLower, "feature"), strings.Contains(labelLower, "enhancement"):
			return "feat"
		case strings.Contains(labelLower, "documentation"), strings.Contains(labelLower, "docs"):
			return "docs"
		case strings.Contains(labelLower, "dependencies"), strings.Contains(labelLower, "deps"):
			return "deps"
		}
	}

	switch {
	case depsPattern.MatchString(titleLower):
		return "deps"
	case fixPattern.MatchString(titleLower):
		return "fix"
	case featPattern.MatchString(titleLower):
		return "feat"
	}
	return "other"
}
