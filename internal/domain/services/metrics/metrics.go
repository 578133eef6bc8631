// Package metrics derives report signals from cached rows. Every function
// is pure and deterministic for a given row set; missing inputs surface as
// a false ok, never as a zero that could be misread.
package metrics

import (
	"math"
	"sort"
	"time"

	"ghscope/internal/domain/models"
)

// Heuristic constants. The thresholds are advisory tuning knobs, not
// load-bearing values.
const (
	// DominantReviewerShare marks a sole gatekeeper when the top
	// reviewer's share of review actions reaches it.
	DominantReviewerShare = 0.8
	// SpamCloseWindow flags first-timer PRs closed unreviewed faster
	// than this.
	SpamCloseWindow = time.Hour
	// BatchTolerance groups merges by the same actor landing within the
	// same minute.
	BatchTolerance = time.Minute
	// BatchMinSize is the smallest cluster reported as a batch.
	BatchMinSize = 2
	// StaleReviewAge marks open PRs waiting this long without a review.
	StaleReviewAge = 7 * 24 * time.Hour
	// MinCategorySample is the smallest history a per-bucket merge rate
	// is trusted at; below it the overall rate is used instead.
	MinCategorySample = 3
	// BusFactorShare is the cumulative commit share the top committers
	// must reach.
	BusFactorShare = 0.5
)

// Median returns the mean of the two middle ranks for even n.
func Median(vals []float64) (float64, bool) {
	n := len(vals)
	if n == 0 {
		return 0, false
	}
	s := make([]float64, n)
	copy(s, vals)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2], true
	}
	return (s[n/2-1] + s[n/2]) / 2, true
}

// Percentile uses the nearest zero-based rank round(p*(n-1)). For p=0.5
// prefer Median, which averages the middle pair on even n.
func Percentile(vals []float64, p float64) (float64, bool) {
	n := len(vals)
	if n == 0 {
		return 0, false
	}
	s := make([]float64, n)
	copy(s, vals)
	sort.Float64s(s)
	idx := int(math.Round(p * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return s[idx], true
}

// MergeTimeDistribution describes merged_at - created_at over a window.
type MergeTimeDistribution struct {
	MedianHours float64
	P25Hours    float64
	P75Hours    float64
	Samples     int
}

func mergeDurationsHours(merged []models.PullRequest) []float64 {
	var hours []float64
	for i := range merged {
		if d, ok := merged[i].MergeDuration(); ok {
			hours = append(hours, d.Hours())
		}
	}
	return hours
}

func MergeTimes(merged []models.PullRequest) (MergeTimeDistribution, bool) {
	hours := mergeDurationsHours(merged)
	if len(hours) == 0 {
		return MergeTimeDistribution{}, false
	}
	med, _ := Median(hours)
	p25, _ := Percentile(hours, 0.25)
	p75, _ := Percentile(hours, 0.75)
	return MergeTimeDistribution{MedianHours: med, P25Hours: p25, P75Hours: p75, Samples: len(hours)}, true
}

// MergeRate is merged/(merged+closed); open PRs are excluded from the
// denominator. ok is false when the denominator is zero.
func MergeRate(merged, closedWithoutMerge int) (float64, bool) {
	total := merged + closedWithoutMerge
	if total == 0 {
		return 0, false
	}
	return float64(merged) / float64(total), true
}

// ReviewCoverage is the share of PRs with at least one review action.
func ReviewCoverage(prs []models.PullRequest) (float64, bool) {
	if len(prs) == 0 {
		return 0, false
	}
	reviewed := 0
	for i := range prs {
		if prs[i].ReviewCount > 0 {
			reviewed++
		}
	}
	return float64(reviewed) / float64(len(prs)), true
}

// ReviewerShare is one reviewer's slice of the window's review actions.
type ReviewerShare struct {
	Reviewer         string
	Reviews          int
	Share            float64
	Approvals        int
	ChangesRequested int
	Comments         int
}

// Concentration describes how review load spreads across reviewers.
type Concentration struct {
	Reviewers      []ReviewerShare
	Distinct       int
	SoleGatekeeper bool
	// CoveringHalf is the minimum number of top reviewers whose
	// cumulative share reaches half of all review actions.
	CoveringHalf int
}

func ReviewerConcentration(reviews []models.Review) Concentration {
	byReviewer := map[string]*ReviewerShare{}
	for i := range reviews {
		r := reviews[i]
		s, ok := byReviewer[r.Reviewer]
		if !ok {
			s = &ReviewerShare{Reviewer: r.Reviewer}
			byReviewer[r.Reviewer] = s
		}
		s.Reviews++
		switch r.Disposition {
		case models.ReviewApproved:
			s.Approvals++
		case models.ReviewChangesRequested:
			s.ChangesRequested++
		default:
			s.Comments++
		}
	}
	var out Concentration
	if len(byReviewer) == 0 {
		return out
	}
	total := len(reviews)
	for _, s := range byReviewer {
		s.Share = float64(s.Reviews) / float64(total)
		out.Reviewers = append(out.Reviewers, *s)
	}
	sort.Slice(out.Reviewers, func(i, j int) bool {
		if out.Reviewers[i].Reviews != out.Reviewers[j].Reviews {
			return out.Reviewers[i].Reviews > out.Reviewers[j].Reviews
		}
		return out.Reviewers[i].Reviewer < out.Reviewers[j].Reviewer
	})
	out.Distinct = len(out.Reviewers)
	out.SoleGatekeeper = out.Distinct == 1 || out.Reviewers[0].Share >= DominantReviewerShare

	cumulative := 0
	for _, s := range out.Reviewers {
		cumulative += s.Reviews
		out.CoveringHalf++
		if float64(cumulative)/float64(total) >= 0.5 {
			break
		}
	}
	return out
}

// CommitterCount is one committer's commit count within the window.
type CommitterCount struct {
	Author  string
	Commits int
}

// BusFactor is the minimum number of top committers whose cumulative
// share of commits reaches half. ok is false with no commits.
func BusFactor(commits []models.Commit) (int, []CommitterCount, bool) {
	if len(commits) == 0 {
		return 0, nil, false
	}
	counts := map[string]int{}
	for i := range commits {
		counts[commits[i].Author]++
	}
	ranked := make([]CommitterCount, 0, len(counts))
	for author, n := range counts {
		ranked = append(ranked, CommitterCount{Author: author, Commits: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Commits != ranked[j].Commits {
			return ranked[i].Commits > ranked[j].Commits
		}
		return ranked[i].Author < ranked[j].Author
	})
	total := len(commits)
	cumulative := 0
	factor := 0
	for _, c := range ranked {
		cumulative += c.Commits
		factor++
		if float64(cumulative)/float64(total) >= BusFactorShare {
			break
		}
	}
	return factor, ranked, true
}

// IssueResponseStats reports first-response latency. Issues never
// responded to are excluded from the distribution and counted apart.
type IssueResponseStats struct {
	MedianHours float64
	Responded   int
	NoResponse  int
}

func IssueResponse(issues []models.Issue) (IssueResponseStats, bool) {
	var stats IssueResponseStats
	var hours []float64
	for i := range issues {
		if issues[i].FirstResponseAt == nil {
			stats.NoResponse++
			continue
		}
		h := issues[i].FirstResponseAt.Sub(issues[i].CreatedAt).Hours()
		if h < 0 {
			continue
		}
		stats.Responded++
		hours = append(hours, h)
	}
	med, ok := Median(hours)
	if !ok {
		return stats, false
	}
	stats.MedianHours = med
	return stats, true
}

// Batch is a cluster of PRs merged by the same actor within
// BatchTolerance of each other.
type Batch struct {
	Merger  string
	Start   time.Time
	End     time.Time
	Numbers []int
}

// DetectBatches clusters merged PRs by merge-time proximity and merger.
// Batches count as ordinary merges everywhere else; detection only
// affects reporting.
func DetectBatches(merged []models.PullRequest) []Batch {
	var prs []models.PullRequest
	for i := range merged {
		if merged[i].MergedAt != nil && merged[i].MergedBy != "" {
			prs = append(prs, merged[i])
		}
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].MergedAt.Before(*prs[j].MergedAt) })

	var batches []Batch
	flush := func(group []models.PullRequest) {
		if len(group) < BatchMinSize {
			return
		}
		b := Batch{
			Merger: group[0].MergedBy,
			Start:  *group[0].MergedAt,
			End:    *group[len(group)-1].MergedAt,
		}
		for i := range group {
			b.Numbers = append(b.Numbers, group[i].Number)
		}
		batches = append(batches, b)
	}

	var group []models.PullRequest
	for i := range prs {
		if len(group) == 0 {
			group = append(group, prs[i])
			continue
		}
		prev := group[len(group)-1]
		sameMerger := prs[i].MergedBy == prev.MergedBy
		within := prs[i].MergedAt.Sub(*prev.MergedAt) <= BatchTolerance
		if sameMerger && within {
			group = append(group, prs[i])
			continue
		}
		flush(group)
		group = []models.PullRequest{prs[i]}
	}
	flush(group)
	return batches
}

// DetectSpam flags likely spam: first-timer PRs closed without merge,
// without review activity, within SpamCloseWindow. Advisory only.
func DetectSpam(prs []models.PullRequest) []models.PullRequest {
	var spam []models.PullRequest
	for i := range prs {
		p := prs[i]
		if !p.FirstTimer || p.State != models.PRStateClosed || p.ReviewCount > 0 || p.ClosedAt == nil {
			continue
		}
		if p.ClosedAt.Sub(p.CreatedAt) < SpamCloseWindow {
			spam = append(spam, p)
		}
	}
	return spam
}

// FirstTimerStats covers window debuts and cross-window retention.
type FirstTimerStats struct {
	FirstTimers int
	Merged      int
	Closed      int
	MergeRate   float64
	MergeRateOK bool
	// Retained counts authors whose first-ever cached PR predates the
	// window and who submitted again within it. Authors whose entire
	// history sits inside the window are too new to evaluate.
	Retained       int
	EligibleCohort int
	RetentionRate  float64
	RetentionOK    bool
}

// FirstTimers measures debut activity in the window against full cached
// history. windowPRs are the window's rows; spans the per-author
// full-history summary; windowStart the window's lower bound.
func FirstTimers(windowPRs []models.PullRequest, spans map[string]models.AuthorSpan, windowStart time.Time) FirstTimerStats {
	var stats FirstTimerStats
	debutAuthors := map[string]bool{}
	for i := range windowPRs {
		p := windowPRs[i]
		if !p.FirstTimer {
			continue
		}
		if !debutAuthors[p.Author] {
			debutAuthors[p.Author] = true
			stats.FirstTimers++
		}
		switch p.State {
		case models.PRStateMerged:
			stats.Merged++
		case models.PRStateClosed:
			stats.Closed++
		}
	}
	stats.MergeRate, stats.MergeRateOK = MergeRate(stats.Merged, stats.Closed)

	windowAuthors := map[string]bool{}
	for i := range windowPRs {
		windowAuthors[windowPRs[i].Author] = true
	}
	for author, span := range spans {
		if !span.First.Before(windowStart) {
			continue
		}
		stats.EligibleCohort++
		if windowAuthors[author] {
			stats.Retained++
		}
	}
	if stats.EligibleCohort > 0 {
		stats.RetentionRate = float64(stats.Retained) / float64(stats.EligibleCohort)
		stats.RetentionOK = true
	}
	return stats
}

// ContributorStat is one author's activity within the window.
type ContributorStat struct {
	Author      string
	Merged      int
	Closed      int
	Open        int
	First       time.Time
	MergeRate   float64
	MergeRateOK bool
}

func ContributorStats(prs []models.PullRequest) []ContributorStat {
	byAuthor := map[string]*ContributorStat{}
	for i := range prs {
		p := prs[i]
		s, ok := byAuthor[p.Author]
		if !ok {
			s = &ContributorStat{Author: p.Author, First: p.CreatedAt}
			byAuthor[p.Author] = s
		}
		if p.CreatedAt.Before(s.First) {
			s.First = p.CreatedAt
		}
		switch p.State {
		case models.PRStateMerged:
			s.Merged++
		case models.PRStateClosed:
			s.Closed++
		default:
			s.Open++
		}
	}
	out := make([]ContributorStat, 0, len(byAuthor))
	for _, s := range byAuthor {
		s.MergeRate, s.MergeRateOK = MergeRate(s.Merged, s.Closed)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Merged != out[j].Merged {
			return out[i].Merged > out[j].Merged
		}
		return out[i].Author < out[j].Author
	})
	return out
}

// MaintainerStat is one merger's activity within the window.
type MaintainerStat struct {
	Merger        string
	Merges        int
	AvgMergeHours float64
}

func MaintainerStats(merged []models.PullRequest) []MaintainerStat {
	type acc struct {
		merges int
		hours  float64
		timed  int
	}
	byMerger := map[string]*acc{}
	for i := range merged {
		p := merged[i]
		if p.State != models.PRStateMerged || p.MergedBy == "" {
			continue
		}
		a, ok := byMerger[p.MergedBy]
		if !ok {
			a = &acc{}
			byMerger[p.MergedBy] = a
		}
		a.merges++
		if d, ok := p.MergeDuration(); ok {
			a.hours += d.Hours()
			a.timed++
		}
	}
	out := make([]MaintainerStat, 0, len(byMerger))
	for merger, a := range byMerger {
		s := MaintainerStat{Merger: merger, Merges: a.merges}
		if a.timed > 0 {
			s.AvgMergeHours = a.hours / float64(a.timed)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Merges != out[j].Merges {
			return out[i].Merges > out[j].Merges
		}
		return out[i].Merger < out[j].Merger
	})
	return out
}

// CategoryStat is the merge profile of one derived PR category.
type CategoryStat struct {
	Category    string
	Total       int
	Merged      int
	MergeRate   float64
	MergeRateOK bool
	MedianHours float64
	MedianOK    bool
}

func CategoryBreakdown(merged, closed []models.PullRequest) []CategoryStat {
	type acc struct {
		merged []models.PullRequest
		closed int
	}
	cats := map[string]*acc{}
	get := func(cat string) *acc {
		a, ok := cats[cat]
		if !ok {
			a = &acc{}
			cats[cat] = a
		}
		return a
	}
	for i := range merged {
		a := get(merged[i].Category)
		a.merged = append(a.merged, merged[i])
	}
	for i := range closed {
		get(closed[i].Category).closed++
	}
	out := make([]CategoryStat, 0, len(cats))
	for cat, a := range cats {
		s := CategoryStat{Category: cat, Total: len(a.merged) + a.closed, Merged: len(a.merged)}
		s.MergeRate, s.MergeRateOK = MergeRate(len(a.merged), a.closed)
		s.MedianHours, s.MedianOK = Median(mergeDurationsHours(a.merged))
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// ActiveAuthors counts distinct commit authors since the cutoff.
func ActiveAuthors(commits []models.Commit, since time.Time) int {
	seen := map[string]bool{}
	for i := range commits {
		if commits[i].Author != "" && commits[i].CommittedAt.After(since) {
			seen[commits[i].Author] = true
		}
	}
	return len(seen)
}

// ReleaseCadence is the median gap in days between consecutive releases,
// newest first. Needs at least two releases.
func ReleaseCadence(releases []models.Release) (float64, bool) {
	if len(releases) < 2 {
		return 0, false
	}
	s := make([]models.Release, len(releases))
	copy(s, releases)
	sort.Slice(s, func(i, j int) bool { return s[i].PublishedAt.After(s[j].PublishedAt) })
	var gaps []float64
	for i := 0; i < len(s)-1; i++ {
		gaps = append(gaps, s[i].PublishedAt.Sub(s[i+1].PublishedAt).Hours()/24)
	}
	return Median(gaps)
}

// WeeklyCommits buckets commits by ISO week start date, ascending.
type WeekCount struct {
	Week    string
	Commits int
}

func WeeklyCommits(commits []models.Commit) []WeekCount {
	buckets := map[string]int{}
	for i := range commits {
		t := commits[i].CommittedAt.UTC()
		// Bucket by the Monday starting the commit's week.
		offset := (int(t.Weekday()) + 6) % 7
		week := t.AddDate(0, 0, -offset).Format("2006-01-02")
		buckets[week]++
	}
	out := make([]WeekCount, 0, len(buckets))
	for week, n := range buckets {
		out = append(out, WeekCount{Week: week, Commits: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out
}
