// Package report assembles report tables from cached rows. Assembly is
// read-only: it syncs the kinds a report needs through the sync port,
// then computes everything from the cache so online and offline paths
// share one code path.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ghscope/internal/domain/models"
	"ghscope/internal/domain/ports/input"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/domain/ports/output/cache"
	"ghscope/internal/domain/services/metrics"
	"ghscope/internal/utils"
)

// viewerLookup is the slice of the fetch adapter the assembler needs.
type viewerLookup interface {
	Viewer(ctx context.Context) (string, error)
}

type Service struct {
	store  cache.CacheStore
	syncer input.SyncInputPort
	viewer viewerLookup
	log    ports.Logger
	now    func() time.Time
}

func New(store cache.CacheStore, syncer input.SyncInputPort, viewer viewerLookup, log ports.Logger) *Service {
	return &Service{store: store, syncer: syncer, viewer: viewer, log: log, now: time.Now}
}

// Build syncs the union of entity kinds the requested reports consume,
// then computes each report from the cache. Kinds whose sync failed are
// listed in the affected reports' Incomplete field; their sections still
// render from whatever is cached.
func (s *Service) Build(ctx context.Context, req models.ReportRequest) (*models.ReportSet, error) {
	kinds := unionKinds(req.Reports)
	outcomes, err := s.syncer.EnsureSynced(ctx, models.SyncRequest{
		Repository: req.Repository,
		Kinds:      kinds,
		Days:       req.Days,
		Limit:      req.Limit,
		Mode:       req.Mode,
	})
	if err != nil {
		return nil, err
	}

	var failed []string
	failures := 0
	for _, kind := range kinds {
		if o, ok := outcomes[kind]; ok && o.Status == models.SyncFailed {
			failed = append(failed, string(kind))
			failures++
		}
	}
	sort.Strings(failed)
	if req.Mode == models.ModeOffline && failures == len(kinds) {
		return nil, utils.ErrNoOfflineData
	}

	now := s.now().UTC()
	windowStart := now.AddDate(0, 0, -req.Days)
	data, err := s.load(ctx, req.Repository, windowStart)
	if err != nil {
		return nil, err
	}

	set := &models.ReportSet{Repository: req.Repository, GeneratedAt: now, Days: req.Days}
	for _, kind := range req.Reports {
		var report models.Report
		switch kind {
		case models.ReportTriage:
			report = s.buildTriage(req.Repository, data)
		case models.ReportReview:
			report = s.buildReview(data, now)
		case models.ReportContribs:
			report = s.buildContribs(req.Repository, data, windowStart)
		case models.ReportHealth:
			report = s.buildHealth(req.Repository, data, req.Days, now)
		case models.ReportAssess:
			report = s.buildAssess(ctx, req, data, now)
		case models.ReportScorecard:
			report = s.buildScorecard(data, req.Days, now)
		default:
			return nil, fmt.Errorf("%w: %q", utils.ErrUnknownReport, kind)
		}
		report.Kind = kind
		report.Incomplete = intersectFailed(failed, models.EntityKindsFor(kind))
		set.Reports = append(set.Reports, report)
	}
	return set, nil
}

func unionKinds(reports []models.ReportKind) []models.EntityKind {
	seen := map[models.EntityKind]bool{}
	var kinds []models.EntityKind
	for _, r := range reports {
		for _, k := range models.EntityKindsFor(r) {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}

func intersectFailed(failed []string, kinds []models.EntityKind) []string {
	var out []string
	for _, f := range failed {
		for _, k := range kinds {
			if f == string(k) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// windowData is every cached row set a builder can consume, loaded once
// per request.
type windowData struct {
	merged   []models.PullRequest
	closed   []models.PullRequest
	open     []models.PullRequest
	reviews  []models.Review
	commits  []models.Commit
	releases []models.Release
	issues   []models.Issue
	spans    map[string]models.AuthorSpan
}

func (d *windowData) all() []models.PullRequest {
	out := make([]models.PullRequest, 0, len(d.merged)+len(d.closed)+len(d.open))
	out = append(out, d.merged...)
	out = append(out, d.closed...)
	out = append(out, d.open...)
	return out
}

func (s *Service) load(ctx context.Context, repository string, since time.Time) (*windowData, error) {
	var d windowData
	var err error
	if d.merged, err = s.store.PullRequests(ctx, repository, []models.PRState{models.PRStateMerged}, since); err != nil {
		return nil, err
	}
	if d.closed, err = s.store.PullRequests(ctx, repository, []models.PRState{models.PRStateClosed}, since); err != nil {
		return nil, err
	}
	if d.open, err = s.store.PullRequests(ctx, repository, []models.PRState{models.PRStateOpen}, since); err != nil {
		return nil, err
	}
	if d.reviews, err = s.store.Reviews(ctx, repository, since); err != nil {
		return nil, err
	}
	if d.commits, err = s.store.Commits(ctx, repository, since); err != nil {
		return nil, err
	}
	if d.releases, err = s.store.Releases(ctx, repository); err != nil {
		return nil, err
	}
	if d.issues, err = s.store.Issues(ctx, repository, since); err != nil {
		return nil, err
	}
	if d.spans, err = s.store.AuthorSpans(ctx, repository); err != nil {
		return nil, err
	}
	return &d, nil
}

func nilable(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return round1(v)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func (s *Service) buildTriage(repository string, d *windowData) models.Report {
	var report models.Report

	rate, rateOK := metrics.MergeRate(len(d.merged), len(d.closed))
	dist, distOK := metrics.MergeTimes(d.merged)
	summary := models.Table{
		Name: "summary",
		Columns: []string{"repo", "total_merged", "total_closed", "total_open",
			"merge_rate", "median_merge_hours", "p25_merge_hours", "p75_merge_hours"},
	}
	row := []any{repository, len(d.merged), len(d.closed), len(d.open), nilable(rate*100, rateOK), nil, nil, nil}
	if distOK {
		row[5] = round1(dist.MedianHours)
		row[6] = round1(dist.P25Hours)
		row[7] = round1(dist.P75Hours)
	}
	summary.Rows = append(summary.Rows, row)
	report.Tables = append(report.Tables, summary)

	maintainers := models.Table{Name: "maintainers", Columns: []string{"merger", "merges", "avg_merge_hours"}}
	for _, m := range metrics.MaintainerStats(d.merged) {
		maintainers.Rows = append(maintainers.Rows, []any{m.Merger, m.Merges, round1(m.AvgMergeHours)})
	}
	report.Tables = append(report.Tables, maintainers)

	categories := models.Table{Name: "categories", Columns: []string{"category", "total", "merged", "merge_rate", "median_hours"}}
	for _, c := range metrics.CategoryBreakdown(d.merged, d.closed) {
		categories.Rows = append(categories.Rows, []any{
			c.Category, c.Total, c.Merged, nilable(c.MergeRate*100, c.MergeRateOK), nilable(c.MedianHours, c.MedianOK),
		})
	}
	report.Tables = append(report.Tables, categories)

	batches := models.Table{Name: "batches", Columns: []string{"merger", "start", "end", "pr_count"}}
	for _, b := range metrics.DetectBatches(d.merged) {
		batches.Rows = append(batches.Rows, []any{
			b.Merger, b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339), len(b.Numbers),
		})
	}
	report.Tables = append(report.Tables, batches)
	return report
}

// firstReviewByPR maps each PR number to its earliest review time.
func firstReviewByPR(reviews []models.Review) map[int]time.Time {
	first := map[int]time.Time{}
	for i := range reviews {
		r := reviews[i]
		if prev, ok := first[r.PRNumber]; !ok || r.SubmittedAt.Before(prev) {
			first[r.PRNumber] = r.SubmittedAt
		}
	}
	return first
}

func latestReviewByPR(reviews []models.Review) map[int]time.Time {
	latest := map[int]time.Time{}
	for i := range reviews {
		r := reviews[i]
		if prev, ok := latest[r.PRNumber]; !ok || r.SubmittedAt.After(prev) {
			latest[r.PRNumber] = r.SubmittedAt
		}
	}
	return latest
}

func (s *Service) buildReview(d *windowData, now time.Time) models.Report {
	var report models.Report

	coverage, coverageOK := metrics.ReviewCoverage(d.merged)
	unreviewedMerged := 0
	for i := range d.merged {
		if d.merged[i].ReviewCount == 0 {
			unreviewedMerged++
		}
	}

	first := firstReviewByPR(d.reviews)
	var firstReviewHours, reviewToMergeHours []float64
	for i := range d.merged {
		p := d.merged[i]
		at, ok := first[p.Number]
		if !ok {
			continue
		}
		firstReviewHours = append(firstReviewHours, at.Sub(p.CreatedAt).Hours())
		if p.MergedAt != nil {
			reviewToMergeHours = append(reviewToMergeHours, p.MergedAt.Sub(at).Hours())
		}
	}
	medFirst, medFirstOK := metrics.Median(firstReviewHours)
	medToMerge, medToMergeOK := metrics.Median(reviewToMergeHours)

	conc := metrics.ReviewerConcentration(d.reviews)

	summary := models.Table{
		Name: "summary",
		Columns: []string{"reviewed_merged", "unreviewed_merged", "review_coverage",
			"median_first_review_hours", "median_review_to_merge_hours",
			"reviewers_covering_half", "sole_gatekeeper"},
	}
	summary.Rows = append(summary.Rows, []any{
		len(d.merged) - unreviewedMerged,
		unreviewedMerged,
		nilable(coverage*100, coverageOK),
		nilable(medFirst, medFirstOK),
		nilable(medToMerge, medToMergeOK),
		conc.CoveringHalf,
		conc.SoleGatekeeper,
	})
	report.Tables = append(report.Tables, summary)

	reviewers := models.Table{
		Name:    "reviewers",
		Columns: []string{"reviewer", "reviews", "share", "approvals", "changes_requested", "comments"},
	}
	for _, r := range conc.Reviewers {
		reviewers.Rows = append(reviewers.Rows, []any{
			r.Reviewer, r.Reviews, round1(r.Share * 100), r.Approvals, r.ChangesRequested, r.Comments,
		})
	}
	report.Tables = append(report.Tables, reviewers)

	unreviewed := models.Table{
		Name:    "unreviewed_open_prs",
		Columns: []string{"number", "title", "author", "size", "category", "age_hours"},
	}
	for i := range d.open {
		p := d.open[i]
		if p.ReviewCount > 0 {
			continue
		}
		unreviewed.Rows = append(unreviewed.Rows, []any{
			p.Number, p.Title, p.Author, p.SizeBucket(), p.Category, round1(p.Age(now).Hours()),
		})
	}
	report.Tables = append(report.Tables, unreviewed)

	// Stale: still open, was reviewed, but the last review action is old
	// enough that the PR has likely fallen off everyone's radar.
	latest := latestReviewByPR(d.reviews)
	stale := models.Table{
		Name:    "stale_prs",
		Columns: []string{"number", "title", "author", "last_review_age_hours"},
	}
	for i := range d.open {
		p := d.open[i]
		at, ok := latest[p.Number]
		if !ok || now.Sub(at) < metrics.StaleReviewAge {
			continue
		}
		stale.Rows = append(stale.Rows, []any{p.Number, p.Title, p.Author, round1(now.Sub(at).Hours())})
	}
	report.Tables = append(report.Tables, stale)
	return report
}

func (s *Service) buildContribs(repository string, d *windowData, windowStart time.Time) models.Report {
	var report models.Report

	all := d.all()
	stats := metrics.ContributorStats(all)
	repeat, oneTime := 0, 0
	for _, c := range stats {
		if c.Merged+c.Closed+c.Open > 1 {
			repeat++
		} else {
			oneTime++
		}
	}
	ft := metrics.FirstTimers(all, d.spans, windowStart)

	summary := models.Table{
		Name: "summary",
		Columns: []string{"repo", "total_contributors", "repeat_contributors", "one_time_contributors",
			"first_timers", "first_timer_merge_rate", "retained_first_timers", "eligible_cohort", "retention_rate"},
	}
	summary.Rows = append(summary.Rows, []any{
		repository, len(stats), repeat, oneTime,
		ft.FirstTimers,
		nilable(ft.MergeRate*100, ft.MergeRateOK),
		ft.Retained, ft.EligibleCohort,
		nilable(ft.RetentionRate*100, ft.RetentionOK),
	})
	report.Tables = append(report.Tables, summary)

	contributors := models.Table{
		Name:    "contributors",
		Columns: []string{"author", "merged", "closed", "open", "first_contribution", "merge_rate"},
	}
	for _, c := range stats {
		contributors.Rows = append(contributors.Rows, []any{
			c.Author, c.Merged, c.Closed, c.Open,
			c.First.Format("2006-01-02"),
			nilable(c.MergeRate*100, c.MergeRateOK),
		})
	}
	report.Tables = append(report.Tables, contributors)

	spam := models.Table{
		Name:    "spam_prs",
		Columns: []string{"number", "title", "author", "closed_after_minutes"},
	}
	for _, p := range metrics.DetectSpam(all) {
		spam.Rows = append(spam.Rows, []any{
			p.Number, p.Title, p.Author, round1(p.ClosedAt.Sub(p.CreatedAt).Minutes()),
		})
	}
	report.Tables = append(report.Tables, spam)
	return report
}

func (s *Service) buildHealth(repository string, d *windowData, days int, now time.Time) models.Report {
	var report models.Report

	weeks := float64(days) / 7
	var perWeek float64
	if weeks > 0 {
		perWeek = float64(len(d.commits)) / weeks
	}
	busFactor, committers, busOK := metrics.BusFactor(d.commits)
	cadence, cadenceOK := metrics.ReleaseCadence(d.releases)
	response, responseOK := metrics.IssueResponse(d.issues)

	var lastRelease any
	if len(d.releases) > 0 {
		// Releases load newest first.
		lastRelease = d.releases[0].Tag
	}

	summary := models.Table{
		Name: "summary",
		Columns: []string{"repo", "commits_per_week", "active_contributors_30d", "bus_factor",
			"release_cadence_days", "last_release", "issue_response_hours", "issues_no_response"},
	}
	var busCell any
	if busOK {
		busCell = busFactor
	}
	summary.Rows = append(summary.Rows, []any{
		repository,
		round1(perWeek),
		metrics.ActiveAuthors(d.commits, now.AddDate(0, 0, -30)),
		busCell,
		nilable(cadence, cadenceOK),
		lastRelease,
		nilable(response.MedianHours, responseOK),
		response.NoResponse,
	})
	report.Tables = append(report.Tables, summary)

	top := models.Table{Name: "top_committers", Columns: []string{"author", "commits"}}
	for i, c := range committers {
		if i >= 10 {
			break
		}
		top.Rows = append(top.Rows, []any{c.Author, c.Commits})
	}
	report.Tables = append(report.Tables, top)

	weekly := models.Table{Name: "weekly_commits", Columns: []string{"week", "commits"}}
	for _, w := range metrics.WeeklyCommits(d.commits) {
		weekly.Rows = append(weekly.Rows, []any{w.Week, w.Commits})
	}
	report.Tables = append(report.Tables, weekly)
	return report
}

func (s *Service) buildAssess(ctx context.Context, req models.ReportRequest, d *windowData, now time.Time) models.Report {
	var report models.Report

	author := req.Author
	if author == "" && req.Mode != models.ModeOffline {
		viewer, err := s.viewer.Viewer(ctx)
		if err != nil {
			s.log.Warn("viewer lookup failed, assessing all open PRs", "err", err)
		} else {
			author = viewer
		}
	}

	targets := d.open
	if author != "" {
		targets = nil
		for i := range d.open {
			if d.open[i].Author == author {
				targets = append(targets, d.open[i])
			}
		}
	}

	assessments := models.Table{
		Name: "assessments",
		Columns: []string{"number", "title", "author", "probability", "size", "category",
			"reviews", "age_hours", "dominant_factor", "detail"},
	}
	similar := models.Table{
		Name:    "similar_prs",
		Columns: []string{"target", "number", "title", "state", "merged_in_hours"},
	}
	history := make([]models.PullRequest, 0, len(d.merged)+len(d.closed))
	history = append(history, d.merged...)
	history = append(history, d.closed...)

	for i := range targets {
		a := metrics.MergeProbability(targets[i], d.merged, d.closed, now)
		assessments.Rows = append(assessments.Rows, []any{
			a.PR.Number, a.PR.Title, a.PR.Author,
			round1(a.Probability * 100),
			a.PR.SizeBucket(), a.PR.Category, a.PR.ReviewCount,
			round1(a.PR.Age(now).Hours()),
			a.Dominant.Name, a.Dominant.Detail,
		})
		for _, p := range metrics.SimilarPRs(targets[i], history, 3) {
			var mergedIn any
			if dur, ok := p.MergeDuration(); ok {
				mergedIn = round1(dur.Hours())
			}
			similar.Rows = append(similar.Rows, []any{
				targets[i].Number, p.Number, p.Title, string(p.State), mergedIn,
			})
		}
	}
	report.Tables = append(report.Tables, assessments)
	report.Tables = append(report.Tables, similar)
	return report
}

func fmtHours(h float64) string {
	switch {
	case h < 1:
		return fmt.Sprintf("%.0fm", h*60)
	case h < 24:
		return fmt.Sprintf("%.1fh", h)
	default:
		return fmt.Sprintf("%.1fd", h/24)
	}
}

// buildScorecard folds every signal into one signal/value/read table
// with a one-line interpretation per signal.
func (s *Service) buildScorecard(d *windowData, days int, now time.Time) models.Report {
	signals := models.Table{Name: "signals", Columns: []string{"signal", "value", "read"}}
	add := func(signal, value, read string) {
		signals.Rows = append(signals.Rows, []any{signal, value, read})
	}

	if coverage, ok := metrics.ReviewCoverage(d.merged); ok {
		unreviewed := 0
		for i := range d.merged {
			if d.merged[i].ReviewCount == 0 {
				unreviewed++
			}
		}
		var read string
		switch {
		case coverage < 0.3:
			read = fmt.Sprintf("%d/%d merges go in blind", unreviewed, len(d.merged))
		case coverage < 0.7:
			read = "partial coverage, room to improve"
		default:
			read = "most PRs reviewed before merge"
		}
		add("review_coverage", fmt.Sprintf("%.0f%%", coverage*100), read)
	}

	if conc := metrics.ReviewerConcentration(d.reviews); conc.Distinct > 0 {
		top := conc.Reviewers[0]
		read := fmt.Sprintf("%d reviewers cover half of reviews", conc.CoveringHalf)
		if conc.SoleGatekeeper {
			read = "sole gatekeeper"
		}
		add("reviewer_spread", fmt.Sprintf("%d (%s)", conc.CoveringHalf, top.Reviewer), read)
	}

	active := metrics.ActiveAuthors(d.commits, now.AddDate(0, 0, -30))
	read := fmt.Sprintf("%d people active in last 30d", active)
	if active <= 1 {
		read = "only 1 person active in last 30d"
	}
	add("active_contributors", fmt.Sprintf("%d", active), read)

	if busFactor, committers, ok := metrics.BusFactor(d.commits); ok {
		read := fmt.Sprintf("%d people cover half the commits", busFactor)
		if busFactor == 1 {
			read = "single point of failure"
		}
		add("bus_factor", fmt.Sprintf("%d", busFactor), read)

		weeks := float64(days) / 7
		perWeek := 0.0
		if weeks > 0 {
			perWeek = float64(len(d.commits)) / weeks
		}
		top := committers[0]
		pct := 0
		if len(d.commits) > 0 {
			pct = int(float64(top.Commits)/float64(len(d.commits))*100 + 0.5)
		}
		add("commit_velocity", fmt.Sprintf("%.1f/wk", perWeek),
			fmt.Sprintf("%s dominates (%d/%d, %d%%)", top.Author, top.Commits, len(d.commits), pct))
	} else {
		add("bus_factor", "-", "no commits in lookback")
	}

	if cadence, ok := metrics.ReleaseCadence(d.releases); ok {
		add("release_cadence", fmt.Sprintf("%.0fd", cadence), "last: "+d.releases[0].Tag)
	} else if len(d.releases) == 1 {
		add("release_cadence", "-", "only 1 release: "+d.releases[0].Tag)
	} else {
		add("release_cadence", "-", "no releases ever")
	}

	if response, ok := metrics.IssueResponse(d.issues); ok {
		var qual string
		switch {
		case response.MedianHours < 24:
			qual = "fast, under 24h"
		case response.MedianHours < 168:
			qual = "slow, over a day"
		default:
			qual = "very slow, over a week"
		}
		add("issue_response", fmtHours(response.MedianHours), qual)
	} else {
		add("issue_response", "-", "no issue responses to measure")
	}

	if rate, ok := metrics.MergeRate(len(d.merged), len(d.closed)); ok {
		read := "no merge timing data"
		if dist, ok := metrics.MergeTimes(d.merged); ok {
			read = fmt.Sprintf("median %s, p75 %s", fmtHours(dist.MedianHours), fmtHours(dist.P75Hours))
		}
		add("merge_rate", fmt.Sprintf("%.1f%%", rate*100), read)
	}

	if maintainers := metrics.MaintainerStats(d.merged); len(maintainers) > 0 {
		top := maintainers[0]
		read := fmt.Sprintf("%s leads with %d merges", top.Merger, top.Merges)
		if len(maintainers) == 1 {
			read = top.Merger + " is the sole merger"
		}
		add("top_merger", fmt.Sprintf("%s (%d)", top.Merger, top.Merges), read)
	}

	ft := metrics.FirstTimers(d.all(), d.spans, now.AddDate(0, 0, -days))
	ftRead := "zero new contributors in window"
	if ft.FirstTimers > 0 {
		ftRead = "no terminal outcomes yet"
		if ft.MergeRateOK {
			ftRead = fmt.Sprintf("%.0f%% merge rate", ft.MergeRate*100)
			if ft.RetentionOK {
				ftRead += fmt.Sprintf(", %.0f%% retention", ft.RetentionRate*100)
			}
		}
	}
	add("first_timers", fmt.Sprintf("%d", ft.FirstTimers), ftRead)

	if contributors := metrics.ContributorStats(d.all()); len(contributors) > 0 {
		top := contributors[0]
		read := "no terminal outcomes yet"
		if top.MergeRateOK {
			read = fmt.Sprintf("%.0f%% merge rate", top.MergeRate*100)
		}
		add("top_contributor", fmt.Sprintf("%s (%d)", top.Author, top.Merged), read)
	}

	unreviewedOpen := 0
	oldestHours := 0.0
	for i := range d.open {
		if d.open[i].ReviewCount > 0 {
			continue
		}
		unreviewedOpen++
		if h := d.open[i].Age(now).Hours(); h > oldestHours {
			oldestHours = h
		}
	}
	if unreviewedOpen > 0 {
		add("unreviewed_prs", fmt.Sprintf("%d", unreviewedOpen),
			fmt.Sprintf("oldest waiting %s", fmtHours(oldestHours)))
	}

	return models.Report{Tables: []models.Table{signals}}
}
