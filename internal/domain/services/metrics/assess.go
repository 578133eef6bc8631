package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"ghscope/internal/domain/models"
)

// Merge-probability weights. The score is a weighted combination of
// probability-like factors, clamped to [0,1]; it is not a calibrated model.
const (
	weightSize     = 0.35
	weightCategory = 0.25
	weightReviews  = 0.20
	weightAge      = 0.20
)

// Factor is one contribution to a merge-probability score. Deviation from
// Baseline decides the dominant factor; exact ties fall back to
// declaration order (size, category, reviews, age).
type Factor struct {
	Name     string
	Value    float64
	Baseline float64
	Detail   string
}

func (f Factor) Deviation() float64 {
	d := f.Value - f.Baseline
	if d < 0 {
		return -d
	}
	return d
}

// Assessment scores one open PR against the window's merge history.
type Assessment struct {
	PR          models.PullRequest
	Probability float64
	Dominant    Factor
	Factors     []Factor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func bucketRate(target string, bucket func(*models.PullRequest) string, merged, closed []models.PullRequest, fallback float64) (float64, int) {
	m, c := 0, 0
	for i := range merged {
		if bucket(&merged[i]) == target {
			m++
		}
	}
	for i := range closed {
		if bucket(&closed[i]) == target {
			c++
		}
	}
	if m+c < MinCategorySample {
		return fallback, m + c
	}
	rate, _ := MergeRate(m, c)
	return rate, m + c
}

// MergeProbability estimates how likely an open PR is to merge, from the
// window's size-bucket and category merge rates, the PR's review count
// against the median review count before merge, and its age against the
// median merge time.
func MergeProbability(target models.PullRequest, merged, closed []models.PullRequest, now time.Time) Assessment {
	baseRate := 0.5
	if r, ok := MergeRate(len(merged), len(closed)); ok {
		baseRate = r
	}

	sizeRate, sizeN := bucketRate(target.SizeBucket(),
		func(p *models.PullRequest) string { return p.SizeBucket() }, merged, closed, baseRate)
	catRate, catN := bucketRate(target.Category,
		func(p *models.PullRequest) string { return p.Category }, merged, closed, baseRate)

	var reviewCounts []float64
	for i := range merged {
		reviewCounts = append(reviewCounts, float64(merged[i].ReviewCount))
	}
	reviewFactor := 0.5
	reviewDetail := "no merge history to compare reviews against"
	if medReviews, ok := Median(reviewCounts); ok {
		delta := float64(target.ReviewCount) - medReviews
		reviewFactor = clamp01(0.5 + 0.1*delta)
		reviewDetail = fmt.Sprintf("%d review(s) vs median %.1f before merge", target.ReviewCount, medReviews)
	}

	ageFactor := 0.5
	ageDetail := "no merge history to compare age against"
	if dist, ok := MergeTimes(merged); ok && dist.MedianHours > 0 {
		ageHours := target.Age(now).Hours()
		ratio := ageHours / dist.MedianHours
		ageFactor = clamp01(1 / (1 + ratio))
		ageDetail = fmt.Sprintf("open %.0fh vs median merge %.0fh", ageHours, dist.MedianHours)
	}

	factors := []Factor{
		{
			Name:     "size",
			Value:    sizeRate,
			Baseline: baseRate,
			Detail:   fmt.Sprintf("%s PRs merge at %.0f%% (%d samples)", target.SizeBucket(), sizeRate*100, sizeN),
		},
		{
			Name:     "category",
			Value:    catRate,
			Baseline: baseRate,
			Detail:   fmt.Sprintf("%s PRs merge at %.0f%% (%d samples)", target.Category, catRate*100, catN),
		},
		{Name: "reviews", Value: reviewFactor, Baseline: 0.5, Detail: reviewDetail},
		{Name: "age", Value: ageFactor, Baseline: 0.5, Detail: ageDetail},
	}

	score := clamp01(weightSize*sizeRate + weightCategory*catRate +
		weightReviews*reviewFactor + weightAge*ageFactor)

	dominant := factors[0]
	for _, f := range factors[1:] {
		if f.Deviation() > dominant.Deviation() {
			dominant = f
		}
	}

	return Assessment{PR: target, Probability: score, Dominant: dominant, Factors: factors}
}

var tokenPattern = regexp.MustCompile(`\w+`)

// SimilarPRs ranks candidates by Jaccard similarity on title tokens with a
// bonus for matching category and size bucket.
func SimilarPRs(target models.PullRequest, candidates []models.PullRequest, topN int) []models.PullRequest {
	targetTokens := tokenSet(target.Title)
	type scored struct {
		score float64
		pr    models.PullRequest
	}
	ranked := make([]scored, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		tokens := tokenSet(c.Title)
		score := jaccard(targetTokens, tokens)
		if c.Category == target.Category {
			score += 0.2
		}
		if c.SizeBucket() == target.SizeBucket() {
			score += 0.1
		}
		ranked = append(ranked, scored{score: score, pr: c})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if topN > len(ranked) {
		topN = len(ranked)
	}
	out := make([]models.PullRequest, 0, topN)
	for _, s := range ranked[:topN] {
		out = append(out, s.pr)
	}
	return out
}

func tokenSet(title string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(title), -1) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
