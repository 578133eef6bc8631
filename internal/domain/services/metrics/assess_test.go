package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ghscope/internal/domain/models"
)

func openPR(number int, author, title string, created time.Time, additions int) models.PullRequest {
	return models.PullRequest{
		Repository: "acme/widgets",
		Number:     number,
		Title:      title,
		Author:     author,
		State:      models.PRStateOpen,
		CreatedAt:  created,
		Additions:  additions,
	}
}

func TestMergeProbability(t *testing.T) {
	now := testBase.Add(12 * time.Hour)

	t.Run("no history falls back to neutral", func(t *testing.T) {
		target := openPR(10, "alice", "add feature", testBase, 5)
		a := MergeProbability(target, nil, nil, now)
		require.InDelta(t, 0.5, a.Probability, 1e-9)
		require.Len(t, a.Factors, 4)
		for _, f := range a.Factors {
			require.InDelta(t, 0, f.Deviation(), 1e-9)
		}
	})

	t.Run("probability stays within unit interval", func(t *testing.T) {
		var merged []models.PullRequest
		for i := 0; i < 6; i++ {
			p := mergedPR(i+1, "alice", "bob", testBase.Add(-time.Duration(i)*time.Hour), 2*time.Hour)
			p.Additions = 5
			p.ReviewCount = 3
			merged = append(merged, p)
		}
		target := openPR(10, "alice", "add feature", testBase, 5)
		target.ReviewCount = 5
		a := MergeProbability(target, merged, nil, now)
		require.GreaterOrEqual(t, a.Probability, 0.0)
		require.LessOrEqual(t, a.Probability, 1.0)
	})

	t.Run("dominant factor has the largest deviation", func(t *testing.T) {
		var merged, closed []models.PullRequest
		// XS PRs always merge, XL PRs never do.
		for i := 0; i < 4; i++ {
			p := mergedPR(i+1, "alice", "bob", testBase, 2*time.Hour)
			p.Additions = 5
			merged = append(merged, p)
		}
		for i := 0; i < 4; i++ {
			p := closedPR(i+10, "carol", testBase, 2*time.Hour)
			p.Additions = 900
			closed = append(closed, p)
		}
		target := openPR(20, "dave", "huge rewrite", testBase, 900)
		a := MergeProbability(target, merged, closed, now)
		require.Equal(t, "size", a.Dominant.Name)
		for _, f := range a.Factors {
			require.GreaterOrEqual(t, a.Dominant.Deviation(), f.Deviation())
		}
	})

	t.Run("small bucket sample falls back to base rate", func(t *testing.T) {
		merged := []models.PullRequest{mergedPR(1, "alice", "bob", testBase, time.Hour)}
		merged[0].Additions = 5
		closed := []models.PullRequest{closedPR(2, "carol", testBase, time.Hour)}
		closed[0].Additions = 5

		target := openPR(3, "dave", "tiny tweak", testBase, 5)
		a := MergeProbability(target, merged, closed, now)
		// Two XS samples is below the trust threshold; the size factor
		// sits at the overall base rate.
		require.InDelta(t, 0.5, a.Factors[0].Value, 1e-9)
	})
}

func TestSimilarPRs(t *testing.T) {
	target := openPR(1, "alice", "fix flaky widget test", testBase, 20)
	target.Category = "fix"

	near := openPR(2, "bob", "fix widget test timeout", testBase, 25)
	near.Category = "fix"
	far := openPR(3, "carol", "add dashboard charts", testBase, 900)
	far.Category = "feat"

	got := SimilarPRs(target, []models.PullRequest{far, near}, 2)
	require.Len(t, got, 2)
	require.Equal(t, 2, got[0].Number)

	got = SimilarPRs(target, []models.PullRequest{far, near}, 1)
	require.Len(t, got, 1)

	require.Empty(t, SimilarPRs(target, nil, 3))
}
