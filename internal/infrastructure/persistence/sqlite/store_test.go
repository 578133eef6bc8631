package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ghscope/internal/domain/models"
	"ghscope/internal/domain/ports/output/cache"
	"ghscope/internal/infrastructure/logger"
	"ghscope/internal/utils"
)

const testRepo = "acme/widgets"

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), time.Hour, logger.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testWatermark(kind models.EntityKind, syncedAt time.Time) models.Watermark {
	return models.Watermark{
		Repository:   testRepo,
		Kind:         kind,
		LastSyncedAt: syncedAt,
		CoveredFrom:  syncedAt.AddDate(0, 0, -90),
		CoveredTo:    syncedAt,
	}
}

func mergedPR(number int, author string, created time.Time) models.PullRequest {
	mergedAt := created.Add(2 * time.Hour)
	return models.PullRequest{
		Repository: testRepo,
		Number:     number,
		Title:      "change",
		Author:     author,
		State:      models.PRStateMerged,
		CreatedAt:  created,
		ClosedAt:   &mergedAt,
		MergedAt:   &mergedAt,
		MergedBy:   "bob",
		Category:   "other",
	}
}

func TestUpsertPageIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pr := mergedPR(1, "alice", base)
	rows := models.Rows{PullRequests: []models.PullRequest{pr}}
	written, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
	require.NoError(t, err)
	require.Equal(t, 1, written)

	pr.Title = "change, revised"
	rows = models.Rows{PullRequests: []models.PullRequest{pr}}
	_, err = s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base.Add(time.Minute)))
	require.NoError(t, err)

	got, err := s.PullRequests(ctx, testRepo, []models.PRState{models.PRStateMerged}, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "change, revised", got[0].Title)
	require.Equal(t, models.PRStateMerged, got[0].State)
	require.NotNil(t, got[0].MergedAt)
	require.Equal(t, base.Add(2*time.Hour), *got[0].MergedAt)
}

func TestUpsertPageCommitsWatermarkAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wm := testWatermark(models.KindPRMerged, base)
	wm.LastCursor = "page-2"
	rows := models.Rows{PullRequests: []models.PullRequest{mergedPR(1, "alice", base)}}
	_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, wm)
	require.NoError(t, err)

	got, err := s.Watermark(ctx, testRepo, models.KindPRMerged)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "page-2", got.LastCursor)
	require.Equal(t, wm.CoveredFrom, got.CoveredFrom)
	require.Equal(t, wm.CoveredTo, got.CoveredTo)

	missing, err := s.Watermark(ctx, testRepo, models.KindCommits)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestReviewsCommitWithTheirPRs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	submitted := base.Add(time.Hour)
	rows := models.Rows{
		PullRequests: []models.PullRequest{mergedPR(7, "alice", base)},
		Reviews: []models.Review{{
			Repository:  testRepo,
			ID:          "7:bob:1",
			PRNumber:    7,
			Reviewer:    "bob",
			SubmittedAt: submitted,
			Disposition: models.ReviewApproved,
		}},
	}
	_, err := s.UpsertPage(ctx, testRepo, models.KindReviews, rows, testWatermark(models.KindReviews, base))
	require.NoError(t, err)

	got, err := s.Reviews(ctx, testRepo, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bob", got[0].Reviewer)
	require.Equal(t, submitted, got[0].SubmittedAt)
}

func TestFreshness(t *testing.T) {
	ctx := context.Background()
	from := base.AddDate(0, 0, -30)

	seed := func(t *testing.T, s *Store) {
		rows := models.Rows{PullRequests: []models.PullRequest{mergedPR(1, "alice", base)}}
		_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
		require.NoError(t, err)
	}

	t.Run("empty cache is stale", func(t *testing.T) {
		s := newTestStore(t)
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeCached)
		require.NoError(t, err)
		require.Equal(t, cache.Stale, f)
	})

	t.Run("recent sync covering the window is fresh", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		s.now = func() time.Time { return base.Add(10 * time.Minute) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeCached)
		require.NoError(t, err)
		require.Equal(t, cache.Fresh, f)
	})

	t.Run("sync older than the ceiling is stale", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		s.now = func() time.Time { return base.Add(2 * time.Hour) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeCached)
		require.NoError(t, err)
		require.Equal(t, cache.Stale, f)
	})

	t.Run("lookback beyond coverage is stale", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		s.now = func() time.Time { return base.Add(10 * time.Minute) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, base.AddDate(-1, 0, 0), models.ModeCached)
		require.NoError(t, err)
		require.Equal(t, cache.Stale, f)
	})

	t.Run("interrupted sync with a live cursor is stale", func(t *testing.T) {
		s := newTestStore(t)
		wm := testWatermark(models.KindPRMerged, base)
		wm.LastCursor = "mid-flight"
		rows := models.Rows{PullRequests: []models.PullRequest{mergedPR(1, "alice", base)}}
		_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, wm)
		require.NoError(t, err)
		// Well inside the staleness ceiling: only the cursor makes it stale.
		s.now = func() time.Time { return base.Add(10 * time.Minute) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeCached)
		require.NoError(t, err)
		require.Equal(t, cache.Stale, f)
	})

	t.Run("refresh is always stale", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		s.now = func() time.Time { return base.Add(time.Minute) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeRefresh)
		require.NoError(t, err)
		require.Equal(t, cache.Stale, f)
	})

	t.Run("offline with data serves regardless of age", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		s.now = func() time.Time { return base.AddDate(0, 6, 0) }
		f, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeOffline)
		require.NoError(t, err)
		require.Equal(t, cache.Offline, f)
	})

	t.Run("offline with empty kind fails", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeOffline)
		require.ErrorIs(t, err, utils.ErrNoOfflineData)
	})

	t.Run("rows without watermark violate integrity", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s)
		_, err := s.db.Exec(`DELETE FROM watermarks WHERE repository = ?`, testRepo)
		require.NoError(t, err)
		_, err = s.Freshness(ctx, testRepo, models.KindPRMerged, from, models.ModeCached)
		require.ErrorIs(t, err, utils.ErrCacheIntegrity)
	})
}

func TestEarliestAuthoredPRAndAuthorSpans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := models.Rows{PullRequests: []models.PullRequest{
		mergedPR(1, "alice", base.AddDate(0, -6, 0)),
		mergedPR(2, "alice", base),
		mergedPR(3, "carol", base),
	}}
	_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
	require.NoError(t, err)

	earliest, err := s.EarliestAuthoredPR(ctx, testRepo, "alice")
	require.NoError(t, err)
	require.NotNil(t, earliest)
	require.Equal(t, base.AddDate(0, -6, 0), *earliest)

	none, err := s.EarliestAuthoredPR(ctx, testRepo, "nobody")
	require.NoError(t, err)
	require.Nil(t, none)

	spans, err := s.AuthorSpans(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	require.Equal(t, 2, spans["alice"].PRCount)
	require.Equal(t, base.AddDate(0, -6, 0), spans["alice"].First)
	require.Equal(t, base, spans["alice"].Last)
}

func TestSetBatchGroupsSurvivesRefetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pr := mergedPR(1, "alice", base)
	rows := models.Rows{PullRequests: []models.PullRequest{pr}}
	_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
	require.NoError(t, err)

	group := uuid.New()
	require.NoError(t, s.SetBatchGroups(ctx, testRepo, map[int]uuid.UUID{1: group}))

	// A later refetch of the same PR must not wipe the stamp.
	_, err = s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base.Add(time.Hour)))
	require.NoError(t, err)

	got, err := s.PullRequests(ctx, testRepo, []models.PRState{models.PRStateMerged}, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].BatchGroup)
	require.Equal(t, group, *got[0].BatchGroup)
}

func TestResetKindIsStateScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := mergedPR(2, "alice", base)
	open.State = models.PRStateOpen
	open.MergedAt = nil
	open.ClosedAt = nil
	open.MergedBy = ""
	rows := models.Rows{PullRequests: []models.PullRequest{mergedPR(1, "alice", base), open}}
	_, err := s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
	require.NoError(t, err)

	require.NoError(t, s.ResetKind(ctx, testRepo, models.KindPRMerged))

	merged, err := s.PullRequests(ctx, testRepo, []models.PRState{models.PRStateMerged}, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Empty(t, merged)

	stillOpen, err := s.PullRequests(ctx, testRepo, []models.PRState{models.PRStateOpen}, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, stillOpen, 1)

	wm, err := s.Watermark(ctx, testRepo, models.KindPRMerged)
	require.NoError(t, err)
	require.Nil(t, wm)
}

func TestResetKindDropsDependentReviews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := models.Rows{
		PullRequests: []models.PullRequest{mergedPR(7, "alice", base)},
		Reviews: []models.Review{{
			Repository:  testRepo,
			ID:          "7:bob:1",
			PRNumber:    7,
			Reviewer:    "bob",
			SubmittedAt: base.Add(time.Hour),
			Disposition: models.ReviewApproved,
		}},
	}
	_, err := s.UpsertPage(ctx, testRepo, models.KindReviews, rows, testWatermark(models.KindReviews, base))
	require.NoError(t, err)

	// Resetting the merged kind must not trip the review foreign key.
	require.NoError(t, s.ResetKind(ctx, testRepo, models.KindPRMerged))

	merged, err := s.PullRequests(ctx, testRepo, []models.PRState{models.PRStateMerged}, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Empty(t, merged)

	reviews, err := s.Reviews(ctx, testRepo, base.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Empty(t, reviews)
}

func TestClearAndHasAnyRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyRows(ctx, testRepo)
	require.NoError(t, err)
	require.False(t, has)

	rows := models.Rows{PullRequests: []models.PullRequest{mergedPR(1, "alice", base)}}
	_, err = s.UpsertPage(ctx, testRepo, models.KindPRMerged, rows, testWatermark(models.KindPRMerged, base))
	require.NoError(t, err)

	has, err = s.HasAnyRows(ctx, testRepo)
	require.NoError(t, err)
	require.True(t, has)

	// Clearing one repository leaves others untouched.
	other := mergedPR(9, "zed", base)
	other.Repository = "other/repo"
	_, err = s.UpsertPage(ctx, "other/repo", models.KindPRMerged,
		models.Rows{PullRequests: []models.PullRequest{other}},
		models.Watermark{Repository: "other/repo", Kind: models.KindPRMerged, LastSyncedAt: base, CoveredFrom: base, CoveredTo: base})
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, testRepo))

	has, err = s.HasAnyRows(ctx, testRepo)
	require.NoError(t, err)
	require.False(t, has)

	has, err = s.HasAnyRows(ctx, "other/repo")
	require.NoError(t, err)
	require.True(t, has)
}
