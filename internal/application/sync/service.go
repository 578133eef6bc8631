// Package sync reconciles requested entity kinds against the cache
// store: decide freshness per kind, page missing history in, and commit
// every page atomically with its watermark. Kinds sync in parallel and
// fail independently.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"ghscope/internal/domain/models"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/domain/ports/output/cache"
	"ghscope/internal/domain/ports/output/fetch"
	"ghscope/internal/domain/services/metrics"
	"ghscope/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var repoPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// rowNormalizer turns raw records into cache rows for one kind.
type rowNormalizer interface {
	Normalize(ctx context.Context, repository string, kind models.EntityKind, records []json.RawMessage) (models.Rows, error)
}

type Service struct {
	store      cache.CacheStore
	fetcher    fetch.FetchAdapter
	normalizer rowNormalizer
	log        ports.Logger
	pageSize   int
	now        func() time.Time
}

func New(store cache.CacheStore, fetcher fetch.FetchAdapter, normalizer rowNormalizer, pageSize int, log ports.Logger) *Service {
	return &Service{
		store:      store,
		fetcher:    fetcher,
		normalizer: normalizer,
		log:        log,
		pageSize:   pageSize,
		now:        time.Now,
	}
}

// EnsureSynced brings every requested kind up to date for the window.
// The returned map always holds one outcome per requested kind; a
// failed kind never aborts its siblings, and pages committed before a
// failure stay cached.
func (s *Service) EnsureSynced(ctx context.Context, req models.SyncRequest) (map[models.EntityKind]models.SyncOutcome, error) {
	if !repoPattern.MatchString(req.Repository) {
		return nil, fmt.Errorf("%w: %q", utils.ErrInvalidRepository, req.Repository)
	}

	from := s.now().UTC().AddDate(0, 0, -req.Days)

	outcomes := make(map[models.EntityKind]models.SyncOutcome, len(req.Kinds))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range req.Kinds {
		kind := kind
		g.Go(func() error {
			outcome := s.syncKind(gctx, req, kind, from)
			mu.Lock()
			outcomes[kind] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	if o, ok := outcomes[models.KindPRMerged]; ok && o.Status == models.SyncFetched {
		if err := s.stampBatchGroups(ctx, req.Repository, from); err != nil {
			s.log.Warn("batch group stamping failed", "repository", req.Repository, "err", err)
		}
	}
	return outcomes, nil
}

func (s *Service) syncKind(ctx context.Context, req models.SyncRequest, kind models.EntityKind, from time.Time) models.SyncOutcome {
	outcome := models.SyncOutcome{Kind: kind}

	freshness, err := s.store.Freshness(ctx, req.Repository, kind, from, req.Mode)
	if errors.Is(err, utils.ErrCacheIntegrity) {
		// Coverage can no longer be trusted; drop the kind and resync
		// it from scratch.
		s.log.Warn("cache integrity violation, resyncing kind", "repository", req.Repository, "kind", kind, "err", err)
		if resetErr := s.store.ResetKind(ctx, req.Repository, kind); resetErr != nil {
			outcome.Status = models.SyncFailed
			outcome.Err = resetErr
			return outcome
		}
		freshness, err = cache.Stale, nil
		if req.Mode == models.ModeOffline {
			outcome.Status = models.SyncFailed
			outcome.Err = utils.ErrNoOfflineData
			return outcome
		}
	}
	if err != nil {
		outcome.Status = models.SyncFailed
		outcome.Err = err
		return outcome
	}

	switch freshness {
	case cache.Fresh, cache.Offline:
		outcome.Status = models.SyncSkipped
		s.log.Debug("kind serving from cache", "repository", req.Repository, "kind", kind, "freshness", freshness)
		return outcome
	}

	pages, rows, err := s.fetchKind(ctx, req, kind, from)
	outcome.Pages = pages
	outcome.Rows = rows
	if err != nil {
		outcome.Status = models.SyncFailed
		outcome.Err = err
		s.log.Error("kind sync failed", "repository", req.Repository, "kind", kind, "pages", pages, "err", err)
		return outcome
	}
	outcome.Status = models.SyncFetched
	s.log.Info("kind synced", "repository", req.Repository, "kind", kind, "pages", pages, "rows", rows)
	return outcome
}

// fetchKind pages the kind in from the head of the connection, newest
// first, until the page set is exhausted, the record limit is reached,
// or a page falls entirely before the window. Each page commits with a
// watermark carrying the next cursor, so an interrupted sync resumes
// instead of restarting.
func (s *Service) fetchKind(ctx context.Context, req models.SyncRequest, kind models.EntityKind, from time.Time) (int, int, error) {
	prior, err := s.store.Watermark(ctx, req.Repository, kind)
	if err != nil {
		return 0, 0, err
	}

	cursor := ""
	coveredFrom := from
	if prior != nil {
		if prior.CoveredFrom.Before(coveredFrom) {
			coveredFrom = prior.CoveredFrom
		}
		// Resume a mid-flight cursor only when it doesn't shortcut a
		// deeper lookback than the interrupted sync covered.
		if req.Mode != models.ModeRefresh && prior.LastCursor != "" && !prior.CoveredFrom.After(from) {
			cursor = prior.LastCursor
		}
	}

	pages, fetched := 0, 0
	for fetched < req.Limit {
		size := s.pageSize
		if remaining := req.Limit - fetched; remaining < size {
			size = remaining
		}
		page, err := s.fetcher.FetchPage(ctx, req.Repository, kind, cursor, size)
		if err != nil {
			return pages, fetched, err
		}
		pages++
		fetched += len(page.Records)

		rows, err := s.normalizer.Normalize(ctx, req.Repository, kind, page.Records)
		if err != nil {
			return pages, fetched, err
		}

		now := s.now().UTC()
		wm := models.Watermark{
			Repository:   req.Repository,
			Kind:         kind,
			LastSyncedAt: now,
			CoveredFrom:  coveredFrom,
			CoveredTo:    now,
			LastCursor:   page.NextCursor,
		}
		if _, err := s.store.UpsertPage(ctx, req.Repository, kind, rows, wm); err != nil {
			return pages, fetched, err
		}

		if page.Exhausted {
			return pages, fetched, nil
		}
		if oldest, ok := rows.OldestPrimary(); ok && oldest.Before(from) {
			break
		}
		cursor = page.NextCursor
	}

	// Stopped inside the window or at the record limit: clear the
	// cursor so the next sync restarts from the head and picks up new
	// records.
	now := s.now().UTC()
	final := models.Watermark{
		Repository:   req.Repository,
		Kind:         kind,
		LastSyncedAt: now,
		CoveredFrom:  coveredFrom,
		CoveredTo:    now,
		LastCursor:   "",
	}
	if _, err := s.store.UpsertPage(ctx, req.Repository, kind, models.Rows{}, final); err != nil {
		return pages, fetched, err
	}
	return pages, fetched, nil
}

// stampBatchGroups runs after a merged-PR sync: cluster the window's
// merges and persist one correlation id per cluster.
func (s *Service) stampBatchGroups(ctx context.Context, repository string, from time.Time) error {
	merged, err := s.store.PullRequests(ctx, repository, []models.PRState{models.PRStateMerged}, from)
	if err != nil {
		return err
	}
	groups := map[int]uuid.UUID{}
	for _, batch := range metrics.DetectBatches(merged) {
		id := uuid.New()
		for _, number := range batch.Numbers {
			groups[number] = id
		}
	}
	return s.store.SetBatchGroups(ctx, repository, groups)
}
