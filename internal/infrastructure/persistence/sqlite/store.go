// Package sqlite implements the cache store on an embedded per-user
// SQLite file. One table per entity kind plus a watermark table; page
// upserts and their watermark commit in a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ghscope/internal/domain/models"
	ports "ghscope/internal/domain/ports/output"
	"ghscope/internal/domain/ports/output/cache"
	"ghscope/internal/utils"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db         *sql.DB
	log        ports.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// Open creates or opens the cache file, applies pragmas and pending
// migrations, and returns a ready store.
func Open(path string, staleAfter time.Duration, log ports.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db, log: log, staleAfter: staleAfter, now: time.Now}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func toUnix(t time.Time) int64 { return t.UTC().Unix() }

func fromUnix(v int64) time.Time { return time.Unix(v, 0).UTC() }

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

const selectPRs = `
	SELECT repository, number, title, author, state, created_at, closed_at, merged_at,
	       merged_by, additions, deletions, changed_files, review_count, category,
	       first_timer, batch_group
	FROM pull_requests
	WHERE repository = ? AND created_at >= ? AND state IN (%s)
	ORDER BY created_at;
`

func (s *Store) PullRequests(ctx context.Context, repository string, states []models.PRState, since time.Time) ([]models.PullRequest, error) {
	if len(states) == 0 {
		states = []models.PRState{models.PRStateOpen, models.PRStateClosed, models.PRStateMerged}
	}
	placeholders := ""
	args := []any{repository, toUnix(since)}
	for i, st := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}
	q := fmt.Sprintf(selectPRs, placeholders)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.log.Error("PullRequests query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	var out []models.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			s.log.Error("PullRequests scan failed", "repository", repository, "err", err)
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func scanPR(rows *sql.Rows) (models.PullRequest, error) {
	var pr models.PullRequest
	var created int64
	var closed, merged sql.NullInt64
	var firstTimer int
	var batchGroup sql.NullString
	err := rows.Scan(&pr.Repository, &pr.Number, &pr.Title, &pr.Author, &pr.State,
		&created, &closed, &merged, &pr.MergedBy, &pr.Additions, &pr.Deletions,
		&pr.ChangedFiles, &pr.ReviewCount, &pr.Category, &firstTimer, &batchGroup)
	if err != nil {
		return pr, err
	}
	pr.CreatedAt = fromUnix(created)
	pr.ClosedAt = fromNullUnix(closed)
	pr.MergedAt = fromNullUnix(merged)
	pr.FirstTimer = firstTimer != 0
	if batchGroup.Valid {
		if id, err := uuid.Parse(batchGroup.String); err == nil {
			pr.BatchGroup = &id
		}
	}
	return pr, nil
}

func (s *Store) Reviews(ctx context.Context, repository string, since time.Time) ([]models.Review, error) {
	const q = `
		SELECT repository, id, pr_number, reviewer, submitted_at, disposition
		FROM reviews
		WHERE repository = ? AND submitted_at >= ?
		ORDER BY submitted_at;
	`
	rows, err := s.db.QueryContext(ctx, q, repository, toUnix(since))
	if err != nil {
		s.log.Error("Reviews query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	var out []models.Review
	for rows.Next() {
		var r models.Review
		var submitted int64
		if err := rows.Scan(&r.Repository, &r.ID, &r.PRNumber, &r.Reviewer, &submitted, &r.Disposition); err != nil {
			return nil, err
		}
		r.SubmittedAt = fromUnix(submitted)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Commits(ctx context.Context, repository string, since time.Time) ([]models.Commit, error) {
	const q = `
		SELECT repository, sha, author, committed_at
		FROM commits
		WHERE repository = ? AND committed_at >= ?
		ORDER BY committed_at;
	`
	rows, err := s.db.QueryContext(ctx, q, repository, toUnix(since))
	if err != nil {
		s.log.Error("Commits query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	var out []models.Commit
	for rows.Next() {
		var c models.Commit
		var committed int64
		if err := rows.Scan(&c.Repository, &c.SHA, &c.Author, &committed); err != nil {
			return nil, err
		}
		c.CommittedAt = fromUnix(committed)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Releases(ctx context.Context, repository string) ([]models.Release, error) {
	const q = `
		SELECT repository, tag, published_at
		FROM releases
		WHERE repository = ?
		ORDER BY published_at DESC;
	`
	rows, err := s.db.QueryContext(ctx, q, repository)
	if err != nil {
		s.log.Error("Releases query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	var out []models.Release
	for rows.Next() {
		var r models.Release
		var published int64
		if err := rows.Scan(&r.Repository, &r.Tag, &published); err != nil {
			return nil, err
		}
		r.PublishedAt = fromUnix(published)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Issues(ctx context.Context, repository string, since time.Time) ([]models.Issue, error) {
	const q = `
		SELECT repository, number, created_at, first_response_at
		FROM issues
		WHERE repository = ? AND created_at >= ?
		ORDER BY created_at;
	`
	rows, err := s.db.QueryContext(ctx, q, repository, toUnix(since))
	if err != nil {
		s.log.Error("Issues query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	var out []models.Issue
	for rows.Next() {
		var is models.Issue
		var created int64
		var firstResp sql.NullInt64
		if err := rows.Scan(&is.Repository, &is.Number, &created, &firstResp); err != nil {
			return nil, err
		}
		is.CreatedAt = fromUnix(created)
		is.FirstResponseAt = fromNullUnix(firstResp)
		out = append(out, is)
	}
	return out, rows.Err()
}

const upsertPR = `
	INSERT INTO pull_requests (repository, number, title, author, state, created_at,
		closed_at, merged_at, merged_by, additions, deletions, changed_files,
		review_count, category, first_timer, batch_group)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT (repository, number) DO UPDATE SET
		title = excluded.title,
		state = excluded.state,
		closed_at = excluded.closed_at,
		merged_at = excluded.merged_at,
		merged_by = excluded.merged_by,
		additions = excluded.additions,
		deletions = excluded.deletions,
		changed_files = excluded.changed_files,
		review_count = excluded.review_count,
		category = excluded.category,
		first_timer = excluded.first_timer;
`

const upsertWatermark = `
	INSERT INTO watermarks (repository, entity_kind, last_synced_at, covered_from, covered_to, last_cursor)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (repository, entity_kind) DO UPDATE SET
		last_synced_at = excluded.last_synced_at,
		covered_from = excluded.covered_from,
		covered_to = excluded.covered_to,
		last_cursor = excluded.last_cursor;
`

// UpsertPage commits a normalized page and its watermark atomically.
// Re-observing a cached natural id overwrites in place; batch_group is
// left untouched on update since stamping happens after the sync pass.
func (s *Store) UpsertPage(ctx context.Context, repository string, kind models.EntityKind, rows models.Rows, wm models.Watermark) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin page tx: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for i := range rows.PullRequests {
		p := rows.PullRequests[i]
		firstTimer := 0
		if p.FirstTimer {
			firstTimer = 1
		}
		_, err := tx.ExecContext(ctx, upsertPR, repository, p.Number, p.Title, p.Author,
			string(p.State), toUnix(p.CreatedAt), toNullUnix(p.ClosedAt), toNullUnix(p.MergedAt),
			p.MergedBy, p.Additions, p.Deletions, p.ChangedFiles, p.ReviewCount,
			p.Category, firstTimer)
		if err != nil {
			s.log.Error("upsert pull request failed", "repository", repository, "number", p.Number, "err", err)
			return 0, err
		}
		written++
	}
	for i := range rows.Reviews {
		r := rows.Reviews[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (repository, id, pr_number, reviewer, submitted_at, disposition)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository, id) DO UPDATE SET
				reviewer = excluded.reviewer,
				submitted_at = excluded.submitted_at,
				disposition = excluded.disposition;
		`, repository, r.ID, r.PRNumber, r.Reviewer, toUnix(r.SubmittedAt), string(r.Disposition))
		if err != nil {
			s.log.Error("upsert review failed", "repository", repository, "id", r.ID, "err", err)
			return 0, err
		}
		written++
	}
	for i := range rows.Commits {
		c := rows.Commits[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commits (repository, sha, author, committed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (repository, sha) DO UPDATE SET
				author = excluded.author,
				committed_at = excluded.committed_at;
		`, repository, c.SHA, c.Author, toUnix(c.CommittedAt))
		if err != nil {
			s.log.Error("upsert commit failed", "repository", repository, "sha", c.SHA, "err", err)
			return 0, err
		}
		written++
	}
	for i := range rows.Releases {
		r := rows.Releases[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO releases (repository, tag, published_at)
			VALUES (?, ?, ?)
			ON CONFLICT (repository, tag) DO UPDATE SET
				published_at = excluded.published_at;
		`, repository, r.Tag, toUnix(r.PublishedAt))
		if err != nil {
			s.log.Error("upsert release failed", "repository", repository, "tag", r.Tag, "err", err)
			return 0, err
		}
		written++
	}
	for i := range rows.Issues {
		is := rows.Issues[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issues (repository, number, created_at, first_response_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (repository, number) DO UPDATE SET
				created_at = excluded.created_at,
				first_response_at = excluded.first_response_at;
		`, repository, is.Number, toUnix(is.CreatedAt), toNullUnix(is.FirstResponseAt))
		if err != nil {
			s.log.Error("upsert issue failed", "repository", repository, "number", is.Number, "err", err)
			return 0, err
		}
		written++
	}

	_, err = tx.ExecContext(ctx, upsertWatermark, repository, string(kind),
		toUnix(wm.LastSyncedAt), toUnix(wm.CoveredFrom), toUnix(wm.CoveredTo), wm.LastCursor)
	if err != nil {
		s.log.Error("upsert watermark failed", "repository", repository, "kind", kind, "err", err)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit page tx: %w", err)
	}
	return written, nil
}

func (s *Store) Watermark(ctx context.Context, repository string, kind models.EntityKind) (*models.Watermark, error) {
	const q = `
		SELECT last_synced_at, covered_from, covered_to, last_cursor
		FROM watermarks
		WHERE repository = ? AND entity_kind = ?;
	`
	row := s.db.QueryRowContext(ctx, q, repository, string(kind))
	var synced, from, to int64
	var cursor string
	if err := row.Scan(&synced, &from, &to, &cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.log.Error("Watermark query failed", "repository", repository, "kind", kind, "err", err)
		return nil, err
	}
	return &models.Watermark{
		Repository:   repository,
		Kind:         kind,
		LastSyncedAt: fromUnix(synced),
		CoveredFrom:  fromUnix(from),
		CoveredTo:    fromUnix(to),
		LastCursor:   cursor,
	}, nil
}

// rowCount counts cached rows for a kind. The three PR kinds share one
// table and are distinguished by state.
func (s *Store) rowCount(ctx context.Context, repository string, kind models.EntityKind) (int, error) {
	var q string
	args := []any{repository}
	switch kind {
	case models.KindPRMerged:
		q = `SELECT COUNT(*) FROM pull_requests WHERE repository = ? AND state = 'MERGED';`
	case models.KindPRClosed:
		q = `SELECT COUNT(*) FROM pull_requests WHERE repository = ? AND state = 'CLOSED';`
	case models.KindPROpen:
		q = `SELECT COUNT(*) FROM pull_requests WHERE repository = ? AND state = 'OPEN';`
	case models.KindReviews:
		q = `SELECT COUNT(*) FROM reviews WHERE repository = ?;`
	case models.KindCommits:
		q = `SELECT COUNT(*) FROM commits WHERE repository = ?;`
	case models.KindReleases:
		q = `SELECT COUNT(*) FROM releases WHERE repository = ?;`
	case models.KindIssues:
		q = `SELECT COUNT(*) FROM issues WHERE repository = ?;`
	default:
		return 0, utils.ErrUnknownEntityKind
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Freshness decides FRESH, STALE, or OFFLINE for one kind. Rows without
// a watermark are a cache integrity error: the coverage invariant cannot
// be trusted and the kind must fully resync. The opposite, a watermark
// over zero rows, is legitimate (a repo can have no open PRs, or no
// releases at all).
func (s *Store) Freshness(ctx context.Context, repository string, kind models.EntityKind, from time.Time, mode models.FreshnessMode) (cache.Freshness, error) {
	wm, err := s.Watermark(ctx, repository, kind)
	if err != nil {
		return cache.Stale, err
	}
	n, err := s.rowCount(ctx, repository, kind)
	if err != nil {
		return cache.Stale, err
	}
	if wm == nil && n > 0 {
		return cache.Stale, fmt.Errorf("%w: %d %s rows without watermark", utils.ErrCacheIntegrity, n, kind)
	}

	if mode == models.ModeOffline {
		if wm == nil && n == 0 {
			return cache.Offline, utils.ErrNoOfflineData
		}
		return cache.Offline, nil
	}
	if mode == models.ModeRefresh {
		return cache.Stale, nil
	}
	if wm == nil {
		return cache.Stale, nil
	}
	if wm.LastCursor != "" {
		// A live cursor means the last sync stopped mid-flight; the
		// claimed window is only partially covered until the resumed
		// sync finishes and clears it.
		return cache.Stale, nil
	}
	if s.now().Sub(wm.LastSyncedAt) > s.staleAfter {
		return cache.Stale, nil
	}
	if wm.CoveredFrom.After(from) {
		// Requested lookback predates coverage; a full refetch keeps
		// the covered interval contiguous.
		return cache.Stale, nil
	}
	return cache.Fresh, nil
}

func (s *Store) EarliestAuthoredPR(ctx context.Context, repository, author string) (*time.Time, error) {
	const q = `
		SELECT MIN(created_at)
		FROM pull_requests
		WHERE repository = ? AND author = ?;
	`
	var earliest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q, repository, author).Scan(&earliest); err != nil {
		s.log.Error("EarliestAuthoredPR query failed", "repository", repository, "author", author, "err", err)
		return nil, err
	}
	return fromNullUnix(earliest), nil
}

func (s *Store) AuthorSpans(ctx context.Context, repository string) (map[string]models.AuthorSpan, error) {
	const q = `
		SELECT author, MIN(created_at), MAX(created_at), COUNT(*)
		FROM pull_requests
		WHERE repository = ?
		GROUP BY author;
	`
	rows, err := s.db.QueryContext(ctx, q, repository)
	if err != nil {
		s.log.Error("AuthorSpans query failed", "repository", repository, "err", err)
		return nil, err
	}
	defer rows.Close()
	spans := map[string]models.AuthorSpan{}
	for rows.Next() {
		var span models.AuthorSpan
		var first, last int64
		if err := rows.Scan(&span.Author, &first, &last, &span.PRCount); err != nil {
			return nil, err
		}
		span.First = fromUnix(first)
		span.Last = fromUnix(last)
		spans[span.Author] = span
	}
	return spans, rows.Err()
}

// SetBatchGroups stamps batch-merge correlation ids in one transaction.
func (s *Store) SetBatchGroups(ctx context.Context, repository string, groups map[int]uuid.UUID) error {
	if len(groups) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()
	const q = `UPDATE pull_requests SET batch_group = ? WHERE repository = ? AND number = ?;`
	for number, group := range groups {
		if _, err := tx.ExecContext(ctx, q, group.String(), repository, number); err != nil {
			s.log.Error("SetBatchGroups update failed", "repository", repository, "number", number, "err", err)
			return err
		}
	}
	return tx.Commit()
}

// ResetKind drops a kind's rows and watermark ahead of a full resync.
func (s *Store) ResetKind(ctx context.Context, repository string, kind models.EntityKind) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()
	switch kind {
	case models.KindPRMerged, models.KindPRClosed, models.KindPROpen:
		state := map[models.EntityKind]string{
			models.KindPRMerged: "MERGED",
			models.KindPRClosed: "CLOSED",
			models.KindPROpen:   "OPEN",
		}[kind]
		// Reviews reference their PRs, so they go first or the foreign
		// key rejects the delete.
		const dropReviews = `
			DELETE FROM reviews
			WHERE repository = ? AND pr_number IN (
				SELECT number FROM pull_requests WHERE repository = ? AND state = ?
			);
		`
		if _, err := tx.ExecContext(ctx, dropReviews, repository, repository, state); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pull_requests WHERE repository = ? AND state = ?;`, repository, state); err != nil {
			return err
		}
	case models.KindReviews:
		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE repository = ?;`, repository); err != nil {
			return err
		}
	case models.KindCommits:
		if _, err := tx.ExecContext(ctx, `DELETE FROM commits WHERE repository = ?;`, repository); err != nil {
			return err
		}
	case models.KindReleases:
		if _, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE repository = ?;`, repository); err != nil {
			return err
		}
	case models.KindIssues:
		if _, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE repository = ?;`, repository); err != nil {
			return err
		}
	default:
		return utils.ErrUnknownEntityKind
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watermarks WHERE repository = ? AND entity_kind = ?;`, repository, string(kind)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) HasAnyRows(ctx context.Context, repository string) (bool, error) {
	for _, kind := range models.AllEntityKinds() {
		n, err := s.rowCount(ctx, repository, kind)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Clear removes every cached row and watermark for a repository.
func (s *Store) Clear(ctx context.Context, repository string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear tx: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"reviews", "pull_requests", "commits", "releases", "issues", "watermarks"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE repository = ?;`, table), repository); err != nil {
			s.log.Error("Clear failed", "repository", repository, "table", table, "err", err)
			return err
		}
	}
	return tx.Commit()
}
