package frontier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlkit/crawld/internal/crawler"
)

// PgxPool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements the Store contract on PostgreSQL for deployments that
// want the frontier in a real transactional engine instead of a local file.
type Postgres struct {
	pool       PgxPool
	maxRetries int
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS urls (
	seq BIGINT GENERATED ALWAYS AS IDENTITY,
	url TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	is_sitemap BOOLEAN NOT NULL DEFAULT FALSE,
	pause_reason TEXT,
	last_error TEXT,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls (status);
`

// NewPostgres connects to dsn, verifies the connection, and ensures the
// frontier schema exists.
func NewPostgres(ctx context.Context, dsn string, maxRetries int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure frontier schema: %w", err)
	}
	return NewPostgresFromPool(pool, maxRetries), nil
}

// NewPostgresFromPool wraps an existing pool. The schema is assumed to be in
// place; used by tests with a mock pool.
func NewPostgresFromPool(pool PgxPool, maxRetries int) *Postgres {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Postgres{pool: pool, maxRetries: maxRetries}
}

// UpsertNew inserts url as pending if absent and reports whether it was new.
func (p *Postgres) UpsertNew(ctx context.Context, url string, isSitemap bool) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO urls (url, status, retry_count, is_sitemap)
		 VALUES ($1, 'pending', 0, $2)
		 ON CONFLICT (url) DO NOTHING`,
		url, isSitemap,
	)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", url, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the record for url.
func (p *Postgres) Get(ctx context.Context, url string) (crawler.URLRecord, error) {
	row := p.pool.QueryRow(ctx, selectColumns+` FROM urls WHERE url = $1`, url)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.URLRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.URLRecord{}, fmt.Errorf("get %s: %w", url, err)
	}
	return rec, nil
}

// MarkVisited moves url from pending to visited.
func (p *Postgres) MarkVisited(ctx context.Context, url string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE urls SET status = 'visited', last_error = NULL, last_updated = now()
		 WHERE url = $1 AND status = 'pending'`,
		url,
	)
	if err != nil {
		return fmt.Errorf("mark visited %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMiss(ctx, url)
	}
	return nil
}

// MarkRetryOrError increments the retry counter, keeping the row pending
// until the counter exceeds the maximum, at which point it becomes error.
// Rows no longer pending are left untouched and their current status is
// returned, so a failure cannot undo an operator pause made mid-fetch.
func (p *Postgres) MarkRetryOrError(ctx context.Context, url, lastError string) (crawler.Status, error) {
	var status string
	err := p.pool.QueryRow(ctx,
		`UPDATE urls SET
			retry_count = retry_count + 1,
			last_error = $2,
			status = CASE WHEN retry_count + 1 > $3 THEN 'error' ELSE 'pending' END,
			last_updated = now()
		 WHERE url = $1 AND status = 'pending'
		 RETURNING status`,
		url, lastError, p.maxRetries,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row absent, or moved out of pending while the fetch was running.
		err = p.pool.QueryRow(ctx, `SELECT status FROM urls WHERE url = $1`, url).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", crawler.ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("check %s: %w", url, err)
		}
		return crawler.Status(status), nil
	}
	if err != nil {
		return "", fmt.Errorf("mark retry %s: %w", url, err)
	}
	return crawler.Status(status), nil
}

// SetStatus performs the direct pause/resume transition. The allowed
// transitions are encoded in the WHERE clause so the check and the write
// are a single statement.
func (p *Postgres) SetStatus(ctx context.Context, url string, status crawler.Status, reason string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE urls SET
			status = $2,
			pause_reason = CASE WHEN $2 = 'paused' THEN $3 ELSE NULL END,
			last_updated = now()
		 WHERE url = $1 AND (
			status = $2
			OR (status = 'pending' AND $2 = 'paused')
			OR (status IN ('paused', 'error') AND $2 = 'pending')
		 )`,
		url, string(status), reason,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMiss(ctx, url)
	}
	return nil
}

// ListByStatus returns rows with the given status in discovery order.
func (p *Postgres) ListByStatus(ctx context.Context, status crawler.Status) ([]crawler.URLRecord, error) {
	rows, err := p.pool.Query(ctx,
		selectColumns+` FROM urls WHERE status = $1 ORDER BY seq`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return collectRecords(rows)
}

// ListByPrefix returns rows matching the literal prefix and status.
// starts_with avoids LIKE metacharacter escaping for URLs containing '%'.
func (p *Postgres) ListByPrefix(ctx context.Context, prefix string, status crawler.Status) ([]crawler.URLRecord, error) {
	rows, err := p.pool.Query(ctx,
		selectColumns+` FROM urls WHERE starts_with(url, $1) AND status = $2 ORDER BY seq`,
		prefix, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list by prefix: %w", err)
	}
	return collectRecords(rows)
}

// CountsByStatus returns row counts keyed by status, including zeroes.
func (p *Postgres) CountsByStatus(ctx context.Context) (map[crawler.Status]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counts by status: %w", err)
	}
	defer rows.Close()
	counts := emptyStatusCounts()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[crawler.Status(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// CountsByDomain returns row counts keyed by host.
func (p *Postgres) CountsByDomain(ctx context.Context) (map[string]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT url FROM urls`)
	if err != nil {
		return nil, fmt.Errorf("counts by domain: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		if d := crawler.Domain(url); d != "" {
			counts[d]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return counts, nil
}

// EarliestURL returns the first URL ever inserted, or "" when empty.
func (p *Postgres) EarliestURL(ctx context.Context) (string, error) {
	var url string
	err := p.pool.QueryRow(ctx, `SELECT url FROM urls ORDER BY seq ASC LIMIT 1`).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("earliest url: %w", err)
	}
	return url, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// classifyMiss distinguishes "row absent" from "transition rejected" after
// a guarded UPDATE touched no rows.
func (p *Postgres) classifyMiss(ctx context.Context, url string) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM urls WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", url, err)
	}
	if !exists {
		return crawler.ErrNotFound
	}
	return crawler.ErrInvalidTransition
}

const selectColumns = `SELECT url, status, retry_count, is_sitemap,
	COALESCE(pause_reason, ''), COALESCE(last_error, ''), last_updated, seq`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (crawler.URLRecord, error) {
	var rec crawler.URLRecord
	var status string
	var seq int64
	err := row.Scan(
		&rec.URL, &status, &rec.RetryCount, &rec.IsSitemap,
		&rec.PauseReason, &rec.LastError, &rec.LastUpdated, &seq,
	)
	if err != nil {
		return crawler.URLRecord{}, err
	}
	rec.Status = crawler.Status(status)
	rec.Seq = uint64(seq)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]crawler.URLRecord, error) {
	defer rows.Close()
	var out []crawler.URLRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
