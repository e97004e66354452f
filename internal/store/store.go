// Package store persists job records and their durable timers. Both live in
// the same database so a record and its timer are written and removed in one
// transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrDuplicateJob = errors.New("job already exists")
	ErrFiring       = errors.New("job is being published")
)

// Options configures the database connection.
type Options struct {
	Driver          string
	DSN             string
	OpTimeout       time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements scheduler.Store, executor.Store and api.Store on top of
// database/sql. Postgres (lib/pq) and SQLite (modernc) share the same queries.
type Store struct {
	db        *sql.DB
	driver    string
	opTimeout time.Duration
	clock     func() time.Time
}

// Open connects to the database and applies migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var dsn string
	switch opts.Driver {
	case DriverPostgres:
		dsn = opts.DSN
	case DriverSQLite:
		dsn = sqliteDSN(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		// One writer; WAL lets readers proceed.
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := New(db, opts.Driver)
	s.opTimeout = opts.OpTimeout

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", opts.Driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The caller is responsible for migrations.
func New(db *sql.DB, driver string) *Store {
	return &Store{
		db:     db,
		driver: driver,
		clock:  time.Now,
	}
}

// WithClock replaces the time source used for bookkeeping timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Save persists a job record together with its timer. Nothing is written
// unless both rows commit.
func (s *Store) Save(ctx context.Context, job domain.JobRecord) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	postData, err := json.Marshal(job.Post)
	if err != nil {
		return fmt.Errorf("marshal post data: %w", err)
	}

	now := s.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, s.rebind(queryInsertPost),
			job.ID.String(),
			job.Text,
			toMillis(job.FireAt),
			job.Post.AssetDir,
			string(postData),
			job.Posted,
			string(job.Status),
			job.LastError,
			toMillis(job.CreatedAt),
			toMillis(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateJob
			}
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(queryInsertTimer),
			job.ID.String(),
			toMillis(job.FireAt),
			toMillis(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateJob
			}
			return err
		}

		return tx.Commit()
	})
}

// Load returns the job record or ErrNotFound.
func (s *Store) Load(ctx context.Context, jobID uuid.UUID) (domain.JobRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, s.rebind(queryGetPost), jobID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.JobRecord{}, err
	}
	return job, nil
}

// Delete cancels a job and removes its timer. A job that has been claimed
// for firing is left alone and ErrFiring is returned. Deleting an absent job
// is a no-op.
func (s *Store) Delete(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, s.rebind(queryDeleteIdlePost), jobID.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			err := tx.QueryRowContext(ctx, s.rebind(queryPostStatus), jobID.String()).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			return ErrFiring
		}
		if _, err := tx.ExecContext(ctx, s.rebind(queryDeleteTimer), jobID.String()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Complete deletes a job that has been dispatched, whatever its status.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, s.rebind(queryDeleteTimer), jobID.String()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(queryDeletePost), jobID.String()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Claim atomically removes the job's timer and moves it from pending to
// firing. It returns false when another caller already claimed the job or
// the job is gone.
func (s *Store) Claim(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var claimed bool
	err := s.withRetry(ctx, func() error {
		claimed = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, s.rebind(queryDeleteTimer), jobID.String())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		res, err = tx.ExecContext(ctx, s.rebind(queryClaimPost), toMillis(s.clock()), jobID.String())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// MarkFailed retains a claimed job as failed. It is never fired again.
func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, s.rebind(queryMarkFailed), reason, toMillis(s.clock()), jobID.String())
		return err
	})
}

// ListTimers returns every armed timer, earliest first.
func (s *Store) ListTimers(ctx context.Context) ([]domain.Timer, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTimers)
	if err != nil {
		return nil, err
	}
	return scanTimers(rows)
}

// DueTimers returns up to limit timers whose fire time is at or before now.
func (s *Store) DueTimers(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(queryDueTimers), toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	return scanTimers(rows)
}

// List returns stored jobs ordered by fire time, paginated by limit and offset.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.JobRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(queryListPosts), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Count returns the number of stored jobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, queryCountPosts).Scan(&n)
	return n, err
}

// ActiveAssetDirs returns the asset folders still owned by stored jobs.
func (s *Store) ActiveAssetDirs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryActiveAssetDirs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []string
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		job                 domain.JobRecord
		id, status          string
		postData            []byte
		fireAt, created, up int64
		assetDir            string
	)
	err := row.Scan(
		&id,
		&job.Text,
		&fireAt,
		&assetDir,
		&postData,
		&job.Posted,
		&status,
		&job.LastError,
		&created,
		&up,
	)
	if err != nil {
		return domain.JobRecord{}, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("parse job id %q: %w", id, err)
	}
	if err := json.Unmarshal(postData, &job.Post); err != nil {
		return domain.JobRecord{}, fmt.Errorf("unmarshal post data of %s: %w", id, err)
	}
	job.Post.AssetDir = assetDir
	job.Status = domain.JobStatus(status)
	job.FireAt = fromMillis(fireAt)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(up)
	return job, nil
}

func scanTimers(rows *sql.Rows) ([]domain.Timer, error) {
	defer rows.Close()

	var result []domain.Timer
	for rows.Next() {
		var (
			id     string
			fireAt int64
		)
		if err := rows.Scan(&id, &fireAt); err != nil {
			return nil, err
		}
		jobID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse timer job id %q: %w", id, err)
		}
		result = append(result, domain.Timer{JobID: jobID, FireAt: fromMillis(fireAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites '?' placeholders as $1..$n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgerrcode.UniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
