package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver:    DriverSQLite,
		DSN:       filepath.Join(t.TempDir(), "test.db"),
		OpTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJob(fireAt time.Time) domain.JobRecord {
	return domain.JobRecord{
		ID:     uuid.New(),
		Text:   "hello world",
		FireAt: fireAt,
		Post: domain.Post{
			Subject:   "[2030/01/01] hello worl ...",
			TextHTML:  "<big>hello world</big><hr>",
			TextPlain: "hello world",
			Platforms: domain.NewPlatformSet(domain.PlatformMastodon, domain.PlatformBluesky),
			Assets: []domain.Asset{
				{Name: "a.jpg", Path: "/media/x/a.jpg", URL: "http://h/media/x/a.jpg", AltText: "first"},
				{Name: "b.jpg", Path: "/media/x/b.jpg", URL: "http://h/media/x/b.jpg"},
			},
			AssetDir: "/media/x",
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	local := time.Date(2030, 7, 1, 18, 30, 0, 0, berlin)

	job := newJob(local)
	require.NoError(t, s.Save(ctx, job))

	got, err := s.Load(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, time.UTC, got.FireAt.Location())
	assert.True(t, got.FireAt.Equal(time.Date(2030, 7, 1, 16, 30, 0, 0, time.UTC)))
	assert.False(t, got.Posted)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, job.Post.TextPlain, got.Post.TextPlain)
	assert.Equal(t, job.Post.Assets, got.Post.Assets)
	assert.Equal(t, "/media/x", got.Post.AssetDir)
	assert.Equal(t, []domain.Platform{domain.PlatformMastodon, domain.PlatformBluesky}, got.Post.Platforms.List())

	assert.False(t, got.IsDue(time.Date(2030, 7, 1, 16, 29, 59, 0, time.UTC)))
	assert.True(t, got.IsDue(time.Date(2030, 7, 1, 18, 30, 0, 0, berlin)))

	timers, err := s.ListTimers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, job.ID, timers[0].JobID)
	assert.True(t, timers[0].FireAt.Equal(local))
}

func TestSave_Duplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now().Add(time.Hour))

	require.NoError(t, s.Save(ctx, job))
	assert.ErrorIs(t, s.Save(ctx, job), ErrDuplicateJob)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoad_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now().Add(time.Hour))
	require.NoError(t, s.Save(ctx, job))

	require.NoError(t, s.Delete(ctx, job.ID))
	require.NoError(t, s.Delete(ctx, job.ID))

	_, err := s.Load(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	timers, err := s.ListTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func TestDelete_RefusesClaimedJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now().Add(-time.Minute))
	require.NoError(t, s.Save(ctx, job))

	ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, s.Delete(ctx, job.ID), ErrFiring)

	got, err := s.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFiring, got.Status)
}

func TestDelete_AllowsFailedJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now().Add(-time.Minute))
	require.NoError(t, s.Save(ctx, job))

	ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkFailed(ctx, job.ID, "store unavailable"))

	require.NoError(t, s.Delete(ctx, job.ID))
	_, err = s.Load(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaim_OnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now().Add(-time.Minute))
	require.NoError(t, s.Save(ctx, job))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, job.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)

	got, err := s.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFiring, got.Status)

	timers, err := s.ListTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func TestClaim_MissingJob(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.Claim(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComplete_RemovesRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now())
	require.NoError(t, s.Save(ctx, job))

	ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Complete(ctx, job.ID))

	_, err = s.Load(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkFailed_RetainsJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := newJob(time.Now())
	require.NoError(t, s.Save(ctx, job))

	// Only claimed jobs can fail.
	require.NoError(t, s.MarkFailed(ctx, job.ID, "too early"))
	got, err := s.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	ok, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkFailed(ctx, job.ID, "store unavailable"))

	got, err = s.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "store unavailable", got.LastError)

	ok, err = s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDueTimers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	past1 := newJob(now.Add(-2 * time.Hour))
	past2 := newJob(now.Add(-time.Hour))
	exact := newJob(now)
	future := newJob(now.Add(time.Minute))
	for _, j := range []domain.JobRecord{future, past2, exact, past1} {
		require.NoError(t, s.Save(ctx, j))
	}

	due, err := s.DueTimers(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, past1.ID, due[0].JobID)
	assert.Equal(t, past2.ID, due[1].JobID)
	assert.Equal(t, exact.ID, due[2].JobID)

	limited, err := s.DueTimers(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, past1.ID, limited[0].JobID)
}

func TestListAndActiveAssetDirs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	first := newJob(base)
	second := newJob(base.Add(time.Hour))
	second.Post.AssetDir = ""
	second.Post.Assets = nil
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, first))

	jobs, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)

	page, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)

	dirs, err := s.ActiveAssetDirs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/x"}, dirs)
}

func TestReopen_KeepsTimers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	job := newJob(time.Now().Add(-time.Minute))
	require.NoError(t, s.Save(ctx, job))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer s.Close()

	timers, err := s.ListTimers(ctx)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, job.ID, timers[0].JobID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := New(nil, DriverPostgres)
	lite := New(nil, DriverSQLite)

	q := "SELECT a FROM t WHERE b = ? AND c = ? LIMIT ?"
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2 LIMIT $3", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"a.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		sqliteDSN("a.db"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", sqliteDSN("a.db?_pragma=foreign_keys(0)"))
}
