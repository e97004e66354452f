package janitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GanWeaving/social-cross-post/internal/assets"
	"github.com/GanWeaving/social-cross-post/internal/testutil"
)

type fakeJobs struct {
	dirs []string
	err  error
}

func (f *fakeJobs) ActiveAssetDirs(context.Context) ([]string, error) {
	return f.dirs, f.err
}

type countingMetrics struct {
	mu      sync.Mutex
	removed int
}

func (m *countingMetrics) OrphansRemoved(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed += count
}

func makeFolder(t *testing.T, root, name string, modTime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(dir, modTime, modTime))
	return dir
}

func TestSweep_RemovesOnlyOldOrphans(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)

	owned := makeFolder(t, root, "20261016T090000Z-owned", now.Add(-48*time.Hour))
	orphan := makeFolder(t, root, "20261015T090000Z-orphan", now.Add(-48*time.Hour))
	fresh := makeFolder(t, root, "20261017T110000Z-fresh", now.Add(-time.Hour))

	store := assets.New(assets.Options{Root: root, BaseURL: "http://localhost"}, zaptest.NewLogger(t))
	metrics := &countingMetrics{}
	j := New(store, &fakeJobs{dirs: []string{owned}}, zaptest.NewLogger(t)).
		WithMinAge(24 * time.Hour).
		WithMetrics(metrics).
		WithClock(clock.Now)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, metrics.removed)

	assert.DirExists(t, owned)
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, fresh)
}

func TestSweep_FreshOrphanRemovedOnceOldEnough(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)
	dir := makeFolder(t, root, "20261017T110000Z-late", now.Add(-time.Hour))

	store := assets.New(assets.Options{Root: root}, zaptest.NewLogger(t))
	j := New(store, &fakeJobs{}, zaptest.NewLogger(t)).WithMinAge(2 * time.Hour).WithClock(clock.Now)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.DirExists(t, dir)

	clock.Advance(90 * time.Minute)

	removed, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, dir)
}

func TestSweep_MissingRoot(t *testing.T) {
	store := assets.New(assets.Options{Root: filepath.Join(t.TempDir(), "absent")}, zaptest.NewLogger(t))
	j := New(store, &fakeJobs{err: errors.New("must not be called")}, zaptest.NewLogger(t))

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweep_StoreErrorKeepsFolders(t *testing.T) {
	root := t.TempDir()
	dir := makeFolder(t, root, "20200101T000000Z-old", time.Now().Add(-72*time.Hour))

	store := assets.New(assets.Options{Root: root}, zaptest.NewLogger(t))
	j := New(store, &fakeJobs{err: errors.New("db down")}, zaptest.NewLogger(t))

	_, err := j.Sweep(context.Background())
	require.Error(t, err)
	assert.DirExists(t, dir)
}

func TestRun_InvalidSchedule(t *testing.T) {
	store := assets.New(assets.Options{Root: t.TempDir()}, zaptest.NewLogger(t))
	j := New(store, &fakeJobs{}, zaptest.NewLogger(t))

	err := j.Run(context.Background(), "every now and then")
	require.Error(t, err)
}

func TestRun_SweepsOnSchedule(t *testing.T) {
	root := t.TempDir()
	dir := makeFolder(t, root, "20200101T000000Z-old", time.Now().Add(-72*time.Hour))

	store := assets.New(assets.Options{Root: root}, zaptest.NewLogger(t))
	j := New(store, &fakeJobs{}, zaptest.NewLogger(t)).WithMinAge(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, "@every 1s") }()

	removed := testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	})
	cancel()

	assert.True(t, removed, "orphan should be swept by the scheduled run")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
