package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GanWeaving/social-cross-post/internal/analytics"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/store"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitRuntimeError, exitCode(errors.New("boom")))
	assert.Equal(t, exitInvalidConfig, exitCode(invalid(errors.New("bad"))))
	assert.Nil(t, invalid(nil))
}

func TestRun_Version(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "crossposter version dev")
}

func TestRun_ValidateRejectsBadDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	assert.Equal(t, exitInvalidConfig, run([]string{"validate"}))
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Equal(t, exitRuntimeError, run([]string{"frobnicate"}))
}

func TestParsePlatformFlags(t *testing.T) {
	set, err := parsePlatformFlags([]string{"mastodon,BS", "twitter"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Platform{domain.PlatformTwitter, domain.PlatformMastodon, domain.PlatformBluesky}, set.List())

	set, err = parsePlatformFlags([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, domain.Platforms, set.List())

	_, err = parsePlatformFlags([]string{"mastodon,orkut"})
	assert.Error(t, err)
}

func TestReadImages(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbb"), 0o644))

	uploads, err := readImages([]string{a, b}, []string{"first"}, nil)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "a.png", uploads[0].Name)
	assert.Equal(t, "first", uploads[0].AltText)
	assert.Equal(t, []byte("bbb"), uploads[1].Data)
	assert.Empty(t, uploads[1].AltText)

	_, err = readImages([]string{a}, []string{"x", "y"}, nil)
	assert.Error(t, err)

	_, err = readImages([]string{filepath.Join(dir, "missing.png")}, nil, nil)
	assert.Error(t, err)
}

func TestBuildJobRows(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	id := uuid.MustParse("7d1f0e56-2f1c-4b59-9a59-0c5c7c1a7e01")
	jobs := []domain.JobRecord{{
		ID:     id,
		Text:   "a  post\nwith lines",
		FireAt: time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC),
		Status: domain.JobStatusPending,
		Post: domain.Post{
			Platforms: domain.NewPlatformSet(domain.PlatformBluesky, domain.PlatformMastodon),
			Assets:    []domain.Asset{{Name: "1.jpg"}, {Name: "2.jpg"}},
		},
	}}

	rows := buildJobRows(jobs, berlin)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{
		id.String(),
		"2026-10-18 09:30",
		"pending",
		"Mastodon, Bluesky",
		"2",
		"a post with lines",
	}, rows[0])
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))

	long := strings.Repeat("ä", previewRunes+5)
	got := preview(long)
	assert.Equal(t, previewRunes, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Platform", "Succeeded", "Failed"},
		[][]string{{"Mastodon", "3", "1"}, {"Bluesky"}},
		[]columnAlignment{alignLeft, alignRight, alignRight},
		false,
	)
	assert.Contains(t, out, "Mastodon")
	assert.Contains(t, out, "Bluesky")
	assert.Equal(t, "", renderTable(nil, nil, nil, false))
}

func TestBuildStatsRows(t *testing.T) {
	rows := buildStatsRows([]analytics.DailyCount{
		{Platform: domain.PlatformMastodon, Success: 4, Failure: 1},
	})
	assert.Equal(t, [][]string{{"Mastodon", "4", "1"}}, rows)
}

func TestShouldColorize_NonFile(t *testing.T) {
	assert.False(t, shouldColorize(&bytes.Buffer{}))
}

func TestAcquireLock_SecondInstanceFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "media")

	first, err := acquireLock(root)
	require.NoError(t, err)
	defer first.Unlock()

	_, err = acquireLock(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another crossposter instance")

	require.NoError(t, first.Unlock())
	again, err := acquireLock(root)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestJobsDelete_RefusesClaimedJob(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "jobs.db")
	media := filepath.Join(dir, "media")
	assetDir := filepath.Join(media, "x")
	require.NoError(t, os.MkdirAll(assetDir, 0o755))
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("MEDIA_ROOT", media)

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{Driver: store.DriverSQLite, DSN: dsn, OpTimeout: 5 * time.Second})
	require.NoError(t, err)
	job := domain.JobRecord{
		ID:     uuid.New(),
		Text:   "hello",
		FireAt: time.Now().Add(-time.Minute),
		Post: domain.Post{
			TextPlain: "hello",
			Platforms: domain.NewPlatformSet(domain.PlatformMastodon),
			AssetDir:  assetDir,
		},
	}
	require.NoError(t, st.Save(ctx, job))
	ok, err := st.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Close())

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"jobs", "delete", job.ID.String()})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "being published")

	assert.DirExists(t, assetDir)
	st, err = store.Open(ctx, store.Options{Driver: store.DriverSQLite, DSN: dsn, OpTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer st.Close()
	got, err := st.Load(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFiring, got.Status)
}
