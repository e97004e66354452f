package bluesky

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
)

func TestLinkFacets_ByteOffsets(t *testing.T) {
	text := "héllo https://example.com/a ok"
	facets := linkFacets(text)
	require.Len(t, facets, 1)

	f := facets[0]
	assert.Equal(t, "https://example.com/a", text[f.Index.ByteStart:f.Index.ByteEnd])
	// "é" is two bytes, so the link starts at byte 7, not rune 6.
	assert.Equal(t, 7, f.Index.ByteStart)
	assert.Equal(t, linkFeature, f.Features[0].Type)

	assert.Nil(t, linkFacets("no links"))
}

func TestPublish_SessionBlobsRecord(t *testing.T) {
	var (
		blobs  int
		record createRecordRequest
	)
	mux := http.NewServeMux()
	mux.HandleFunc(createSessionPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "me.bsky.social", body["identifier"])
		assert.Equal(t, "app-pass", body["password"])
		_, _ = w.Write([]byte(`{"accessJwt":"jwt","did":"did:plc:me"}`))
	})
	mux.HandleFunc(uploadBlobPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("jpeg"), data)
		blobs++
		_, _ = w.Write([]byte(`{"blob":{"$type":"blob","ref":{"$link":"bafy"},"mimeType":"image/jpeg","size":4}}`))
	})
	mux.HandleFunc(createRecordPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&record))
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:me/app.bsky.feed.post/1","cid":"c"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(config.BlueskyConfig{Identifier: "me.bsky.social", AppPassword: "app-pass", PDSURL: server.URL}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return at })

	err := p.Publish(context.Background(), fanout.Message{
		Text:   "see https://example.com",
		Assets: []domain.Asset{{Name: "a.jpg", Path: path, AltText: "a cat"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, blobs)
	assert.Equal(t, "did:plc:me", record.Repo)
	assert.Equal(t, postCollection, record.Collection)
	assert.Equal(t, "see https://example.com", record.Record.Text)
	assert.Equal(t, "2030-01-02T03:04:05Z", record.Record.CreatedAt)
	require.Len(t, record.Record.Facets, 1)
	assert.Equal(t, 4, record.Record.Facets[0].Index.ByteStart)
	require.NotNil(t, record.Record.Embed)
	assert.Equal(t, imagesEmbed, record.Record.Embed.Type)
	require.Len(t, record.Record.Embed.Images, 1)
	assert.Equal(t, "a cat", record.Record.Embed.Images[0].Alt)
	assert.JSONEq(t, `{"$type":"blob","ref":{"$link":"bafy"},"mimeType":"image/jpeg","size":4}`, string(record.Record.Embed.Images[0].Image))
}

func TestPublish_LoginFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := New(config.BlueskyConfig{Identifier: "x", AppPassword: "y", PDSURL: server.URL}, zaptest.NewLogger(t))
	assert.ErrorContains(t, p.Publish(context.Background(), fanout.Message{Text: "x"}), "create session")
}
