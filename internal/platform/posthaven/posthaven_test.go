package posthaven

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
)

func testConfig() config.PosthavenConfig {
	return config.PosthavenConfig{
		SMTPHost:   "smtp.example.com",
		SMTPPort:   587,
		Username:   "me@example.com",
		Password:   "pw",
		Recipients: []string{"post@posthaven.com"},
	}
}

func TestPublish_ComposesAndSends(t *testing.T) {
	dir := t.TempDir()
	var assets []domain.Asset
	for _, name := range []string{"b.jpg", "c.jpg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		assets = append(assets, domain.Asset{Name: name, Path: path})
	}

	var sent *email.Email
	p := New(testConfig(), zaptest.NewLogger(t)).WithSender(func(_ context.Context, e *email.Email) error {
		sent = e
		return nil
	})

	err := p.Publish(context.Background(), fanout.Message{
		Subject: "[2030/01/02] hello ...",
		HTML:    "<big>hello</big><hr>",
		Assets:  assets,
	})
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, "me@example.com", sent.From)
	assert.Equal(t, []string{"post@posthaven.com"}, sent.To)
	assert.Equal(t, "[2030/01/02] hello ...", sent.Subject)
	assert.Equal(t, "<big>hello</big><hr>", string(sent.HTML))
	require.Len(t, sent.Attachments, 2)
	assert.Equal(t, "1.jpg", sent.Attachments[0].Filename)
	assert.Equal(t, []byte("b.jpg"), sent.Attachments[0].Content)
	assert.Equal(t, "2.jpg", sent.Attachments[1].Filename)
}

func TestPublish_SendError(t *testing.T) {
	p := New(testConfig(), zaptest.NewLogger(t)).WithSender(func(context.Context, *email.Email) error {
		return errors.New("535 auth failed")
	})
	assert.ErrorContains(t, p.Publish(context.Background(), fanout.Message{Subject: "s"}), "535")
}

func TestPublish_ContextCancelled(t *testing.T) {
	p := New(testConfig(), zaptest.NewLogger(t)).WithSender(func(ctx context.Context, _ *email.Email) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Publish(ctx, fanout.Message{Subject: "s"}), context.DeadlineExceeded)
}

func TestCompose_FromOverride(t *testing.T) {
	cfg := testConfig()
	cfg.From = "Blog <blog@example.com>"
	e, err := New(cfg, nil).Compose(fanout.Message{Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, "Blog <blog@example.com>", e.From)
}

func TestCompose_MissingAsset(t *testing.T) {
	_, err := New(testConfig(), nil).Compose(fanout.Message{
		Assets: []domain.Asset{{Name: "x.jpg", Path: filepath.Join(t.TempDir(), "x.jpg")}},
	})
	assert.ErrorContains(t, err, "x.jpg")
}

// A server that accepts the connection but never greets must not keep the
// session alive past the deadline.
func TestPublish_StalledServerHonoursDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}()

	cfg := testConfig()
	cfg.SMTPHost = "127.0.0.1"
	cfg.SMTPPort = ln.Addr().(*net.TCPAddr).Port
	p := New(cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Publish(ctx, fanout.Message{Subject: "s", HTML: "<p>x</p>"}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return after the deadline")
	}
}
