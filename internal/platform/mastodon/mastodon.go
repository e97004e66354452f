// Package mastodon posts statuses with described media attachments.
package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
)

type Publisher struct {
	instance string
	client   *httpx.Client
	logger   *zap.Logger
}

// New creates a publisher authenticating with a static application token.
func New(cfg config.MastodonConfig, logger *zap.Logger, opts ...httpx.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = httpx.DefaultTimeout

	return &Publisher{
		instance: cfg.InstanceURL,
		client:   httpx.New(hc, opts...),
		logger:   logger.Named("mastodon"),
	}
}

var _ fanout.Publisher = (*Publisher)(nil)

type mediaResponse struct {
	ID string `json:"id"`
}

type statusRequest struct {
	Status   string   `json:"status"`
	MediaIDs []string `json:"media_ids,omitempty"`
}

type statusResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	ids := make([]string, 0, len(msg.Assets))
	for _, a := range msg.Assets {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return fmt.Errorf("read %s: %w", a.Name, err)
		}
		fields := map[string]string{}
		if a.AltText != "" {
			fields["description"] = a.AltText
		}
		req, err := httpx.NewMultipartRequest(ctx, httpx.JoinURL(p.instance, "/api/v2/media"), fields,
			httpx.File{Field: "file", Name: a.Name, Data: data})
		if err != nil {
			return err
		}
		var media mediaResponse
		if err := p.client.Send(req, &media); err != nil {
			return fmt.Errorf("upload %s: %w", a.Name, err)
		}
		ids = append(ids, media.ID)
	}

	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(p.instance, "/api/v1/statuses"),
		statusRequest{Status: msg.Text, MediaIDs: ids})
	if err != nil {
		return err
	}
	var status statusResponse
	if err := p.client.Send(req, &status); err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	p.logger.Debug("status posted", zap.String("id", status.ID), zap.String("url", status.URL))
	return nil
}
