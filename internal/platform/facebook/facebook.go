// Package facebook posts to a Facebook page through the Graph API. Photos are
// uploaded unpublished by public URL and then attached to one feed post.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
)

type Publisher struct {
	cfg    config.FacebookConfig
	client *httpx.Client
	logger *zap.Logger
}

func New(cfg config.FacebookConfig, logger *zap.Logger, opts ...httpx.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:    cfg,
		client: httpx.New(nil, opts...),
		logger: logger.Named("facebook"),
	}
}

var _ fanout.Publisher = (*Publisher)(nil)

type idResponse struct {
	ID string `json:"id"`
}

type attachedMedia struct {
	MediaFBID string `json:"media_fbid"`
}

func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	media := make([]attachedMedia, 0, len(msg.Assets))
	for _, a := range msg.Assets {
		id, err := p.uploadPhoto(ctx, a.URL)
		if err != nil {
			return fmt.Errorf("upload %s: %w", a.Name, err)
		}
		media = append(media, attachedMedia{MediaFBID: id})
	}

	form := url.Values{
		"message":      {msg.Text},
		"access_token": {p.cfg.AccessToken},
	}
	if len(media) > 0 {
		data, err := json.Marshal(media)
		if err != nil {
			return fmt.Errorf("marshal attached media: %w", err)
		}
		form.Set("attached_media", string(data))
	}

	req, err := httpx.NewFormRequest(ctx, p.endpoint("feed"), form)
	if err != nil {
		return err
	}
	var out idResponse
	if err := p.client.Send(req, &out); err != nil {
		return fmt.Errorf("post to feed: %w", err)
	}
	p.logger.Debug("feed post created", zap.String("id", out.ID), zap.Int("photos", len(media)))
	return nil
}

func (p *Publisher) uploadPhoto(ctx context.Context, imageURL string) (string, error) {
	req, err := httpx.NewFormRequest(ctx, p.endpoint("photos"), url.Values{
		"url":          {imageURL},
		"published":    {"false"},
		"access_token": {p.cfg.AccessToken},
	})
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := p.client.Send(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("photo response without id")
	}
	return out.ID, nil
}

func (p *Publisher) endpoint(edge string) string {
	return httpx.JoinURL(p.cfg.GraphURL, url.PathEscape(p.cfg.PageID)+"/"+edge)
}
