// Package instagram publishes to an Instagram business account through the
// Graph API content publishing flow: create a media container from a public
// image URL, then publish it. Several images become a carousel.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
)

// ErrNoImage is returned for text-only posts, which Instagram does not accept.
var ErrNoImage = errors.New("instagram requires at least one image")

type Publisher struct {
	cfg    config.InstagramConfig
	client *httpx.Client
	logger *zap.Logger
}

func New(cfg config.InstagramConfig, logger *zap.Logger, opts ...httpx.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:    cfg,
		client: httpx.New(nil, opts...),
		logger: logger.Named("instagram"),
	}
}

var _ fanout.Publisher = (*Publisher)(nil)

type idResponse struct {
	ID string `json:"id"`
}

func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	if len(msg.Assets) == 0 {
		return ErrNoImage
	}
	caption := Caption(msg.Text, p.cfg.Hashtags)

	var (
		containerID string
		err         error
	)
	if len(msg.Assets) == 1 {
		containerID, err = p.createContainer(ctx, url.Values{
			"image_url": {msg.Assets[0].URL},
			"caption":   {caption},
		})
		if err != nil {
			return fmt.Errorf("create media: %w", err)
		}
	} else {
		children := make([]string, 0, len(msg.Assets))
		for _, a := range msg.Assets {
			id, err := p.createContainer(ctx, url.Values{
				"image_url":        {a.URL},
				"is_carousel_item": {"true"},
			})
			if err != nil {
				return fmt.Errorf("create carousel item %s: %w", a.Name, err)
			}
			children = append(children, id)
		}
		containerID, err = p.createContainer(ctx, url.Values{
			"media_type": {"CAROUSEL"},
			"children":   {strings.Join(children, ",")},
			"caption":    {caption},
		})
		if err != nil {
			return fmt.Errorf("create carousel: %w", err)
		}
	}

	req, err := httpx.NewFormRequest(ctx, p.endpoint("media_publish"), url.Values{
		"creation_id":  {containerID},
		"access_token": {p.cfg.AccessToken},
	})
	if err != nil {
		return err
	}
	var out idResponse
	if err := p.client.Send(req, &out); err != nil {
		return fmt.Errorf("publish media: %w", err)
	}
	p.logger.Debug("media published", zap.String("id", out.ID), zap.Int("images", len(msg.Assets)))
	return nil
}

func (p *Publisher) createContainer(ctx context.Context, form url.Values) (string, error) {
	form.Set("access_token", p.cfg.AccessToken)
	req, err := httpx.NewFormRequest(ctx, p.endpoint("media"), form)
	if err != nil {
		return "", err
	}
	var out idResponse
	if err := p.client.Send(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("container response without id")
	}
	return out.ID, nil
}

func (p *Publisher) endpoint(edge string) string {
	return httpx.JoinURL(p.cfg.GraphURL, url.PathEscape(p.cfg.UserID)+"/"+edge)
}

// Caption appends the hashtags, each prefixed with '#', on a line of their own.
func Caption(text string, hashtags []string) string {
	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	text = strings.TrimSpace(text)
	if len(tags) == 0 {
		return text
	}
	if text == "" {
		return strings.Join(tags, " ")
	}
	return text + "\n\n" + strings.Join(tags, " ")
}
