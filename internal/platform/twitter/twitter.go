// Package twitter posts to X/Twitter: images through the v1.1 media upload
// endpoint, the post itself through the v2 API. Requests are signed with
// OAuth 1.0a user credentials.
package twitter

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
)

const (
	uploadPath   = "/1.1/media/upload.json"
	metadataPath = "/1.1/media/metadata/create.json"
	tweetPath    = "/2/tweets"

	// Twitter caps alt text at 1000 characters.
	maxAltRunes = 1000
)

type Publisher struct {
	cfg    config.TwitterConfig
	client *httpx.Client
	logger *zap.Logger
}

// New creates a publisher signing every request with the configured user token.
func New(cfg config.TwitterConfig, logger *zap.Logger, opts ...httpx.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	oauthCfg := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret)
	hc := oauthCfg.Client(context.Background(), token)
	hc.Timeout = httpx.DefaultTimeout

	return &Publisher{
		cfg:    cfg,
		client: httpx.New(hc, opts...),
		logger: logger.Named("twitter"),
	}
}

var _ fanout.Publisher = (*Publisher)(nil)

type uploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	var ids []string
	for _, a := range msg.Assets {
		id, err := p.upload(ctx, a.Path, a.AltText)
		if err != nil {
			return fmt.Errorf("upload %s: %w", a.Name, err)
		}
		ids = append(ids, id)
	}

	body := tweetRequest{Text: msg.Text}
	if len(ids) > 0 {
		body.Media = &tweetMedia{MediaIDs: ids}
	}
	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(p.cfg.APIBaseURL, tweetPath), body)
	if err != nil {
		return err
	}
	var out tweetResponse
	if err := p.client.Send(req, &out); err != nil {
		return fmt.Errorf("create tweet: %w", err)
	}
	p.logger.Debug("tweet created", zap.String("id", out.Data.ID), zap.Int("media", len(ids)))
	return nil
}

func (p *Publisher) upload(ctx context.Context, path, alt string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	req, err := httpx.NewMultipartRequest(ctx, httpx.JoinURL(p.cfg.UploadBaseURL, uploadPath),
		map[string]string{"media_category": "tweet_image"},
		httpx.File{Field: "media", Name: "media.jpg", Data: data})
	if err != nil {
		return "", err
	}
	var out uploadResponse
	if err := p.client.Send(req, &out); err != nil {
		return "", err
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("upload response without media id")
	}

	if alt != "" {
		if err := p.describe(ctx, out.MediaIDString, alt); err != nil {
			return "", fmt.Errorf("set alt text: %w", err)
		}
	}
	return out.MediaIDString, nil
}

func (p *Publisher) describe(ctx context.Context, mediaID, alt string) error {
	if r := []rune(alt); len(r) > maxAltRunes {
		alt = string(r[:maxAltRunes])
	}
	body := map[string]any{
		"media_id": mediaID,
		"alt_text": map[string]string{"text": alt},
	}
	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(p.cfg.UploadBaseURL, metadataPath), body)
	if err != nil {
		return err
	}
	return p.client.Send(req, nil)
}
