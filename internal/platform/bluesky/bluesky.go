// Package bluesky posts to an AT Protocol PDS: one session per publish,
// images uploaded as blobs and embedded with their alt text, URLs turned
// into link facets.
package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
	"github.com/GanWeaving/social-cross-post/internal/render"
)

const (
	createSessionPath = "/xrpc/com.atproto.server.createSession"
	uploadBlobPath    = "/xrpc/com.atproto.repo.uploadBlob"
	createRecordPath  = "/xrpc/com.atproto.repo.createRecord"

	postCollection = "app.bsky.feed.post"
	imagesEmbed    = "app.bsky.embed.images"
	linkFeature    = "app.bsky.richtext.facet#link"
)

type Publisher struct {
	cfg    config.BlueskyConfig
	client *httpx.Client
	logger *zap.Logger
	clock  func() time.Time
}

func New(cfg config.BlueskyConfig, logger *zap.Logger, opts ...httpx.Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:    cfg,
		client: httpx.New(nil, opts...),
		logger: logger.Named("bluesky"),
		clock:  time.Now,
	}
}

func (p *Publisher) WithClock(clock func() time.Time) *Publisher {
	p.clock = clock
	return p
}

var _ fanout.Publisher = (*Publisher)(nil)

type session struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
}

type uploadBlobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

type image struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"`
}

type embed struct {
	Type   string  `json:"$type"`
	Images []image `json:"images"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type facet struct {
	Index    byteSlice `json:"index"`
	Features []feature `json:"features"`
}

type post struct {
	Type      string  `json:"$type"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
	Facets    []facet `json:"facets,omitempty"`
	Embed     *embed  `json:"embed,omitempty"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     post   `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (p *Publisher) Publish(ctx context.Context, msg fanout.Message) error {
	sess, err := p.login(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	record := post{
		Type:      postCollection,
		Text:      msg.Text,
		CreatedAt: p.clock().UTC().Format(time.RFC3339Nano),
		Facets:    linkFacets(msg.Text),
	}

	if len(msg.Assets) > 0 {
		record.Embed = &embed{Type: imagesEmbed}
		for _, a := range msg.Assets {
			blob, err := p.uploadBlob(ctx, sess, a.Path)
			if err != nil {
				return fmt.Errorf("upload %s: %w", a.Name, err)
			}
			record.Embed.Images = append(record.Embed.Images, image{Alt: a.AltText, Image: blob})
		}
	}

	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(p.cfg.PDSURL, createRecordPath), createRecordRequest{
		Repo:       sess.DID,
		Collection: postCollection,
		Record:     record,
	})
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessJwt)

	var out createRecordResponse
	if err := p.client.Send(req, &out); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	p.logger.Debug("post created", zap.String("uri", out.URI))
	return nil
}

func (p *Publisher) login(ctx context.Context) (session, error) {
	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, httpx.JoinURL(p.cfg.PDSURL, createSessionPath), map[string]string{
		"identifier": p.cfg.Identifier,
		"password":   p.cfg.AppPassword,
	})
	if err != nil {
		return session{}, err
	}
	var s session
	if err := p.client.Send(req, &s); err != nil {
		return session{}, err
	}
	if s.AccessJwt == "" || s.DID == "" {
		return session{}, fmt.Errorf("incomplete session response")
	}
	return s, nil
}

func (p *Publisher) uploadBlob(ctx context.Context, sess session, path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	req, err := httpx.NewBytesRequest(ctx, httpx.JoinURL(p.cfg.PDSURL, uploadBlobPath), "image/jpeg", data)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessJwt)

	var out uploadBlobResponse
	if err := p.client.Send(req, &out); err != nil {
		return nil, err
	}
	if len(out.Blob) == 0 {
		return nil, fmt.Errorf("upload response without blob")
	}
	return out.Blob, nil
}

// linkFacets marks every URL in text by its UTF-8 byte range.
func linkFacets(text string) []facet {
	links := render.Links(text)
	if len(links) == 0 {
		return nil
	}
	out := make([]facet, len(links))
	for i, l := range links {
		out[i] = facet{
			Index:    byteSlice{ByteStart: l.Start, ByteEnd: l.End},
			Features: []feature{{Type: linkFeature, URI: l.URL}},
		}
	}
	return out
}
