package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

// Platforms holds the credentials for every publishing target.
// A nil section means the platform is not configured.
type Platforms struct {
	Twitter   *TwitterConfig   `toml:"twitter"`
	Mastodon  *MastodonConfig  `toml:"mastodon"`
	Bluesky   *BlueskyConfig   `toml:"bluesky"`
	Posthaven *PosthavenConfig `toml:"posthaven"`
	Facebook  *FacebookConfig  `toml:"facebook"`
	Instagram *InstagramConfig `toml:"instagram"`
}

type TwitterConfig struct {
	ConsumerKey       string `toml:"consumer_key"`
	ConsumerSecret    string `toml:"consumer_secret"`
	AccessToken       string `toml:"access_token"`
	AccessTokenSecret string `toml:"access_token_secret"`
	APIBaseURL        string `toml:"api_base_url"`
	UploadBaseURL     string `toml:"upload_base_url"`
}

type MastodonConfig struct {
	InstanceURL string `toml:"instance_url"`
	AccessToken string `toml:"access_token"`
}

type BlueskyConfig struct {
	Identifier  string `toml:"identifier"`
	AppPassword string `toml:"app_password"`
	PDSURL      string `toml:"pds_url"`
}

// PosthavenConfig describes the SMTP account used to post by email.
type PosthavenConfig struct {
	SMTPHost   string   `toml:"smtp_host"`
	SMTPPort   int      `toml:"smtp_port"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	From       string   `toml:"from"`
	Recipients []string `toml:"recipients"`
}

type FacebookConfig struct {
	PageID      string `toml:"page_id"`
	AccessToken string `toml:"access_token"`
	GraphURL    string `toml:"graph_url"`
}

type InstagramConfig struct {
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	GraphURL    string `toml:"graph_url"`
	// Hashtags are appended to every caption.
	Hashtags []string `toml:"hashtags"`
}

// LoadPlatforms reads the platform credentials file. A missing file yields an
// empty Platforms value so the service can start with nothing configured.
func LoadPlatforms(path string) (Platforms, error) {
	var p Platforms
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("read platforms file: %w", err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse platforms file %s: %w", path, err)
	}
	p.applyDefaults()
	return p, nil
}

func (p *Platforms) applyDefaults() {
	if p.Twitter != nil {
		if p.Twitter.APIBaseURL == "" {
			p.Twitter.APIBaseURL = "https://api.twitter.com"
		}
		if p.Twitter.UploadBaseURL == "" {
			p.Twitter.UploadBaseURL = "https://upload.twitter.com"
		}
	}
	if p.Bluesky != nil && p.Bluesky.PDSURL == "" {
		p.Bluesky.PDSURL = "https://bsky.social"
	}
	if p.Posthaven != nil && p.Posthaven.SMTPPort == 0 {
		p.Posthaven.SMTPPort = 587
	}
	if p.Facebook != nil && p.Facebook.GraphURL == "" {
		p.Facebook.GraphURL = "https://graph.facebook.com"
	}
	if p.Instagram != nil && p.Instagram.GraphURL == "" {
		p.Instagram.GraphURL = "https://graph.facebook.com/v13.0"
	}
}

// Configured reports which platforms have a credentials section.
func (p Platforms) Configured() domain.PlatformSet {
	set := domain.PlatformSet{}
	if p.Twitter != nil {
		set[domain.PlatformTwitter] = true
	}
	if p.Mastodon != nil {
		set[domain.PlatformMastodon] = true
	}
	if p.Bluesky != nil {
		set[domain.PlatformBluesky] = true
	}
	if p.Posthaven != nil {
		set[domain.PlatformPosthaven] = true
	}
	if p.Facebook != nil {
		set[domain.PlatformFacebook] = true
	}
	if p.Instagram != nil {
		set[domain.PlatformInstagram] = true
	}
	return set
}

// Validate checks that every configured platform has its required fields.
func (p Platforms) Validate() error {
	var errs ValidationErrors
	require := func(section string, fields map[string]string) {
		for name, value := range fields {
			if strings.TrimSpace(value) == "" {
				errs = append(errs, ValidationError{Field: section + "." + name, Message: "required"})
			}
		}
	}
	if c := p.Twitter; c != nil {
		require("twitter", map[string]string{
			"consumer_key":        c.ConsumerKey,
			"consumer_secret":     c.ConsumerSecret,
			"access_token":        c.AccessToken,
			"access_token_secret": c.AccessTokenSecret,
		})
	}
	if c := p.Mastodon; c != nil {
		require("mastodon", map[string]string{"instance_url": c.InstanceURL, "access_token": c.AccessToken})
	}
	if c := p.Bluesky; c != nil {
		require("bluesky", map[string]string{"identifier": c.Identifier, "app_password": c.AppPassword})
	}
	if c := p.Posthaven; c != nil {
		require("posthaven", map[string]string{"smtp_host": c.SMTPHost, "username": c.Username, "password": c.Password})
		if len(c.Recipients) == 0 {
			errs = append(errs, ValidationError{Field: "posthaven.recipients", Message: "at least one recipient required"})
		}
	}
	if c := p.Facebook; c != nil {
		require("facebook", map[string]string{"page_id": c.PageID, "access_token": c.AccessToken})
	}
	if c := p.Instagram; c != nil {
		require("instagram", map[string]string{"user_id": c.UserID, "access_token": c.AccessToken})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
