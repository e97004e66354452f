package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
)

func TestPublishers_OnlyConfigured(t *testing.T) {
	pubs := Publishers(config.Platforms{
		Mastodon:  &config.MastodonConfig{InstanceURL: "https://m.example", AccessToken: "t"},
		Instagram: &config.InstagramConfig{UserID: "1", AccessToken: "t"},
	}, nil)

	assert.Len(t, pubs, 2)
	assert.Contains(t, pubs, domain.PlatformMastodon)
	assert.Contains(t, pubs, domain.PlatformInstagram)
	assert.NotContains(t, pubs, domain.PlatformTwitter)
}

func TestPublishers_Empty(t *testing.T) {
	assert.Empty(t, Publishers(config.Platforms{}, nil))
}
