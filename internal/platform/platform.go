// Package platform builds the configured publishers.
package platform

import (
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/platform/bluesky"
	"github.com/GanWeaving/social-cross-post/internal/platform/facebook"
	"github.com/GanWeaving/social-cross-post/internal/platform/httpx"
	"github.com/GanWeaving/social-cross-post/internal/platform/instagram"
	"github.com/GanWeaving/social-cross-post/internal/platform/mastodon"
	"github.com/GanWeaving/social-cross-post/internal/platform/posthaven"
	"github.com/GanWeaving/social-cross-post/internal/platform/twitter"
)

// Graph API calls are paced to stay clear of the page rate limits.
const graphRequestsPerSecond = 5

// Publishers returns one publisher per platform with a credentials section.
func Publishers(p config.Platforms, logger *zap.Logger) map[domain.Platform]fanout.Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(map[domain.Platform]fanout.Publisher)
	if p.Twitter != nil {
		out[domain.PlatformTwitter] = twitter.New(*p.Twitter, logger)
	}
	if p.Mastodon != nil {
		out[domain.PlatformMastodon] = mastodon.New(*p.Mastodon, logger)
	}
	if p.Bluesky != nil {
		out[domain.PlatformBluesky] = bluesky.New(*p.Bluesky, logger)
	}
	if p.Posthaven != nil {
		out[domain.PlatformPosthaven] = posthaven.New(*p.Posthaven, logger)
	}
	if p.Facebook != nil {
		out[domain.PlatformFacebook] = facebook.New(*p.Facebook, logger,
			httpx.WithRateLimit(graphRequestsPerSecond, graphRequestsPerSecond))
	}
	if p.Instagram != nil {
		out[domain.PlatformInstagram] = instagram.New(*p.Instagram, logger,
			httpx.WithRateLimit(graphRequestsPerSecond, graphRequestsPerSecond))
	}
	return out
}
