package domain

import (
	"fmt"
	"strings"
)

// Platform identifies one posting target.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformMastodon  Platform = "mastodon"
	PlatformBluesky   Platform = "bluesky"
	PlatformPosthaven Platform = "posthaven"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Platforms is the fixed fan-out order.
var Platforms = []Platform{
	PlatformTwitter,
	PlatformMastodon,
	PlatformBluesky,
	PlatformPosthaven,
	PlatformFacebook,
	PlatformInstagram,
}

var displayNames = map[Platform]string{
	PlatformTwitter:   "Twitter",
	PlatformMastodon:  "Mastodon",
	PlatformBluesky:   "Bluesky",
	PlatformPosthaven: "Posthaven",
	PlatformFacebook:  "Facebook",
	PlatformInstagram: "Instagram",
}

// DisplayName returns the user-facing name used in outcome messages.
func (p Platform) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

// NativeAltText reports whether the platform stores alt text on the image itself.
func (p Platform) NativeAltText() bool {
	return p == PlatformMastodon || p == PlatformBluesky
}

// ParsePlatform accepts the canonical name, the display name, or the legacy
// two-letter form checkbox code (TW, MS, BS, PH, FB, IG).
func ParsePlatform(s string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "tw", "x":
		return PlatformTwitter, nil
	case "ms":
		return PlatformMastodon, nil
	case "bs":
		return PlatformBluesky, nil
	case "ph":
		return PlatformPosthaven, nil
	case "fb":
		return PlatformFacebook, nil
	case "ig":
		return PlatformInstagram, nil
	}
	for _, p := range Platforms {
		if key == string(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// PlatformSet holds the per-platform enable flags of one post.
type PlatformSet map[Platform]bool

// NewPlatformSet enables the given platforms.
func NewPlatformSet(platforms ...Platform) PlatformSet {
	set := make(PlatformSet, len(platforms))
	for _, p := range platforms {
		set[p] = true
	}
	return set
}

// Enabled reports whether p is switched on.
func (s PlatformSet) Enabled(p Platform) bool {
	return s[p]
}

// List returns the enabled platforms in fan-out order.
func (s PlatformSet) List() []Platform {
	var out []Platform
	for _, p := range Platforms {
		if s[p] {
			out = append(out, p)
		}
	}
	return out
}

// Empty reports whether no platform is enabled.
func (s PlatformSet) Empty() bool {
	return len(s.List()) == 0
}
