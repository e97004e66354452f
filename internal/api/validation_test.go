package api

import (
	"strings"
	"testing"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

func TestParsePlatforms(t *testing.T) {
	set, err := parsePlatforms([]string{"mastodon, bluesky", "FB", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := set.List()
	want := []domain.Platform{domain.PlatformMastodon, domain.PlatformBluesky, domain.PlatformFacebook}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("platform %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParsePlatforms_Empty(t *testing.T) {
	set, err := parsePlatforms(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Empty() {
		t.Errorf("expected empty set, got %v", set.List())
	}
}

func TestParsePlatforms_Unknown(t *testing.T) {
	_, err := parsePlatforms([]string{"mastodon,friendster"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "friendster") {
		t.Errorf("error %q should name the platform", err)
	}
}
