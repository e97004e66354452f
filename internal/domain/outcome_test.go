package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReport_Message(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		outcomes []Outcome
		want     string
	}{
		{
			name:     "empty",
			outcomes: nil,
			want:     "",
		},
		{
			name: "success only",
			outcomes: []Outcome{
				{Platform: PlatformTwitter},
				{Platform: PlatformBluesky},
			},
			want: "Successfully posted to: Twitter, Bluesky.",
		},
		{
			name: "failure only",
			outcomes: []Outcome{
				{Platform: PlatformFacebook, Err: boom},
			},
			want: "Failed to post to: Facebook.",
		},
		{
			name: "mixed",
			outcomes: []Outcome{
				{Platform: PlatformMastodon},
				{Platform: PlatformPosthaven, Err: boom},
				{Platform: PlatformInstagram},
			},
			want: "Successfully posted to: Mastodon, Instagram. Failed to post to: Posthaven.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Report{Outcomes: tt.outcomes}.Message())
		})
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"twitter", PlatformTwitter},
		{"TW", PlatformTwitter},
		{"Mastodon", PlatformMastodon},
		{"bs", PlatformBluesky},
		{" posthaven ", PlatformPosthaven},
		{"FB", PlatformFacebook},
		{"ig", PlatformInstagram},
	}
	for _, tt := range tests {
		got, err := ParsePlatform(tt.in)
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestPlatformSet_ListKeepsFanOutOrder(t *testing.T) {
	set := NewPlatformSet(PlatformInstagram, PlatformTwitter, PlatformBluesky)
	assert.Equal(t, []Platform{PlatformTwitter, PlatformBluesky, PlatformInstagram}, set.List())
	assert.False(t, set.Empty())
	assert.True(t, PlatformSet{}.Empty())
	assert.True(t, PlatformSet{PlatformFacebook: false}.Empty())
}
