package fanout

import (
	"fmt"
	"html"
	"strings"

	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/render"
)

// AltMarker is the marker users put in their text to point at alt text.
// It is only meaningful on platforms that show alt text natively.
const AltMarker = "[prompt in the alt]"

const imagePromptsNote = "[image prompts below]"

// Message is the platform-specific slice of a post handed to one publisher.
type Message struct {
	Subject string
	Text    string
	HTML    string

	// Assets are in presentation order. Publishers that need public URLs use
	// Asset.URL, the others read Asset.Path.
	Assets []domain.Asset
}

// Shape builds the message for platform p. The alt marker is removed from
// the body everywhere and replaced by a note that fits the platform.
func Shape(p domain.Platform, post domain.Post) Message {
	text := stripMarker(post.TextPlain)
	hasAlt := post.HasAltText()

	switch p {
	case domain.PlatformMastodon, domain.PlatformBluesky:
		if hasAlt {
			text = appendNote(text, AltMarker)
		}
		return Message{Text: text, Assets: post.Assets}

	case domain.PlatformTwitter:
		text = render.StripTags(text)
		if hasAlt {
			text = appendNote(text, nativeAltNote(post.Platforms))
		}
		return Message{Text: text, Assets: post.Assets}

	case domain.PlatformFacebook:
		if hasAlt {
			text = appendNote(text, imagePromptsNote)
			for _, a := range post.Assets {
				if a.AltText != "" {
					text += "\n\n" + a.AltText
				}
			}
		}
		return Message{Text: text, Assets: post.Assets}

	case domain.PlatformInstagram:
		if hasAlt {
			text = appendNote(text, nativeAltNote(post.Platforms))
		}
		return Message{Text: text, Assets: withoutAlt(post.Assets)}

	case domain.PlatformPosthaven:
		return Message{
			Subject: post.Subject,
			HTML:    stripMarker(post.TextHTML) + imageCaptions(post.Assets),
			Assets:  post.Assets,
		}
	}
	return Message{Text: text, Assets: post.Assets}
}

// nativeAltNote names the enabled platforms that carry the alt text, e.g.
// "[prompts over on Bluesky & Mastodon]". Empty when none is enabled.
func nativeAltNote(enabled domain.PlatformSet) string {
	var names []string
	for _, p := range []domain.Platform{domain.PlatformBluesky, domain.PlatformMastodon} {
		if enabled.Enabled(p) {
			names = append(names, p.DisplayName())
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "[prompts over on " + strings.Join(names, " & ") + "]"
}

func imageCaptions(assets []domain.Asset) string {
	var b strings.Builder
	for i, a := range assets {
		alt := a.AltText
		if alt == "" {
			alt = "No alt text provided"
		}
		fmt.Fprintf(&b, "Image %d: <i><small>%s</small></i><br>", i+1, html.EscapeString(alt))
	}
	return b.String()
}

func stripMarker(text string) string {
	if !strings.Contains(text, AltMarker) {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(text, AltMarker, ""))
}

func appendNote(text, note string) string {
	if note == "" {
		return text
	}
	if text == "" {
		return note
	}
	return strings.TrimRight(text, "\n ") + "\n\n" + note
}

func withoutAlt(assets []domain.Asset) []domain.Asset {
	out := make([]domain.Asset, len(assets))
	for i, a := range assets {
		a.AltText = ""
		out[i] = a
	}
	return out
}
