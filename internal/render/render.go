// Package render builds the text variants of a post: the HTML body used by
// the email blog, the plain body used by the microblogs, and the email subject.
package render

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/wasilibs/go-re2"
)

const subjectPreviewRunes = 10

var urlPattern = re2.MustCompile(`https?://[^\s<>"']*[^\s<>"'.,;:!?)\]]`)

// Body holds both renderings of the user's text.
type Body struct {
	HTML  string
	Plain string
}

// Link is a URL found in a text, with its byte offsets.
type Link struct {
	Start int
	End   int
	URL   string
}

// NewBody renders text (and an optional hashtag line) into the HTML and
// plain variants. Line endings are normalised to \n in both.
func NewBody(text, hashtags string) Body {
	plain := normalizeLines(text)
	if tags := strings.TrimSpace(hashtags); tags != "" {
		plain = strings.TrimRight(plain, "\n") + "\n\n" + tags
	}

	lines := strings.Split(plain, "\n")
	for i, line := range lines {
		lines[i] = Linkify(html.EscapeString(line))
	}
	return Body{
		HTML:  "<big>" + strings.Join(lines, "<br>") + "</big><hr>",
		Plain: plain,
	}
}

// Subject builds the email subject: the date in loc followed by the first
// ten characters of the tag-stripped text.
func Subject(text string, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	preview := StripTags(text)
	if utf8.RuneCountInString(preview) > subjectPreviewRunes {
		preview = string([]rune(preview)[:subjectPreviewRunes])
	}
	preview = strings.ReplaceAll(preview, "\n", " ")
	return "[" + at.In(loc).Format("2006/01/02") + "] " + preview + " ..."
}

// StripTags removes markup and decodes entities.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// Links returns every URL in text with its byte range.
func Links(text string) []Link {
	var links []Link
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		links = append(links, Link{Start: loc[0], End: loc[1], URL: text[loc[0]:loc[1]]})
	}
	return links
}

// Linkify wraps bare URLs in anchor tags.
func Linkify(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(u string) string {
		return `<a href="` + u + `">` + u + `</a>`
	})
}

// BreakLines converts \n into <br> tags.
func BreakLines(text string) string {
	return strings.ReplaceAll(normalizeLines(text), "\n", "<br>")
}

func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
