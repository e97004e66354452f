package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/GanWeaving/social-cross-post/internal/assets"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/submission"
)

// maxMemory bounds the multipart bytes held in memory; the rest spills to disk.
const maxMemory = 32 << 20

// Form field names of POST /posts.
const (
	fieldText      = "text"
	fieldHashtags  = "hashtags"
	fieldFireAt    = "fire_at"
	fieldPlatforms = "platforms"
	fieldImage     = "image"
	fieldAltText   = "alt_text"
	fieldRename    = "rename"
)

// parseSubmission reads a multipart or urlencoded form into a Submission.
// The i-th alt_text and rename values belong to the i-th image.
func parseSubmission(r *http.Request) (submission.Submission, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var err error
	switch mediaType {
	case "multipart/form-data":
		err = r.ParseMultipartForm(maxMemory)
	case "application/x-www-form-urlencoded":
		err = r.ParseForm()
	default:
		return submission.Submission{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return submission.Submission{}, err
		}
		return submission.Submission{}, fmt.Errorf("invalid form: %w", err)
	}

	platforms, err := parsePlatforms(r.Form[fieldPlatforms])
	if err != nil {
		return submission.Submission{}, err
	}

	sub := submission.Submission{
		Text:      r.FormValue(fieldText),
		Hashtags:  r.FormValue(fieldHashtags),
		FireAt:    strings.TrimSpace(r.FormValue(fieldFireAt)),
		Platforms: platforms,
	}

	if r.MultipartForm != nil {
		files, err := readUploads(r.MultipartForm)
		if err != nil {
			return submission.Submission{}, err
		}
		sub.Files = files
	}
	return sub, nil
}

// parsePlatforms accepts repeated values, comma separated lists or both.
func parsePlatforms(values []string) (domain.PlatformSet, error) {
	set := domain.NewPlatformSet()
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			p, err := domain.ParsePlatform(name)
			if err != nil {
				return nil, fmt.Errorf("invalid platforms: %w", err)
			}
			set[p] = true
		}
	}
	return set, nil
}

func readUploads(form *multipart.Form) ([]assets.Upload, error) {
	headers := form.File[fieldImage]
	alts := form.Value[fieldAltText]
	renames := form.Value[fieldRename]

	uploads := make([]assets.Upload, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("read image %q: %w", fh.Filename, err)
		}
		if len(data) == 0 {
			continue
		}
		u := assets.Upload{Name: fh.Filename, Data: data}
		if i < len(alts) {
			u.AltText = strings.TrimSpace(alts[i])
		}
		if i < len(renames) {
			u.Rename = strings.TrimSpace(renames[i])
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
