// Package assets persists uploaded images into one folder per job and removes
// that folder once the job no longer needs it.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	// WebP uploads are decoded through the image registry.
	_ "golang.org/x/image/webp"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

// MaxFiles is the upper bound of images per submission.
const MaxFiles = 4

const folderTimeLayout = "20060102T150405Z"

var (
	ErrTooManyFiles = fmt.Errorf("at most %d images per post", MaxFiles)
	ErrTooLarge     = errors.New("image could not be compressed below the size limit")
	ErrDecode       = errors.New("unsupported or corrupt image")
)

// Upload is one file as received from the submitter.
type Upload struct {
	Name    string
	Data    []byte
	AltText string
	// Rename replaces the original base name when set.
	Rename string
}

// Options configures the store.
type Options struct {
	Root           string
	BaseURL        string
	MaxBytes       int
	MaxIterations  int
	InitialQuality int
}

// Folder is a job folder found under the root.
type Folder struct {
	Name    string
	Path    string
	ModTime time.Time
}

// Store writes normalised JPEGs below Root and serves them under BaseURL/media/.
type Store struct {
	root    string
	baseURL string

	maxBytes       int
	maxIterations  int
	initialQuality int

	logger *zap.Logger
}

// New creates a store. Zero-valued limits fall back to the defaults.
func New(opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 1000000
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.InitialQuality <= 0 || opts.InitialQuality > 100 {
		opts.InitialQuality = 90
	}
	return &Store{
		root:           opts.Root,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		maxBytes:       opts.MaxBytes,
		maxIterations:  opts.MaxIterations,
		initialQuality: opts.InitialQuality,
		logger:         logger.Named("assets"),
	}
}

// Root returns the directory holding every job folder.
func (s *Store) Root() string {
	return s.root
}

// FolderName derives the folder of a job from its UTC fire time and id.
func FolderName(fireAt time.Time, jobID uuid.UUID) string {
	return fireAt.UTC().Format(folderTimeLayout) + "-" + jobID.String()
}

// Save validates, orders and writes all uploads of one submission into the
// job's folder. Either every file is written or none is: on failure the
// folder is removed again. A submission without uploads creates no folder.
func (s *Store) Save(fireAt time.Time, jobID uuid.UUID, uploads []Upload) (string, []domain.Asset, error) {
	if len(uploads) > MaxFiles {
		return "", nil, ErrTooManyFiles
	}
	if len(uploads) == 0 {
		return "", nil, nil
	}

	ordered := orderUploads(uploads)

	dir := filepath.Join(s.root, FolderName(fireAt, jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create asset folder: %w", err)
	}

	out := make([]domain.Asset, 0, len(ordered))
	for _, u := range ordered {
		asset, err := s.Store(dir, u.upload, u.name)
		if err != nil {
			if cerr := s.Cleanup(dir); cerr != nil {
				s.logger.Warn("remove partial asset folder", zap.String("dir", dir), zap.Error(cerr))
			}
			return "", nil, fmt.Errorf("%s: %w", u.upload.Name, err)
		}
		out = append(out, asset)
	}

	s.logger.Debug("assets stored", zap.String("dir", dir), zap.Int("count", len(out)))
	return dir, out, nil
}

// Store normalises one upload and writes it as name into dir.
func (s *Store) Store(dir string, u Upload, name string) (domain.Asset, error) {
	data, err := s.normalize(u.Data)
	if err != nil {
		return domain.Asset{}, err
	}

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return domain.Asset{}, fmt.Errorf("write asset: %w", err)
	}

	return domain.Asset{
		Name:    name,
		Path:    p,
		URL:     s.URL(filepath.Base(dir), name),
		AltText: strings.TrimSpace(u.AltText),
	}, nil
}

// URL returns the public address of a stored file.
func (s *Store) URL(folder, name string) string {
	return s.baseURL + path.Join("/media", url.PathEscape(folder), url.PathEscape(name))
}

// Cleanup deletes a job folder. Missing folders are not an error.
func (s *Store) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if !s.contains(dir) {
		return fmt.Errorf("refusing to remove %q outside media root", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove asset folder: %w", err)
	}
	return nil
}

// Folders lists the job folders currently under the root.
func (s *Store) Folders() ([]Folder, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []Folder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Folder{
			Name:    e.Name(),
			Path:    filepath.Join(s.root, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func (s *Store) contains(dir string) bool {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// normalize decodes any supported format, flattens it onto white and
// re-encodes it as JPEG, lowering quality until it fits maxBytes.
func (s *Store) normalize(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := src.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), src, image.Pt(0, 0), 1.0)

	quality := s.initialQuality
	var buf bytes.Buffer
	for i := 0; i < s.maxIterations; i++ {
		buf.Reset()
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		size := buf.Len()
		if size <= s.maxBytes {
			return buf.Bytes(), nil
		}
		s.logger.Debug("image above size limit",
			zap.Int("bytes", size), zap.Int("quality", quality), zap.Int("iteration", i+1))
		quality = nextQuality(quality, size, s.maxBytes)
	}
	return nil, ErrTooLarge
}

// nextQuality scales quality by the overshoot ratio, always dropping by at
// least five points and never below one.
func nextQuality(quality, size, limit int) int {
	next := quality * limit / size
	if next > quality-5 {
		next = quality - 5
	}
	if next < 1 {
		next = 1
	}
	return next
}

type namedUpload struct {
	upload Upload
	name   string
}

// orderUploads assigns final file names and sorts by them so the order is
// independent of how the client sent the files. Alt text travels with its file.
func orderUploads(uploads []Upload) []namedUpload {
	out := make([]namedUpload, len(uploads))
	used := make(map[string]bool, len(uploads))
	for i, u := range uploads {
		base := u.Rename
		if strings.TrimSpace(base) == "" {
			base = strings.TrimSuffix(filepath.Base(u.Name), filepath.Ext(u.Name))
		}
		stem := sanitize(base)
		if stem == "" {
			stem = uuid.NewString()
		}
		name := stem
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d", stem, n)
		}
		used[name] = true
		out[i] = namedUpload{upload: u, name: name + ".jpg"}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// sanitize NFC-normalises a base name and keeps letters, digits, '-' and '_'.
func sanitize(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '.':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
