package api

import (
	"time"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

// SubmitResponse is returned by POST /posts. Scheduled posts carry ID and
// FireAt; immediate posts carry the per-platform outcome.
type SubmitResponse struct {
	Scheduled bool              `json:"scheduled"`
	ID        string            `json:"id,omitempty"`
	FireAt    string            `json:"fire_at,omitempty"`
	Message   string            `json:"message"`
	Succeeded []string          `json:"succeeded,omitempty"`
	Failed    []FailureResponse `json:"failed,omitempty"`
}

type FailureResponse struct {
	Platform string `json:"platform"`
	Error    string `json:"error"`
}

type AssetResponse struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

type PostResponse struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	FireAt    string          `json:"fire_at"`
	Status    string          `json:"status"`
	Posted    bool            `json:"posted"`
	LastError string          `json:"last_error,omitempty"`
	Platforms []string        `json:"platforms"`
	Assets    []AssetResponse `json:"assets"`
	CreatedAt string          `json:"created_at"`
}

type ListPostsResponse struct {
	Posts []PostResponse `json:"posts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toPostResponse(job domain.JobRecord) PostResponse {
	resp := PostResponse{
		ID:        job.ID.String(),
		Text:      job.Text,
		FireAt:    formatTime(job.FireAt),
		Status:    string(job.Status),
		Posted:    job.Posted,
		LastError: job.LastError,
		Platforms: []string{},
		Assets:    make([]AssetResponse, len(job.Post.Assets)),
		CreatedAt: formatTime(job.CreatedAt),
	}
	for _, p := range job.Post.Platforms.List() {
		resp.Platforms = append(resp.Platforms, string(p))
	}
	for i, a := range job.Post.Assets {
		resp.Assets[i] = AssetResponse{Name: a.Name, URL: a.URL, AltText: a.AltText}
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
