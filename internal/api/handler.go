package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/store"
	"github.com/GanWeaving/social-cross-post/internal/submission"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize bounds a submission: four images plus form fields.
const maxRequestBodySize = 64 << 20

type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (submission.Result, error)
}

// JobStore reads scheduled posts.
type JobStore interface {
	List(ctx context.Context, limit, offset int) ([]domain.JobRecord, error)
	Load(ctx context.Context, jobID uuid.UUID) (domain.JobRecord, error)
}

// Canceller disarms and deletes a scheduled post.
type Canceller interface {
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

type AssetCleaner interface {
	Cleanup(dir string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	submitter Submitter
	jobs      JobStore
	canceller Canceller
	assets    AssetCleaner
	media     http.Handler
	token     string
	maxBody   int64
	db        HealthChecker
	logger    *zap.Logger
}

func NewHandler(submitter Submitter, jobs JobStore, canceller Canceller, assets AssetCleaner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		submitter: submitter,
		jobs:      jobs,
		canceller: canceller,
		assets:    assets,
		maxBody:   maxRequestBodySize,
		logger:    logger.Named("api"),
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithToken requires "Authorization: Bearer <token>" on the /posts routes.
func (h *Handler) WithToken(token string) *Handler {
	h.token = token
	return h
}

// WithMedia serves the files below root at /media/ so platforms that fetch
// images by URL can reach them.
func (h *Handler) WithMedia(root string) *Handler {
	h.media = http.StripPrefix("/media/", noListing(http.FileServer(http.Dir(root))))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case strings.HasPrefix(path, "/media/") && h.media != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		h.media.ServeHTTP(w, r)

	case path == "/posts" || strings.HasPrefix(path, "/posts/"):
		if !h.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="crossposter"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.posts(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) posts(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/posts" && r.Method == http.MethodPost:
		h.createPost(w, r)

	case path == "/posts" && r.Method == http.MethodGet:
		h.listPosts(w, r)

	case strings.HasPrefix(path, "/posts/") && r.Method == http.MethodGet:
		h.getPost(w, r)

	case strings.HasPrefix(path, "/posts/") && r.Method == http.MethodDelete:
		h.deletePost(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, prefix)), []byte(h.token)) == 1
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	sub, err := parseSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.submitter.Submit(r.Context(), sub)
	if err != nil {
		status := submissionStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("submit failed", zap.Error(err))
			writeError(w, status, "failed to schedule post")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if res.Scheduled {
		writeJSON(w, http.StatusCreated, SubmitResponse{
			Scheduled: true,
			ID:        res.JobID.String(),
			FireAt:    formatTime(res.FireAt),
			Message:   res.Message(),
		})
		return
	}

	resp := SubmitResponse{Message: res.Message(), Succeeded: []string{}, Failed: []FailureResponse{}}
	for _, p := range res.Report.Succeeded() {
		resp.Succeeded = append(resp.Succeeded, string(p))
	}
	for _, o := range res.Report.Failed() {
		resp.Failed = append(resp.Failed, FailureResponse{Platform: string(o.Platform), Error: o.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func submissionStatus(err error) int {
	switch {
	case errors.Is(err, submission.ErrTooManyFiles),
		errors.Is(err, submission.ErrInvalidFireTime),
		errors.Is(err, submission.ErrEmptyPost),
		errors.Is(err, submission.ErrNoPlatforms):
		return http.StatusBadRequest
	case errors.Is(err, submission.ErrAssetProcessing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := h.jobs.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list posts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	resp := ListPostsResponse{Posts: make([]PostResponse, len(jobs))}
	for i, job := range jobs {
		resp.Posts[i] = toPostResponse(job)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Load(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		h.logger.Error("load post", zap.String("job_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(job))
}

// deletePost cancels a scheduled post and removes its images.
func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Load(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		h.logger.Error("load post", zap.String("job_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}
	if job.Status == domain.JobStatusFiring {
		writeError(w, http.StatusConflict, "post is being published")
		return
	}

	err = h.canceller.Cancel(r.Context(), id)
	if errors.Is(err, store.ErrFiring) {
		writeError(w, http.StatusConflict, "post is being published")
		return
	}
	if err != nil {
		h.logger.Error("cancel post", zap.String("job_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}
	if job.Post.AssetDir != "" {
		if err := h.assets.Cleanup(job.Post.AssetDir); err != nil {
			h.logger.Warn("asset cleanup failed", zap.String("dir", job.Post.AssetDir), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func parsePostID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "posts" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return uuid.Nil, false
	}
	return id, true
}

// noListing hides directory indexes.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
