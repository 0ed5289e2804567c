package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
	"github.com/ookuma-s/instagram-story-image/internal/id"
	"github.com/ookuma-s/instagram-story-image/internal/queue"
	"github.com/ookuma-s/instagram-story-image/internal/store"
	"github.com/ookuma-s/instagram-story-image/internal/story"
)

// maxConvertRequestBytes caps the whole multipart body on the synchronous
// convert endpoint. It sits well above the per-file upload limit so an
// oversized image reaches the converter and comes back as FILE_TOO_LARGE
// instead of dying at the transport layer.
const maxConvertRequestBytes = 64 << 20

const defaultUserIDHeader = "X-User-ID"

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	storyStore            store.StoryStore
	storage               ObjectStorage
	converter             storyConverter
	presignTTL            time.Duration
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueRenderStory(ctx context.Context, payload queue.RenderStoryPayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type storyConverter interface {
	Convert(ctx context.Context, in *story.Input, mode story.LayoutMode) (story.Result, error)
}

func NewServer(
	logger *log.Logger,
	queueClient queueEnqueuer,
	storyStore store.StoryStore,
	storage ObjectStorage,
	rateLimiter RateLimiter,
	rateLimitUserIDHeader string,
	presignTTL time.Duration,
) *Server {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(rateLimitUserIDHeader) == "" {
		rateLimitUserIDHeader = defaultUserIDHeader
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		storyStore:            storyStore,
		storage:               storage,
		converter:             story.NewConverter(),
		presignTTL:            presignTTL,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: rateLimitUserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("story/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.withRateLimit(handler)
	handler = s.withTracing(handler)
	handler = s.metrics.instrument(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/stories", s.handleCreateStory)
	s.mux.HandleFunc("POST /v1/stories/", s.handleStartStory)
	s.mux.HandleFunc("GET /v1/stories/", s.handleStoryGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConvert runs the full conversion inline and streams the rendered
// story back. Failures come back as {"success": false, "error": {...}} with
// the error type and the user-facing message.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConvertRequestBytes)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		s.writeConversionFailure(w, story.LayoutCropFill, &story.ConversionError{Type: story.ErrorNoFile})
		return
	}

	mode := story.LayoutCropFill
	if v := r.FormValue("layout"); strings.TrimSpace(v) != "" {
		parsed, err := story.ParseLayout(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported layout: %q", v)})
			return
		}
		mode = parsed
	}

	var input *story.Input
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			s.logger.Printf("read uploaded file failed: %v", readErr)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read uploaded file"})
			return
		}
		input = &story.Input{
			Data:        data,
			ContentType: header.Header.Get("Content-Type"),
		}
	}

	res, err := s.converter.Convert(r.Context(), input, mode)
	if err != nil {
		s.writeConversionFailure(w, mode, err)
		return
	}

	s.metrics.conversionsTotal.WithLabelValues(string(mode), "succeeded").Inc()
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

func (s *Server) writeConversionFailure(w http.ResponseWriter, mode story.LayoutMode, err error) {
	var cerr *story.ConversionError
	if !errors.As(err, &cerr) {
		cerr = &story.ConversionError{Type: story.ErrorConversionFailed, Detail: err.Error()}
	}

	s.metrics.conversionsTotal.WithLabelValues(string(mode), string(cerr.Type)).Inc()
	writeJSON(w, statusForConversionError(cerr), map[string]any{
		"success": false,
		"error": map[string]string{
			"type":    string(cerr.Type),
			"message": cerr.Message(),
		},
	})
}

func statusForConversionError(cerr *story.ConversionError) int {
	switch cerr.Type {
	case story.ErrorNoFile:
		return http.StatusBadRequest
	case story.ErrorFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case story.ErrorInvalidMimeType:
		return http.StatusUnsupportedMediaType
	case story.ErrorPixelExceeded, story.ErrorDecodeFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	storyID := id.NewStoryID()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	layout, _ := story.ParseLayout(req.Layout)
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", storyID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for story %s: %v", storyID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	st := domain.Story{
		ID:         storyID,
		UserID:     s.requestUserID(r),
		Status:     domain.StoryStatusCreated,
		SourceType: sourceType,
		Layout:     string(layout),
		WebhookURL: req.WebhookURL,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.storyStore.Create(r.Context(), st); err != nil {
		s.logger.Printf("create story failed for story %s: %v", st.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create story"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"story_id": st.ID,
		"status":   st.Status,
		"layout":   st.Layout,
		"upload": map[string]string{
			"object_key":          st.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/stories/%s/start", st.ID),
	})
}

func (s *Server) handleStartStory(w http.ResponseWriter, r *http.Request) {
	storyID, err := extractStoryIDFromStartPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	st, ok, err := s.storyStore.Get(r.Context(), storyID)
	if err != nil {
		s.logger.Printf("fetch story failed for story %s: %v", storyID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load story"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "story not found"})
		return
	}

	if err := s.verifySourceExists(r.Context(), st); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.RenderStoryPayload{
		StoryID:     st.ID,
		SourceType:  st.SourceType,
		Layout:      st.Layout,
		WebhookURL:  st.WebhookURL,
		ObjectKey:   st.ObjectKey,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueRenderStory(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "story render is already queued"})
			return
		}
		s.logger.Printf("enqueue failed for story %s: %v", st.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue story"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.storyStore.UpdateStatus(r.Context(), st.ID, domain.StoryStatusQueued); err != nil {
		s.logger.Printf("update status failed for story %s: %v", st.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"story_id":    st.ID,
		"status":      domain.StoryStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleStoryGet(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/stories/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.showStory(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "download":
		s.downloadStory(w, r, parts[0])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) showStory(w http.ResponseWriter, r *http.Request, storyID string) {
	st, ok, err := s.storyStore.Get(r.Context(), storyID)
	if err != nil {
		s.logger.Printf("fetch story failed for story %s: %v", storyID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load story"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "story not found"})
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) downloadStory(w http.ResponseWriter, r *http.Request, storyID string) {
	st, ok, err := s.storyStore.Get(r.Context(), storyID)
	if err != nil {
		s.logger.Printf("fetch story failed for story %s: %v", storyID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load story"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "story not found"})
		return
	}

	if st.Status != domain.StoryStatusSucceeded {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("story is not ready: status=%s", st.Status)})
		return
	}
	if st.SourceType == domain.SourceTypeLocalFile {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "download is only available for object-store stories"})
		return
	}

	url, err := s.storage.PresignedGetURL(r.Context(), st.OutputKey, st.Filename, s.presignTTL)
	if err != nil {
		s.logger.Printf("generate download url failed for story %s: %v", st.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate download URL"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"story_id":           st.ID,
		"filename":           st.Filename,
		"download_url":       url,
		"expires_in_seconds": int(s.presignTTL.Seconds()),
	})
}

func (s *Server) verifySourceExists(ctx context.Context, st domain.Story) error {
	switch st.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(st.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", st.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, st.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", st.ObjectKey)
		}
		return nil
	}
}

func (s *Server) requestUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
}

func extractStoryIDFromStartPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/stories/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return "", errors.New("expected path format /v1/stories/{id}/start")
	}
	return parts[0], nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
