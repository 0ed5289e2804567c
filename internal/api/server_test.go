package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
	"github.com/ookuma-s/instagram-story-image/internal/queue"
	"github.com/ookuma-s/instagram-story-image/internal/ratelimit"
	"github.com/ookuma-s/instagram-story-image/internal/store"
	"github.com/ookuma-s/instagram-story-image/internal/story"
)

func TestExtractStoryIDFromStartPath(t *testing.T) {
	storyID, err := extractStoryIDFromStartPath("/v1/stories/abc123/start")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if storyID != "abc123" {
		t.Fatalf("expected abc123, got %s", storyID)
	}

	if _, err := extractStoryIDFromStartPath("/v1/stories/abc123"); err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestHandleConvert_CropFill(t *testing.T) {
	srv := newTestServer(t, &fakeQueue{}, store.NewMemoryStoryStore(), nil)

	body, contentType := multipartImageBody(t, "input.jpg", "image/jpeg", buildJPEG(t, 800, 600))
	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg response, got %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "story_") {
		t.Fatalf("expected story filename in disposition, got %q", got)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode response image: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg body, got %s", format)
	}
	if cfg.Width != story.CanvasWidth || cfg.Height != story.CanvasHeight {
		t.Fatalf("expected %dx%d, got %dx%d", story.CanvasWidth, story.CanvasHeight, cfg.Width, cfg.Height)
	}
}

func TestHandleConvert_NoFile(t *testing.T) {
	srv := newTestServer(t, &fakeQueue{}, store.NewMemoryStoryStore(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("layout", "crop_fill"); err != nil {
		t.Fatalf("write layout field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/convert", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	failure := decodeFailure(t, rec)
	if failure.Error.Type != string(story.ErrorNoFile) {
		t.Fatalf("expected NO_FILE, got %s", failure.Error.Type)
	}
	if failure.Error.Message != "Please choose an image file." {
		t.Fatalf("unexpected message: %q", failure.Error.Message)
	}
}

func TestHandleConvert_InvalidMimeType(t *testing.T) {
	srv := newTestServer(t, &fakeQueue{}, store.NewMemoryStoryStore(), nil)

	body, contentType := multipartImageBody(t, "notes.txt", "text/plain", []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status 415, got %d", rec.Code)
	}
	failure := decodeFailure(t, rec)
	if failure.Error.Type != string(story.ErrorInvalidMimeType) {
		t.Fatalf("expected INVALID_MIME_TYPE, got %s", failure.Error.Type)
	}
	if failure.Success {
		t.Fatal("expected success=false")
	}
}

func TestHandleConvert_UnknownLayout(t *testing.T) {
	srv := newTestServer(t, &fakeQueue{}, store.NewMemoryStoryStore(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("layout", "stretch"); err != nil {
		t.Fatalf("write layout field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/convert", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported layout") {
		t.Fatalf("expected layout error, got %s", rec.Body.String())
	}
}

func TestCreateStory_S3PresignedReturnsUploadURL(t *testing.T) {
	storyStore := store.NewMemoryStoryStore()
	storage := &fakeStorage{putURL: "https://minio.local/upload"}
	srv := newTestServer(t, &fakeQueue{}, storyStore, storage)

	body := strings.NewReader(`{"source_type":"s3_presigned","layout":"blur_pad_fit"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", body)
	req.Header.Set("X-User-ID", "user-7")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		StoryID string `json:"story_id"`
		Status  string `json:"status"`
		Layout  string `json:"layout"`
		Upload  struct {
			ObjectKey         string `json:"object_key"`
			PresignedPutURL   string `json:"presigned_put_url"`
			PresignedURLState string `json:"presigned_url_state"`
		} `json:"upload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Status != domain.StoryStatusCreated {
		t.Fatalf("expected status created, got %s", resp.Status)
	}
	if resp.Layout != string(story.LayoutBlurPadFit) {
		t.Fatalf("expected blur_pad_fit, got %s", resp.Layout)
	}
	if resp.Upload.PresignedPutURL != "https://minio.local/upload" {
		t.Fatalf("expected presigned upload url, got %q", resp.Upload.PresignedPutURL)
	}
	if resp.Upload.PresignedURLState != "ready" {
		t.Fatalf("expected upload state ready, got %s", resp.Upload.PresignedURLState)
	}

	st, ok, err := storyStore.Get(context.Background(), resp.StoryID)
	if err != nil || !ok {
		t.Fatalf("expected stored story, ok=%v err=%v", ok, err)
	}
	if st.UserID != "user-7" {
		t.Fatalf("expected user_id user-7, got %s", st.UserID)
	}
	if st.ObjectKey != resp.Upload.ObjectKey {
		t.Fatalf("expected object key %s, got %s", resp.Upload.ObjectKey, st.ObjectKey)
	}
}

func TestCreateStory_RejectsUnknownLayout(t *testing.T) {
	srv := newTestServer(t, &fakeQueue{}, store.NewMemoryStoryStore(), nil)

	body := strings.NewReader(`{"source_type":"s3_presigned","layout":"stretch"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", body)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestStartStory_EnqueuesRenderTask(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "source.png")
	if err := os.WriteFile(inputPath, []byte("png bytes"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-1",
		Status:     domain.StoryStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		Layout:     string(story.LayoutCropFill),
		ObjectKey:  inputPath,
	})

	q := &fakeQueue{}
	srv := newTestServer(t, q, storyStore, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/stories/story-1/start", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.payloads) != 1 {
		t.Fatalf("expected 1 enqueued payload, got %d", len(q.payloads))
	}
	payload := q.payloads[0]
	if payload.StoryID != "story-1" {
		t.Fatalf("expected story-1, got %s", payload.StoryID)
	}
	if payload.Layout != string(story.LayoutCropFill) {
		t.Fatalf("expected crop_fill layout, got %s", payload.Layout)
	}

	st, _, err := storyStore.Get(context.Background(), "story-1")
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if st.Status != domain.StoryStatusQueued {
		t.Fatalf("expected queued status, got %s", st.Status)
	}
}

func TestStartStory_MissingSourceConflicts(t *testing.T) {
	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-2",
		Status:     domain.StoryStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		Layout:     string(story.LayoutCropFill),
		ObjectKey:  "/nonexistent/source.png",
	})

	srv := newTestServer(t, &fakeQueue{}, storyStore, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/stories/story-2/start", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestStartStory_DuplicateStartConflicts(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "source.png")
	if err := os.WriteFile(inputPath, []byte("png bytes"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-dup",
		Status:     domain.StoryStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		Layout:     string(story.LayoutCropFill),
		ObjectKey:  inputPath,
	})

	srv := newTestServer(t, &fakeQueue{err: asynq.ErrTaskIDConflict}, storyStore, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/stories/story-dup/start", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "already queued") {
		t.Fatalf("expected duplicate start message, got %s", rec.Body.String())
	}
}

func TestShowStory_ReturnsStoredStory(t *testing.T) {
	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-3",
		Status:     domain.StoryStatusQueued,
		SourceType: domain.SourceTypeS3Presigned,
		Layout:     string(story.LayoutBlurPadFit),
		ObjectKey:  "uploads/story-3/source",
	})

	srv := newTestServer(t, &fakeQueue{}, storyStore, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories/story-3", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var st domain.Story
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode story: %v", err)
	}
	if st.ID != "story-3" || st.Layout != string(story.LayoutBlurPadFit) {
		t.Fatalf("unexpected story in response: %+v", st)
	}
}

func TestDownloadStory_NotReadyConflicts(t *testing.T) {
	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-4",
		Status:     domain.StoryStatusProcessing,
		SourceType: domain.SourceTypeS3Presigned,
		Layout:     string(story.LayoutCropFill),
		ObjectKey:  "uploads/story-4/source",
	})

	srv := newTestServer(t, &fakeQueue{}, storyStore, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories/story-4/download", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestDownloadStory_ReturnsPresignedURL(t *testing.T) {
	storyStore := store.NewMemoryStoryStore()
	seedStory(t, storyStore, domain.Story{
		ID:         "story-5",
		Status:     domain.StoryStatusSucceeded,
		SourceType: domain.SourceTypeS3Presigned,
		Layout:     string(story.LayoutCropFill),
		ObjectKey:  "uploads/story-5/source",
		OutputKey:  "outputs/story-5/story_20240305_090702.jpg",
		Filename:   "story_20240305_090702.jpg",
	})

	storage := &fakeStorage{getURL: "https://minio.local/download"}
	srv := newTestServer(t, &fakeQueue{}, storyStore, storage)

	req := httptest.NewRequest(http.MethodGet, "/v1/stories/story-5/download", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if storage.lastGetKey != "outputs/story-5/story_20240305_090702.jpg" {
		t.Fatalf("expected output key passed to storage, got %s", storage.lastGetKey)
	}
	if storage.lastGetFilename != "story_20240305_090702.jpg" {
		t.Fatalf("expected filename passed to storage, got %s", storage.lastGetFilename)
	}
	if !strings.Contains(rec.Body.String(), "https://minio.local/download") {
		t.Fatalf("expected download url in response, got %s", rec.Body.String())
	}
}

func TestRateLimit_ConvertDrawsWeightedCost(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 60, Remaining: 2, RetryAfter: 3 * time.Second}}
	srv := NewServer(log.New(io.Discard, "", 0), &fakeQueue{}, store.NewMemoryStoryStore(), nil, limiter, "", time.Minute)

	body, contentType := multipartImageBody(t, "input.jpg", "image/jpeg", []byte("ignored"))
	req := httptest.NewRequest(http.MethodPost, "/v1/convert", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if limiter.lastCost != convertRequestCost {
		t.Fatalf("expected convert cost %d, got %d", convertRequestCost, limiter.lastCost)
	}
	if !strings.HasPrefix(limiter.lastSubject, "user-1:") {
		t.Fatalf("expected subject keyed by user, got %q", limiter.lastSubject)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Fatalf("expected limit header 60, got %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After 3, got %q", got)
	}
}

func TestRateLimit_StoryMutationCostsOne(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 60, Remaining: 59}}
	srv := NewServer(log.New(io.Discard, "", 0), &fakeQueue{}, store.NewMemoryStoryStore(), nil, limiter, "", time.Minute)

	body := strings.NewReader(`{"source_type":"local_file","object_key":"/tmp/in.png","layout":"crop_fill"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", body)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if limiter.lastCost != 1 {
		t.Fatalf("expected unit cost for story creation, got %d", limiter.lastCost)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func newTestServer(t *testing.T, q queueEnqueuer, storyStore store.StoryStore, storage ObjectStorage) *Server {
	t.Helper()
	return NewServer(log.New(io.Discard, "", 0), q, storyStore, storage, nil, "", time.Minute)
}

type fakeLimiter struct {
	lastSubject string
	lastCost    int64
	decision    ratelimit.Decision
}

func (f *fakeLimiter) AllowN(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	f.lastSubject = subject
	f.lastCost = cost
	return f.decision, nil
}

func seedStory(t *testing.T, storyStore store.StoryStore, st domain.Story) {
	t.Helper()
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	if err := storyStore.Create(context.Background(), st); err != nil {
		t.Fatalf("seed story: %v", err)
	}
}

type conversionFailure struct {
	Success bool `json:"success"`
	Error   struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) conversionFailure {
	t.Helper()
	var failure conversionFailure
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode failure response: %v", err)
	}
	return failure
}

// multipartImageBody builds a multipart body whose file part declares the
// given content type, which is what the converter validates.
func multipartImageBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write multipart part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func buildJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

type fakeQueue struct {
	payloads []queue.RenderStoryPayload
	err      error
}

func (f *fakeQueue) EnqueueRenderStory(_ context.Context, payload queue.RenderStoryPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{
		ID:            "task-1",
		Queue:         "default",
		Type:          queue.TypeRenderStory,
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeStorage struct {
	putURL          string
	getURL          string
	exists          bool
	lastGetKey      string
	lastGetFilename string
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return f.putURL, nil
}

func (f *fakeStorage) PresignedGetURL(_ context.Context, objectKey, filename string, _ time.Duration) (string, error) {
	f.lastGetKey = objectKey
	f.lastGetFilename = filename
	return f.getURL, nil
}

func (f *fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}
