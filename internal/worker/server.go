package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ookuma-s/instagram-story-image/internal/config"
	"github.com/ookuma-s/instagram-story-image/internal/domain"
	"github.com/ookuma-s/instagram-story-image/internal/pipeline"
	"github.com/ookuma-s/instagram-story-image/internal/queue"
	"github.com/ookuma-s/instagram-story-image/internal/storage"
	"github.com/ookuma-s/instagram-story-image/internal/store"
	"github.com/ookuma-s/instagram-story-image/internal/story"
	"github.com/ookuma-s/instagram-story-image/internal/webhook"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	storyStore      store.StoryStore
	logStore        store.ConversionLogStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, evt webhook.Event) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	storyStore store.StoryStore,
	logStore store.ConversionLogStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	if logStore == nil {
		if combined, ok := storyStore.(store.ConversionLogStore); ok {
			logStore = combined
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					attempt, _ := asynq.GetRetryCount(ctx)
					limit, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task error type=%s attempt=%d/%d err=%v", task.Type(), attempt, limit, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveRenders)),
		localProcessor:  pipeline.NewLocalProcessor(workerCfg.LocalOutputDir),
		objectProcessor: pipeline.NewObjectStoreProcessor(storageClient, "outputs"),
		storyStore:      storyStore,
		logStore:        logStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("story/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderStory, s.handleRenderStory)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderStory(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.StoryStatusFailed

	payload, err := queue.ParseRenderStoryPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_story", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("story.id", payload.StoryID),
		attribute.String("story.source_type", payload.SourceType),
		attribute.String("story.layout", payload.Layout),
	)
	defer span.End()
	defer func() {
		s.metrics.renderDuration.WithLabelValues(payload.Layout, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.rendersTotal.WithLabelValues(payload.Layout, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeRenders.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRenders.Dec()
	}()

	s.logger.Printf(
		"Rendering... story_id=%s layout=%s source_type=%s object_key=%s",
		payload.StoryID,
		payload.Layout,
		payload.SourceType,
		payload.ObjectKey,
	)

	s.updateStoryStatus(ctx, payload.StoryID, domain.StoryStatusProcessing)

	mode, err := story.ParseLayout(payload.Layout)
	if err != nil {
		s.failStory(ctx, span, payload, err)
		return fmt.Errorf("parse layout: %v: %w", err, asynq.SkipRetry)
	}

	request := pipeline.Request{
		StoryID:    payload.StoryID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Layout:     mode,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		s.failStory(ctx, span, payload, err)

		var cerr *story.ConversionError
		if errors.As(err, &cerr) {
			// Bad input never renders on retry.
			return fmt.Errorf("render story: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("render story: %w", err)
	}

	s.logger.Printf("Rendered story_id=%s output=%s bytes=%d", payload.StoryID, result.Output.Path, result.Output.Bytes)
	s.markStorySucceeded(ctx, payload.StoryID, result.Output.Path, result.Output.Filename)
	s.recordConversionLog(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.Event{
		Event:       webhook.EventStorySucceeded,
		StoryID:     payload.StoryID,
		Status:      domain.StoryStatusSucceeded,
		Layout:      payload.Layout,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		RequestedAt: payload.RequestedAt,
		Output: &webhook.Output{
			Path:     result.Output.Path,
			Filename: result.Output.Filename,
			Bytes:    result.Output.Bytes,
			Width:    result.Output.Width,
			Height:   result.Output.Height,
		},
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.StoryStatusSucceeded
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

func (s *Server) failStory(ctx context.Context, span trace.Span, payload queue.RenderStoryPayload, err error) {
	errorType, errorMessage := classifyFailure(err)
	s.markStoryFailed(ctx, payload.StoryID, errorType, errorMessage)
	span.RecordError(err)
	span.SetStatus(codes.Error, "render failed")

	_ = s.dispatchWebhook(ctx, payload, webhook.Event{
		Event:       webhook.EventStoryFailed,
		StoryID:     payload.StoryID,
		Status:      domain.StoryStatusFailed,
		Layout:      payload.Layout,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		RequestedAt: payload.RequestedAt,
		Error: &webhook.Failure{
			Type:    errorType,
			Message: errorMessage,
		},
	})
}

// classifyFailure reduces a render error to the stored error type and the
// user-facing message. Anything that is not a conversion error is reported
// as CONVERSION_FAILED.
func classifyFailure(err error) (string, string) {
	var cerr *story.ConversionError
	if errors.As(err, &cerr) {
		return string(cerr.Type), cerr.Message()
	}
	return string(story.ErrorConversionFailed), story.UserMessage(err)
}

func (s *Server) updateStoryStatus(ctx context.Context, storyID, status string) {
	if s.storyStore == nil {
		return
	}
	if _, err := s.storyStore.UpdateStatus(ctx, storyID, status); err != nil {
		s.logger.Printf("story status update failed story_id=%s status=%s err=%v", storyID, status, err)
	}
}

func (s *Server) markStorySucceeded(ctx context.Context, storyID, outputKey, filename string) {
	if s.storyStore == nil {
		return
	}
	if _, err := s.storyStore.MarkSucceeded(ctx, storyID, outputKey, filename); err != nil {
		s.logger.Printf("story success update failed story_id=%s err=%v", storyID, err)
	}
}

func (s *Server) markStoryFailed(ctx context.Context, storyID, errorType, errorMessage string) {
	if s.storyStore == nil {
		return
	}
	if _, err := s.storyStore.MarkFailed(ctx, storyID, errorType, errorMessage); err != nil {
		s.logger.Printf("story failure update failed story_id=%s err=%v", storyID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderStoryPayload, evt webhook.Event) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, evt); err != nil {
		s.logger.Printf("webhook delivery failed story_id=%s event=%s err=%v", payload.StoryID, evt.Event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordConversionLog(ctx context.Context, payload queue.RenderStoryPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.logStore == nil {
		return
	}

	userID := "anonymous"
	if s.storyStore != nil {
		st, ok, err := s.storyStore.Get(ctx, payload.StoryID)
		if err != nil {
			s.logger.Printf("conversion log lookup failed story_id=%s err=%v", payload.StoryID, err)
		} else if ok && strings.TrimSpace(st.UserID) != "" {
			userID = st.UserID
		}
	}

	pixelsProcessed := int64(result.SrcWidth) * int64(result.SrcHeight)
	bytesOut := int64(result.Output.Bytes)

	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	entry := domain.ConversionLog{
		UserID:          userID,
		StoryID:         payload.StoryID,
		Layout:          payload.Layout,
		PixelsProcessed: pixelsProcessed,
		BytesIn:         result.BytesIn,
		BytesOut:        bytesOut,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.logStore.CreateConversionLog(ctx, entry); err != nil {
		s.logger.Printf("conversion log write failed story_id=%s err=%v", payload.StoryID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesInTotal.Add(float64(result.BytesIn))
	s.metrics.bytesOutTotal.Add(float64(bytesOut))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

