package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ookuma-s/instagram-story-image/internal/domain"
	_ "github.com/lib/pq"
)

const storySchemaSQL = `
CREATE TABLE IF NOT EXISTS stories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	layout TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const conversionLogSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversion_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	story_id TEXT NOT NULL,
	layout TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_in BIGINT NOT NULL,
	bytes_out BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresStoryStore struct {
	db *sql.DB
}

func NewPostgresStoryStore(ctx context.Context, dsn string) (*PostgresStoryStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStoryStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, storySchemaSQL); err != nil {
		return fmt.Errorf("ensure stories schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, conversionLogSchemaSQL); err != nil {
		return fmt.Errorf("ensure conversion_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresStoryStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStoryStore) Create(ctx context.Context, st domain.Story) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stories (id, user_id, status, source_type, layout, webhook_url, object_key, output_key, filename, error_type, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		st.ID,
		st.UserID,
		st.Status,
		st.SourceType,
		st.Layout,
		st.WebhookURL,
		st.ObjectKey,
		st.OutputKey,
		st.Filename,
		st.ErrorType,
		st.ErrorMessage,
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}

	return nil
}

func (s *PostgresStoryStore) Get(ctx context.Context, id string) (domain.Story, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, status, source_type, layout, webhook_url, object_key, output_key, filename, error_type, error_message, created_at, updated_at
		 FROM stories
		 WHERE id = $1`,
		id,
	)

	var st domain.Story
	if err := row.Scan(
		&st.ID,
		&st.UserID,
		&st.Status,
		&st.SourceType,
		&st.Layout,
		&st.WebhookURL,
		&st.ObjectKey,
		&st.OutputKey,
		&st.Filename,
		&st.ErrorType,
		&st.ErrorMessage,
		&st.CreatedAt,
		&st.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Story{}, false, nil
		}
		return domain.Story{}, false, fmt.Errorf("query story: %w", err)
	}

	return st, true, nil
}

func (s *PostgresStoryStore) UpdateStatus(ctx context.Context, id, status string) (domain.Story, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE stories
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Story{}, fmt.Errorf("update story status: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresStoryStore) MarkSucceeded(ctx context.Context, id, outputKey, filename string) (domain.Story, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE stories
		 SET status = $1, output_key = $2, filename = $3, error_type = '', error_message = '', updated_at = $4
		 WHERE id = $5`,
		domain.StoryStatusSucceeded,
		outputKey,
		filename,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Story{}, fmt.Errorf("mark story succeeded: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresStoryStore) MarkFailed(ctx context.Context, id, errorType, errorMessage string) (domain.Story, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE stories
		 SET status = $1, error_type = $2, error_message = $3, updated_at = $4
		 WHERE id = $5`,
		domain.StoryStatusFailed,
		errorType,
		errorMessage,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Story{}, fmt.Errorf("mark story failed: %w", err)
	}

	return s.mustGet(ctx, id)
}

func (s *PostgresStoryStore) CreateConversionLog(ctx context.Context, entry domain.ConversionLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversion_logs (user_id, story_id, layout, pixels_processed, bytes_in, bytes_out, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID,
		entry.StoryID,
		entry.Layout,
		entry.PixelsProcessed,
		entry.BytesIn,
		entry.BytesOut,
		entry.ComputeTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion log: %w", err)
	}

	return nil
}

func (s *PostgresStoryStore) mustGet(ctx context.Context, id string) (domain.Story, error) {
	st, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Story{}, err
	}
	if !ok {
		return domain.Story{}, ErrStoryNotFound
	}
	return st, nil
}
