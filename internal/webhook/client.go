package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Story-Signature"
	HeaderTimestamp = "X-Story-Timestamp"
	HeaderEvent     = "X-Story-Event"

	EventStorySucceeded = "story.succeeded"
	EventStoryFailed    = "story.failed"
)

// Event is the JSON body delivered to a story's webhook endpoint. Output is
// set on story.succeeded, Error on story.failed.
type Event struct {
	Event       string    `json:"event"`
	StoryID     string    `json:"story_id"`
	Status      string    `json:"status"`
	Layout      string    `json:"layout"`
	SourceType  string    `json:"source_type"`
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
	OccurredAt  time.Time `json:"occurred_at"`
	Output      *Output   `json:"output,omitempty"`
	Error       *Failure  `json:"error,omitempty"`
}

type Output struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Bytes    int    `json:"bytes"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

type Client struct {
	http   *http.Client
	secret string
	cfg    Config
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		secret: cfg.SigningSecret,
		cfg:    cfg,
	}
}

// Send delivers one event, retrying failed attempts with doubling backoff.
// The body is signed once; all attempts carry the same timestamp and
// signature so the receiver can deduplicate replays.
func (c *Client) Send(ctx context.Context, endpoint string, evt Event) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return fmt.Errorf("invalid webhook endpoint: %w", err)
	}

	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := c.sign(timestamp, body)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffFor(attempt)):
			}
		}

		lastErr = c.post(ctx, endpoint, evt.Event, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// backoffFor doubles the base delay per completed attempt, capped by config.
func (c *Client) backoffFor(attempt int) time.Duration {
	delay := c.cfg.InitialBackoff << (attempt - 2)
	if delay <= 0 || delay > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return delay
}

func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
