package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ookuma-s/instagram-story-image/internal/ratelimit"
)

// convertRequestCost weights a synchronous conversion against the per-user
// budget. Rendering inline holds a CPU for the whole request, unlike the
// enqueue-only story endpoints.
const convertRequestCost = 5

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := s.limitSubject(r)
		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r))
		if err != nil {
			// Fail open on limiter errors.
			s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			s.rejectRateLimited(w, r, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limitSubject scopes the bucket to the calling user and the route shape.
func (s *Server) limitSubject(r *http.Request) string {
	user := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	if user == "" {
		user = "anonymous"
	}
	return user + ":" + routeLabel(r.URL.Path)
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request, decision ratelimit.Decision) {
	wait := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(wait))
	s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
}

func shouldRateLimit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/stories") || strings.HasPrefix(r.URL.Path, "/v1/convert")
}

func requestCost(r *http.Request) int64 {
	if strings.HasPrefix(r.URL.Path, "/v1/convert") {
		return convertRequestCost
	}
	return 1
}
