package api

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", r.URL.Path),
		)

		tap := &statusTap{ResponseWriter: w}
		next.ServeHTTP(tap, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", tap.Status()))
		if tap.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(tap.Status()))
		}
	})
}
