package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.statusCode = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// HTTPMiddleware returns chi-style middleware opening a server span per request
// and, when red is non-nil, recording RED metrics under op "METHOD /route".
// Routes are named after the chi pattern ("/api/expressions/{name}") once the
// router has matched, so metric cardinality stays bounded.
func HTTPMiddleware(tracer trace.Tracer, red *REDMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
			start := time.Now()

			parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

			ctx, span := tracer.Start(parentCtx, hr.Method+" "+hr.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(hr.Method),
					attribute.String("http.target", hr.URL.Path),
				),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: rw, statusCode: http.StatusOK}
			next.ServeHTTP(sw, hr.WithContext(ctx))

			op := hr.Method + " " + routePattern(hr)
			span.SetName(op)
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(sw.statusCode),
				attribute.String("http.route", routePattern(hr)),
			)

			status := StatusOK
			if sw.statusCode >= http.StatusInternalServerError {
				status = StatusError

				span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
			}

			if red != nil {
				red.RecordRequest(ctx, op, status, time.Since(start))
			}
		})
	}
}

// routePattern returns the matched chi route, or "unmatched" outside a router
// or for a 404.
func routePattern(hr *http.Request) string {
	rctx := chi.RouteContext(hr.Context())
	if rctx == nil {
		return "unmatched"
	}

	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}

	return "unmatched"
}
