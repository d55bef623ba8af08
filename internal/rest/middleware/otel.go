// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pvmflow/pvm/internal/config"
	otelint "github.com/pvmflow/pvm/internal/otel"
)

// statusRecorder remembers the status and the size of the response
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Opentelemetry traces requests through otelhttp and records the API metrics.
// Spans are renamed to the matched chi route once the request is served.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	transferHeaders := conf.Tracing.TransferHeaders
	return func(next http.Handler) http.Handler {
		routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			if len(transferHeaders) > 0 {
				span.SetAttributes(transferHeaderAttributes(r, transferHeaders)...)
				r = r.WithContext(withTransferHeaders(r.Context(), r, transferHeaders))
			}
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			recordMetrics(r, route, rec, start)
		})
		return otelhttp.NewHandler(routed, "request")
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

func recordMetrics(r *http.Request, route string, rec *statusRecorder, start time.Time) {
	ctx := r.Context()
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("method", r.Method),
		attribute.Int("status", rec.status),
	)
	otelint.Api.Requests.Add(ctx, 1, attrs)
	if r.ContentLength > 0 {
		otelint.Api.RequestBodySize.Add(ctx, r.ContentLength, attrs)
	}
	if rec.written > 0 {
		otelint.Api.ResponseSize.Add(ctx, rec.written, attrs)
	}
	otelint.Api.Duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
}

func withTransferHeaders(ctx context.Context, r *http.Request, transferHeaders []string) context.Context {
	for _, header := range transferHeaders {
		ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), r.Header.Get(header))
	}
	return ctx
}

func transferHeaderAttributes(r *http.Request, transferHeaders []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, 0, len(transferHeaders))
	for _, header := range transferHeaders {
		attributes = append(attributes, attribute.String(header, r.Header.Get(header)))
	}
	return attributes
}
