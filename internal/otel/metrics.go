// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metrics "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/pvmflow/pvm/internal/config"
)

const apiMeter = "pvm-api"

// ApiMetrics are recorded by the REST middleware for every request
type ApiMetrics struct {
	Requests        metrics.Int64Counter
	RequestBodySize metrics.Int64Counter
	ResponseSize    metrics.Int64Counter
	Duration        metrics.Float64Histogram
}

// Api records nothing until SetupOtel installs the prometheus backed provider
var Api = mustApiMetrics(noop.NewMeterProvider().Meter(apiMeter))

type Otel struct {
	meterProvider  *metric.MeterProvider
	tracerprovider *trace.TracerProvider
}

// SetupOtel installs the global meter provider backed by the prometheus exporter
// and, when tracing is enabled, the OTLP trace provider.
func SetupOtel(conf config.Tracing) (*Otel, error) {
	res, err := newResource(conf.Name)
	if err != nil {
		return nil, err
	}
	o := Otel{}
	o.meterProvider, err = setupMeterProvider(res)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	if !conf.Enabled {
		return &o, nil
	}
	o.tracerprovider, err = setupTraceProvider(conf, res)
	if err != nil {
		_ = o.meterProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to set up tracer: %w", err)
	}
	otel.SetTracerProvider(o.tracerprovider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &o, nil
}

// Stop flushes pending spans and shuts both providers down
func (o *Otel) Stop(ctx context.Context) {
	if o.tracerprovider != nil {
		_ = o.tracerprovider.Shutdown(ctx)
		o.tracerprovider = nil
	}
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
		o.meterProvider = nil
	}
}

func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		attribute.String("library.language", "go"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}
	return res, nil
}

func setupMeterProvider(res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	api, err := newApiMetrics(meterProvider.Meter(apiMeter))
	if err != nil {
		return nil, err
	}
	Api = api
	return meterProvider, nil
}

func newApiMetrics(meter metrics.Meter) (*ApiMetrics, error) {
	var m ApiMetrics
	var err, errJoin error
	m.Requests, err = meter.Int64Counter("pvm_api_requests_total",
		metrics.WithDescription("Requests served by the operational API"))
	errJoin = errors.Join(errJoin, err)
	m.RequestBodySize, err = meter.Int64Counter("pvm_api_request_body_bytes",
		metrics.WithUnit("By"), metrics.WithDescription("Request body bytes received"))
	errJoin = errors.Join(errJoin, err)
	m.ResponseSize, err = meter.Int64Counter("pvm_api_response_body_bytes",
		metrics.WithUnit("By"), metrics.WithDescription("Response body bytes sent"))
	errJoin = errors.Join(errJoin, err)
	m.Duration, err = meter.Float64Histogram("pvm_api_request_duration",
		metrics.WithUnit("ms"), metrics.WithDescription("Time spent serving a request"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return nil, fmt.Errorf("failed to create api instruments: %w", errJoin)
	}
	return &m, nil
}

func mustApiMetrics(meter metrics.Meter) *ApiMetrics {
	m, err := newApiMetrics(meter)
	if err != nil {
		panic(err)
	}
	return m
}
