// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package bpmn implements the process virtual machine. Tokens (executions) walk a parsed BPMN graph,
// every public operation runs as a command which flushes its changes in a single storage batch.
package bpmn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	otelPkg "github.com/pvmflow/pvm/pkg/otel"
	"github.com/pvmflow/pvm/pkg/script"
	"github.com/pvmflow/pvm/pkg/script/feel"
	"github.com/pvmflow/pvm/pkg/script/js"
	"github.com/pvmflow/pvm/pkg/storage"
)

const (
	defaultJobRetries          = 3
	defaultRetryWait           = 10 * time.Second
	defaultDefinitionCacheSize = 256
	defaultMaxVmPoolSize       = 32
	defaultMinVmPoolSize       = 2
)

// JobListener is notified after a command flushed new or removed jobs.
// The async job executor implements it to pick up due jobs without waiting for the next poll.
type JobListener interface {
	JobScheduled(job runtime.Job)
	JobCancelled(jobKey int64)
}

type Engine struct {
	name             string
	ctx              context.Context
	cancel           context.CancelFunc
	logger           hclog.Logger
	persistence      storage.Storage
	snowflake        *snowflake.Node
	nodeId           *int64
	exporters        []exporter.EventExporter
	taskHandlers     []*taskHandler
	taskHandlersMu   *sync.RWMutex
	runningInstances *RunningInstancesCache
	definitions      *lru.Cache[int64, *processDefinitionInfo]
	deployMu         *sync.Mutex
	jsRuntime        script.JsRuntime
	feelRuntime      script.FeelRuntime
	historyLevel     HistoryLevel
	jobRetries       int
	retryWait        time.Duration
	clock            func() time.Time
	jobListener      JobListener
	tracer           trace.Tracer
	metrics          *otelPkg.EngineMetrics
	cacheSize        int
	maxVmPoolSize    int
	minVmPoolSize    int
}

type EngineOption = func(*Engine)

// NewEngine creates a new instance of the BPMN Engine.
// Storage is required, everything else has defaults.
func NewEngine(options ...EngineOption) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := Engine{
		ctx:              ctx,
		cancel:           cancel,
		logger:           hclog.Default().Named("engine"),
		taskHandlers:     []*taskHandler{},
		taskHandlersMu:   &sync.RWMutex{},
		exporters:        []exporter.EventExporter{},
		runningInstances: newRunningInstancesCache(),
		deployMu:         &sync.Mutex{},
		historyLevel:     HistoryLevelAudit,
		jobRetries:       defaultJobRetries,
		retryWait:        defaultRetryWait,
		clock:            time.Now,
		cacheSize:        defaultDefinitionCacheSize,
		maxVmPoolSize:    defaultMaxVmPoolSize,
		minVmPoolSize:    defaultMinVmPoolSize,
	}

	for _, option := range options {
		option(&engine)
	}

	if engine.persistence == nil {
		cancel()
		return nil, newEngineErrorf("engine requires storage, use EngineWithStorage")
	}
	var err error
	if engine.nodeId != nil {
		engine.snowflake, err = createSnowflakeNode(*engine.nodeId)
	} else {
		engine.snowflake, err = createSnowflakeIdGenerator()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}
	if engine.name == "" {
		engine.name = fmt.Sprintf("Bpmn-Engine-%d", engine.generateKey())
	}
	engine.definitions, err = lru.New[int64, *processDefinitionInfo](engine.cacheSize)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create definition cache: %w", err)
	}
	if engine.jsRuntime == nil {
		engine.jsRuntime, err = js.NewJsRuntime(ctx, engine.maxVmPoolSize, engine.minVmPoolSize)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create javascript runtime: %w", err)
		}
	}
	if engine.feelRuntime == nil {
		engine.feelRuntime = feel.NewFeelRuntime()
	}
	engine.tracer = otel.GetTracerProvider().Tracer(engine.name)
	engine.metrics, err = otelPkg.NewMetrics(otel.GetMeterProvider().Meter(engine.name))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	return &engine, nil
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

// SetJobListener registers the listener notified about flushed jobs, usually the job executor.
func (engine *Engine) SetJobListener(listener JobListener) {
	engine.jobListener = listener
}

// Stop releases the script runtimes of the engine.
func (engine *Engine) Stop() {
	engine.cancel()
}

func (engine *Engine) now() time.Time {
	return engine.clock().Truncate(time.Millisecond)
}
