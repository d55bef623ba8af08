// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pvmflow/pvm/internal/config"
	"github.com/pvmflow/pvm/internal/log"
	"github.com/pvmflow/pvm/internal/otel"
	"github.com/pvmflow/pvm/internal/profile"
	"github.com/pvmflow/pvm/internal/rest"
	"github.com/pvmflow/pvm/pkg/bpmn"
	"github.com/pvmflow/pvm/pkg/bpmn/exporter/logexporter"
	"github.com/pvmflow/pvm/pkg/jobexecutor"
	"github.com/pvmflow/pvm/pkg/storage"
	"github.com/pvmflow/pvm/pkg/storage/inmemory"
	"github.com/pvmflow/pvm/pkg/storage/sqlstore"
)

// jobExecutor is implemented by both the single and the multi tenant executor
type jobExecutor interface {
	bpmn.JobListener
	Start()
	Stop(ctx context.Context) error
}

func main() {
	profile.InitProfile()
	log.Init()
	defer log.Sync()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Tracing)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	persistence, closeStorage, err := openStorage(appContext, conf.Storage)
	if err != nil {
		log.Error("Failed to open storage: %s", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       conf.Name,
		Level:      hclog.LevelFromString(os.Getenv("LOG_LEVEL")),
		JSONFormat: profile.Current.JSONLogs(),
	})
	engine, err := newEngine(conf, persistence, logger)
	if err != nil {
		log.Error("Failed to create engine: %s", err)
		os.Exit(1)
	}

	var executor jobExecutor
	if conf.Executor.Enabled {
		executor = newJobExecutor(conf, engine, persistence, logger)
		engine.SetJobListener(executor)
		executor.Start()
	}

	// Start the operational API
	svr := rest.NewServer(engine, conf)
	svr.Start()

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	svr.Stop(stopCtx)
	if executor != nil {
		if err := executor.Stop(stopCtx); err != nil {
			log.Error("failed to properly stop job executor: %s", err)
		}
	}
	engine.Stop()
	if err := closeStorage(); err != nil {
		log.Error("failed to close storage: %s", err)
	}
	openTelemetry.Stop(stopCtx)
}

func openStorage(ctx context.Context, conf config.Storage) (storage.Storage, func() error, error) {
	switch conf.Driver {
	case config.StorageDriverSqlite:
		store, err := sqlstore.Open(ctx, conf.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Infof(ctx, "Using sqlite storage %s", conf.Path)
		return store, store.Close, nil
	case config.StorageDriverMemory:
		log.Infof(ctx, "Using in-memory storage, state is lost on shutdown")
		return inmemory.NewStorage(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", conf.Driver)
}

func newEngine(conf config.Config, persistence storage.Storage, logger hclog.Logger) (*bpmn.Engine, error) {
	historyLevel, err := bpmn.ParseHistoryLevel(conf.Engine.HistoryLevel)
	if err != nil {
		return nil, err
	}
	return bpmn.NewEngine(
		bpmn.EngineWithName(conf.Name),
		bpmn.EngineWithStorage(persistence),
		bpmn.EngineWithLogger(logger),
		bpmn.EngineWithNodeId(conf.Engine.NodeId),
		bpmn.EngineWithHistoryLevel(historyLevel),
		bpmn.EngineWithJobRetries(conf.Engine.JobRetries),
		bpmn.EngineWithRetryWait(conf.Engine.RetryWait),
		bpmn.EngineWithDefinitionCacheSize(conf.Engine.DefinitionCacheSize),
		bpmn.EngineWithExporter(logexporter.New(logger.Named("events"), hclog.Debug)),
	)
}

func newJobExecutor(conf config.Config, engine *bpmn.Engine, store jobexecutor.JobStore, logger hclog.Logger) jobExecutor {
	cfg := jobexecutor.Config{
		Workers:               conf.Executor.Workers,
		AcquisitionInterval:   conf.Executor.AcquisitionInterval,
		LockTime:              conf.Executor.LockTime,
		MaxJobsPerAcquisition: conf.Executor.MaxJobsPerAcquisition,
	}
	if len(conf.Tenants) > 0 {
		return jobexecutor.NewMultiTenantExecutor(engine, store, jobexecutor.StaticTenants(conf.Tenants), cfg, logger)
	}
	return jobexecutor.NewExecutor(engine, store, cfg, logger)
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
