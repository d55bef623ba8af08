// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/script"
	"github.com/pvmflow/pvm/pkg/storage"
)

func EngineWithExporter(exporter exporter.EventExporter) EngineOption {
	return func(engine *Engine) { engine.AddEventExporter(exporter) }
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// EngineWithNodeId sets the snowflake node id, engines sharing one storage need distinct ids.
func EngineWithNodeId(nodeId int64) EngineOption {
	return func(engine *Engine) {
		engine.nodeId = &nodeId
	}
}

func EngineWithHistoryLevel(level HistoryLevel) EngineOption {
	return func(engine *Engine) {
		engine.historyLevel = level
	}
}

// EngineWithJobRetries sets the number of attempts a new job gets before it becomes a dead letter.
func EngineWithJobRetries(retries int) EngineOption {
	return func(engine *Engine) {
		engine.jobRetries = retries
	}
}

// EngineWithRetryWait sets the delay before a failed job is due again.
func EngineWithRetryWait(wait time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.retryWait = wait
	}
}

// EngineWithClock replaces time.Now, tests use it to move timers.
func EngineWithClock(clock func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.clock = clock
	}
}

func EngineWithDefinitionCacheSize(size int) EngineOption {
	return func(engine *Engine) {
		engine.cacheSize = size
	}
}

func EngineWithVmPoolSize(max int, min int) EngineOption {
	return func(engine *Engine) {
		engine.maxVmPoolSize = max
		engine.minVmPoolSize = min
	}
}

func EngineWithJsRuntime(runtime script.JsRuntime) EngineOption {
	return func(engine *Engine) {
		engine.jsRuntime = runtime
	}
}

func EngineWithFeelRuntime(runtime script.FeelRuntime) EngineOption {
	return func(engine *Engine) {
		engine.feelRuntime = runtime
	}
}

func EngineWithJobListener(listener JobListener) EngineOption {
	return func(engine *Engine) {
		engine.jobListener = listener
	}
}
