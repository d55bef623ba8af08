// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package logexporter writes engine events into a hclog logger.
package logexporter

import (
	"github.com/hashicorp/go-hclog"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
)

type Exporter struct {
	logger hclog.Logger
	level  hclog.Level
}

var _ exporter.EventExporter = &Exporter{}

// New creates an exporter logging on level. A nil logger uses the default one named "event-exporter".
func New(logger hclog.Logger, level hclog.Level) *Exporter {
	if logger == nil {
		logger = hclog.Default().Named("event-exporter")
	}
	return &Exporter{
		logger: logger,
		level:  level,
	}
}

func (e *Exporter) NewProcessEvent(event *exporter.ProcessEvent) {
	e.logger.Log(e.level, "process deployed",
		"processId", event.ProcessId,
		"processKey", event.ProcessKey,
		"version", event.Version,
		"tenantId", event.TenantId,
		"resource", event.ResourceName,
		"checksum", event.Checksum,
	)
}

func (e *Exporter) EndProcessEvent(event *exporter.ProcessInstanceEvent) {
	e.logger.Log(e.level, "process instance ended", instanceArgs(event)...)
}

func (e *Exporter) NewProcessInstanceEvent(event *exporter.ProcessInstanceEvent) {
	e.logger.Log(e.level, "process instance created", instanceArgs(event)...)
}

func (e *Exporter) NewElementEvent(event *exporter.ProcessInstanceEvent, elementInfo *exporter.ElementInfo) {
	args := append(instanceArgs(event),
		"elementId", elementInfo.ElementId,
		"elementType", elementInfo.BpmnElementType,
		"executionKey", elementInfo.ExecutionKey,
		"elementIntent", elementInfo.Intent,
	)
	e.logger.Log(e.level, "element event", args...)
}

func (e *Exporter) NewVariableEvent(event *exporter.ProcessInstanceEvent, variable *exporter.VariableInfo) {
	args := append(instanceArgs(event),
		"executionKey", variable.ExecutionKey,
		"name", variable.Name,
		"value", variable.Value,
	)
	e.logger.Log(e.level, "variable updated", args...)
}

func instanceArgs(event *exporter.ProcessInstanceEvent) []interface{} {
	return []interface{}{
		"processId", event.ProcessId,
		"processKey", event.ProcessKey,
		"version", event.Version,
		"tenantId", event.TenantId,
		"processInstanceKey", event.ProcessInstanceKey,
		"intent", event.Intent,
	}
}
