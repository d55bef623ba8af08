// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// AddEventExporter registers an EventExporter instance
func (engine *Engine) AddEventExporter(exporter exporter.EventExporter) {
	engine.exporters = append(engine.exporters, exporter)
}

// instanceEvent describes the instance in every exported event, events are delivered after the flush
func (cc *commandContext) instanceEvent(li *loadedInstance, intent exporter.Intent) exporter.ProcessInstanceEvent {
	return exporter.ProcessInstanceEvent{
		ProcessId:          li.definition.definition.BpmnProcessId,
		ProcessKey:         li.definition.definition.Key,
		Version:            li.definition.definition.Version,
		TenantId:           li.instance.TenantId,
		ProcessInstanceKey: li.instance.Key,
		Intent:             intent,
		Timestamp:          cc.now,
	}
}

func (cc *commandContext) exportProcessInstanceEvent(li *loadedInstance) {
	if len(cc.engine.exporters) == 0 {
		return
	}
	event := cc.instanceEvent(li, exporter.Created)
	cc.addPostFlushAction(func() {
		for _, exp := range cc.engine.exporters {
			exp.NewProcessInstanceEvent(&event)
		}
	})
}

func (cc *commandContext) exportEndProcessEvent(li *loadedInstance, intent exporter.Intent) {
	if len(cc.engine.exporters) == 0 {
		return
	}
	event := cc.instanceEvent(li, intent)
	cc.addPostFlushAction(func() {
		for _, exp := range cc.engine.exporters {
			exp.EndProcessEvent(&event)
		}
	})
}

func (cc *commandContext) exportElementEvent(e *runtime.Execution, elementId string, elementType string, intent exporter.Intent) {
	if len(cc.engine.exporters) == 0 {
		return
	}
	li := cc.instanceOf(e)
	event := cc.instanceEvent(li, intent)
	info := exporter.ElementInfo{
		BpmnElementType: elementType,
		ElementId:       elementId,
		ExecutionKey:    e.Key,
		Intent:          intent,
	}
	cc.addPostFlushAction(func() {
		for _, exp := range cc.engine.exporters {
			exp.NewElementEvent(&event, &info)
		}
	})
}

func (cc *commandContext) exportVariableEvent(e *runtime.Execution, name string, value any) {
	if len(cc.engine.exporters) == 0 {
		return
	}
	li := cc.instanceOf(e)
	event := cc.instanceEvent(li, exporter.Created)
	info := exporter.VariableInfo{
		ExecutionKey: e.Key,
		Name:         name,
		Value:        value,
	}
	cc.addPostFlushAction(func() {
		for _, exp := range cc.engine.exporters {
			exp.NewVariableEvent(&event, &info)
		}
	})
}
