// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package exporter

import "time"

// EventExporter receives engine events after the command producing them was flushed.
// Implementations must not block, they are called on the goroutine running the command.
type EventExporter interface {
	NewProcessEvent(event *ProcessEvent)
	EndProcessEvent(event *ProcessInstanceEvent)
	NewProcessInstanceEvent(event *ProcessInstanceEvent)
	NewElementEvent(event *ProcessInstanceEvent, elementInfo *ElementInfo)
	NewVariableEvent(event *ProcessInstanceEvent, variable *VariableInfo)
}

type Intent string

const (
	ElementActivated  Intent = "ELEMENT_ACTIVATED"
	ElementCompleted  Intent = "ELEMENT_COMPLETED"
	ElementTerminated Intent = "ELEMENT_TERMINATED"
	SequenceFlowTaken Intent = "SEQUENCE_FLOW_TAKEN"
	Created           Intent = "CREATED"
	Completed         Intent = "COMPLETED"
	Terminated        Intent = "TERMINATED"
	Cancelled         Intent = "CANCELLED"
)

type ProcessEvent struct {
	ProcessId    string
	ProcessKey   int64
	Version      int32
	TenantId     string
	XmlData      []byte
	ResourceName string
	Checksum     string
}

type ProcessInstanceEvent struct {
	ProcessId          string
	ProcessKey         int64
	Version            int32
	TenantId           string
	ProcessInstanceKey int64
	Intent             Intent
	Timestamp          time.Time
}

type ElementInfo struct {
	BpmnElementType string
	ElementId       string
	ExecutionKey    int64
	Intent          Intent
}

type VariableInfo struct {
	ExecutionKey int64
	Name         string
	Value        any
}
