// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"time"
)

type ProcessDefinition struct {
	Key              int64  // The engines key for this given process with version
	BpmnProcessId    string // The ID as defined in the BPMN file
	Version          int32  // incremented, when another process with the same ID and different checksum is deployed
	TenantId         string
	BpmnData         string   // the raw source data
	BpmnResourceName string   // some name for the resource
	BpmnChecksum     [16]byte // md5 checksum to identify different versions
	DeployedAt       time.Time
}

type ProcessInstanceState string

const (
	ProcessInstanceStateActive     ProcessInstanceState = "ACTIVE"
	ProcessInstanceStateSuspended  ProcessInstanceState = "SUSPENDED"
	ProcessInstanceStateCompleted  ProcessInstanceState = "COMPLETED"
	ProcessInstanceStateTerminated ProcessInstanceState = "TERMINATED"
	ProcessInstanceStateCancelled  ProcessInstanceState = "CANCELLED"
)

// IsEnded is true for states no command can continue from.
func (s ProcessInstanceState) IsEnded() bool {
	return s == ProcessInstanceStateCompleted || s == ProcessInstanceStateTerminated || s == ProcessInstanceStateCancelled
}

type ProcessInstance struct {
	Key                  int64
	ProcessDefinitionKey int64
	BpmnProcessId        string
	BusinessKey          string
	TenantId             string
	State                ProcessInstanceState
	// key of the call activity execution in the parent instance, 0 for top level instances
	ParentExecutionKey       int64
	ParentProcessInstanceKey int64
	CreatedAt                time.Time
	EndedAt                  *time.Time
	// Revision is incremented on every flush and used for optimistic locking
	Revision int64
}

type ExecutionState string

const (
	ExecutionStateActive  ExecutionState = "ACTIVE"
	ExecutionStateWaiting ExecutionState = "WAITING"
)

// Execution is a token walking the process graph. The root execution of an instance
// has the same key as the process instance and no parent.
type Execution struct {
	Key                int64
	ProcessInstanceKey int64
	ParentKey          int64
	ActivityId         string
	// IsScope marks executions holding child executions: root, sub-process holders and multi-instance roots
	IsScope             bool
	IsActive            bool
	IsMultiInstanceRoot bool
	State               ExecutionState
	Variables           map[string]any
	// key of the open historic activity record, 0 if none
	ActivityInstanceKey int64
	CreatedAt           time.Time
}

func (e *Execution) IsRoot() bool {
	return e.ParentKey == 0
}

type JobType string

const (
	JobTypeAsyncContinuation JobType = "async-continuation"
	JobTypeTimer             JobType = "timer"
	JobTypeTimerStart        JobType = "timer-start"
	JobTypeSignalDelivery    JobType = "signal-delivery"
)

type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateDeadLetter JobState = "DEAD_LETTER"
)

type Job struct {
	Key                  int64
	Type                 JobType
	State                JobState
	ProcessDefinitionKey int64
	ProcessInstanceKey   int64
	ExecutionKey         int64
	ElementId            string
	TenantId             string
	DueAt                time.Time
	Retries              int
	LockOwner            string
	LockExpiresAt        time.Time
	Exception            string
	// RepeatCycle holds the remaining ISO-8601 repetition of cycle timers, e.g. R2/PT10S
	RepeatCycle string
	Payload     map[string]any
	CreatedAt   time.Time
}

// IsLocked reports whether some executor holds a valid lock at now.
func (j Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && j.LockExpiresAt.After(now)
}

type EventType string

const (
	EventTypeSignal     EventType = "signal"
	EventTypeMessage    EventType = "message"
	EventTypeCompensate EventType = "compensate"
)

// EventSubscription waits for a signal, message or compensation.
// Start event subscriptions have ProcessDefinitionKey set and no process instance.
// Compensate subscriptions are keyed to the scope execution, EventName holds the compensated activity
// and ElementId the compensation boundary event.
type EventSubscription struct {
	Key                  int64
	EventType            EventType
	EventName            string
	ProcessDefinitionKey int64
	ProcessInstanceKey   int64
	ExecutionKey         int64
	ElementId            string
	TenantId             string
	CreatedAt            time.Time
}

// IsStartEvent is true for subscriptions starting new instances.
func (s EventSubscription) IsStartEvent() bool {
	return s.ProcessInstanceKey == 0
}

type Task struct {
	Key                  int64
	Name                 string
	ElementId            string
	ExecutionKey         int64
	ProcessInstanceKey   int64
	ProcessDefinitionKey int64
	TenantId             string
	Assignee             string
	CandidateUsers       []string
	CandidateGroups      []string
	FormKey              string
	CreatedAt            time.Time
}

type Incident struct {
	Key                int64
	JobKey             int64
	ProcessInstanceKey int64
	ExecutionKey       int64
	ElementId          string
	TenantId           string
	Message            string
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

type HistoricProcessInstance struct {
	Key                  int64
	ProcessDefinitionKey int64
	BpmnProcessId        string
	BusinessKey          string
	TenantId             string
	State                ProcessInstanceState
	StartActivityId      string
	EndActivityId        string
	StartedAt            time.Time
	EndedAt              *time.Time
	DurationMillis       int64
	DeleteReason         string
}

type HistoricActivityInstance struct {
	Key                int64
	ProcessInstanceKey int64
	ExecutionKey       int64
	ActivityId         string
	ActivityName       string
	ActivityType       string
	TenantId           string
	Assignee           string
	StartedAt          time.Time
	EndedAt            *time.Time
	DurationMillis     int64
	DeleteReason       string
}

type HistoricVariableUpdate struct {
	Key                int64
	ProcessInstanceKey int64
	ExecutionKey       int64
	Name               string
	Value              any
	UpdatedAt          time.Time
}

const (
	DeleteReasonCompleted           = "completed"
	DeleteReasonTerminated          = "terminated"
	DeleteReasonCancelled           = "cancelled"
	DeleteReasonBoundaryInterrupted = "boundary-interrupted"
	DeleteReasonEventGateway        = "event-gateway"
	DeleteReasonMultiInstance       = "multi-instance-completed"
	DeleteReasonDeletedPrefix       = "deleted: "
)
