// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

var (
	ErrNotFound = errors.New("NOT_FOUND")
	// ErrConflict is returned when a process instance was modified concurrently
	// or a job lock was taken by another owner.
	ErrConflict = errors.New("CONFLICT")
)

type Storage interface {
	ProcessDefinitionStorageReader
	ProcessInstanceStorageReader
	ExecutionStorageReader
	JobStorageReader
	JobLocker
	EventSubscriptionStorageReader
	TaskStorageReader
	IncidentStorageReader
	HistoryStorageReader

	NewBatch() Batch
}

type Batch interface {
	ProcessDefinitionStorageWriter
	ProcessInstanceStorageWriter
	ExecutionStorageWriter
	JobStorageWriter
	EventSubscriptionStorageWriter
	TaskStorageWriter
	IncidentStorageWriter
	HistoryStorageWriter

	// Flush applies all writes of the batch atomically
	Flush(ctx context.Context) error
}

type ProcessDefinitionStorageReader interface {
	FindLatestProcessDefinitionById(ctx context.Context, processDefinitionId string, tenantId string) (runtime.ProcessDefinition, error)
	FindProcessDefinitionByKey(ctx context.Context, processDefinitionKey int64) (runtime.ProcessDefinition, error)
	// FindProcessDefinitionsById return zero or many registered processes with given ID
	// result array is ordered by version number, from 1 (first) and largest version (last)
	FindProcessDefinitionsById(ctx context.Context, processDefinitionId string, tenantId string) ([]runtime.ProcessDefinition, error)
	FindProcessDefinitions(ctx context.Context, tenantId string) ([]runtime.ProcessDefinition, error)
}

type ProcessDefinitionStorageWriter interface {
	SaveProcessDefinition(ctx context.Context, definition runtime.ProcessDefinition) error
}

type ProcessInstanceStorageReader interface {
	FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error)
	// FindProcessInstancesByParentExecutionKey returns instances started by the call activity execution
	FindProcessInstancesByParentExecutionKey(ctx context.Context, parentExecutionKey int64) ([]runtime.ProcessInstance, error)
}

type ProcessInstanceStorageWriter interface {
	// SaveProcessInstance stores the instance. When the instance already exists its stored revision
	// must be exactly one less than processInstance.Revision, otherwise Flush fails with ErrConflict.
	SaveProcessInstance(ctx context.Context, processInstance runtime.ProcessInstance) error
}

type ExecutionStorageReader interface {
	FindExecutionByKey(ctx context.Context, executionKey int64) (runtime.Execution, error)
	FindProcessInstanceExecutions(ctx context.Context, processInstanceKey int64) ([]runtime.Execution, error)
}

type ExecutionStorageWriter interface {
	SaveExecution(ctx context.Context, execution runtime.Execution) error
	DeleteExecution(ctx context.Context, executionKey int64) error
}

type AcquirableJobsQuery struct {
	// TenantId restricts acquisition to one tenant, nil means all tenants
	TenantId  *string
	DueBefore time.Time
	Now       time.Time
	Limit     int
}

type JobStorageReader interface {
	FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error)
	FindProcessInstanceJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error)
	// FindProcessDefinitionJobs returns jobs not bound to an instance, like timer start events
	FindProcessDefinitionJobs(ctx context.Context, processDefinitionKey int64) ([]runtime.Job, error)
	// FindAcquirableJobs returns pending jobs with retries left that are due before query.DueBefore,
	// are not locked at query.Now and do not belong to a suspended instance, ordered by due date.
	FindAcquirableJobs(ctx context.Context, query AcquirableJobsQuery) ([]runtime.Job, error)
}

type JobLocker interface {
	// AcquireJob locks the job for owner until lockUntil.
	// ErrConflict is returned when the job is locked by someone else or is not pending anymore.
	AcquireJob(ctx context.Context, jobKey int64, owner string, lockUntil time.Time, now time.Time) (runtime.Job, error)
}

type JobStorageWriter interface {
	SaveJob(ctx context.Context, job runtime.Job) error
	DeleteJob(ctx context.Context, jobKey int64) error
}

type EventSubscriptionStorageReader interface {
	FindEventSubscriptionByKey(ctx context.Context, key int64) (runtime.EventSubscription, error)
	// FindEventSubscriptionsByName returns subscriptions of the tenant including start event subscriptions
	FindEventSubscriptionsByName(ctx context.Context, tenantId string, eventType runtime.EventType, eventName string) ([]runtime.EventSubscription, error)
	FindProcessInstanceEventSubscriptions(ctx context.Context, processInstanceKey int64) ([]runtime.EventSubscription, error)
	FindProcessDefinitionEventSubscriptions(ctx context.Context, processDefinitionKey int64) ([]runtime.EventSubscription, error)
}

type EventSubscriptionStorageWriter interface {
	SaveEventSubscription(ctx context.Context, subscription runtime.EventSubscription) error
	DeleteEventSubscription(ctx context.Context, key int64) error
}

// TaskFilter selects tasks, zero values are ignored.
type TaskFilter struct {
	ProcessInstanceKey int64
	ElementId          string
	Assignee           string
	CandidateUser      string
	CandidateGroup     string
	TenantId           *string
}

type TaskStorageReader interface {
	FindTaskByKey(ctx context.Context, taskKey int64) (runtime.Task, error)
	FindTasks(ctx context.Context, filter TaskFilter) ([]runtime.Task, error)
}

type TaskStorageWriter interface {
	SaveTask(ctx context.Context, task runtime.Task) error
	DeleteTask(ctx context.Context, taskKey int64) error
}

type IncidentStorageReader interface {
	FindIncidentByKey(ctx context.Context, key int64) (runtime.Incident, error)
	FindIncidentsByProcessInstanceKey(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error)
	FindIncidentsByJobKey(ctx context.Context, jobKey int64) ([]runtime.Incident, error)
}

type IncidentStorageWriter interface {
	SaveIncident(ctx context.Context, incident runtime.Incident) error
}

type HistoryStorageReader interface {
	FindHistoricProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.HistoricProcessInstance, error)
	FindHistoricActivityInstanceByKey(ctx context.Context, key int64) (runtime.HistoricActivityInstance, error)
	// FindHistoricActivityInstances returns records ordered by start time
	FindHistoricActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricActivityInstance, error)
	FindHistoricVariableUpdates(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricVariableUpdate, error)
}

type HistoryStorageWriter interface {
	SaveHistoricProcessInstance(ctx context.Context, historic runtime.HistoricProcessInstance) error
	SaveHistoricActivityInstance(ctx context.Context, historic runtime.HistoricActivityInstance) error
	SaveHistoricVariableUpdate(ctx context.Context, update runtime.HistoricVariableUpdate) error
}
