// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"context"
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// StorageBatch collects writes and applies them under one lock on Flush.
// All checks run before any write so a conflicting batch leaves the storage untouched.
type StorageBatch struct {
	db     *Storage
	checks []func() error
	stmts  []func()
}

var _ storage.Batch = &StorageBatch{}

func (b *StorageBatch) Flush(ctx context.Context) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, check := range b.checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, stmt := range b.stmts {
		stmt()
	}
	b.checks = b.checks[:0]
	b.stmts = b.stmts[:0]
	return nil
}

func (b *StorageBatch) SaveProcessDefinition(ctx context.Context, definition runtime.ProcessDefinition) error {
	b.stmts = append(b.stmts, func() {
		b.db.ProcessDefinitions[definition.Key] = definition
	})
	return nil
}

func (b *StorageBatch) SaveProcessInstance(ctx context.Context, processInstance runtime.ProcessInstance) error {
	b.checks = append(b.checks, func() error {
		stored, ok := b.db.ProcessInstances[processInstance.Key]
		if !ok {
			return nil
		}
		if stored.Revision != processInstance.Revision-1 {
			return fmt.Errorf("process instance %d has revision %d, expected %d: %w",
				processInstance.Key, stored.Revision, processInstance.Revision-1, storage.ErrConflict)
		}
		return nil
	})
	b.stmts = append(b.stmts, func() {
		b.db.ProcessInstances[processInstance.Key] = processInstance
	})
	return nil
}

func (b *StorageBatch) SaveExecution(ctx context.Context, execution runtime.Execution) error {
	execution = copyExecution(execution)
	b.stmts = append(b.stmts, func() {
		b.db.Executions[execution.Key] = execution
	})
	return nil
}

func (b *StorageBatch) DeleteExecution(ctx context.Context, executionKey int64) error {
	b.stmts = append(b.stmts, func() {
		delete(b.db.Executions, executionKey)
	})
	return nil
}

func (b *StorageBatch) SaveJob(ctx context.Context, job runtime.Job) error {
	job = copyJob(job)
	b.stmts = append(b.stmts, func() {
		b.db.Jobs[job.Key] = job
	})
	return nil
}

func (b *StorageBatch) DeleteJob(ctx context.Context, jobKey int64) error {
	b.stmts = append(b.stmts, func() {
		delete(b.db.Jobs, jobKey)
	})
	return nil
}

func (b *StorageBatch) SaveEventSubscription(ctx context.Context, subscription runtime.EventSubscription) error {
	b.stmts = append(b.stmts, func() {
		b.db.EventSubscriptions[subscription.Key] = subscription
	})
	return nil
}

func (b *StorageBatch) DeleteEventSubscription(ctx context.Context, key int64) error {
	b.stmts = append(b.stmts, func() {
		delete(b.db.EventSubscriptions, key)
	})
	return nil
}

func (b *StorageBatch) SaveTask(ctx context.Context, task runtime.Task) error {
	task = copyTask(task)
	b.stmts = append(b.stmts, func() {
		b.db.Tasks[task.Key] = task
	})
	return nil
}

func (b *StorageBatch) DeleteTask(ctx context.Context, taskKey int64) error {
	b.stmts = append(b.stmts, func() {
		delete(b.db.Tasks, taskKey)
	})
	return nil
}

func (b *StorageBatch) SaveIncident(ctx context.Context, incident runtime.Incident) error {
	b.stmts = append(b.stmts, func() {
		b.db.Incidents[incident.Key] = incident
	})
	return nil
}

func (b *StorageBatch) SaveHistoricProcessInstance(ctx context.Context, historic runtime.HistoricProcessInstance) error {
	b.stmts = append(b.stmts, func() {
		b.db.HistoricProcessInstances[historic.Key] = historic
	})
	return nil
}

func (b *StorageBatch) SaveHistoricActivityInstance(ctx context.Context, historic runtime.HistoricActivityInstance) error {
	b.stmts = append(b.stmts, func() {
		b.db.HistoricActivities[historic.Key] = historic
	})
	return nil
}

func (b *StorageBatch) SaveHistoricVariableUpdate(ctx context.Context, update runtime.HistoricVariableUpdate) error {
	b.stmts = append(b.stmts, func() {
		b.db.HistoricVariables[update.Key] = update
	})
	return nil
}
