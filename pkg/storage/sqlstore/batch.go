// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// Batch collects statements and executes them in one transaction on Flush.
type Batch struct {
	db    *sql.DB
	stmts []func(ctx context.Context, tx *sql.Tx) error
}

var _ storage.Batch = &Batch{}

func (b *Batch) Flush(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range b.stmts {
		if err := stmt(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	b.stmts = b.stmts[:0]
	return nil
}

func (b *Batch) exec(query string, args ...any) {
	b.stmts = append(b.stmts, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to execute %q: %w", query, err)
		}
		return nil
	})
}

func (b *Batch) SaveProcessDefinition(ctx context.Context, definition runtime.ProcessDefinition) error {
	b.exec(`INSERT OR REPLACE INTO process_definitions (`+processDefinitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		definition.Key, definition.BpmnProcessId, definition.Version, definition.TenantId, definition.BpmnData,
		definition.BpmnResourceName, definition.BpmnChecksum[:], toMillis(definition.DeployedAt))
	return nil
}

// SaveProcessInstance updates the row only when the stored revision precedes the new one
// and inserts it when it does not exist yet.
func (b *Batch) SaveProcessInstance(ctx context.Context, pi runtime.ProcessInstance) error {
	b.stmts = append(b.stmts, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE process_instances SET process_definition_key = ?, bpmn_process_id = ?,
			business_key = ?, tenant_id = ?, state = ?, parent_execution_key = ?, parent_process_instance_key = ?,
			created_at = ?, ended_at = ?, revision = ? WHERE key = ? AND revision = ?`,
			pi.ProcessDefinitionKey, pi.BpmnProcessId, pi.BusinessKey, pi.TenantId, pi.State, pi.ParentExecutionKey,
			pi.ParentProcessInstanceKey, toMillis(pi.CreatedAt), toNullMillis(pi.EndedAt), pi.Revision, pi.Key, pi.Revision-1)
		if err != nil {
			return fmt.Errorf("failed to update process instance %d: %w", pi.Key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM process_instances WHERE key = ?`, pi.Key).Scan(&exists)
		if err == nil {
			return fmt.Errorf("process instance %d was modified concurrently: %w", pi.Key, storage.ErrConflict)
		}
		if err != sql.ErrNoRows {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO process_instances (`+processInstanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pi.Key, pi.ProcessDefinitionKey, pi.BpmnProcessId, pi.BusinessKey, pi.TenantId, pi.State, pi.ParentExecutionKey,
			pi.ParentProcessInstanceKey, toMillis(pi.CreatedAt), toNullMillis(pi.EndedAt), pi.Revision)
		if err != nil {
			return fmt.Errorf("failed to insert process instance %d: %w", pi.Key, err)
		}
		return nil
	})
	return nil
}

func (b *Batch) SaveExecution(ctx context.Context, e runtime.Execution) error {
	variables, err := toJson(e.Variables)
	if err != nil {
		return err
	}
	b.exec(`INSERT OR REPLACE INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.ProcessInstanceKey, e.ParentKey, e.ActivityId, e.IsScope, e.IsActive, e.IsMultiInstanceRoot, e.State,
		variables, e.ActivityInstanceKey, toMillis(e.CreatedAt))
	return nil
}

func (b *Batch) DeleteExecution(ctx context.Context, executionKey int64) error {
	b.exec(`DELETE FROM executions WHERE key = ?`, executionKey)
	return nil
}

func (b *Batch) SaveJob(ctx context.Context, j runtime.Job) error {
	payload, err := toJson(j.Payload)
	if err != nil {
		return err
	}
	b.exec(`INSERT OR REPLACE INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Key, j.Type, j.State, j.ProcessDefinitionKey, j.ProcessInstanceKey, j.ExecutionKey, j.ElementId, j.TenantId,
		toMillis(j.DueAt), j.Retries, j.LockOwner, toMillis(j.LockExpiresAt), j.Exception, j.RepeatCycle, payload,
		toMillis(j.CreatedAt))
	return nil
}

func (b *Batch) DeleteJob(ctx context.Context, jobKey int64) error {
	b.exec(`DELETE FROM jobs WHERE key = ?`, jobKey)
	return nil
}

func (b *Batch) SaveEventSubscription(ctx context.Context, s runtime.EventSubscription) error {
	b.exec(`INSERT OR REPLACE INTO event_subscriptions (`+eventSubscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Key, s.EventType, s.EventName, s.ProcessDefinitionKey, s.ProcessInstanceKey, s.ExecutionKey, s.ElementId,
		s.TenantId, toMillis(s.CreatedAt))
	return nil
}

func (b *Batch) DeleteEventSubscription(ctx context.Context, key int64) error {
	b.exec(`DELETE FROM event_subscriptions WHERE key = ?`, key)
	return nil
}

func (b *Batch) SaveTask(ctx context.Context, t runtime.Task) error {
	candidateUsers, err := toJson(t.CandidateUsers)
	if err != nil {
		return err
	}
	candidateGroups, err := toJson(t.CandidateGroups)
	if err != nil {
		return err
	}
	b.exec(`INSERT OR REPLACE INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Key, t.Name, t.ElementId, t.ExecutionKey, t.ProcessInstanceKey, t.ProcessDefinitionKey, t.TenantId, t.Assignee,
		candidateUsers, candidateGroups, t.FormKey, toMillis(t.CreatedAt))
	return nil
}

func (b *Batch) DeleteTask(ctx context.Context, taskKey int64) error {
	b.exec(`DELETE FROM tasks WHERE key = ?`, taskKey)
	return nil
}

func (b *Batch) SaveIncident(ctx context.Context, i runtime.Incident) error {
	b.exec(`INSERT OR REPLACE INTO incidents (`+incidentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.Key, i.JobKey, i.ProcessInstanceKey, i.ExecutionKey, i.ElementId, i.TenantId, i.Message, toMillis(i.CreatedAt),
		toNullMillis(i.ResolvedAt))
	return nil
}

func (b *Batch) SaveHistoricProcessInstance(ctx context.Context, h runtime.HistoricProcessInstance) error {
	b.exec(`INSERT OR REPLACE INTO historic_process_instances (`+historicProcessInstanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Key, h.ProcessDefinitionKey, h.BpmnProcessId, h.BusinessKey, h.TenantId, h.State, h.StartActivityId,
		h.EndActivityId, toMillis(h.StartedAt), toNullMillis(h.EndedAt), h.DurationMillis, h.DeleteReason)
	return nil
}

func (b *Batch) SaveHistoricActivityInstance(ctx context.Context, h runtime.HistoricActivityInstance) error {
	b.exec(`INSERT OR REPLACE INTO historic_activity_instances (`+historicActivityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Key, h.ProcessInstanceKey, h.ExecutionKey, h.ActivityId, h.ActivityName, h.ActivityType, h.TenantId, h.Assignee,
		toMillis(h.StartedAt), toNullMillis(h.EndedAt), h.DurationMillis, h.DeleteReason)
	return nil
}

func (b *Batch) SaveHistoricVariableUpdate(ctx context.Context, h runtime.HistoricVariableUpdate) error {
	value, err := toJson(h.Value)
	if err != nil {
		return err
	}
	b.exec(`INSERT OR REPLACE INTO historic_variable_updates (key, process_instance_key, execution_key, name, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, h.Key, h.ProcessInstanceKey, h.ExecutionKey, h.Name, value, toMillis(h.UpdatedAt))
	return nil
}
