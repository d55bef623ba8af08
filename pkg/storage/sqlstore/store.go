// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package sqlstore implements storage.Storage on top of SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
	"github.com/pvmflow/pvm/pkg/storage/sqlstore/migrations"
	_ "modernc.org/sqlite"
)

// Store persists engine state in SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Storage = &Store{}

// Open opens the database at path and applies embedded migrations.
// Path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// sqlite allows a single writer, serializing on one connection avoids SQLITE_BUSY on batch flushes
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) NewBatch() storage.Batch {
	return &Batch{
		db:    s.db,
		stmts: make([]func(ctx context.Context, tx *sql.Tx) error, 0, 10),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func toJson(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", value, err)
	}
	return string(data), nil
}

// fromJson keeps integral numbers as int64 so variables survive a round trip with their type
func fromJson[T any](data string) (T, error) {
	var res T
	if data == "" || data == "null" {
		return res, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return res, fmt.Errorf("failed to unmarshal %T: %w", res, err)
	}
	res, ok := normalizeNumbers(raw).(T)
	if ok {
		return res, nil
	}
	// typed targets such as []string go through a second, typed decode
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return res, fmt.Errorf("failed to unmarshal %T: %w", res, err)
	}
	return res, nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return v
	}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func queryAll[T any](ctx context.Context, db *sql.DB, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

const processDefinitionColumns = `key, bpmn_process_id, version, tenant_id, bpmn_data, bpmn_resource_name, bpmn_checksum, deployed_at`

func scanProcessDefinition(row rowScanner) (runtime.ProcessDefinition, error) {
	var res runtime.ProcessDefinition
	var checksum []byte
	var deployedAt int64
	err := row.Scan(&res.Key, &res.BpmnProcessId, &res.Version, &res.TenantId, &res.BpmnData, &res.BpmnResourceName, &checksum, &deployedAt)
	if err != nil {
		return res, err
	}
	copy(res.BpmnChecksum[:], checksum)
	res.DeployedAt = fromMillis(deployedAt)
	return res, nil
}

func (s *Store) FindLatestProcessDefinitionById(ctx context.Context, processDefinitionId string, tenantId string) (runtime.ProcessDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processDefinitionColumns+` FROM process_definitions
		WHERE bpmn_process_id = ? AND tenant_id = ? ORDER BY version DESC LIMIT 1`, processDefinitionId, tenantId)
	res, err := scanProcessDefinition(row)
	return res, notFound(err)
}

func (s *Store) FindProcessDefinitionByKey(ctx context.Context, processDefinitionKey int64) (runtime.ProcessDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processDefinitionColumns+` FROM process_definitions WHERE key = ?`, processDefinitionKey)
	res, err := scanProcessDefinition(row)
	return res, notFound(err)
}

func (s *Store) FindProcessDefinitionsById(ctx context.Context, processDefinitionId string, tenantId string) ([]runtime.ProcessDefinition, error) {
	return queryAll(ctx, s.db, scanProcessDefinition, `SELECT `+processDefinitionColumns+` FROM process_definitions
		WHERE bpmn_process_id = ? AND tenant_id = ? ORDER BY version ASC`, processDefinitionId, tenantId)
}

func (s *Store) FindProcessDefinitions(ctx context.Context, tenantId string) ([]runtime.ProcessDefinition, error) {
	return queryAll(ctx, s.db, scanProcessDefinition, `SELECT `+processDefinitionColumns+` FROM process_definitions
		WHERE tenant_id = ? ORDER BY key ASC`, tenantId)
}

const processInstanceColumns = `key, process_definition_key, bpmn_process_id, business_key, tenant_id, state,
	parent_execution_key, parent_process_instance_key, created_at, ended_at, revision`

func scanProcessInstance(row rowScanner) (runtime.ProcessInstance, error) {
	var res runtime.ProcessInstance
	var createdAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&res.Key, &res.ProcessDefinitionKey, &res.BpmnProcessId, &res.BusinessKey, &res.TenantId, &res.State,
		&res.ParentExecutionKey, &res.ParentProcessInstanceKey, &createdAt, &endedAt, &res.Revision)
	if err != nil {
		return res, err
	}
	res.CreatedAt = fromMillis(createdAt)
	res.EndedAt = fromNullMillis(endedAt)
	return res, nil
}

func (s *Store) FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processInstanceColumns+` FROM process_instances WHERE key = ?`, processInstanceKey)
	res, err := scanProcessInstance(row)
	return res, notFound(err)
}

func (s *Store) FindProcessInstancesByParentExecutionKey(ctx context.Context, parentExecutionKey int64) ([]runtime.ProcessInstance, error) {
	return queryAll(ctx, s.db, scanProcessInstance, `SELECT `+processInstanceColumns+` FROM process_instances
		WHERE parent_execution_key = ? ORDER BY key ASC`, parentExecutionKey)
}

const executionColumns = `key, process_instance_key, parent_key, activity_id, is_scope, is_active, is_multi_instance_root,
	state, variables, activity_instance_key, created_at`

func scanExecution(row rowScanner) (runtime.Execution, error) {
	var res runtime.Execution
	var variables string
	var createdAt int64
	err := row.Scan(&res.Key, &res.ProcessInstanceKey, &res.ParentKey, &res.ActivityId, &res.IsScope, &res.IsActive,
		&res.IsMultiInstanceRoot, &res.State, &variables, &res.ActivityInstanceKey, &createdAt)
	if err != nil {
		return res, err
	}
	res.CreatedAt = fromMillis(createdAt)
	res.Variables, err = fromJson[map[string]any](variables)
	return res, err
}

func (s *Store) FindExecutionByKey(ctx context.Context, executionKey int64) (runtime.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE key = ?`, executionKey)
	res, err := scanExecution(row)
	return res, notFound(err)
}

func (s *Store) FindProcessInstanceExecutions(ctx context.Context, processInstanceKey int64) ([]runtime.Execution, error) {
	return queryAll(ctx, s.db, scanExecution, `SELECT `+executionColumns+` FROM executions
		WHERE process_instance_key = ? ORDER BY key ASC`, processInstanceKey)
}

const jobColumns = `key, type, state, process_definition_key, process_instance_key, execution_key, element_id, tenant_id,
	due_at, retries, lock_owner, lock_expires_at, exception, repeat_cycle, payload, created_at`

func scanJob(row rowScanner) (runtime.Job, error) {
	var res runtime.Job
	var dueAt, lockExpiresAt, createdAt int64
	var payload string
	err := row.Scan(&res.Key, &res.Type, &res.State, &res.ProcessDefinitionKey, &res.ProcessInstanceKey, &res.ExecutionKey,
		&res.ElementId, &res.TenantId, &dueAt, &res.Retries, &res.LockOwner, &lockExpiresAt, &res.Exception,
		&res.RepeatCycle, &payload, &createdAt)
	if err != nil {
		return res, err
	}
	res.DueAt = fromMillis(dueAt)
	res.LockExpiresAt = fromMillis(lockExpiresAt)
	res.CreatedAt = fromMillis(createdAt)
	res.Payload, err = fromJson[map[string]any](payload)
	return res, err
}

func (s *Store) FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE key = ?`, jobKey)
	res, err := scanJob(row)
	return res, notFound(err)
}

func (s *Store) FindProcessInstanceJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error) {
	return queryAll(ctx, s.db, scanJob, `SELECT `+jobColumns+` FROM jobs
		WHERE process_instance_key = ? ORDER BY key ASC`, processInstanceKey)
}

func (s *Store) FindProcessDefinitionJobs(ctx context.Context, processDefinitionKey int64) ([]runtime.Job, error) {
	return queryAll(ctx, s.db, scanJob, `SELECT `+jobColumns+` FROM jobs
		WHERE process_definition_key = ? AND process_instance_key = 0 ORDER BY key ASC`, processDefinitionKey)
}

func (s *Store) FindAcquirableJobs(ctx context.Context, query storage.AcquirableJobsQuery) ([]runtime.Job, error) {
	stmt := strings.Builder{}
	stmt.WriteString(`SELECT ` + prefixed("j.", jobColumns) + ` FROM jobs j
		LEFT JOIN process_instances p ON p.key = j.process_instance_key
		WHERE j.state = ? AND j.retries > 0 AND j.due_at <= ?
		AND (j.lock_owner = '' OR j.lock_expires_at <= ?)
		AND (p.state IS NULL OR p.state <> ?)`)
	args := []any{runtime.JobStatePending, toMillis(query.DueBefore), toMillis(query.Now), runtime.ProcessInstanceStateSuspended}
	if query.TenantId != nil {
		stmt.WriteString(` AND j.tenant_id = ?`)
		args = append(args, *query.TenantId)
	}
	stmt.WriteString(` ORDER BY j.due_at ASC, j.key ASC`)
	if query.Limit > 0 {
		stmt.WriteString(` LIMIT ?`)
		args = append(args, query.Limit)
	}
	return queryAll(ctx, s.db, scanJob, stmt.String(), args...)
}

func prefixed(prefix string, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) AcquireJob(ctx context.Context, jobKey int64, owner string, lockUntil time.Time, now time.Time) (runtime.Job, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET lock_owner = ?, lock_expires_at = ?
		WHERE key = ? AND state = ? AND retries > 0 AND due_at <= ?
		AND (lock_owner = '' OR lock_owner = ? OR lock_expires_at <= ?)
		AND NOT EXISTS (SELECT 1 FROM process_instances p WHERE p.key = jobs.process_instance_key AND p.state = ?)`,
		owner, toMillis(lockUntil), jobKey, runtime.JobStatePending, toMillis(now), owner, toMillis(now), runtime.ProcessInstanceStateSuspended)
	if err != nil {
		return runtime.Job{}, fmt.Errorf("failed to lock job %d: %w", jobKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return runtime.Job{}, err
	}
	job, err := s.FindJobByKey(ctx, jobKey)
	if err != nil {
		return job, err
	}
	if affected == 0 {
		return job, storage.ErrConflict
	}
	return job, nil
}

const eventSubscriptionColumns = `key, event_type, event_name, process_definition_key, process_instance_key, execution_key,
	element_id, tenant_id, created_at`

func scanEventSubscription(row rowScanner) (runtime.EventSubscription, error) {
	var res runtime.EventSubscription
	var createdAt int64
	err := row.Scan(&res.Key, &res.EventType, &res.EventName, &res.ProcessDefinitionKey, &res.ProcessInstanceKey,
		&res.ExecutionKey, &res.ElementId, &res.TenantId, &createdAt)
	if err != nil {
		return res, err
	}
	res.CreatedAt = fromMillis(createdAt)
	return res, nil
}

func (s *Store) FindEventSubscriptionByKey(ctx context.Context, key int64) (runtime.EventSubscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventSubscriptionColumns+` FROM event_subscriptions WHERE key = ?`, key)
	res, err := scanEventSubscription(row)
	return res, notFound(err)
}

func (s *Store) FindEventSubscriptionsByName(ctx context.Context, tenantId string, eventType runtime.EventType, eventName string) ([]runtime.EventSubscription, error) {
	return queryAll(ctx, s.db, scanEventSubscription, `SELECT `+eventSubscriptionColumns+` FROM event_subscriptions
		WHERE tenant_id = ? AND event_type = ? AND event_name = ? ORDER BY key ASC`, tenantId, eventType, eventName)
}

func (s *Store) FindProcessInstanceEventSubscriptions(ctx context.Context, processInstanceKey int64) ([]runtime.EventSubscription, error) {
	return queryAll(ctx, s.db, scanEventSubscription, `SELECT `+eventSubscriptionColumns+` FROM event_subscriptions
		WHERE process_instance_key = ? ORDER BY key ASC`, processInstanceKey)
}

func (s *Store) FindProcessDefinitionEventSubscriptions(ctx context.Context, processDefinitionKey int64) ([]runtime.EventSubscription, error) {
	return queryAll(ctx, s.db, scanEventSubscription, `SELECT `+eventSubscriptionColumns+` FROM event_subscriptions
		WHERE process_definition_key = ? AND process_instance_key = 0 ORDER BY key ASC`, processDefinitionKey)
}

const taskColumns = `key, name, element_id, execution_key, process_instance_key, process_definition_key, tenant_id,
	assignee, candidate_users, candidate_groups, form_key, created_at`

func scanTask(row rowScanner) (runtime.Task, error) {
	var res runtime.Task
	var candidateUsers, candidateGroups string
	var createdAt int64
	err := row.Scan(&res.Key, &res.Name, &res.ElementId, &res.ExecutionKey, &res.ProcessInstanceKey, &res.ProcessDefinitionKey,
		&res.TenantId, &res.Assignee, &candidateUsers, &candidateGroups, &res.FormKey, &createdAt)
	if err != nil {
		return res, err
	}
	res.CreatedAt = fromMillis(createdAt)
	if res.CandidateUsers, err = fromJson[[]string](candidateUsers); err != nil {
		return res, err
	}
	res.CandidateGroups, err = fromJson[[]string](candidateGroups)
	return res, err
}

func (s *Store) FindTaskByKey(ctx context.Context, taskKey int64) (runtime.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE key = ?`, taskKey)
	res, err := scanTask(row)
	return res, notFound(err)
}

func (s *Store) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	stmt := strings.Builder{}
	stmt.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`)
	args := make([]any, 0)
	if filter.ProcessInstanceKey != 0 {
		stmt.WriteString(` AND process_instance_key = ?`)
		args = append(args, filter.ProcessInstanceKey)
	}
	if filter.ElementId != "" {
		stmt.WriteString(` AND element_id = ?`)
		args = append(args, filter.ElementId)
	}
	if filter.Assignee != "" {
		stmt.WriteString(` AND assignee = ?`)
		args = append(args, filter.Assignee)
	}
	if filter.CandidateUser != "" {
		stmt.WriteString(` AND EXISTS (SELECT 1 FROM json_each(tasks.candidate_users) WHERE value = ?)`)
		args = append(args, filter.CandidateUser)
	}
	if filter.CandidateGroup != "" {
		stmt.WriteString(` AND EXISTS (SELECT 1 FROM json_each(tasks.candidate_groups) WHERE value = ?)`)
		args = append(args, filter.CandidateGroup)
	}
	if filter.TenantId != nil {
		stmt.WriteString(` AND tenant_id = ?`)
		args = append(args, *filter.TenantId)
	}
	stmt.WriteString(` ORDER BY key ASC`)
	return queryAll(ctx, s.db, scanTask, stmt.String(), args...)
}

const incidentColumns = `key, job_key, process_instance_key, execution_key, element_id, tenant_id, message, created_at, resolved_at`

func scanIncident(row rowScanner) (runtime.Incident, error) {
	var res runtime.Incident
	var createdAt int64
	var resolvedAt sql.NullInt64
	err := row.Scan(&res.Key, &res.JobKey, &res.ProcessInstanceKey, &res.ExecutionKey, &res.ElementId, &res.TenantId,
		&res.Message, &createdAt, &resolvedAt)
	if err != nil {
		return res, err
	}
	res.CreatedAt = fromMillis(createdAt)
	res.ResolvedAt = fromNullMillis(resolvedAt)
	return res, nil
}

func (s *Store) FindIncidentByKey(ctx context.Context, key int64) (runtime.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE key = ?`, key)
	res, err := scanIncident(row)
	return res, notFound(err)
}

func (s *Store) FindIncidentsByProcessInstanceKey(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	return queryAll(ctx, s.db, scanIncident, `SELECT `+incidentColumns+` FROM incidents
		WHERE process_instance_key = ? ORDER BY key ASC`, processInstanceKey)
}

func (s *Store) FindIncidentsByJobKey(ctx context.Context, jobKey int64) ([]runtime.Incident, error) {
	return queryAll(ctx, s.db, scanIncident, `SELECT `+incidentColumns+` FROM incidents
		WHERE job_key = ? ORDER BY key ASC`, jobKey)
}

const historicProcessInstanceColumns = `key, process_definition_key, bpmn_process_id, business_key, tenant_id, state,
	start_activity_id, end_activity_id, started_at, ended_at, duration_millis, delete_reason`

func scanHistoricProcessInstance(row rowScanner) (runtime.HistoricProcessInstance, error) {
	var res runtime.HistoricProcessInstance
	var startedAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&res.Key, &res.ProcessDefinitionKey, &res.BpmnProcessId, &res.BusinessKey, &res.TenantId, &res.State,
		&res.StartActivityId, &res.EndActivityId, &startedAt, &endedAt, &res.DurationMillis, &res.DeleteReason)
	if err != nil {
		return res, err
	}
	res.StartedAt = fromMillis(startedAt)
	res.EndedAt = fromNullMillis(endedAt)
	return res, nil
}

func (s *Store) FindHistoricProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.HistoricProcessInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historicProcessInstanceColumns+` FROM historic_process_instances WHERE key = ?`, processInstanceKey)
	res, err := scanHistoricProcessInstance(row)
	return res, notFound(err)
}

const historicActivityColumns = `key, process_instance_key, execution_key, activity_id, activity_name, activity_type, tenant_id,
	assignee, started_at, ended_at, duration_millis, delete_reason`

func scanHistoricActivity(row rowScanner) (runtime.HistoricActivityInstance, error) {
	var res runtime.HistoricActivityInstance
	var startedAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&res.Key, &res.ProcessInstanceKey, &res.ExecutionKey, &res.ActivityId, &res.ActivityName, &res.ActivityType,
		&res.TenantId, &res.Assignee, &startedAt, &endedAt, &res.DurationMillis, &res.DeleteReason)
	if err != nil {
		return res, err
	}
	res.StartedAt = fromMillis(startedAt)
	res.EndedAt = fromNullMillis(endedAt)
	return res, nil
}

func (s *Store) FindHistoricActivityInstanceByKey(ctx context.Context, key int64) (runtime.HistoricActivityInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historicActivityColumns+` FROM historic_activity_instances WHERE key = ?`, key)
	res, err := scanHistoricActivity(row)
	return res, notFound(err)
}

func (s *Store) FindHistoricActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricActivityInstance, error) {
	return queryAll(ctx, s.db, scanHistoricActivity, `SELECT `+historicActivityColumns+` FROM historic_activity_instances
		WHERE process_instance_key = ? ORDER BY started_at ASC, key ASC`, processInstanceKey)
}

func scanHistoricVariable(row rowScanner) (runtime.HistoricVariableUpdate, error) {
	var res runtime.HistoricVariableUpdate
	var value string
	var updatedAt int64
	err := row.Scan(&res.Key, &res.ProcessInstanceKey, &res.ExecutionKey, &res.Name, &value, &updatedAt)
	if err != nil {
		return res, err
	}
	res.UpdatedAt = fromMillis(updatedAt)
	res.Value, err = fromJson[any](value)
	return res, err
}

func (s *Store) FindHistoricVariableUpdates(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricVariableUpdate, error) {
	return queryAll(ctx, s.db, scanHistoricVariable, `SELECT key, process_instance_key, execution_key, name, value, updated_at
		FROM historic_variable_updates WHERE process_instance_key = ? ORDER BY key ASC`, processInstanceKey)
}
