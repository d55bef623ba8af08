// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// Storage keeps process information in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu                       *sync.RWMutex
	ProcessDefinitions       map[int64]runtime.ProcessDefinition
	ProcessInstances         map[int64]runtime.ProcessInstance
	Executions               map[int64]runtime.Execution
	Jobs                     map[int64]runtime.Job
	EventSubscriptions       map[int64]runtime.EventSubscription
	Tasks                    map[int64]runtime.Task
	Incidents                map[int64]runtime.Incident
	HistoricProcessInstances map[int64]runtime.HistoricProcessInstance
	HistoricActivities       map[int64]runtime.HistoricActivityInstance
	HistoricVariables        map[int64]runtime.HistoricVariableUpdate
}

func NewStorage() *Storage {
	return &Storage{
		mu:                       &sync.RWMutex{},
		ProcessDefinitions:       make(map[int64]runtime.ProcessDefinition),
		ProcessInstances:         make(map[int64]runtime.ProcessInstance),
		Executions:               make(map[int64]runtime.Execution),
		Jobs:                     make(map[int64]runtime.Job),
		EventSubscriptions:       make(map[int64]runtime.EventSubscription),
		Tasks:                    make(map[int64]runtime.Task),
		Incidents:                make(map[int64]runtime.Incident),
		HistoricProcessInstances: make(map[int64]runtime.HistoricProcessInstance),
		HistoricActivities:       make(map[int64]runtime.HistoricActivityInstance),
		HistoricVariables:        make(map[int64]runtime.HistoricVariableUpdate),
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) NewBatch() storage.Batch {
	return &StorageBatch{
		db:     mem,
		checks: make([]func() error, 0, 2),
		stmts:  make([]func(), 0, 10),
	}
}

var _ storage.ProcessDefinitionStorageReader = &Storage{}

func (mem *Storage) FindLatestProcessDefinitionById(ctx context.Context, processDefinitionId string, tenantId string) (runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var res runtime.ProcessDefinition
	found := false
	for _, def := range mem.ProcessDefinitions {
		if def.BpmnProcessId != processDefinitionId || def.TenantId != tenantId {
			continue
		}
		if found && def.Version < res.Version {
			continue
		}
		found = true
		res = def
	}
	if !found {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindProcessDefinitionByKey(ctx context.Context, processDefinitionKey int64) (runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.ProcessDefinitions[processDefinitionKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindProcessDefinitionsById(ctx context.Context, processDefinitionId string, tenantId string) ([]runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.ProcessDefinition, 0)
	for _, def := range mem.ProcessDefinitions {
		if def.BpmnProcessId != processDefinitionId || def.TenantId != tenantId {
			continue
		}
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b runtime.ProcessDefinition) int {
		return int(a.Version - b.Version)
	})
	return res, nil
}

func (mem *Storage) FindProcessDefinitions(ctx context.Context, tenantId string) ([]runtime.ProcessDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.ProcessDefinition, 0)
	for _, def := range mem.ProcessDefinitions {
		if def.TenantId == tenantId {
			res = append(res, def)
		}
	}
	sortByKey(res, func(d runtime.ProcessDefinition) int64 { return d.Key })
	return res, nil
}

var _ storage.ProcessInstanceStorageReader = &Storage{}

func (mem *Storage) FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.ProcessInstances[processInstanceKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindProcessInstancesByParentExecutionKey(ctx context.Context, parentExecutionKey int64) ([]runtime.ProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.ProcessInstance, 0)
	for _, pi := range mem.ProcessInstances {
		if pi.ParentExecutionKey == parentExecutionKey {
			res = append(res, pi)
		}
	}
	sortByKey(res, func(p runtime.ProcessInstance) int64 { return p.Key })
	return res, nil
}

var _ storage.ExecutionStorageReader = &Storage{}

func (mem *Storage) FindExecutionByKey(ctx context.Context, executionKey int64) (runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Executions[executionKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return copyExecution(res), nil
}

func (mem *Storage) FindProcessInstanceExecutions(ctx context.Context, processInstanceKey int64) ([]runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Execution, 0)
	for _, e := range mem.Executions {
		if e.ProcessInstanceKey == processInstanceKey {
			res = append(res, copyExecution(e))
		}
	}
	sortByKey(res, func(e runtime.Execution) int64 { return e.Key })
	return res, nil
}

var _ storage.JobStorageReader = &Storage{}

func (mem *Storage) FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Jobs[jobKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return copyJob(res), nil
}

func (mem *Storage) FindProcessInstanceJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Job, 0)
	for _, job := range mem.Jobs {
		if job.ProcessInstanceKey == processInstanceKey {
			res = append(res, copyJob(job))
		}
	}
	sortByKey(res, func(j runtime.Job) int64 { return j.Key })
	return res, nil
}

func (mem *Storage) FindProcessDefinitionJobs(ctx context.Context, processDefinitionKey int64) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Job, 0)
	for _, job := range mem.Jobs {
		if job.ProcessDefinitionKey == processDefinitionKey && job.ProcessInstanceKey == 0 {
			res = append(res, copyJob(job))
		}
	}
	sortByKey(res, func(j runtime.Job) int64 { return j.Key })
	return res, nil
}

func (mem *Storage) FindAcquirableJobs(ctx context.Context, query storage.AcquirableJobsQuery) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Job, 0)
	for _, job := range mem.Jobs {
		if !mem.isAcquirable(job, query.Now) {
			continue
		}
		if job.DueAt.After(query.DueBefore) {
			continue
		}
		if query.TenantId != nil && job.TenantId != *query.TenantId {
			continue
		}
		res = append(res, copyJob(job))
	}
	slices.SortFunc(res, func(a, b runtime.Job) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return compareKeys(a.Key, b.Key)
	})
	if query.Limit > 0 && len(res) > query.Limit {
		res = res[:query.Limit]
	}
	return res, nil
}

// isAcquirable expects the read lock to be held
func (mem *Storage) isAcquirable(job runtime.Job, now time.Time) bool {
	return !job.IsLocked(now) && mem.isRunnable(job)
}

// isRunnable ignores the lock, it expects the read lock to be held
func (mem *Storage) isRunnable(job runtime.Job) bool {
	if job.State != runtime.JobStatePending || job.Retries <= 0 {
		return false
	}
	if job.ProcessInstanceKey != 0 {
		pi, ok := mem.ProcessInstances[job.ProcessInstanceKey]
		if ok && pi.State == runtime.ProcessInstanceStateSuspended {
			return false
		}
	}
	return true
}

var _ storage.JobLocker = &Storage{}

func (mem *Storage) AcquireJob(ctx context.Context, jobKey int64, owner string, lockUntil time.Time, now time.Time) (runtime.Job, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	job, ok := mem.Jobs[jobKey]
	if !ok {
		return job, storage.ErrNotFound
	}
	if job.DueAt.After(now) || !mem.isRunnable(job) || (job.IsLocked(now) && job.LockOwner != owner) {
		return job, storage.ErrConflict
	}
	job.LockOwner = owner
	job.LockExpiresAt = lockUntil
	mem.Jobs[jobKey] = job
	return copyJob(job), nil
}

var _ storage.EventSubscriptionStorageReader = &Storage{}

func (mem *Storage) FindEventSubscriptionByKey(ctx context.Context, key int64) (runtime.EventSubscription, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.EventSubscriptions[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindEventSubscriptionsByName(ctx context.Context, tenantId string, eventType runtime.EventType, eventName string) ([]runtime.EventSubscription, error) {
	return mem.findSubscriptions(func(s runtime.EventSubscription) bool {
		return s.TenantId == tenantId && s.EventType == eventType && s.EventName == eventName
	}), nil
}

func (mem *Storage) FindProcessInstanceEventSubscriptions(ctx context.Context, processInstanceKey int64) ([]runtime.EventSubscription, error) {
	return mem.findSubscriptions(func(s runtime.EventSubscription) bool {
		return s.ProcessInstanceKey == processInstanceKey
	}), nil
}

func (mem *Storage) FindProcessDefinitionEventSubscriptions(ctx context.Context, processDefinitionKey int64) ([]runtime.EventSubscription, error) {
	return mem.findSubscriptions(func(s runtime.EventSubscription) bool {
		return s.ProcessDefinitionKey == processDefinitionKey && s.ProcessInstanceKey == 0
	}), nil
}

func (mem *Storage) findSubscriptions(match func(s runtime.EventSubscription) bool) []runtime.EventSubscription {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.EventSubscription, 0)
	for _, s := range mem.EventSubscriptions {
		if match(s) {
			res = append(res, s)
		}
	}
	sortByKey(res, func(s runtime.EventSubscription) int64 { return s.Key })
	return res
}

var _ storage.TaskStorageReader = &Storage{}

func (mem *Storage) FindTaskByKey(ctx context.Context, taskKey int64) (runtime.Task, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Tasks[taskKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return copyTask(res), nil
}

func (mem *Storage) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Task, 0)
	for _, task := range mem.Tasks {
		if filter.ProcessInstanceKey != 0 && task.ProcessInstanceKey != filter.ProcessInstanceKey {
			continue
		}
		if filter.ElementId != "" && task.ElementId != filter.ElementId {
			continue
		}
		if filter.Assignee != "" && task.Assignee != filter.Assignee {
			continue
		}
		if filter.CandidateUser != "" && !slices.Contains(task.CandidateUsers, filter.CandidateUser) {
			continue
		}
		if filter.CandidateGroup != "" && !slices.Contains(task.CandidateGroups, filter.CandidateGroup) {
			continue
		}
		if filter.TenantId != nil && task.TenantId != *filter.TenantId {
			continue
		}
		res = append(res, copyTask(task))
	}
	sortByKey(res, func(t runtime.Task) int64 { return t.Key })
	return res, nil
}

var _ storage.IncidentStorageReader = &Storage{}

func (mem *Storage) FindIncidentByKey(ctx context.Context, key int64) (runtime.Incident, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Incidents[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindIncidentsByProcessInstanceKey(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	return mem.findIncidents(func(i runtime.Incident) bool { return i.ProcessInstanceKey == processInstanceKey }), nil
}

func (mem *Storage) FindIncidentsByJobKey(ctx context.Context, jobKey int64) ([]runtime.Incident, error) {
	return mem.findIncidents(func(i runtime.Incident) bool { return i.JobKey == jobKey }), nil
}

func (mem *Storage) findIncidents(match func(i runtime.Incident) bool) []runtime.Incident {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Incident, 0)
	for _, incident := range mem.Incidents {
		if match(incident) {
			res = append(res, incident)
		}
	}
	sortByKey(res, func(i runtime.Incident) int64 { return i.Key })
	return res
}

var _ storage.HistoryStorageReader = &Storage{}

func (mem *Storage) FindHistoricProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.HistoricProcessInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.HistoricProcessInstances[processInstanceKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindHistoricActivityInstanceByKey(ctx context.Context, key int64) (runtime.HistoricActivityInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.HistoricActivities[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindHistoricActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricActivityInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.HistoricActivityInstance, 0)
	for _, h := range mem.HistoricActivities {
		if h.ProcessInstanceKey == processInstanceKey {
			res = append(res, h)
		}
	}
	slices.SortFunc(res, func(a, b runtime.HistoricActivityInstance) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return compareKeys(a.Key, b.Key)
	})
	return res, nil
}

func (mem *Storage) FindHistoricVariableUpdates(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricVariableUpdate, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.HistoricVariableUpdate, 0)
	for _, h := range mem.HistoricVariables {
		if h.ProcessInstanceKey == processInstanceKey {
			res = append(res, h)
		}
	}
	sortByKey(res, func(h runtime.HistoricVariableUpdate) int64 { return h.Key })
	return res, nil
}

func compareKeys(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortByKey[T any](items []T, key func(T) int64) {
	slices.SortFunc(items, func(a, b T) int {
		return compareKeys(key(a), key(b))
	})
}

func copyExecution(e runtime.Execution) runtime.Execution {
	e.Variables = maps.Clone(e.Variables)
	return e
}

func copyJob(j runtime.Job) runtime.Job {
	j.Payload = maps.Clone(j.Payload)
	return j
}

func copyTask(t runtime.Task) runtime.Task {
	t.CandidateUsers = slices.Clone(t.CandidateUsers)
	t.CandidateGroups = slices.Clone(t.CandidateGroups)
	return t
}
