// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pvmflow/pvm/internal/appcontext"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	otelPkg "github.com/pvmflow/pvm/pkg/otel"
	"github.com/pvmflow/pvm/pkg/storage"
)

// entitySet tracks entities of one kind loaded or created by a command
type entitySet[T any] struct {
	items   map[int64]*T
	changed map[int64]bool
	removed map[int64]bool
}

func newEntitySet[T any]() *entitySet[T] {
	return &entitySet[T]{
		items:   map[int64]*T{},
		changed: map[int64]bool{},
		removed: map[int64]bool{},
	}
}

func (s *entitySet[T]) load(key int64, item T) {
	if _, ok := s.items[key]; ok || s.removed[key] {
		return
	}
	s.items[key] = &item
}

func (s *entitySet[T]) add(key int64, item *T) {
	s.items[key] = item
	s.changed[key] = true
	delete(s.removed, key)
}

func (s *entitySet[T]) get(key int64) (*T, bool) {
	item, ok := s.items[key]
	return item, ok
}

func (s *entitySet[T]) touch(key int64) {
	if _, ok := s.items[key]; ok {
		s.changed[key] = true
	}
}

func (s *entitySet[T]) remove(key int64) {
	delete(s.items, key)
	delete(s.changed, key)
	s.removed[key] = true
}

// filter returns matching items ordered by key
func (s *entitySet[T]) filter(match func(item *T) bool) []*T {
	res := make([]*T, 0)
	for _, key := range slices.Sorted(maps.Keys(s.items)) {
		if item := s.items[key]; match(item) {
			res = append(res, item)
		}
	}
	return res
}

type loadedInstance struct {
	instance   *runtime.ProcessInstance
	definition *processDefinitionInfo
	historic   *runtime.HistoricProcessInstance
}

// operation is one step of the agenda, it is skipped when its execution was removed meanwhile
type operation struct {
	name      string
	execution int64
	run       func(cc *commandContext, execution *runtime.Execution) error
}

// commandContext holds everything a command reads and writes.
// Nothing is written to storage until the agenda is empty and flush is called.
type commandContext struct {
	ctx    context.Context
	engine *Engine
	now    time.Time

	instances     map[int64]*loadedInstance
	executions    *entitySet[runtime.Execution]
	jobs          *entitySet[runtime.Job]
	subscriptions *entitySet[runtime.EventSubscription]
	tasks         *entitySet[runtime.Task]
	activities    *entitySet[runtime.HistoricActivityInstance]

	definitions     []runtime.ProcessDefinition
	incidents       []runtime.Incident
	variableUpdates []runtime.HistoricVariableUpdate

	agenda     []operation
	lockedKeys []int64
	postFlush  []func()
}

func newCommandContext(ctx context.Context, engine *Engine) *commandContext {
	return &commandContext{
		ctx:           ctx,
		engine:        engine,
		now:           engine.now(),
		instances:     map[int64]*loadedInstance{},
		executions:    newEntitySet[runtime.Execution](),
		jobs:          newEntitySet[runtime.Job](),
		subscriptions: newEntitySet[runtime.EventSubscription](),
		tasks:         newEntitySet[runtime.Task](),
		activities:    newEntitySet[runtime.HistoricActivityInstance](),
	}
}

// runCommand runs fn and the agenda it planned, then flushes all changes atomically.
// Post flush actions run only when the flush succeeded.
func (engine *Engine) runCommand(ctx context.Context, name string, fn func(cc *commandContext) error) (retErr error) {
	attrs := []attribute.KeyValue{attribute.String(otelPkg.AttributeCommand, name)}
	if jc, ok := appcontext.JobFromContext(ctx); ok {
		attrs = append(attrs,
			attribute.Int64(otelPkg.AttributeJobKey, jc.JobKey),
			attribute.String(otelPkg.AttributeLockOwner, jc.LockOwner),
		)
	}
	ctx, span := engine.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	cc := newCommandContext(ctx, engine)
	defer func() {
		cc.unlockAll()
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
			if errors.Is(retErr, storage.ErrConflict) {
				engine.metrics.CommandsConflicted.Add(ctx, 1)
			}
		}
		span.End()
	}()

	if err := fn(cc); err != nil {
		return err
	}
	if err := cc.runAgenda(); err != nil {
		return err
	}
	if err := cc.flush(); err != nil {
		return fmt.Errorf("failed to flush command %s: %w", name, err)
	}
	cc.unlockAll()
	for _, action := range cc.postFlush {
		action()
	}
	return nil
}

func (cc *commandContext) unlockAll() {
	for _, key := range cc.lockedKeys {
		cc.engine.runningInstances.unlockInstance(key)
	}
	cc.lockedKeys = nil
}

func (cc *commandContext) addPostFlushAction(f func()) {
	cc.postFlush = append(cc.postFlush, f)
}

// loadInstance locks the process instance and loads its execution tree, jobs, subscriptions and tasks.
func (cc *commandContext) loadInstance(key int64) (*loadedInstance, error) {
	if li, ok := cc.instances[key]; ok {
		return li, nil
	}
	cc.engine.runningInstances.lockInstance(key)
	cc.lockedKeys = append(cc.lockedKeys, key)
	return cc.readInstance(key)
}

// tryLoadInstance loads the instance only when its lock is free, it never blocks.
// Commands walking from a child instance to its parent use it so lock order cannot deadlock.
func (cc *commandContext) tryLoadInstance(key int64) (*loadedInstance, bool, error) {
	if li, ok := cc.instances[key]; ok {
		return li, true, nil
	}
	if !cc.engine.runningInstances.tryLockInstance(key) {
		return nil, false, nil
	}
	cc.lockedKeys = append(cc.lockedKeys, key)
	li, err := cc.readInstance(key)
	return li, err == nil, err
}

// activeInstance loads the instance and fails when it is suspended or ended
func (cc *commandContext) activeInstance(key int64) (*loadedInstance, error) {
	li, err := cc.loadInstance(key)
	if err != nil {
		return nil, err
	}
	switch {
	case li.instance.State == runtime.ProcessInstanceStateSuspended:
		return nil, fmt.Errorf("process instance %d: %w", key, ErrSuspended)
	case li.instance.State.IsEnded():
		return nil, fmt.Errorf("process instance %d: %w", key, ErrInstanceEnded)
	}
	return li, nil
}

func (cc *commandContext) readInstance(key int64) (*loadedInstance, error) {
	ctx := cc.ctx
	persistence := cc.engine.persistence
	instance, err := persistence.FindProcessInstanceByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find process instance %d: %w", key, err)
	}
	definition, err := cc.engine.loadDefinition(ctx, instance.ProcessDefinitionKey)
	if err != nil {
		return nil, err
	}
	executions, err := persistence.FindProcessInstanceExecutions(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions of process instance %d: %w", key, err)
	}
	jobs, err := persistence.FindProcessInstanceJobs(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs of process instance %d: %w", key, err)
	}
	subscriptions, err := persistence.FindProcessInstanceEventSubscriptions(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load event subscriptions of process instance %d: %w", key, err)
	}
	tasks, err := persistence.FindTasks(ctx, storage.TaskFilter{ProcessInstanceKey: key})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks of process instance %d: %w", key, err)
	}
	for _, e := range executions {
		cc.executions.load(e.Key, e)
	}
	for _, j := range jobs {
		cc.jobs.load(j.Key, j)
	}
	for _, s := range subscriptions {
		cc.subscriptions.load(s.Key, s)
	}
	for _, t := range tasks {
		cc.tasks.load(t.Key, t)
	}
	li := &loadedInstance{
		instance:   &instance,
		definition: definition,
	}
	cc.instances[key] = li
	return li, nil
}

func (cc *commandContext) instanceOf(e *runtime.Execution) *loadedInstance {
	return cc.instances[e.ProcessInstanceKey]
}

func (cc *commandContext) plan(name string, e *runtime.Execution, run func(cc *commandContext, execution *runtime.Execution) error) {
	cc.agenda = append(cc.agenda, operation{
		name:      name,
		execution: e.Key,
		run:       run,
	})
}

func (cc *commandContext) runAgenda() error {
	for len(cc.agenda) > 0 {
		op := cc.agenda[0]
		cc.agenda = cc.agenda[1:]
		e, ok := cc.executions.get(op.execution)
		if !ok {
			continue
		}
		if err := op.run(cc, e); err != nil {
			return fmt.Errorf("%s of execution %d at %s failed: %w", op.name, e.Key, e.ActivityId, err)
		}
	}
	return nil
}

func (cc *commandContext) flush() error {
	ctx := cc.ctx
	batch := cc.engine.persistence.NewBatch()
	var errJoin error
	for _, d := range cc.definitions {
		errJoin = errors.Join(errJoin, batch.SaveProcessDefinition(ctx, d))
	}
	for _, key := range slices.Sorted(maps.Keys(cc.instances)) {
		li := cc.instances[key]
		li.instance.Revision++
		errJoin = errors.Join(errJoin, batch.SaveProcessInstance(ctx, *li.instance))
		if li.historic != nil {
			errJoin = errors.Join(errJoin, batch.SaveHistoricProcessInstance(ctx, *li.historic))
		}
	}
	for key := range cc.executions.removed {
		errJoin = errors.Join(errJoin, batch.DeleteExecution(ctx, key))
	}
	for key := range cc.executions.changed {
		errJoin = errors.Join(errJoin, batch.SaveExecution(ctx, *cc.executions.items[key]))
	}
	for key := range cc.jobs.removed {
		errJoin = errors.Join(errJoin, batch.DeleteJob(ctx, key))
	}
	for key := range cc.jobs.changed {
		errJoin = errors.Join(errJoin, batch.SaveJob(ctx, *cc.jobs.items[key]))
	}
	for key := range cc.subscriptions.removed {
		errJoin = errors.Join(errJoin, batch.DeleteEventSubscription(ctx, key))
	}
	for key := range cc.subscriptions.changed {
		errJoin = errors.Join(errJoin, batch.SaveEventSubscription(ctx, *cc.subscriptions.items[key]))
	}
	for key := range cc.tasks.removed {
		errJoin = errors.Join(errJoin, batch.DeleteTask(ctx, key))
	}
	for key := range cc.tasks.changed {
		errJoin = errors.Join(errJoin, batch.SaveTask(ctx, *cc.tasks.items[key]))
	}
	for key := range cc.activities.changed {
		errJoin = errors.Join(errJoin, batch.SaveHistoricActivityInstance(ctx, *cc.activities.items[key]))
	}
	for _, incident := range cc.incidents {
		errJoin = errors.Join(errJoin, batch.SaveIncident(ctx, incident))
	}
	for _, update := range cc.variableUpdates {
		errJoin = errors.Join(errJoin, batch.SaveHistoricVariableUpdate(ctx, update))
	}
	if errJoin != nil {
		return errJoin
	}
	return batch.Flush(ctx)
}

// execution tree

func (cc *commandContext) execution(key int64) (*runtime.Execution, bool) {
	return cc.executions.get(key)
}

func (cc *commandContext) parent(e *runtime.Execution) (*runtime.Execution, bool) {
	if e.IsRoot() {
		return nil, false
	}
	return cc.executions.get(e.ParentKey)
}

func (cc *commandContext) children(e *runtime.Execution) []*runtime.Execution {
	return cc.executions.filter(func(c *runtime.Execution) bool {
		return c.ParentKey == e.Key
	})
}

// scopeExecution returns the execution holding the scope the execution runs in,
// the root or a sub-process holder. Multi-instance roots are skipped.
func (cc *commandContext) scopeExecution(e *runtime.Execution) *runtime.Execution {
	current := e
	for {
		p, ok := cc.parent(current)
		if !ok {
			return current
		}
		if !p.IsMultiInstanceRoot {
			return p
		}
		current = p
	}
}

func (cc *commandContext) isMultiInstanceChild(e *runtime.Execution) bool {
	p, ok := cc.parent(e)
	return ok && p.IsMultiInstanceRoot && p.ActivityId == e.ActivityId
}

func (cc *commandContext) newExecution(parent *runtime.Execution, activityId string) *runtime.Execution {
	e := &runtime.Execution{
		Key:                cc.engine.generateKey(),
		ProcessInstanceKey: parent.ProcessInstanceKey,
		ParentKey:          parent.Key,
		ActivityId:         activityId,
		IsActive:           true,
		State:              runtime.ExecutionStateActive,
		Variables:          map[string]any{},
		CreatedAt:          cc.now,
	}
	cc.executions.add(e.Key, e)
	return e
}

func (cc *commandContext) saveExecution(e *runtime.Execution) {
	cc.executions.touch(e.Key)
}

func (cc *commandContext) removeExecution(e *runtime.Execution) {
	cc.removeRegistrations(e)
	for _, t := range cc.tasksOf(e) {
		cc.tasks.remove(t.Key)
	}
	cc.executions.remove(e.Key)
}

// jobs, subscriptions and tasks

func (cc *commandContext) createJob(job runtime.Job) *runtime.Job {
	job.Key = cc.engine.generateKey()
	job.State = runtime.JobStatePending
	job.Retries = cc.engine.jobRetries
	job.CreatedAt = cc.now
	if job.DueAt.IsZero() {
		job.DueAt = cc.now
	}
	if li, ok := cc.instances[job.ProcessInstanceKey]; ok && job.ProcessInstanceKey != 0 {
		job.ProcessDefinitionKey = li.instance.ProcessDefinitionKey
		job.TenantId = li.instance.TenantId
	}
	cc.jobs.add(job.Key, &job)
	created := job
	cc.addPostFlushAction(func() {
		cc.engine.metrics.JobsCreated.Add(cc.ctx, 1, jobTypeAttribute(created.Type))
		if cc.engine.jobListener != nil {
			cc.engine.jobListener.JobScheduled(created)
		}
	})
	return &job
}

func (cc *commandContext) removeJob(job *runtime.Job) {
	cc.jobs.remove(job.Key)
	key := job.Key
	cc.addPostFlushAction(func() {
		if cc.engine.jobListener != nil {
			cc.engine.jobListener.JobCancelled(key)
		}
	})
}

func (cc *commandContext) jobsOf(e *runtime.Execution) []*runtime.Job {
	return cc.jobs.filter(func(j *runtime.Job) bool {
		return j.ExecutionKey == e.Key
	})
}

func (cc *commandContext) createSubscription(e *runtime.Execution, eventType runtime.EventType, eventName string, elementId string) *runtime.EventSubscription {
	li := cc.instanceOf(e)
	sub := &runtime.EventSubscription{
		Key:                  cc.engine.generateKey(),
		EventType:            eventType,
		EventName:            eventName,
		ProcessDefinitionKey: li.instance.ProcessDefinitionKey,
		ProcessInstanceKey:   e.ProcessInstanceKey,
		ExecutionKey:         e.Key,
		ElementId:            elementId,
		TenantId:             li.instance.TenantId,
		CreatedAt:            cc.now,
	}
	cc.subscriptions.add(sub.Key, sub)
	return sub
}

func (cc *commandContext) subscriptionsOf(e *runtime.Execution) []*runtime.EventSubscription {
	return cc.subscriptions.filter(func(s *runtime.EventSubscription) bool {
		return s.ExecutionKey == e.Key && !s.IsStartEvent()
	})
}

func (cc *commandContext) tasksOf(e *runtime.Execution) []*runtime.Task {
	return cc.tasks.filter(func(t *runtime.Task) bool {
		return t.ExecutionKey == e.Key
	})
}

// removeRegistrations deletes timers and event subscriptions waiting on the execution
func (cc *commandContext) removeRegistrations(e *runtime.Execution) {
	for _, j := range cc.jobsOf(e) {
		cc.removeJob(j)
	}
	for _, s := range cc.subscriptionsOf(e) {
		cc.subscriptions.remove(s.Key)
	}
}

func jobTypeAttribute(jobType runtime.JobType) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(otelPkg.AttributeJobType, string(jobType)))
}
