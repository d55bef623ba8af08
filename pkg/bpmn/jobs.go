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

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// job payload keys
const (
	jobPhase           = "phase"
	jobPhaseExecute    = "execute"
	jobPhaseLeave      = "leave"
	jobVariables       = "variables"
	jobSubscriptionKey = "subscriptionKey"
	jobSignalName      = "signalName"
)

// ExecuteJob runs the job in its own command. The job must still be locked by job.LockOwner,
// otherwise storage.ErrConflict is returned. A job that vanished meanwhile is ignored.
func (engine *Engine) ExecuteJob(ctx context.Context, job runtime.Job) error {
	err := engine.runCommand(ctx, "execute-job", func(cc *commandContext) error {
		current, found, err := cc.lockedJob(job)
		if err != nil || !found {
			return err
		}
		if li, ok := cc.instances[current.ProcessInstanceKey]; ok && li.instance.State == runtime.ProcessInstanceStateSuspended {
			return fmt.Errorf("process instance %d: %w", current.ProcessInstanceKey, ErrSuspended)
		}
		cc.jobs.remove(current.Key)
		switch current.Type {
		case runtime.JobTypeAsyncContinuation:
			return cc.executeAsyncContinuation(current)
		case runtime.JobTypeTimer:
			return cc.executeTimer(current)
		case runtime.JobTypeTimerStart:
			return cc.executeTimerStart(current)
		case runtime.JobTypeSignalDelivery:
			return cc.executeSignalDelivery(current)
		}
		return newEngineErrorf("unknown job type %s of job %d", current.Type, current.Key)
	})
	if err != nil {
		return err
	}
	engine.metrics.JobsExecuted.Add(ctx, 1, jobTypeAttribute(job.Type))
	return nil
}

// lockedJob loads the job with its process instance, found is false when the job does not exist anymore
func (cc *commandContext) lockedJob(job runtime.Job) (*runtime.Job, bool, error) {
	if job.ProcessInstanceKey != 0 {
		if _, err := cc.loadInstance(job.ProcessInstanceKey); err != nil {
			return nil, false, err
		}
	} else {
		stored, err := cc.engine.persistence.FindJobByKey(cc.ctx, job.Key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to find job %d: %w", job.Key, err)
		}
		cc.jobs.load(stored.Key, stored)
	}
	current, ok := cc.jobs.get(job.Key)
	if !ok {
		return nil, false, nil
	}
	if current.LockOwner != job.LockOwner {
		return nil, false, fmt.Errorf("job %d is locked by %s: %w", job.Key, current.LockOwner, storage.ErrConflict)
	}
	return current, true, nil
}

func (cc *commandContext) executeAsyncContinuation(job *runtime.Job) error {
	e, ok := cc.execution(job.ExecutionKey)
	if !ok {
		cc.engine.logger.Warn("execution of async job left meanwhile", "jobKey", job.Key, "executionKey", job.ExecutionKey)
		return nil
	}
	if job.Payload[jobPhase] == jobPhaseLeave {
		variables, _ := job.Payload[jobVariables].(map[string]any)
		cc.setVariables(e, variables, false)
		cc.activate(e)
		cc.planLeave(e)
		return nil
	}
	cc.planContinue(e, true)
	return nil
}

// executeTimer fires an intermediate or boundary timer, cycles of non-interrupting boundary timers are rescheduled
func (cc *commandContext) executeTimer(job *runtime.Job) error {
	e, ok := cc.execution(job.ExecutionKey)
	if !ok {
		return nil
	}
	node, ok := cc.instanceOf(e).definition.process.FindFlowNode(job.ElementId)
	if !ok {
		return newEngineErrorf("timer element %s not found", job.ElementId)
	}
	if be, isBoundary := node.(*bpmn20.TBoundaryEvent); isBoundary && !be.IsInterrupting() {
		next, repeat, err := nextCycle(*job, cc.now)
		if err != nil {
			return err
		}
		if repeat {
			cc.createJob(next)
		}
	}
	cc.planTrigger(e, job.ElementId, nil)
	return nil
}

func (cc *commandContext) executeTimerStart(job *runtime.Job) error {
	info, err := cc.engine.loadDefinition(cc.ctx, job.ProcessDefinitionKey)
	if err != nil {
		return err
	}
	if _, err := cc.startInstance(info, "", nil, job.ElementId, nil); err != nil {
		return err
	}
	next, repeat, err := nextCycle(*job, cc.now)
	if err != nil {
		return err
	}
	if repeat {
		cc.createJob(next)
	}
	return nil
}

func (cc *commandContext) executeSignalDelivery(job *runtime.Job) error {
	subscriptionKey, ok := toInt(job.Payload[jobSubscriptionKey])
	if !ok {
		return newEngineErrorf("signal delivery job %d has no subscription", job.Key)
	}
	variables, _ := job.Payload[jobVariables].(map[string]any)
	if job.ProcessInstanceKey != 0 {
		sub, ok := cc.subscriptions.get(subscriptionKey)
		if !ok {
			return nil
		}
		return cc.planSubscriptionTrigger(sub, variables)
	}
	sub, err := cc.engine.persistence.FindEventSubscriptionByKey(cc.ctx, subscriptionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find subscription %d: %w", subscriptionKey, err)
	}
	info, err := cc.engine.loadDefinition(cc.ctx, sub.ProcessDefinitionKey)
	if err != nil {
		return err
	}
	_, err = cc.startInstance(info, "", variables, sub.ElementId, nil)
	return err
}
