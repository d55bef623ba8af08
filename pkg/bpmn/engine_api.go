// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// StartProcessInstanceByKey starts the latest version of the process bpmnProcessId deployed for the tenant
func (engine *Engine) StartProcessInstanceByKey(ctx context.Context, bpmnProcessId string, tenantId string, businessKey string, variables map[string]any) (runtime.ProcessInstance, error) {
	definition, err := engine.persistence.FindLatestProcessDefinitionById(ctx, bpmnProcessId, tenantId)
	if err != nil {
		return runtime.ProcessInstance{}, fmt.Errorf("no process with id=%s was found (prior loaded into the engine): %w", bpmnProcessId, err)
	}
	return engine.StartProcessInstanceByDefinitionKey(ctx, definition.Key, businessKey, variables)
}

// StartProcessInstanceByDefinitionKey starts an instance of the exact process definition version.
// The instance runs until every token waits or ended, the returned state reflects that.
func (engine *Engine) StartProcessInstanceByDefinitionKey(ctx context.Context, definitionKey int64, businessKey string, variables map[string]any) (runtime.ProcessInstance, error) {
	info, err := engine.loadDefinition(ctx, definitionKey)
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	var instance runtime.ProcessInstance
	err = engine.runCommand(ctx, "start-process-instance", func(cc *commandContext) error {
		li, err := cc.startInstance(info, businessKey, variables, "", nil)
		if err != nil {
			return err
		}
		cc.addPostFlushAction(func() { instance = *li.instance })
		return nil
	})
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	return instance, nil
}

// SetVariables sets variables in the scope of the execution, existing variables of outer scopes are updated in place
func (engine *Engine) SetVariables(ctx context.Context, executionKey int64, variables map[string]any) error {
	return engine.updateVariables(ctx, executionKey, variables, false)
}

// SetVariablesLocal sets variables on the execution itself
func (engine *Engine) SetVariablesLocal(ctx context.Context, executionKey int64, variables map[string]any) error {
	return engine.updateVariables(ctx, executionKey, variables, true)
}

func (engine *Engine) updateVariables(ctx context.Context, executionKey int64, variables map[string]any, local bool) error {
	stored, err := engine.persistence.FindExecutionByKey(ctx, executionKey)
	if err != nil {
		return fmt.Errorf("failed to find execution %d: %w", executionKey, err)
	}
	return engine.runCommand(ctx, "set-variables", func(cc *commandContext) error {
		if _, err := cc.activeInstance(stored.ProcessInstanceKey); err != nil {
			return err
		}
		e, ok := cc.execution(executionKey)
		if !ok {
			return newEngineErrorf("execution %d has ended", executionKey)
		}
		cc.setVariables(e, variables, local)
		return nil
	})
}

// GetVariables returns the variables visible from the execution, inner scopes shadow outer ones
func (engine *Engine) GetVariables(ctx context.Context, executionKey int64) (map[string]any, error) {
	stored, err := engine.persistence.FindExecutionByKey(ctx, executionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find execution %d: %w", executionKey, err)
	}
	executions, err := engine.persistence.FindProcessInstanceExecutions(ctx, stored.ProcessInstanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load executions of process instance %d: %w", stored.ProcessInstanceKey, err)
	}
	byKey := make(map[int64]*runtime.Execution, len(executions))
	for i := range executions {
		byKey[executions[i].Key] = &executions[i]
	}
	lookup := func(key int64) (*runtime.Execution, bool) {
		e, ok := byKey[key]
		return e, ok
	}
	return runtime.NewVariableHolder(&stored, lookup).GetVariables(), nil
}

// SuspendProcessInstance stops the instance from moving, its jobs are not acquired and events are rejected
func (engine *Engine) SuspendProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.runCommand(ctx, "suspend-process-instance", func(cc *commandContext) error {
		li, err := cc.loadInstance(processInstanceKey)
		if err != nil {
			return err
		}
		switch {
		case li.instance.State.IsEnded():
			return fmt.Errorf("process instance %d: %w", processInstanceKey, ErrInstanceEnded)
		case li.instance.State == runtime.ProcessInstanceStateSuspended:
			return nil
		}
		li.instance.State = runtime.ProcessInstanceStateSuspended
		return nil
	})
}

// ActivateProcessInstance resumes a suspended instance, its due jobs are handed to the job listener again
func (engine *Engine) ActivateProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.runCommand(ctx, "activate-process-instance", func(cc *commandContext) error {
		li, err := cc.loadInstance(processInstanceKey)
		if err != nil {
			return err
		}
		switch li.instance.State {
		case runtime.ProcessInstanceStateActive:
			return nil
		case runtime.ProcessInstanceStateSuspended:
		default:
			return fmt.Errorf("process instance %d: %w", processInstanceKey, ErrInstanceEnded)
		}
		li.instance.State = runtime.ProcessInstanceStateActive
		jobs := cc.jobs.filter(func(j *runtime.Job) bool {
			return j.ProcessInstanceKey == processInstanceKey && j.State == runtime.JobStatePending
		})
		cc.addPostFlushAction(func() {
			if cc.engine.jobListener == nil {
				return
			}
			for _, j := range jobs {
				cc.engine.jobListener.JobScheduled(*j)
			}
		})
		return nil
	})
}

// DeleteProcessInstance cancels the instance and the instances started by its call activities
func (engine *Engine) DeleteProcessInstance(ctx context.Context, processInstanceKey int64, reason string) error {
	return engine.runCommand(ctx, "delete-process-instance", func(cc *commandContext) error {
		li, err := cc.loadInstance(processInstanceKey)
		if err != nil {
			return err
		}
		if li.instance.State.IsEnded() {
			return fmt.Errorf("process instance %d: %w", processInstanceKey, ErrInstanceEnded)
		}
		return cc.endProcessInstance(li, runtime.ProcessInstanceStateCancelled, runtime.DeleteReasonDeletedPrefix+reason, "")
	})
}

func (engine *Engine) FindProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	return engine.persistence.FindProcessInstanceByKey(ctx, processInstanceKey)
}

// FindCalledProcessInstances returns the instances started by the call activity execution
func (engine *Engine) FindCalledProcessInstances(ctx context.Context, executionKey int64) ([]runtime.ProcessInstance, error) {
	return engine.persistence.FindProcessInstancesByParentExecutionKey(ctx, executionKey)
}

// FindExecutions returns the live execution tree of the instance
func (engine *Engine) FindExecutions(ctx context.Context, processInstanceKey int64) ([]runtime.Execution, error) {
	return engine.persistence.FindProcessInstanceExecutions(ctx, processInstanceKey)
}

func (engine *Engine) FindEventSubscriptions(ctx context.Context, processInstanceKey int64) ([]runtime.EventSubscription, error) {
	return engine.persistence.FindProcessInstanceEventSubscriptions(ctx, processInstanceKey)
}

func (engine *Engine) FindHistoricProcessInstance(ctx context.Context, processInstanceKey int64) (runtime.HistoricProcessInstance, error) {
	return engine.persistence.FindHistoricProcessInstance(ctx, processInstanceKey)
}

// FindHistoricActivityInstances returns the activity records of the instance ordered by start time
func (engine *Engine) FindHistoricActivityInstances(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricActivityInstance, error) {
	return engine.persistence.FindHistoricActivityInstances(ctx, processInstanceKey)
}

func (engine *Engine) FindHistoricVariableUpdates(ctx context.Context, processInstanceKey int64) ([]runtime.HistoricVariableUpdate, error) {
	return engine.persistence.FindHistoricVariableUpdates(ctx, processInstanceKey)
}

// FindProcessDefinitions returns all deployed versions of the tenant
func (engine *Engine) FindProcessDefinitions(ctx context.Context, tenantId string) ([]runtime.ProcessDefinition, error) {
	return engine.persistence.FindProcessDefinitions(ctx, tenantId)
}

func (engine *Engine) FindProcessDefinition(ctx context.Context, definitionKey int64) (runtime.ProcessDefinition, error) {
	return engine.persistence.FindProcessDefinitionByKey(ctx, definitionKey)
}
