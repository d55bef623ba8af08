// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	otelPkg "github.com/pvmflow/pvm/pkg/otel"
)

// startInstance creates the instance with its root execution and plans a token at the start event.
// An empty startEventId selects the none start event. caller is the call activity execution of a parent instance.
func (cc *commandContext) startInstance(info *processDefinitionInfo, businessKey string, variables map[string]any, startEventId string, caller *runtime.Execution) (*loadedInstance, error) {
	definition := info.definition
	var start bpmn20.FlowNode
	if startEventId == "" {
		se, ok := info.process.StartEvent("")
		if !ok {
			return nil, newEngineErrorf("process %s has no none start event", definition.BpmnProcessId)
		}
		start = se
	} else {
		node, ok := info.process.FindFlowNode(startEventId)
		if !ok || node.GetType() != bpmn20.ElementTypeStartEvent {
			return nil, newEngineErrorf("start event %s not found in process %s", startEventId, definition.BpmnProcessId)
		}
		start = node
	}

	key := cc.engine.generateKey()
	instance := &runtime.ProcessInstance{
		Key:                  key,
		ProcessDefinitionKey: definition.Key,
		BpmnProcessId:        definition.BpmnProcessId,
		BusinessKey:          businessKey,
		TenantId:             definition.TenantId,
		State:                runtime.ProcessInstanceStateActive,
		CreatedAt:            cc.now,
	}
	if caller != nil {
		instance.ParentExecutionKey = caller.Key
		instance.ParentProcessInstanceKey = caller.ProcessInstanceKey
	}
	// nobody else knows the key yet, the lock only keeps the unlock bookkeeping uniform
	cc.engine.runningInstances.lockInstance(key)
	cc.lockedKeys = append(cc.lockedKeys, key)
	li := &loadedInstance{
		instance:   instance,
		definition: info,
	}
	cc.instances[key] = li

	root := &runtime.Execution{
		Key:                key,
		ProcessInstanceKey: key,
		IsScope:            true,
		IsActive:           true,
		State:              runtime.ExecutionStateActive,
		Variables:          map[string]any{},
		CreatedAt:          cc.now,
	}
	cc.executions.add(root.Key, root)
	cc.startProcessHistory(li, start.GetId())
	cc.exportProcessInstanceEvent(li)
	cc.setVariables(root, variables, true)

	attributes := metric.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, definition.BpmnProcessId),
		attribute.String(otelPkg.AttributeTenantId, definition.TenantId),
	)
	cc.addPostFlushAction(func() {
		cc.engine.metrics.ProcessesStarted.Add(cc.ctx, 1, attributes)
		cc.engine.metrics.ProcessesRunning.Add(cc.ctx, 1, attributes)
	})

	cc.planContinue(cc.newExecution(root, start.GetId()), false)
	return li, nil
}

// endProcessInstance removes what is left of the execution tree and records the end.
// A completed called instance resumes the call activity of its parent.
func (cc *commandContext) endProcessInstance(li *loadedInstance, state runtime.ProcessInstanceState, reason string, endActivityId string) error {
	instance := li.instance
	if instance.State.IsEnded() {
		return nil
	}
	var outputs map[string]any
	var callActivity *bpmn20.TCallActivity
	resume := instance.ParentExecutionKey != 0 && state != runtime.ProcessInstanceStateCancelled
	root, hasRoot := cc.execution(instance.Key)
	if resume && hasRoot {
		ca, err := cc.calledFrom(li)
		if err != nil {
			return err
		}
		outputs, err = cc.mapVariables(root, ca.Out)
		if err != nil {
			return err
		}
		callActivity = ca
	}
	if hasRoot {
		if err := cc.cancelExecution(root, reason, true); err != nil {
			return err
		}
	}
	// jobs and subscriptions not bound to a live execution, e.g. queued signal deliveries
	for _, j := range cc.jobs.filter(func(j *runtime.Job) bool { return j.ProcessInstanceKey == instance.Key }) {
		cc.removeJob(j)
	}
	for _, s := range cc.subscriptions.filter(func(s *runtime.EventSubscription) bool { return s.ProcessInstanceKey == instance.Key }) {
		cc.subscriptions.remove(s.Key)
	}

	endedAt := cc.now
	instance.State = state
	instance.EndedAt = &endedAt
	if err := cc.endProcessHistory(li, endActivityId, reason); err != nil {
		return err
	}

	intent := exporter.Completed
	switch state {
	case runtime.ProcessInstanceStateTerminated:
		intent = exporter.Terminated
	case runtime.ProcessInstanceStateCancelled:
		intent = exporter.Cancelled
	}
	cc.exportEndProcessEvent(li, intent)
	attributes := metric.WithAttributes(
		attribute.String(otelPkg.AttributeProcessId, instance.BpmnProcessId),
		attribute.String(otelPkg.AttributeTenantId, instance.TenantId),
	)
	key := instance.Key
	cc.addPostFlushAction(func() {
		cc.engine.metrics.ProcessesEnded.Add(cc.ctx, 1, attributes)
		cc.engine.metrics.ProcessesRunning.Add(cc.ctx, -1, attributes)
		cc.engine.logger.Debug("process instance ended", "processInstanceKey", key, "state", state)
	})

	if callActivity != nil {
		return cc.resumeCaller(li, callActivity, outputs)
	}
	return nil
}
