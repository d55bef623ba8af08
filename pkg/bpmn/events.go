// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	otelPkg "github.com/pvmflow/pvm/pkg/otel"
	"github.com/pvmflow/pvm/pkg/storage"
)

// planSubscriptionTrigger continues the execution of the subscription unless the subscription
// was removed before the operation runs, e.g. by another branch of the same event-based gateway.
func (cc *commandContext) planSubscriptionTrigger(sub *runtime.EventSubscription, variables map[string]any) error {
	e, ok := cc.execution(sub.ExecutionKey)
	if !ok {
		return newEngineErrorf("execution %d of subscription %d not found", sub.ExecutionKey, sub.Key)
	}
	key := sub.Key
	elementId := sub.ElementId
	cc.plan("trigger", e, func(cc *commandContext, e *runtime.Execution) error {
		if _, ok := cc.subscriptions.get(key); !ok {
			return nil
		}
		return cc.eventTriggered(e, elementId, variables)
	})
	return nil
}

// findSubscriptions merges stored subscriptions with the ones created or removed by this command
func (cc *commandContext) findSubscriptions(tenantId string, eventType runtime.EventType, eventName string) ([]runtime.EventSubscription, error) {
	stored, err := cc.engine.persistence.FindEventSubscriptionsByName(cc.ctx, tenantId, eventType, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s subscriptions for %s: %w", eventType, eventName, err)
	}
	res := make([]runtime.EventSubscription, 0, len(stored))
	seen := map[int64]bool{}
	for _, s := range stored {
		if cc.subscriptions.removed[s.Key] {
			continue
		}
		seen[s.Key] = true
		res = append(res, s)
	}
	pending := cc.subscriptions.filter(func(s *runtime.EventSubscription) bool {
		return !seen[s.Key] && s.EventType == eventType && s.EventName == eventName && s.TenantId == tenantId
	})
	for _, s := range pending {
		res = append(res, *s)
	}
	return res, nil
}

// SIGNALS ==============================================

// throwSignal delivers the signal to subscriptions of instances loaded by this command right away.
// Other instances and signal start events get signal-delivery jobs, a command never locks a foreign instance.
func (cc *commandContext) throwSignal(e *runtime.Execution, definition *bpmn20.TSignalEventDefinition) error {
	li := cc.instanceOf(e)
	name := li.definition.definitions.SignalName(definition.SignalRef)
	subscriptions, err := cc.findSubscriptions(li.instance.TenantId, runtime.EventTypeSignal, name)
	if err != nil {
		return err
	}
	for _, sub := range subscriptions {
		_, loaded := cc.instances[sub.ProcessInstanceKey]
		if !definition.Async && loaded && !sub.IsStartEvent() {
			current, ok := cc.subscriptions.get(sub.Key)
			if !ok {
				continue
			}
			if err := cc.planSubscriptionTrigger(current, nil); err != nil {
				return err
			}
			continue
		}
		cc.scheduleSignalDelivery(sub, name, nil)
	}
	cc.countSignal(li.instance.TenantId, name)
	return nil
}

func (cc *commandContext) scheduleSignalDelivery(sub runtime.EventSubscription, signalName string, variables map[string]any) {
	payload := map[string]any{
		jobSubscriptionKey: strconv.FormatInt(sub.Key, 10),
		jobSignalName:      signalName,
	}
	if len(variables) > 0 {
		payload[jobVariables] = variables
	}
	cc.createJob(runtime.Job{
		Type:                 runtime.JobTypeSignalDelivery,
		ProcessDefinitionKey: sub.ProcessDefinitionKey,
		ProcessInstanceKey:   sub.ProcessInstanceKey,
		ExecutionKey:         sub.ExecutionKey,
		ElementId:            sub.ElementId,
		TenantId:             sub.TenantId,
		Payload:              payload,
	})
}

func (cc *commandContext) countSignal(tenantId string, name string) {
	cc.addPostFlushAction(func() {
		cc.engine.metrics.SignalsDelivered.Add(cc.ctx, 1, metric.WithAttributes(
			attribute.String(otelPkg.AttributeEventName, name),
			attribute.String(otelPkg.AttributeTenantId, tenantId),
		))
	})
}

// ERRORS ==============================================

// throwError looks for an error boundary event catching code, walking outward from the throwing execution
// through sub-process holders and multi-instance roots. A called instance hands an uncaught error over to
// the call activity of its parent instance.
func (cc *commandContext) throwError(e *runtime.Execution, code string, thrownBy string) error {
	li := cc.instanceOf(e)
	current := e
	for !current.IsRoot() {
		if !cc.isMultiInstanceChild(current) {
			if be, ok := cc.errorBoundary(li, current.ActivityId, code); ok {
				if err := cc.interruptActivity(current, be); err != nil {
					return err
				}
				cc.setVariable(current, "errorCode", code, true)
				cc.planContinue(current, true)
				return nil
			}
		}
		parent, ok := cc.parent(current)
		if !ok {
			break
		}
		current = parent
	}
	if li.instance.ParentExecutionKey == 0 {
		return &UnhandledBpmnError{Code: code, ElementId: thrownBy}
	}
	return cc.propagateErrorToCaller(li, code, thrownBy)
}

// errorBoundary prefers a boundary event with the exact error code over a catch-all one
func (cc *commandContext) errorBoundary(li *loadedInstance, activityId string, code string) (*bpmn20.TBoundaryEvent, bool) {
	var catchAll *bpmn20.TBoundaryEvent
	for _, be := range li.definition.process.AttachedBoundaryEvents(activityId) {
		if be.GetEventDefinitionType() != bpmn20.EventDefinitionError {
			continue
		}
		errorRef := be.ErrorEventDefinition.ErrorRef
		if errorRef == "" {
			if catchAll == nil {
				catchAll = be
			}
			continue
		}
		if li.definition.definitions.ErrorCode(errorRef) == code {
			return be, true
		}
	}
	return catchAll, catchAll != nil
}

func (cc *commandContext) propagateErrorToCaller(li *loadedInstance, code string, thrownBy string) error {
	parentKey := li.instance.ParentProcessInstanceKey
	_, ok, err := cc.tryLoadInstance(parentKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to propagate error %s to process instance %d: %w", code, parentKey, ErrInstanceBusy)
	}
	callActivity, found := cc.execution(li.instance.ParentExecutionKey)
	if !found {
		return &UnhandledBpmnError{Code: code, ElementId: thrownBy}
	}
	if err := cc.endProcessInstance(li, runtime.ProcessInstanceStateCancelled, runtime.DeleteReasonCancelled, thrownBy); err != nil {
		return err
	}
	return cc.throwError(callActivity, code, thrownBy)
}

// TERMINATE ==============================================

// terminate ends every token of the scope the terminate end event belongs to, then completes the scope
func (cc *commandContext) terminate(e *runtime.Execution) error {
	scope := cc.scopeExecution(e)
	if err := cc.endActivity(e, runtime.DeleteReasonCompleted); err != nil {
		return err
	}
	cc.removeExecution(e)
	for _, child := range cc.children(scope) {
		if err := cc.cancelExecution(child, runtime.DeleteReasonTerminated, true); err != nil {
			return err
		}
	}
	if scope.IsRoot() {
		return cc.endProcessInstance(cc.instanceOf(scope), runtime.ProcessInstanceStateTerminated, runtime.DeleteReasonTerminated, e.ActivityId)
	}
	return cc.scopeCompleted(scope, e.ActivityId)
}

// called instances

// cancelCalledInstances cancels instances started by a call activity execution, including the ones
// started by this command which are not stored yet
func (cc *commandContext) cancelCalledInstances(e *runtime.Execution, reason string) error {
	li := cc.instanceOf(e)
	node, ok := li.definition.process.FindFlowNode(e.ActivityId)
	if !ok || node.GetType() != bpmn20.ElementTypeCallActivity {
		return nil
	}
	keys := map[int64]bool{}
	stored, err := cc.engine.persistence.FindProcessInstancesByParentExecutionKey(cc.ctx, e.Key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to find process instances called by execution %d: %w", e.Key, err)
	}
	for _, instance := range stored {
		keys[instance.Key] = true
	}
	for key, loaded := range cc.instances {
		if loaded.instance.ParentExecutionKey == e.Key {
			keys[key] = true
		}
	}
	for key := range keys {
		child, err := cc.loadInstance(key)
		if err != nil {
			return err
		}
		if child.instance.State.IsEnded() {
			continue
		}
		if err := cc.endProcessInstance(child, runtime.ProcessInstanceStateCancelled, reason, ""); err != nil {
			return err
		}
	}
	return nil
}
