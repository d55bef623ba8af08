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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	otelPkg "github.com/pvmflow/pvm/pkg/otel"
)

// SignalEventReceived broadcasts the signal to all subscriptions of the tenant.
// Every receiving instance is continued in its own command, signal start events start new instances.
// Suspended and ended instances are skipped. Errors of single deliveries are joined.
func (engine *Engine) SignalEventReceived(ctx context.Context, signalName string, tenantId string, variables map[string]any) error {
	subscriptions, err := engine.persistence.FindEventSubscriptionsByName(ctx, tenantId, runtime.EventTypeSignal, signalName)
	if err != nil {
		return fmt.Errorf("failed to find signal subscriptions for %s: %w", signalName, err)
	}
	byInstance := map[int64][]int64{}
	var errJoin error
	for _, sub := range subscriptions {
		if sub.IsStartEvent() {
			errJoin = errors.Join(errJoin, engine.startBySubscription(ctx, "signal-start", sub, "", variables))
			continue
		}
		byInstance[sub.ProcessInstanceKey] = append(byInstance[sub.ProcessInstanceKey], sub.Key)
	}
	for _, instanceKey := range slices.Sorted(maps.Keys(byInstance)) {
		keys := byInstance[instanceKey]
		errJoin = errors.Join(errJoin, engine.runCommand(ctx, "signal-event-received", func(cc *commandContext) error {
			li, err := cc.loadInstance(instanceKey)
			if err != nil {
				return err
			}
			if li.instance.State != runtime.ProcessInstanceStateActive {
				return nil
			}
			for _, key := range keys {
				sub, ok := cc.subscriptions.get(key)
				if !ok {
					continue
				}
				if err := cc.planSubscriptionTrigger(sub, variables); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	engine.metrics.SignalsDelivered.Add(ctx, 1, eventAttributes(signalName, tenantId))
	return errJoin
}

// MessageEventReceived delivers the message to the subscription of one execution
func (engine *Engine) MessageEventReceived(ctx context.Context, messageName string, executionKey int64, variables map[string]any) error {
	stored, err := engine.persistence.FindExecutionByKey(ctx, executionKey)
	if err != nil {
		return fmt.Errorf("failed to find execution %d: %w", executionKey, err)
	}
	var tenantId string
	err = engine.runCommand(ctx, "message-event-received", func(cc *commandContext) error {
		li, err := cc.activeInstance(stored.ProcessInstanceKey)
		if err != nil {
			return err
		}
		tenantId = li.instance.TenantId
		e, ok := cc.execution(executionKey)
		if !ok {
			return fmt.Errorf("execution %d: %w", executionKey, ErrNoCorrelation)
		}
		for _, sub := range cc.subscriptionsOf(e) {
			if sub.EventType == runtime.EventTypeMessage && sub.EventName == messageName {
				return cc.planSubscriptionTrigger(sub, variables)
			}
		}
		return fmt.Errorf("execution %d does not wait for message %s: %w", executionKey, messageName, ErrNoCorrelation)
	})
	if err != nil {
		return err
	}
	engine.metrics.MessagesDelivered.Add(ctx, 1, eventAttributes(messageName, tenantId))
	return nil
}

// CorrelateMessage delivers the message to the single waiting subscription of the tenant, optionally restricted
// to one process instance. Without a waiting subscription a message start event starts a new instance.
// ErrNoCorrelation is returned when nothing matches, ErrAmbiguousCorrelation when more than one instance could receive it.
func (engine *Engine) CorrelateMessage(ctx context.Context, messageName string, tenantId string, processInstanceKey int64, variables map[string]any) error {
	subscriptions, err := engine.persistence.FindEventSubscriptionsByName(ctx, tenantId, runtime.EventTypeMessage, messageName)
	if err != nil {
		return fmt.Errorf("failed to find message subscriptions for %s: %w", messageName, err)
	}
	var waiting, starting []runtime.EventSubscription
	for _, sub := range subscriptions {
		switch {
		case sub.IsStartEvent():
			starting = append(starting, sub)
		case processInstanceKey == 0 || sub.ProcessInstanceKey == processInstanceKey:
			waiting = append(waiting, sub)
		}
	}
	switch {
	case len(waiting) > 1 && processInstanceKey == 0:
		return fmt.Errorf("message %s: %w", messageName, ErrAmbiguousCorrelation)
	case len(waiting) > 0:
		err = engine.deliverMessage(ctx, waiting[0], variables)
	case processInstanceKey != 0 || len(starting) == 0:
		return fmt.Errorf("message %s: %w", messageName, ErrNoCorrelation)
	case len(starting) > 1:
		return fmt.Errorf("message start %s: %w", messageName, ErrAmbiguousCorrelation)
	default:
		err = engine.startBySubscription(ctx, "message-start", starting[0], "", variables)
	}
	if err != nil {
		return err
	}
	engine.metrics.MessagesDelivered.Add(ctx, 1, eventAttributes(messageName, tenantId))
	return nil
}

func (engine *Engine) deliverMessage(ctx context.Context, sub runtime.EventSubscription, variables map[string]any) error {
	return engine.runCommand(ctx, "correlate-message", func(cc *commandContext) error {
		if _, err := cc.activeInstance(sub.ProcessInstanceKey); err != nil {
			return err
		}
		current, ok := cc.subscriptions.get(sub.Key)
		if !ok {
			return fmt.Errorf("subscription %d was consumed meanwhile: %w", sub.Key, ErrNoCorrelation)
		}
		return cc.planSubscriptionTrigger(current, variables)
	})
}

// StartProcessInstanceByMessage starts the process whose message start event waits for messageName
func (engine *Engine) StartProcessInstanceByMessage(ctx context.Context, messageName string, tenantId string, businessKey string, variables map[string]any) (runtime.ProcessInstance, error) {
	subscriptions, err := engine.persistence.FindEventSubscriptionsByName(ctx, tenantId, runtime.EventTypeMessage, messageName)
	if err != nil {
		return runtime.ProcessInstance{}, fmt.Errorf("failed to find message subscriptions for %s: %w", messageName, err)
	}
	starting := slices.DeleteFunc(subscriptions, func(s runtime.EventSubscription) bool { return !s.IsStartEvent() })
	switch len(starting) {
	case 0:
		return runtime.ProcessInstance{}, fmt.Errorf("message start %s: %w", messageName, ErrNoCorrelation)
	case 1:
	default:
		return runtime.ProcessInstance{}, fmt.Errorf("message start %s: %w", messageName, ErrAmbiguousCorrelation)
	}
	var instance runtime.ProcessInstance
	err = engine.runCommand(ctx, "message-start", func(cc *commandContext) error {
		info, err := cc.engine.loadDefinition(cc.ctx, starting[0].ProcessDefinitionKey)
		if err != nil {
			return err
		}
		li, err := cc.startInstance(info, businessKey, variables, starting[0].ElementId, nil)
		if err != nil {
			return err
		}
		cc.addPostFlushAction(func() { instance = *li.instance })
		return nil
	})
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	engine.metrics.MessagesDelivered.Add(ctx, 1, eventAttributes(messageName, tenantId))
	return instance, nil
}

func (engine *Engine) startBySubscription(ctx context.Context, name string, sub runtime.EventSubscription, businessKey string, variables map[string]any) error {
	return engine.runCommand(ctx, name, func(cc *commandContext) error {
		info, err := cc.engine.loadDefinition(cc.ctx, sub.ProcessDefinitionKey)
		if err != nil {
			return err
		}
		_, err = cc.startInstance(info, businessKey, variables, sub.ElementId, nil)
		return err
	})
}

// Trigger continues an execution waiting in a receive task, user task or catch event
// without correlating an event
func (engine *Engine) Trigger(ctx context.Context, executionKey int64, variables map[string]any) error {
	stored, err := engine.persistence.FindExecutionByKey(ctx, executionKey)
	if err != nil {
		return fmt.Errorf("failed to find execution %d: %w", executionKey, err)
	}
	return engine.runCommand(ctx, "trigger", func(cc *commandContext) error {
		if _, err := cc.activeInstance(stored.ProcessInstanceKey); err != nil {
			return err
		}
		e, ok := cc.execution(executionKey)
		if !ok {
			return newEngineErrorf("execution %d has ended", executionKey)
		}
		node, err := cc.flowNode(e)
		if err != nil {
			return err
		}
		if e.State != runtime.ExecutionStateWaiting || e.IsScope || isGateway(node) || node.GetType() == bpmn20.ElementTypeCallActivity {
			return newEngineErrorf("execution %d at %s does not wait for a trigger", executionKey, e.ActivityId)
		}
		for _, j := range cc.jobsOf(e) {
			if j.Type == runtime.JobTypeAsyncContinuation {
				return newEngineErrorf("execution %d waits for async job %d", executionKey, j.Key)
			}
		}
		for _, t := range cc.tasksOf(e) {
			cc.tasks.remove(t.Key)
		}
		cc.planTrigger(e, e.ActivityId, variables)
		return nil
	})
}

func isGateway(node bpmn20.FlowNode) bool {
	switch node.GetType() {
	case bpmn20.ElementTypeParallelGateway, bpmn20.ElementTypeInclusiveGateway, bpmn20.ElementTypeEventBasedGateway, bpmn20.ElementTypeExclusiveGateway:
		return true
	}
	return false
}

func eventAttributes(name string, tenantId string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String(otelPkg.AttributeEventName, name),
		attribute.String(otelPkg.AttributeTenantId, tenantId),
	)
}
