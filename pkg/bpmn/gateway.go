// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// PARALLEL_GATEWAY ==============================================

type parallelGatewayBehavior struct{}

// execute joins when the gateway has more than one incoming flow. The arriving token becomes inactive,
// once as many inactive tokens of the scope wait at the gateway as it has incoming flows, one of them
// survives and forks along all outgoing flows.
func (parallelGatewayBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	process := cc.instanceOf(e).definition.process
	incoming := len(process.IncomingFlows(node.GetId()))
	if incoming <= 1 {
		cc.planLeave(e)
		return nil
	}
	cc.deactivate(e)
	arrived := cc.waitingAtJoin(e)
	if len(arrived) < incoming {
		return nil
	}
	joined := 1
	for _, other := range arrived {
		if other.Key == e.Key || joined == incoming {
			continue
		}
		if err := cc.mergeIntoJoin(other); err != nil {
			return err
		}
		joined++
	}
	cc.activate(e)
	cc.planLeave(e)
	return nil
}

// INCLUSIVE_GATEWAY ==============================================

type inclusiveGatewayBehavior struct{}

// execute joins when the gateway has more than one incoming flow. The token waits while any other token
// of the scope can still reach the gateway.
func (inclusiveGatewayBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	process := cc.instanceOf(e).definition.process
	if len(process.IncomingFlows(node.GetId())) <= 1 {
		cc.planLeave(e)
		return nil
	}
	cc.deactivate(e)
	return cc.joinInclusive(e)
}

func (cc *commandContext) joinInclusive(e *runtime.Execution) error {
	if e.IsActive {
		// merged by an earlier evaluation
		return nil
	}
	process := cc.instanceOf(e).definition.process
	parent, ok := cc.parent(e)
	if !ok {
		return nil
	}
	arrived := cc.waitingAtJoin(e)
	for _, sibling := range cc.children(parent) {
		if !sibling.IsActive && sibling.ActivityId == e.ActivityId {
			continue
		}
		if process.CanReach(sibling.ActivityId, e.ActivityId) {
			return nil
		}
	}
	for _, other := range arrived {
		if other.Key == e.Key {
			continue
		}
		if err := cc.mergeIntoJoin(other); err != nil {
			return err
		}
	}
	cc.activate(e)
	cc.planLeave(e)
	return nil
}

// planInclusiveJoins re-evaluates tokens waiting at inclusive joins of the scope,
// a token that moved or ended may have been the last one that could still arrive.
func (cc *commandContext) planInclusiveJoins(scope *runtime.Execution) {
	process := cc.instanceOf(scope).definition.process
	planned := map[string]bool{}
	for _, c := range cc.children(scope) {
		if c.IsActive || planned[c.ActivityId] {
			continue
		}
		node, ok := process.FindFlowNode(c.ActivityId)
		if !ok || node.GetType() != bpmn20.ElementTypeInclusiveGateway {
			continue
		}
		planned[c.ActivityId] = true
		cc.plan("inclusiveJoin", c, func(cc *commandContext, e *runtime.Execution) error {
			return cc.joinInclusive(e)
		})
	}
}

func (cc *commandContext) waitingAtJoin(e *runtime.Execution) []*runtime.Execution {
	return cc.executions.filter(func(c *runtime.Execution) bool {
		return c.ParentKey == e.ParentKey && c.ActivityId == e.ActivityId && !c.IsActive
	})
}

func (cc *commandContext) mergeIntoJoin(e *runtime.Execution) error {
	if err := cc.endActivity(e, runtime.DeleteReasonCompleted); err != nil {
		return err
	}
	cc.removeExecution(e)
	return nil
}

func (cc *commandContext) deactivate(e *runtime.Execution) {
	e.IsActive = false
	e.State = runtime.ExecutionStateWaiting
	cc.saveExecution(e)
}

func (cc *commandContext) activate(e *runtime.Execution) {
	e.IsActive = true
	e.State = runtime.ExecutionStateActive
	cc.saveExecution(e)
}

// EVENT_BASED_GATEWAY ==============================================

type eventBasedGatewayBehavior struct{}

// execute registers every event following the gateway on the waiting token, the first one to fire wins
func (eventBasedGatewayBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	li := cc.instanceOf(e)
	process := li.definition.process
	for _, flow := range process.OutgoingFlows(node.GetId()) {
		target, ok := process.FindFlowNode(flow.TargetRef)
		if !ok {
			return newEngineErrorf("target %s of event-based gateway %s not found", flow.TargetRef, node.GetId())
		}
		switch t := target.(type) {
		case *bpmn20.TIntermediateCatchEvent:
			if err := cc.registerCatchEvent(e, t.Id, &t.TEventDefinitions); err != nil {
				return err
			}
		case *bpmn20.TReceiveTask:
			cc.createSubscription(e, runtime.EventTypeMessage, li.definition.definitions.MessageName(t.MessageRef), t.Id)
		default:
			return newEngineErrorf("event-based gateway %s must be followed by catch events or receive tasks, found %s", node.GetId(), t.GetType())
		}
	}
	cc.waitAt(e)
	return nil
}

// fireEventGateway moves the token waiting at the gateway to the element whose event fired
// and removes the registrations of all other branches
func (cc *commandContext) fireEventGateway(e *runtime.Execution, target bpmn20.FlowNode, variables map[string]any) error {
	cc.removeRegistrations(e)
	if err := cc.endActivity(e, runtime.DeleteReasonCompleted); err != nil {
		return err
	}
	e.ActivityId = target.GetId()
	e.State = runtime.ExecutionStateActive
	cc.saveExecution(e)
	cc.startActivity(e)
	cc.setVariables(e, variables, false)
	cc.planLeave(e)
	return nil
}
