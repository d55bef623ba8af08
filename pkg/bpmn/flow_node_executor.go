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

// flowNodeBehavior defines what happens when a token arrives at a flow node.
// Behaviors either plan the next operation on the agenda or leave the token waiting.
type flowNodeBehavior interface {
	execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error
}

func behaviorOf(node bpmn20.FlowNode) (flowNodeBehavior, error) {
	switch node.GetType() {
	// Events
	case bpmn20.ElementTypeStartEvent, bpmn20.ElementTypeBoundaryEvent:
		return passThroughBehavior{}, nil
	case bpmn20.ElementTypeEndEvent:
		return endEventBehavior{}, nil
	case bpmn20.ElementTypeIntermediateCatchEvent:
		return catchEventBehavior{}, nil
	case bpmn20.ElementTypeIntermediateThrowEvent:
		return throwEventBehavior{}, nil
	// Activities
	case bpmn20.ElementTypeTask, bpmn20.ElementTypeManualTask:
		return passThroughBehavior{}, nil
	case bpmn20.ElementTypeServiceTask:
		return serviceTaskBehavior{}, nil
	case bpmn20.ElementTypeScriptTask:
		return scriptTaskBehavior{}, nil
	case bpmn20.ElementTypeUserTask:
		return userTaskBehavior{}, nil
	case bpmn20.ElementTypeReceiveTask:
		return receiveTaskBehavior{}, nil
	case bpmn20.ElementTypeSubProcess:
		return subProcessBehavior{}, nil
	case bpmn20.ElementTypeCallActivity:
		return callActivityBehavior{}, nil
	// Gateways
	case bpmn20.ElementTypeExclusiveGateway:
		return passThroughBehavior{}, nil
	case bpmn20.ElementTypeParallelGateway:
		return parallelGatewayBehavior{}, nil
	case bpmn20.ElementTypeInclusiveGateway:
		return inclusiveGatewayBehavior{}, nil
	case bpmn20.ElementTypeEventBasedGateway:
		return eventBasedGatewayBehavior{}, nil
	}
	return nil, newEngineErrorf("unsupported element type %s of element %s", node.GetType(), node.GetId())
}

// passThroughBehavior leaves the node right away, flow selection happens in takeOutgoingFlows
type passThroughBehavior struct{}

func (passThroughBehavior) execute(cc *commandContext, e *runtime.Execution, _ bpmn20.FlowNode) error {
	cc.planLeave(e)
	return nil
}

type endEventBehavior struct{}

func (endEventBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	end := node.(*bpmn20.TEndEvent)
	switch end.GetEventDefinitionType() {
	case bpmn20.EventDefinitionTerminate:
		return cc.terminate(e)
	case bpmn20.EventDefinitionError:
		li := cc.instanceOf(e)
		code := li.definition.definitions.ErrorCode(end.ErrorEventDefinition.ErrorRef)
		return cc.throwError(e, code, end.Id)
	case bpmn20.EventDefinitionSignal:
		if err := cc.throwSignal(e, end.SignalEventDefinition); err != nil {
			return err
		}
	case bpmn20.EventDefinitionCompensate:
		if err := cc.throwCompensation(e, end.CompensateEventDefinition); err != nil {
			return err
		}
	}
	cc.planLeave(e)
	return nil
}

type catchEventBehavior struct{}

func (catchEventBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	event := node.(*bpmn20.TIntermediateCatchEvent)
	if err := cc.registerCatchEvent(e, event.Id, &event.TEventDefinitions); err != nil {
		return err
	}
	cc.waitAt(e)
	return nil
}

type throwEventBehavior struct{}

func (throwEventBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	event := node.(*bpmn20.TIntermediateThrowEvent)
	switch event.GetEventDefinitionType() {
	case bpmn20.EventDefinitionSignal:
		if err := cc.throwSignal(e, event.SignalEventDefinition); err != nil {
			return err
		}
	case bpmn20.EventDefinitionCompensate:
		if err := cc.throwCompensation(e, event.CompensateEventDefinition); err != nil {
			return err
		}
	}
	cc.planLeave(e)
	return nil
}

// registerCatchEvent creates the subscription or timer a catch event waits for.
// elementId is the catching element, it differs from the execution's activity for event-based gateways.
func (cc *commandContext) registerCatchEvent(e *runtime.Execution, elementId string, definitions *bpmn20.TEventDefinitions) error {
	li := cc.instanceOf(e)
	switch definitions.GetEventDefinitionType() {
	case bpmn20.EventDefinitionMessage:
		name := li.definition.definitions.MessageName(definitions.MessageEventDefinition.MessageRef)
		cc.createSubscription(e, runtime.EventTypeMessage, name, elementId)
	case bpmn20.EventDefinitionSignal:
		name := li.definition.definitions.SignalName(definitions.SignalEventDefinition.SignalRef)
		cc.createSubscription(e, runtime.EventTypeSignal, name, elementId)
	case bpmn20.EventDefinitionTimer:
		return cc.scheduleTimer(e, elementId, definitions.TimerEventDefinition)
	default:
		return newEngineErrorf("catch event %s has no message, signal or timer definition", elementId)
	}
	return nil
}
