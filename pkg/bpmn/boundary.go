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

// registerBoundaryEvents binds the timers and subscriptions of boundary events to the execution at the activity.
// Error and compensation boundaries are looked up in the model when they are needed.
func (cc *commandContext) registerBoundaryEvents(e *runtime.Execution, activity bpmn20.Activity) error {
	li := cc.instanceOf(e)
	for _, be := range li.definition.process.AttachedBoundaryEvents(activity.GetId()) {
		switch be.GetEventDefinitionType() {
		case bpmn20.EventDefinitionTimer, bpmn20.EventDefinitionMessage, bpmn20.EventDefinitionSignal:
			if err := cc.registerCatchEvent(e, be.Id, &be.TEventDefinitions); err != nil {
				return err
			}
		}
	}
	return nil
}

// fireBoundaryEvent continues at the boundary event attached to the activity of e.
// An interrupting event cancels the activity and moves e to the boundary event,
// a non-interrupting one forks a sibling token there.
func (cc *commandContext) fireBoundaryEvent(e *runtime.Execution, be *bpmn20.TBoundaryEvent, variables map[string]any) error {
	if e.ActivityId != be.AttachedToRef {
		return newEngineErrorf("execution %d left %s, boundary event %s cannot fire", e.Key, be.AttachedToRef, be.Id)
	}
	if !be.IsInterrupting() {
		parent, ok := cc.parent(e)
		if !ok {
			return newEngineErrorf("boundary event %s cannot fork from the root execution", be.Id)
		}
		sibling := cc.newExecution(parent, be.Id)
		cc.setVariables(sibling, variables, false)
		cc.planContinue(sibling, true)
		return nil
	}
	if err := cc.interruptActivity(e, be); err != nil {
		return err
	}
	cc.setVariables(e, variables, false)
	cc.planContinue(e, true)
	return nil
}

// interruptActivity cancels everything below e and moves it to the boundary event
func (cc *commandContext) interruptActivity(e *runtime.Execution, be *bpmn20.TBoundaryEvent) error {
	if err := cc.cancelExecution(e, runtime.DeleteReasonBoundaryInterrupted, false); err != nil {
		return err
	}
	if e.IsScope || e.IsMultiInstanceRoot {
		cc.clearLocalVariables(e)
	}
	e.IsScope = false
	e.IsMultiInstanceRoot = false
	e.ActivityId = be.Id
	cc.activate(e)
	return nil
}
