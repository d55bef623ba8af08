// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"slices"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// registerCompensation remembers a completed activity with a compensation boundary event in its scope
func (cc *commandContext) registerCompensation(e *runtime.Execution, activity bpmn20.Activity) {
	be, ok := cc.instanceOf(e).definition.process.CompensationBoundary(activity.GetId())
	if !ok {
		return
	}
	cc.createSubscription(cc.scopeExecution(e), runtime.EventTypeCompensate, activity.GetId(), be.Id)
}

// moveCompensationSubscriptions hands the compensation subscriptions of a completed sub-process to the enclosing scope
func (cc *commandContext) moveCompensationSubscriptions(from *runtime.Execution, to *runtime.Execution) {
	for _, s := range cc.compensationSubscriptions(from, "") {
		s.ExecutionKey = to.Key
		cc.subscriptions.touch(s.Key)
	}
}

func (cc *commandContext) compensationSubscriptions(scope *runtime.Execution, activityRef string) []*runtime.EventSubscription {
	return cc.subscriptions.filter(func(s *runtime.EventSubscription) bool {
		return s.ExecutionKey == scope.Key &&
			s.EventType == runtime.EventTypeCompensate &&
			(activityRef == "" || s.EventName == activityRef)
	})
}

// throwCompensation starts a handler token for every compensation subscription of the scope,
// most recently completed activity first. The throwing token does not wait for the handlers.
func (cc *commandContext) throwCompensation(e *runtime.Execution, definition *bpmn20.TCompensateEventDefinition) error {
	process := cc.instanceOf(e).definition.process
	scope := cc.scopeExecution(e)
	subscriptions := cc.compensationSubscriptions(scope, definition.ActivityRef)
	slices.Reverse(subscriptions)
	for _, s := range subscriptions {
		handler, ok := process.CompensationHandler(s.ElementId)
		if !ok {
			return newEngineErrorf("no compensation handler associated with boundary event %s", s.ElementId)
		}
		cc.subscriptions.remove(s.Key)
		cc.planContinue(cc.newExecution(scope, handler.GetId()), false)
	}
	return nil
}
