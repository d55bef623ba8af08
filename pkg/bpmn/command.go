// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// agenda operations

func (cc *commandContext) planContinue(e *runtime.Execution, skipAsync bool) {
	cc.plan("continueProcess", e, func(cc *commandContext, e *runtime.Execution) error {
		return cc.continueProcess(e, skipAsync)
	})
}

func (cc *commandContext) planLeave(e *runtime.Execution) {
	cc.plan("takeOutgoingFlows", e, func(cc *commandContext, e *runtime.Execution) error {
		return cc.takeOutgoingFlows(e)
	})
}

func (cc *commandContext) planTrigger(e *runtime.Execution, elementId string, variables map[string]any) {
	cc.plan("trigger", e, func(cc *commandContext, e *runtime.Execution) error {
		return cc.eventTriggered(e, elementId, variables)
	})
}

func (cc *commandContext) flowNode(e *runtime.Execution) (bpmn20.FlowNode, error) {
	li := cc.instanceOf(e)
	node, ok := li.definition.process.FindFlowNode(e.ActivityId)
	if !ok {
		return nil, newEngineErrorf("element %s not found in process %s", e.ActivityId, li.instance.BpmnProcessId)
	}
	return node, nil
}

// continueProcess runs the behavior of the flow node the token arrived at.
// Asynchronous nodes park the token and hand over to an async-continuation job unless skipAsync is set.
func (cc *commandContext) continueProcess(e *runtime.Execution, skipAsync bool) error {
	node, err := cc.flowNode(e)
	if err != nil {
		return err
	}
	if node.IsAsync() && !skipAsync {
		e.State = runtime.ExecutionStateWaiting
		cc.saveExecution(e)
		cc.createJob(runtime.Job{
			Type:               runtime.JobTypeAsyncContinuation,
			ProcessInstanceKey: e.ProcessInstanceKey,
			ExecutionKey:       e.Key,
			ElementId:          e.ActivityId,
			Payload:            map[string]any{jobPhase: jobPhaseExecute},
		})
		return nil
	}
	e.State = runtime.ExecutionStateActive
	e.IsActive = true
	cc.saveExecution(e)

	activity, isActivity := node.(bpmn20.Activity)
	if isActivity && !cc.isMultiInstanceChild(e) {
		if err := cc.registerBoundaryEvents(e, activity); err != nil {
			return err
		}
		if activity.GetActivity().MultiInstance != nil {
			return cc.startMultiInstance(e, activity)
		}
	}
	cc.startActivity(e)
	behavior, err := behaviorOf(node)
	if err != nil {
		return err
	}
	return behavior.execute(cc, e, node)
}

// takeOutgoingFlows completes the current flow node and moves the token along the selected flows.
// The first flow reuses the token, every further flow forks a sibling.
func (cc *commandContext) takeOutgoingFlows(e *runtime.Execution) error {
	node, err := cc.flowNode(e)
	if err != nil {
		return err
	}
	if err := cc.endActivity(e, runtime.DeleteReasonCompleted); err != nil {
		return err
	}
	cc.removeRegistrations(e)
	for _, t := range cc.tasksOf(e) {
		cc.tasks.remove(t.Key)
	}
	e.State = runtime.ExecutionStateActive
	cc.saveExecution(e)

	if activity, ok := node.(bpmn20.Activity); ok {
		miChild := cc.isMultiInstanceChild(e)
		if activity.GetActivity().MultiInstance == nil || miChild {
			cc.registerCompensation(e, activity)
		}
		if miChild {
			return cc.completeMultiInstanceChild(e, activity)
		}
	}

	flows, err := cc.selectOutgoingFlows(e, node)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return cc.endExecution(e)
	}
	parent, ok := cc.parent(e)
	if !ok {
		return newEngineErrorf("root execution %d cannot leave %s", e.Key, e.ActivityId)
	}
	for i, flow := range flows {
		target := e
		if i > 0 {
			target = cc.newExecution(parent, flow.TargetRef)
		}
		target.ActivityId = flow.TargetRef
		target.IsActive = true
		target.State = runtime.ExecutionStateActive
		cc.saveExecution(target)
		cc.exportElementEvent(target, flow.Id, string(bpmn20.ElementTypeSequenceFlow), exporter.SequenceFlowTaken)
		cc.planContinue(target, false)
	}
	cc.planInclusiveJoins(parent)
	return nil
}

func (cc *commandContext) selectOutgoingFlows(e *runtime.Execution, node bpmn20.FlowNode) ([]*bpmn20.TSequenceFlow, error) {
	process := cc.instanceOf(e).definition.process
	outgoing := process.OutgoingFlows(node.GetId())
	if len(outgoing) == 0 {
		return nil, nil
	}
	if node.GetType() == bpmn20.ElementTypeParallelGateway {
		return outgoing, nil
	}
	defaultFlowId := ""
	if holder, ok := node.(bpmn20.DefaultFlowHolder); ok {
		defaultFlowId = holder.GetDefaultFlow()
	}
	exclusive := node.GetType() == bpmn20.ElementTypeExclusiveGateway

	var defaultFlow *bpmn20.TSequenceFlow
	selected := make([]*bpmn20.TSequenceFlow, 0, len(outgoing))
	for _, flow := range outgoing {
		if flow.Id == defaultFlowId {
			defaultFlow = flow
			continue
		}
		ok, err := cc.evaluateCondition(e, flow)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		selected = append(selected, flow)
		if exclusive {
			break
		}
	}
	if len(selected) > 0 {
		return selected, nil
	}
	if defaultFlow != nil {
		return []*bpmn20.TSequenceFlow{defaultFlow}, nil
	}
	// only gateways must select a flow, any other node ends its token
	if !exclusive && node.GetType() != bpmn20.ElementTypeInclusiveGateway {
		cc.engine.logger.Debug("no outgoing sequence flow selected, ending execution", "elementId", node.GetId(), "executionKey", e.Key)
		return nil, nil
	}
	return nil, &ExpressionEvaluationError{
		Msg: fmt.Sprintf("No outgoing sequence flow of element id='%s' name='%s' could be selected", node.GetId(), node.GetName()),
	}
}

// endExecution removes a token that has nowhere to go, the scope completes when it was the last one
func (cc *commandContext) endExecution(e *runtime.Execution) error {
	parent, ok := cc.parent(e)
	if !ok {
		return newEngineErrorf("root execution %d cannot end at %s", e.Key, e.ActivityId)
	}
	cc.removeExecution(e)
	if len(cc.children(parent)) == 0 {
		return cc.scopeCompleted(parent, e.ActivityId)
	}
	cc.planInclusiveJoins(parent)
	return nil
}

// scopeCompleted is called when the last child of a scope holder ended.
// The root completes the instance, a sub-process holder leaves the sub-process.
func (cc *commandContext) scopeCompleted(holder *runtime.Execution, lastActivityId string) error {
	if holder.IsRoot() {
		return cc.endProcessInstance(cc.instanceOf(holder), runtime.ProcessInstanceStateCompleted, runtime.DeleteReasonCompleted, lastActivityId)
	}
	cc.moveCompensationSubscriptions(holder, cc.scopeExecution(holder))
	holder.IsScope = false
	cc.clearLocalVariables(holder)
	cc.saveExecution(holder)
	cc.planLeave(holder)
	return nil
}

// cancelExecution removes everything below the execution: child executions, timers, subscriptions,
// tasks and called process instances. The execution itself is removed when removeSelf is set.
func (cc *commandContext) cancelExecution(e *runtime.Execution, reason string, removeSelf bool) error {
	for _, child := range cc.children(e) {
		if err := cc.cancelExecution(child, reason, true); err != nil {
			return err
		}
	}
	cc.removeRegistrations(e)
	for _, t := range cc.tasksOf(e) {
		cc.tasks.remove(t.Key)
	}
	if err := cc.cancelCalledInstances(e, reason); err != nil {
		return err
	}
	if err := cc.endActivity(e, reason); err != nil {
		return err
	}
	if removeSelf {
		cc.executions.remove(e.Key)
	}
	return nil
}

// eventTriggered continues the execution waiting for elementId, a catch event, a boundary event
// attached to its activity or a branch of an event-based gateway.
func (cc *commandContext) eventTriggered(e *runtime.Execution, elementId string, variables map[string]any) error {
	li := cc.instanceOf(e)
	process := li.definition.process
	target, ok := process.FindFlowNode(elementId)
	if !ok {
		return newEngineErrorf("element %s not found in process %s", elementId, li.instance.BpmnProcessId)
	}
	if boundary, ok := target.(*bpmn20.TBoundaryEvent); ok {
		return cc.fireBoundaryEvent(e, boundary, variables)
	}
	current, err := cc.flowNode(e)
	if err != nil {
		return err
	}
	if current.GetType() == bpmn20.ElementTypeEventBasedGateway {
		return cc.fireEventGateway(e, target, variables)
	}
	if e.ActivityId != elementId {
		return newEngineErrorf("execution %d waits at %s, not at %s", e.Key, e.ActivityId, elementId)
	}
	cc.removeRegistrations(e)
	cc.setVariables(e, variables, false)
	e.State = runtime.ExecutionStateActive
	cc.saveExecution(e)
	cc.planLeave(e)
	return nil
}

// waitAt parks the token in a wait state
func (cc *commandContext) waitAt(e *runtime.Execution) {
	e.State = runtime.ExecutionStateWaiting
	cc.saveExecution(e)
}
