// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"reflect"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

const (
	varNrOfInstances          = "nrOfInstances"
	varNrOfActiveInstances    = "nrOfActiveInstances"
	varNrOfCompletedInstances = "nrOfCompletedInstances"
	varLoopCounter            = "loopCounter"
)

// startMultiInstance turns the execution into the multi-instance root and creates the first child
// for sequential loops or all children for parallel ones
func (cc *commandContext) startMultiInstance(root *runtime.Execution, activity bpmn20.Activity) error {
	mi := activity.GetActivity().MultiInstance
	n, collection, err := cc.multiInstanceCardinality(root, activity)
	if err != nil {
		return err
	}
	root.IsMultiInstanceRoot = true
	root.IsScope = true
	root.State = runtime.ExecutionStateWaiting
	cc.saveExecution(root)
	if n == 0 {
		return cc.leaveMultiInstance(root)
	}
	active := n
	if mi.IsSequential {
		active = 1
	}
	cc.setVariable(root, varNrOfInstances, n, true)
	cc.setVariable(root, varNrOfActiveInstances, active, true)
	cc.setVariable(root, varNrOfCompletedInstances, 0, true)
	for i := 0; i < active; i++ {
		cc.startMultiInstanceChild(root, activity, i, collection)
	}
	return nil
}

func (cc *commandContext) startMultiInstanceChild(root *runtime.Execution, activity bpmn20.Activity, loopCounter int, collection []any) {
	child := cc.newExecution(root, activity.GetId())
	cc.setVariable(child, varLoopCounter, loopCounter, true)
	if elementVariable := activity.GetActivity().MultiInstance.GetElementVariable(); elementVariable != "" && loopCounter < len(collection) {
		cc.setVariable(child, elementVariable, collection[loopCounter], true)
	}
	cc.planContinue(child, true)
}

// completeMultiInstanceChild counts the completed child and decides whether the loop is done.
// The completion condition is evaluated in the scope of the child.
func (cc *commandContext) completeMultiInstanceChild(child *runtime.Execution, activity bpmn20.Activity) error {
	root, ok := cc.parent(child)
	if !ok {
		return newEngineErrorf("multi-instance child %d has no root", child.Key)
	}
	mi := activity.GetActivity().MultiInstance
	holder := cc.variables(root)
	n := loopVariable(holder, varNrOfInstances)
	completed := loopVariable(holder, varNrOfCompletedInstances) + 1
	active := loopVariable(holder, varNrOfActiveInstances) - 1
	cc.setVariable(root, varNrOfCompletedInstances, completed, true)
	cc.setVariable(root, varNrOfActiveInstances, active, true)

	done := completed >= n
	if condition := mi.CompletionCondition.GetText(); condition != "" && !done {
		value, err := cc.evaluateExpression(child, condition)
		if err != nil {
			return &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Error evaluating completion condition of multi-instance activity id='%s'", activity.GetId()),
				Err: err,
			}
		}
		done, ok = value.(bool)
		if !ok {
			return &ExpressionEvaluationError{
				Msg: fmt.Sprintf("Completion condition of multi-instance activity id='%s' returned %v, expected a boolean", activity.GetId(), value),
			}
		}
	}
	cc.removeExecution(child)

	if done {
		for _, remaining := range cc.children(root) {
			if err := cc.cancelExecution(remaining, runtime.DeleteReasonMultiInstance, true); err != nil {
				return err
			}
		}
		return cc.leaveMultiInstance(root)
	}
	if mi.IsSequential {
		_, collection, err := cc.multiInstanceCardinality(root, activity)
		if err != nil {
			return err
		}
		cc.setVariable(root, varNrOfActiveInstances, 1, true)
		cc.startMultiInstanceChild(root, activity, completed, collection)
	}
	return nil
}

func (cc *commandContext) leaveMultiInstance(root *runtime.Execution) error {
	root.IsMultiInstanceRoot = false
	root.IsScope = false
	cc.clearLocalVariables(root)
	cc.activate(root)
	cc.planLeave(root)
	return nil
}

// multiInstanceCardinality resolves loopCardinality or the collection. A plain collection name refers to a variable.
func (cc *commandContext) multiInstanceCardinality(e *runtime.Execution, activity bpmn20.Activity) (int, []any, error) {
	mi := activity.GetActivity().MultiInstance
	var collection []any
	if name := mi.GetCollection(); name != "" {
		var value any
		if isExpression(name) {
			v, err := cc.evaluateExpression(e, name)
			if err != nil {
				return 0, nil, err
			}
			value = v
		} else {
			v, ok := cc.variables(e).GetVariable(name)
			if !ok {
				return 0, nil, newEngineErrorf("collection variable %s of multi-instance activity %s is not set", name, activity.GetId())
			}
			value = v
		}
		items, err := toSlice(value)
		if err != nil {
			return 0, nil, newEngineErrorf("collection %s of multi-instance activity %s: %s", name, activity.GetId(), err)
		}
		collection = items
	}
	if text := mi.LoopCardinality.GetText(); text != "" {
		var value any = text
		if isExpression(text) {
			v, err := cc.evaluateExpression(e, text)
			if err != nil {
				return 0, nil, err
			}
			value = v
		}
		n, ok := toInt(value)
		if !ok || n < 0 {
			return 0, nil, newEngineErrorf("loopCardinality of multi-instance activity %s must be a non negative number, got %v", activity.GetId(), value)
		}
		return int(n), collection, nil
	}
	if mi.GetCollection() == "" {
		return 0, nil, newEngineErrorf("multi-instance activity %s needs loopCardinality or a collection", activity.GetId())
	}
	return len(collection), collection, nil
}

func toSlice(value any) ([]any, error) {
	if value == nil {
		return []any{}, nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", value)
	}
	res := make([]any, v.Len())
	for i := range res {
		res[i] = v.Index(i).Interface()
	}
	return res, nil
}

func loopVariable(holder runtime.VariableHolder, name string) int {
	value, _ := holder.GetVariableLocal(name)
	n, _ := toInt(value)
	return int(n)
}
