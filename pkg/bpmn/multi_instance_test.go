// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

func TestParallelMultiInstanceCreatesOneTaskPerElement(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.bpmn")

	instance := engine.start(t, "multi-instance-parallel", map[string]any{"reviewers": []string{"kermit", "gonzo", "piggy"}})

	tasks := engine.tasks(t, instance.Key)
	require.Len(t, tasks, 3)
	assignees := []string{}
	for _, task := range tasks {
		assignees = append(assignees, task.Assignee)
	}
	assert.ElementsMatch(t, []string{"kermit", "gonzo", "piggy"}, assignees)

	variables, err := engine.GetVariables(t.Context(), tasks[1].ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 3, variables[varNrOfInstances])
	assert.EqualValues(t, 3, variables[varNrOfActiveInstances])
	assert.EqualValues(t, 0, variables[varNrOfCompletedInstances])
	assert.EqualValues(t, 1, variables[varLoopCounter])
	assert.Equal(t, "gonzo", variables["reviewer"])
}

func TestParallelMultiInstanceCompletesAfterAllChildren(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.bpmn")
	instance := engine.start(t, "multi-instance-parallel", map[string]any{"reviewers": []any{"kermit", "gonzo"}})
	tasks := engine.tasks(t, instance.Key)
	require.Len(t, tasks, 2)

	require.NoError(t, engine.CompleteTask(t.Context(), tasks[0].Key, nil))
	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, instance.Key).State)
	variables, err := engine.GetVariables(t.Context(), tasks[1].ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 1, variables[varNrOfCompletedInstances])
	assert.EqualValues(t, 1, variables[varNrOfActiveInstances])

	require.NoError(t, engine.CompleteTask(t.Context(), tasks[1].Key, nil))
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
}

func TestMultiInstanceLoopVariablesAreRemovedWhenLoopEnds(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.bpmn")
	engine.NewTaskHandler().Type("count").Handler(func(DelegateExecution) error { return nil })

	instance := engine.start(t, "multi-instance-sequential", nil)

	task := engine.task(t, instance.Key, "wait")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.NotContains(t, variables, varNrOfInstances)
	assert.NotContains(t, variables, varLoopCounter)
}

func TestEmptyCollectionSkipsTheActivity(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.bpmn")

	instance := engine.start(t, "multi-instance-parallel", map[string]any{"reviewers": []string{}})

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Empty(t, engine.tasks(t, instance.Key))
}

func TestMissingCollectionFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.bpmn")

	_, err := engine.StartProcessInstanceByKey(t.Context(), "multi-instance-parallel", "", "", nil)

	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestSequentialMultiInstanceStopsAtCompletionCondition(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.bpmn")
	var counters []any
	engine.NewTaskHandler().Type("count").Handler(func(execution DelegateExecution) error {
		counters = append(counters, execution.GetVariable(varLoopCounter))
		assert.EqualValues(t, 1, execution.GetVariable(varNrOfActiveInstances))
		return nil
	})

	instance := engine.start(t, "multi-instance-sequential", nil)

	assert.Equal(t, []any{0, 1, 2}, counters)
	assert.Equal(t, runtime.ProcessInstanceStateActive, instance.State)
	engine.task(t, instance.Key, "wait")
}

func TestMultiInstanceChildrenUpdateVariablesOfTheEnclosingScope(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_expression.bpmn")
	engine.NewTaskHandler().Type("sum").Handler(func(execution DelegateExecution) error {
		sum, _ := toInt(execution.GetVariable("sum"))
		item, _ := toInt(execution.GetVariable("item"))
		execution.SetVariable("sum", sum+item)
		execution.SetVariableLocal("seen", item)
		return nil
	})

	instance := engine.start(t, "multi-instance-expression", map[string]any{
		"order": map[string]any{"items": []any{3, 4, 5}},
		"sum":   0,
	})

	task := engine.task(t, instance.Key, "wait")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 12, variables["sum"])
	assert.NotContains(t, variables, "seen")
	assert.NotContains(t, variables, "item")
}
