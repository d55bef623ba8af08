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
	"github.com/pvmflow/pvm/pkg/storage"
	"github.com/pvmflow/pvm/pkg/storage/sqlstore"
)

func TestSetVariablesUpdatesTheInstanceScope(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")

	require.NoError(t, engine.SetVariables(t.Context(), task.ExecutionKey, map[string]any{"item": "phone", "price": 300}))

	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.Equal(t, "phone", variables["item"])
	assert.EqualValues(t, 300, variables["price"])
	rootVariables, err := engine.GetVariables(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, variables, rootVariables)
}

func TestSetVariablesLocalShadowsOuterScope(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")

	require.NoError(t, engine.SetVariablesLocal(t.Context(), task.ExecutionKey, map[string]any{"item": "phone"}))

	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.Equal(t, "phone", variables["item"])
	rootVariables, err := engine.GetVariables(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, "laptop", rootVariables["item"])
}

func TestSetVariablesOfUnknownExecution(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.SetVariables(t.Context(), 12345, map[string]any{"a": 1})

	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSuspendAndActivateProcessInstance(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")

	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.ProcessInstanceStateSuspended, engine.instance(t, instance.Key).State)
	// suspending twice is fine
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))

	err := engine.SetVariables(t.Context(), task.ExecutionKey, map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrSuspended)

	require.NoError(t, engine.ActivateProcessInstance(t.Context(), instance.Key))
	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, instance.Key).State)
	require.NoError(t, engine.ActivateProcessInstance(t.Context(), instance.Key))
}

func TestSuspendEndedProcessInstanceFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	engine.completeTask(t, instance.Key, "approve", nil)

	assert.ErrorIs(t, engine.SuspendProcessInstance(t.Context(), instance.Key), ErrInstanceEnded)
	assert.ErrorIs(t, engine.ActivateProcessInstance(t.Context(), instance.Key), ErrInstanceEnded)
	assert.ErrorIs(t, engine.DeleteProcessInstance(t.Context(), instance.Key, "too late"), ErrInstanceEnded)
}

func TestDeleteProcessInstance(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "boundary_timer.bpmn")
	instance := engine.start(t, "boundary-timer", nil)

	require.NoError(t, engine.DeleteProcessInstance(t.Context(), instance.Key, "customer left"))

	assert.Equal(t, runtime.ProcessInstanceStateCancelled, engine.instance(t, instance.Key).State)
	assert.Empty(t, engine.tasks(t, instance.Key))
	jobs, err := engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	executions, err := engine.FindExecutions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, executions)

	historic, err := engine.FindHistoricProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateCancelled, historic.State)
	assert.Equal(t, "deleted: customer left", historic.DeleteReason)
	require.NotNil(t, historic.EndedAt)
	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	for _, a := range activities {
		if a.ActivityId == "approve" {
			assert.Equal(t, "deleted: customer left", a.DeleteReason)
			assert.NotNil(t, a.EndedAt)
		}
	}
}

func TestFindProcessDefinitions(t *testing.T) {
	engine := newTestEngine(t)
	first := engine.deploy(t, "user_task.bpmn")
	engine.deploy(t, "simple_task.bpmn")

	definitions, err := engine.FindProcessDefinitions(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, definitions, 2)

	definition, err := engine.FindProcessDefinition(t.Context(), first.Key)
	require.NoError(t, err)
	assert.Equal(t, "user-task", definition.BpmnProcessId)

	_, err = engine.FindProcessDefinition(t.Context(), 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVariablesKeepTheirTypesOnSqlStorage(t *testing.T) {
	store, err := sqlstore.Open(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine, err := NewEngine(EngineWithStorage(store), EngineWithClock(newTestClock().Now), EngineWithVmPoolSize(4, 1))
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	_, err = engine.LoadFromFile(t.Context(), "./test-cases/user_task.bpmn")
	require.NoError(t, err)

	instance, err := engine.StartProcessInstanceByKey(t.Context(), "user-task", "", "", map[string]any{
		"item":    "laptop",
		"orderId": int64(9007199254740993),
		"count":   3,
		"price":   12.5,
	})
	require.NoError(t, err)

	variables, err := engine.GetVariables(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), variables["orderId"])
	assert.Equal(t, int64(3), variables["count"])
	assert.Equal(t, 12.5, variables["price"])

	tasks, err := engine.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: instance.Key})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Approve laptop", tasks[0].Name)
	require.NoError(t, engine.CompleteTask(t.Context(), tasks[0].Key, map[string]any{"approved": true}))
	stored, err := engine.FindProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, stored.State)
}
