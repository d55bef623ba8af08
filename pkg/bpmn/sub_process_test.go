// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

func TestSubProcessCompletesAndContinues(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "sub_process_error.bpmn")
	engine.NewTaskHandler().Type("risky").Handler(func(DelegateExecution) error { return nil })

	instance := engine.start(t, "sub-process-error", nil)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Equal(t, []string{"start", "sub", "subStart", "risky", "subEnd", "endOk"}, engine.activityIds(t, instance.Key))
}

func TestBpmnErrorIsCaughtByBoundaryOfSubProcess(t *testing.T) {
	engine := newTestEngine(t, EngineWithHistoryLevel(HistoryLevelFull))
	engine.deploy(t, "sub_process_error.bpmn")
	engine.NewTaskHandler().Type("risky").Handler(func(DelegateExecution) error {
		return NewBpmnError("BAD", "not today")
	})

	instance := engine.start(t, "sub-process-error", nil)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	ids := engine.activityIds(t, instance.Key)
	assert.Contains(t, ids, "onError")
	assert.Contains(t, ids, "handleError")
	assert.NotContains(t, ids, "endOk")
	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	for _, a := range activities {
		if a.ActivityId == "risky" || a.ActivityId == "sub" {
			assert.Equal(t, runtime.DeleteReasonBoundaryInterrupted, a.DeleteReason, a.ActivityId)
		}
	}
	updates, err := engine.FindHistoricVariableUpdates(t.Context(), instance.Key)
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	assert.Equal(t, "errorCode", updates[len(updates)-1].Name)
	assert.Equal(t, "BAD", updates[len(updates)-1].Value)
}

func TestUncaughtBpmnErrorFailsTheCommand(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "sub_process_error.bpmn")
	engine.NewTaskHandler().Type("risky").Handler(func(DelegateExecution) error {
		return NewBpmnError("OTHER", "")
	})

	_, err := engine.StartProcessInstanceByKey(t.Context(), "sub-process-error", "", "", nil)

	var unhandled *UnhandledBpmnError
	require.ErrorAs(t, err, &unhandled)
	assert.Equal(t, "OTHER", unhandled.Code)
	assert.Equal(t, "risky", unhandled.ElementId)
}

func TestTechnicalHandlerErrorIsNotCaughtByErrorBoundary(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "sub_process_error.bpmn")
	boom := errors.New("connection refused")
	engine.NewTaskHandler().Type("risky").Handler(func(DelegateExecution) error {
		return boom
	})

	_, err := engine.StartProcessInstanceByKey(t.Context(), "sub-process-error", "", "", nil)

	assert.ErrorIs(t, err, boom)
}

func TestCompensationRunsHandlersInReverseOrder(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "compensation.bpmn")
	cp := CallPath{}
	engine.NewTaskHandler().Type("booking").Handler(cp.TaskHandler)

	instance := engine.start(t, "compensation", nil)

	assert.Equal(t, "book,charge,refund,cancelBook", cp.CallPath)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
}

func TestTerminateEndEventEndsAllTokens(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "terminate.bpmn")

	instance := engine.start(t, "terminate", nil)

	assert.Equal(t, runtime.ProcessInstanceStateTerminated, instance.State)
	assert.Empty(t, engine.tasks(t, instance.Key))
	historic, err := engine.FindHistoricProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.ProcessInstanceStateTerminated, historic.State)
	assert.Equal(t, "kill", historic.EndActivityId)
	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	for _, a := range activities {
		if a.ActivityId == "wait" {
			assert.Equal(t, runtime.DeleteReasonTerminated, a.DeleteReason)
		}
	}
}

func TestScriptTaskStoresResultAndGlobals(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "script_task.bpmn")

	instance := engine.start(t, "script-task", map[string]any{"price": 10, "quantity": 3})

	task := engine.task(t, instance.Key, "review")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 30, variables["calcResult"])
	assert.EqualValues(t, 30, variables["total"])
	assert.Equal(t, "total of 3", variables["label"])
	assert.EqualValues(t, 10, variables["price"])
}

func TestScriptTaskWithUnsupportedLanguageFails(t *testing.T) {
	engine := newTestEngine(t)
	xml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="groovy" isExecutable="true">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="script"/>
    <scriptTask id="script" scriptFormat="groovy"><script>println 'hi'</script></scriptTask>
    <sequenceFlow id="f2" sourceRef="script" targetRef="end"/>
    <endEvent id="end"/>
  </process>
</definitions>`
	_, err := engine.Deploy(t.Context(), []byte(xml), "groovy.bpmn", "")
	require.NoError(t, err)

	_, err = engine.StartProcessInstanceByKey(t.Context(), "groovy", "", "", nil)

	assert.Error(t, err)
}
