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

func doubleHandler(execution DelegateExecution) error {
	x, _ := toInt(execution.GetVariable("x"))
	execution.SetVariable("y", x*2)
	return nil
}

func TestCallActivityMapsVariablesInAndOut(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "call_activity_child.bpmn")
	engine.deploy(t, "call_activity_parent.bpmn")
	engine.NewTaskHandler().Type("double").Handler(doubleHandler)

	instance := engine.start(t, "parent", map[string]any{"x": 21, "secret": "parent only"})

	task := engine.task(t, instance.Key, "check")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 42, variables["result"])
	assert.NotContains(t, variables, "y")

	called, err := engine.FindCalledProcessInstances(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	require.Len(t, called, 1)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, called[0].State)
	assert.Equal(t, instance.Key, called[0].ParentProcessInstanceKey)
	assert.Equal(t, "child", called[0].BpmnProcessId)
}

func TestCalledInstanceDoesNotSeeUnmappedVariables(t *testing.T) {
	engine := newTestEngine(t, EngineWithHistoryLevel(HistoryLevelFull))
	engine.deploy(t, "call_activity_child.bpmn")
	engine.deploy(t, "call_activity_parent.bpmn")
	var seen map[string]any
	engine.NewTaskHandler().Type("double").Handler(func(execution DelegateExecution) error {
		seen = execution.GetVariables()
		return doubleHandler(execution)
	})

	engine.start(t, "parent", map[string]any{"x": 1, "secret": "parent only"})

	assert.Contains(t, seen, "x")
	assert.NotContains(t, seen, "secret")
}

func TestWaitingCalledInstanceKeepsParentWaiting(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "call_activity_parent.bpmn")
	childXml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="child" isExecutable="true">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="approve"/>
    <userTask id="approve"/>
    <sequenceFlow id="f2" sourceRef="approve" targetRef="end"/>
    <endEvent id="end"/>
  </process>
</definitions>`
	_, err := engine.Deploy(t.Context(), []byte(childXml), "child.bpmn", "")
	require.NoError(t, err)

	parent := engine.start(t, "parent", map[string]any{"x": 2})
	executions, err := engine.FindExecutions(t.Context(), parent.Key)
	require.NoError(t, err)
	var callerKey int64
	for _, e := range executions {
		if e.ActivityId == "call" {
			callerKey = e.Key
		}
	}
	require.NotZero(t, callerKey)
	called, err := engine.FindCalledProcessInstances(t.Context(), callerKey)
	require.NoError(t, err)
	require.Len(t, called, 1)
	child := called[0]
	assert.Equal(t, runtime.ProcessInstanceStateActive, child.State)

	// triggering the waiting call activity directly is not allowed
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, engine.Trigger(t.Context(), callerKey, nil), &engineErr)

	engine.completeTask(t, child.Key, "approve", map[string]any{"y": 5})

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, child.Key).State)
	task := engine.task(t, parent.Key, "check")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 5, variables["result"])
}

func TestDeletingParentCancelsCalledInstance(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "call_activity_parent.bpmn")
	childXml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <process id="child" isExecutable="true">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="approve"/>
    <userTask id="approve"/>
    <sequenceFlow id="f2" sourceRef="approve" targetRef="end"/>
    <endEvent id="end"/>
  </process>
</definitions>`
	_, err := engine.Deploy(t.Context(), []byte(childXml), "child.bpmn", "")
	require.NoError(t, err)
	parent := engine.start(t, "parent", map[string]any{"x": 2})
	childTasks := engine.tasks(t, 0)
	require.Len(t, childTasks, 1)
	childKey := childTasks[0].ProcessInstanceKey

	require.NoError(t, engine.DeleteProcessInstance(t.Context(), parent.Key, "no longer needed"))

	assert.Equal(t, runtime.ProcessInstanceStateCancelled, engine.instance(t, parent.Key).State)
	assert.Equal(t, runtime.ProcessInstanceStateCancelled, engine.instance(t, childKey).State)
	assert.Empty(t, engine.tasks(t, 0))
}

func TestErrorOfCalledInstanceIsCaughtByParent(t *testing.T) {
	engine := newTestEngine(t)
	childXml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:activiti="http://activiti.org/bpmn">
  <error id="failed" errorCode="CHILD_FAILED"/>
  <process id="failing-child" isExecutable="true">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="fail"/>
    <endEvent id="fail">
      <errorEventDefinition errorRef="failed"/>
    </endEvent>
  </process>
</definitions>`
	parentXml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL">
  <error id="failed" errorCode="CHILD_FAILED"/>
  <process id="catching-parent" isExecutable="true">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="call"/>
    <callActivity id="call" calledElement="failing-child"/>
    <boundaryEvent id="caught" attachedToRef="call">
      <errorEventDefinition errorRef="failed"/>
    </boundaryEvent>
    <sequenceFlow id="f2" sourceRef="call" targetRef="endOk"/>
    <sequenceFlow id="f3" sourceRef="caught" targetRef="endCaught"/>
    <endEvent id="endOk"/>
    <endEvent id="endCaught"/>
  </process>
</definitions>`
	_, err := engine.Deploy(t.Context(), []byte(childXml), "child.bpmn", "")
	require.NoError(t, err)
	_, err = engine.Deploy(t.Context(), []byte(parentXml), "parent.bpmn", "")
	require.NoError(t, err)

	instance, err := engine.StartProcessInstanceByKey(t.Context(), "catching-parent", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Contains(t, engine.activityIds(t, instance.Key), "endCaught")
}

func TestCallActivityWithUnknownProcessFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "call_activity_parent.bpmn")

	_, err := engine.StartProcessInstanceByKey(t.Context(), "parent", "", "", nil)

	assert.Error(t, err)
}
