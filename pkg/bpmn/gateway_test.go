// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

func TestExclusiveGatewayTakesFirstMatchingFlow(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "exclusive_gateway.bpmn")

	instance := engine.start(t, "exclusive-gateway", map[string]any{"price": 80})

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Equal(t, []string{"start", "xor", "expensive", "endExpensive"}, engine.activityIds(t, instance.Key))
}

func TestExclusiveGatewayFallsBackToDefaultFlow(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "exclusive_gateway.bpmn")

	instance := engine.start(t, "exclusive-gateway", map[string]any{"price": 10})

	assert.Equal(t, []string{"start", "xor", "cheap", "endCheap"}, engine.activityIds(t, instance.Key))
	historic, err := engine.FindHistoricProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, "endCheap", historic.EndActivityId)
	assert.Equal(t, "start", historic.StartActivityId)
}

func TestExclusiveGatewayWithoutMatchingFlowFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "exclusive_gateway_no_default.bpmn")

	_, err := engine.StartProcessInstanceByKey(t.Context(), "exclusive-gateway-no-default", "", "", map[string]any{"price": 10})

	var exprErr *ExpressionEvaluationError
	assert.ErrorAs(t, err, &exprErr)
}

func TestActivityWithoutMatchingFlowEndsItsToken(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "conditional_activity_flows.bpmn")

	instance := engine.start(t, "conditional-activity-flows", map[string]any{"price": 50})

	assert.Equal(t, runtime.ProcessInstanceStateActive, instance.State)
	tasks := engine.tasks(t, instance.Key)
	require.Len(t, tasks, 1)
	assert.Equal(t, "review", tasks[0].ElementId)
	assert.NotContains(t, engine.activityIds(t, instance.Key), "escalate")

	engine.completeTask(t, instance.Key, "review", nil)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
}

func TestActivityTakesItsMatchingConditionalFlow(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "conditional_activity_flows.bpmn")

	instance := engine.start(t, "conditional-activity-flows", map[string]any{"price": 150})

	tasks := engine.tasks(t, instance.Key)
	require.Len(t, tasks, 2)
	engine.task(t, instance.Key, "escalate")
	engine.task(t, instance.Key, "review")
}

func TestConditionReferencingMissingVariableFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "exclusive_gateway.bpmn")

	_, err := engine.StartProcessInstanceByKey(t.Context(), "exclusive-gateway", "", "", nil)

	var exprErr *ExpressionEvaluationError
	assert.ErrorAs(t, err, &exprErr)
}

func TestParallelGatewayJoinsAllTokens(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "parallel_gateway.bpmn")

	instance := engine.start(t, "parallel-gateway", nil)
	require.Len(t, engine.tasks(t, instance.Key), 2)

	engine.completeTask(t, instance.Key, "a", nil)
	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, instance.Key).State)
	assert.NotContains(t, engine.activityIds(t, instance.Key), "after")

	engine.completeTask(t, instance.Key, "b", nil)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)

	ids := engine.activityIds(t, instance.Key)
	assert.Contains(t, ids, "after")
	assert.Equal(t, "end", ids[len(ids)-1])
	executions, err := engine.FindExecutions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestParallelGatewayHistoryRecordsOneJoinPerArrivingToken(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "parallel_gateway.bpmn")
	instance := engine.start(t, "parallel-gateway", nil)

	engine.completeTask(t, instance.Key, "b", nil)
	engine.completeTask(t, instance.Key, "a", nil)

	joins := 0
	for _, id := range engine.activityIds(t, instance.Key) {
		if id == "join" {
			joins++
		}
	}
	assert.Equal(t, 2, joins)
}

func TestInclusiveGatewayWaitsForActivatedBranches(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "inclusive_gateway.bpmn")

	instance := engine.start(t, "inclusive-gateway", map[string]any{"a": true, "b": true})

	tasks := engine.tasks(t, instance.Key)
	require.Len(t, tasks, 2)
	assert.NotContains(t, engine.activityIds(t, instance.Key), "taskC")

	engine.completeTask(t, instance.Key, "taskA", nil)
	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, instance.Key).State)

	engine.completeTask(t, instance.Key, "taskB", nil)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
}

func TestInclusiveGatewaySingleBranchPassesJoin(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "inclusive_gateway.bpmn")

	instance := engine.start(t, "inclusive-gateway", map[string]any{"a": true, "b": false})
	engine.completeTask(t, instance.Key, "taskA", nil)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
	assert.NotContains(t, engine.activityIds(t, instance.Key), "taskB")
}

func TestInclusiveGatewayTakesDefaultFlowWhenNothingMatches(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "inclusive_gateway.bpmn")

	instance := engine.start(t, "inclusive-gateway", map[string]any{"a": false, "b": false})

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Equal(t, []string{"start", "fork", "taskC", "join", "end"}, engine.activityIds(t, instance.Key))
}

func TestEventBasedGatewayMessageWins(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "event_gateway.bpmn")
	instance := engine.start(t, "event-gateway", nil)

	jobs, err := engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, subscriptions, 1)
	assert.Equal(t, "approve", subscriptions[0].EventName)

	require.NoError(t, engine.CorrelateMessage(t.Context(), "approve", "", instance.Key, map[string]any{"approvedBy": "kermit"}))

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
	ids := engine.activityIds(t, instance.Key)
	assert.Contains(t, ids, "approved")
	assert.NotContains(t, ids, "timedOut")
	jobs, err = engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEventBasedGatewayTimerWins(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "event_gateway.bpmn")
	instance := engine.start(t, "event-gateway", nil)

	engine.clock.Add(30 * time.Minute)
	assert.Equal(t, 0, engine.runDueJobs(t, instance.Key))

	engine.clock.Add(31 * time.Minute)
	assert.Equal(t, 1, engine.runDueJobs(t, instance.Key))

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
	assert.Contains(t, engine.activityIds(t, instance.Key), "endTimedOut")
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
	err = engine.CorrelateMessage(t.Context(), "approve", "", instance.Key, nil)
	assert.ErrorIs(t, err, ErrNoCorrelation)
}

func TestTriggerRejectsTokenWaitingAtEventBasedGateway(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "event_gateway.bpmn")
	instance := engine.start(t, "event-gateway", nil)
	executions, err := engine.FindExecutions(t.Context(), instance.Key)
	require.NoError(t, err)

	for _, e := range executions {
		if e.ActivityId == "gw" {
			err = engine.Trigger(t.Context(), e.Key, nil)
		}
	}

	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}
