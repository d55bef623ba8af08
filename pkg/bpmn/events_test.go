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
	"github.com/pvmflow/pvm/pkg/storage"
)

func TestSignalContinuesWaitingInstancesAndStartsNewOnes(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "signal_catch.bpmn")
	engine.deploy(t, "signal_start.bpmn")
	first := engine.start(t, "signal-catch", nil)
	second := engine.start(t, "signal-catch", nil)

	err := engine.SignalEventReceived(t.Context(), "go", "", map[string]any{"reason": "release"})
	require.NoError(t, err)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, first.Key).State)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, second.Key).State)
	started, err := engine.FindTasks(t.Context(), storage.TaskFilter{ElementId: "started"})
	require.NoError(t, err)
	require.Len(t, started, 1)
	variables, err := engine.GetVariables(t.Context(), started[0].ExecutionKey)
	require.NoError(t, err)
	assert.Equal(t, "release", variables["reason"])
}

func TestSignalSkipsSuspendedInstances(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "signal_catch.bpmn")
	instance := engine.start(t, "signal-catch", nil)
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))

	require.NoError(t, engine.SignalEventReceived(t.Context(), "go", "", nil))

	assert.Equal(t, runtime.ProcessInstanceStateSuspended, engine.instance(t, instance.Key).State)
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Len(t, subscriptions, 1)
}

func TestSignalOfAnotherTenantIsNotDelivered(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "signal_catch.bpmn")
	instance := engine.start(t, "signal-catch", nil)

	require.NoError(t, engine.SignalEventReceived(t.Context(), "go", "acme", nil))

	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, instance.Key).State)
}

func TestThrownSignalIsCaughtInTheSameInstance(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "signal_throw.bpmn")

	instance := engine.start(t, "signal-throw", nil)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
	assert.Contains(t, engine.activityIds(t, instance.Key), "catchPing")
}

func TestThrownSignalReachesOtherInstancesThroughJobs(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "signal_catch.bpmn")
	engine.deploy(t, "signal_throw_go.bpmn")
	waiting := engine.start(t, "signal-catch", nil)

	thrower := engine.start(t, "signal-throw-go", nil)

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, thrower.State)
	assert.Equal(t, runtime.ProcessInstanceStateActive, engine.instance(t, waiting.Key).State)
	jobs, err := engine.FindJobs(t.Context(), waiting.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, runtime.JobTypeSignalDelivery, jobs[0].Type)

	assert.Equal(t, 1, engine.runDueJobs(t, waiting.Key))
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, waiting.Key).State)
}

func TestMessageStartAndReceiveTask(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "message.bpmn")

	instance, err := engine.StartProcessInstanceByMessage(t.Context(), "order-placed", "", "order-7", map[string]any{"amount": 12})
	require.NoError(t, err)
	assert.Equal(t, "order-7", instance.BusinessKey)
	historic, err := engine.FindHistoricProcessInstance(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Equal(t, "start", historic.StartActivityId)

	require.NoError(t, engine.CorrelateMessage(t.Context(), "payment-received", "", 0, map[string]any{"paid": true}))

	task := engine.task(t, instance.Key, "ship")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.Equal(t, true, variables["paid"])
	assert.EqualValues(t, 12, variables["amount"])

	err = engine.CorrelateMessage(t.Context(), "payment-received", "", 0, nil)
	assert.ErrorIs(t, err, ErrNoCorrelation)
}

func TestCorrelateMessageStartsInstanceWhenNobodyWaits(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "message.bpmn")

	require.NoError(t, engine.CorrelateMessage(t.Context(), "order-placed", "", 0, nil))

	tasks, err := engine.FindTasks(t.Context(), storage.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	subscriptions, err := engine.storage.FindEventSubscriptionsByName(t.Context(), "", runtime.EventTypeMessage, "payment-received")
	require.NoError(t, err)
	assert.Len(t, subscriptions, 1)
}

func TestCorrelateMessageIsAmbiguousWithSeveralWaitingInstances(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "message.bpmn")
	first, err := engine.StartProcessInstanceByMessage(t.Context(), "order-placed", "", "", nil)
	require.NoError(t, err)
	_, err = engine.StartProcessInstanceByMessage(t.Context(), "order-placed", "", "", nil)
	require.NoError(t, err)

	err = engine.CorrelateMessage(t.Context(), "payment-received", "", 0, nil)
	assert.ErrorIs(t, err, ErrAmbiguousCorrelation)

	require.NoError(t, engine.CorrelateMessage(t.Context(), "payment-received", "", first.Key, nil))
	engine.task(t, first.Key, "ship")
}

func TestMessageEventReceivedTargetsOneExecution(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "message.bpmn")
	instance, err := engine.StartProcessInstanceByMessage(t.Context(), "order-placed", "", "", nil)
	require.NoError(t, err)
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, subscriptions, 1)

	err = engine.MessageEventReceived(t.Context(), "unknown", subscriptions[0].ExecutionKey, nil)
	assert.ErrorIs(t, err, ErrNoCorrelation)

	require.NoError(t, engine.MessageEventReceived(t.Context(), "payment-received", subscriptions[0].ExecutionKey, nil))
	engine.task(t, instance.Key, "ship")
}

func TestTriggerContinuesReceiveTask(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "message.bpmn")
	instance, err := engine.StartProcessInstanceByMessage(t.Context(), "order-placed", "", "", nil)
	require.NoError(t, err)
	subscriptions, err := engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, subscriptions, 1)

	require.NoError(t, engine.Trigger(t.Context(), subscriptions[0].ExecutionKey, map[string]any{"manual": true}))

	engine.task(t, instance.Key, "ship")
	subscriptions, err = engine.FindEventSubscriptions(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, subscriptions)
}

func TestInterruptingBoundaryTimerCancelsTheActivity(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "boundary_timer.bpmn")
	instance := engine.start(t, "boundary-timer", nil)
	jobs, err := engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.WithinDuration(t, engine.clock.Now().Add(time.Hour), jobs[0].DueAt, 0)
	assert.Equal(t, "timeout", jobs[0].ElementId)

	engine.clock.Add(time.Hour)
	assert.Equal(t, 1, engine.runDueJobs(t, instance.Key))

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
	assert.Empty(t, engine.tasks(t, instance.Key))
	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	for _, a := range activities {
		if a.ActivityId == "approve" {
			assert.Equal(t, runtime.DeleteReasonBoundaryInterrupted, a.DeleteReason)
			require.NotNil(t, a.EndedAt)
			assert.Equal(t, int64(time.Hour/time.Millisecond), a.DurationMillis)
		}
	}
	assert.Contains(t, engine.activityIds(t, instance.Key), "endEscalated")
}

func TestCompletingTheActivityRemovesBoundaryTimer(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "boundary_timer.bpmn")
	instance := engine.start(t, "boundary-timer", nil)

	engine.completeTask(t, instance.Key, "approve", nil)

	jobs, err := engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Contains(t, engine.activityIds(t, instance.Key), "endApproved")
}

func TestNonInterruptingTimerCycleForksWithoutCancelling(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "boundary_timer_cycle.bpmn")
	notified := 0
	engine.NewTaskHandler().Type("notify").Handler(func(DelegateExecution) error {
		notified++
		return nil
	})
	instance := engine.start(t, "boundary-timer-cycle", nil)

	engine.clock.Add(10 * time.Minute)
	assert.Equal(t, 1, engine.runDueJobs(t, instance.Key))
	assert.Equal(t, 1, notified)
	jobs, err := engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.WithinDuration(t, engine.clock.Now().Add(10*time.Minute), jobs[0].DueAt, 0)

	engine.clock.Add(10 * time.Minute)
	assert.Equal(t, 1, engine.runDueJobs(t, instance.Key))
	assert.Equal(t, 2, notified)
	jobs, err = engine.FindJobs(t.Context(), instance.Key)
	require.NoError(t, err)
	assert.Empty(t, jobs, "the cycle repeats twice")

	engine.task(t, instance.Key, "approve")
	engine.completeTask(t, instance.Key, "approve", nil)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
}

func TestTimerStartEventStartsInstancesPerCycle(t *testing.T) {
	engine := newTestEngine(t)
	definition := engine.deploy(t, "timer_start.bpmn")
	jobs, err := engine.storage.FindProcessDefinitionJobs(t.Context(), definition.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, runtime.JobTypeTimerStart, jobs[0].Type)

	engine.clock.Add(time.Hour)
	require.NoError(t, engine.ExecuteJob(t.Context(), jobs[0]))

	tasks, err := engine.FindTasks(t.Context(), storage.TaskFilter{ElementId: "report"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	jobs, err = engine.storage.FindProcessDefinitionJobs(t.Context(), definition.Key)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].RepeatCycle)

	engine.clock.Add(time.Hour)
	require.NoError(t, engine.ExecuteJob(t.Context(), jobs[0]))
	jobs, err = engine.storage.FindProcessDefinitionJobs(t.Context(), definition.Key)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRedeployReplacesStartEventRegistrations(t *testing.T) {
	engine := newTestEngine(t)
	first := engine.deploy(t, "message.bpmn")
	data := []byte(first.BpmnData + "\n<!-- v2 -->")

	definitions, err := engine.Deploy(t.Context(), data, "message.bpmn", "")
	require.NoError(t, err)

	subscriptions, err := engine.storage.FindEventSubscriptionsByName(t.Context(), "", runtime.EventTypeMessage, "order-placed")
	require.NoError(t, err)
	require.Len(t, subscriptions, 1)
	assert.Equal(t, definitions[0].Key, subscriptions[0].ProcessDefinitionKey)
}
