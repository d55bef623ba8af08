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
)

func TestUserTaskIsCreatedWithEvaluatedAttributes(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")

	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})

	task := engine.task(t, instance.Key, "approve")
	assert.Equal(t, "Approve laptop", task.Name)
	assert.Equal(t, []string{"kermit", "gonzo"}, task.CandidateUsers)
	assert.Equal(t, []string{"management"}, task.CandidateGroups)
	assert.Equal(t, "approve-form", task.FormKey)
	assert.Empty(t, task.Assignee)
	assert.WithinDuration(t, engine.clock.Now(), task.CreatedAt, 0)
}

func TestFindTasksByCandidate(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	engine.start(t, "user-task", map[string]any{"item": "laptop"})

	tasks, err := engine.FindTasks(t.Context(), storage.TaskFilter{CandidateUser: "gonzo"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = engine.FindTasks(t.Context(), storage.TaskFilter{CandidateUser: "piggy"})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = engine.FindTasks(t.Context(), storage.TaskFilter{CandidateGroup: "management"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestClaimTask(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")

	require.NoError(t, engine.ClaimTask(t.Context(), task.Key, "kermit"))
	assert.Equal(t, "kermit", engine.task(t, instance.Key, "approve").Assignee)

	err := engine.ClaimTask(t.Context(), task.Key, "gonzo")
	assert.ErrorIs(t, err, ErrTaskAlreadyClaimed)

	// claiming again by the assignee is fine
	require.NoError(t, engine.ClaimTask(t.Context(), task.Key, "kermit"))

	require.NoError(t, engine.ClaimTask(t.Context(), task.Key, ""))
	require.NoError(t, engine.ClaimTask(t.Context(), task.Key, "gonzo"))
	assert.Equal(t, "gonzo", engine.task(t, instance.Key, "approve").Assignee)

	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	for _, a := range activities {
		if a.ActivityId == "approve" {
			assert.Equal(t, "gonzo", a.Assignee)
		}
	}
}

func TestCompleteTaskSetsVariablesAndContinues(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")

	require.NoError(t, engine.CompleteTask(t.Context(), task.Key, map[string]any{"approved": true}))

	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
	assert.Empty(t, engine.tasks(t, instance.Key))

	err := engine.CompleteTask(t.Context(), task.Key, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteTaskOfSuspendedInstanceFails(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "user_task.bpmn")
	instance := engine.start(t, "user-task", map[string]any{"item": "laptop"})
	task := engine.task(t, instance.Key, "approve")
	require.NoError(t, engine.SuspendProcessInstance(t.Context(), instance.Key))

	err := engine.CompleteTask(t.Context(), task.Key, nil)
	assert.ErrorIs(t, err, ErrSuspended)

	require.NoError(t, engine.ActivateProcessInstance(t.Context(), instance.Key))
	require.NoError(t, engine.CompleteTask(t.Context(), task.Key, nil))
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, engine.instance(t, instance.Key).State)
}

func TestAssigneeExpressionIsRecordedInHistory(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.bpmn")

	instance := engine.start(t, "multi-instance-parallel", map[string]any{"reviewers": []string{"kermit"}})

	activities, err := engine.FindHistoricActivityInstances(t.Context(), instance.Key)
	require.NoError(t, err)
	found := false
	for _, a := range activities {
		if a.ActivityId == "review" {
			found = true
			assert.Equal(t, "kermit", a.Assignee)
		}
	}
	assert.True(t, found)
}
