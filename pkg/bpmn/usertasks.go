// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/model/extensions"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

type userTaskBehavior struct{}

// execute creates the task for a human and parks the token until CompleteTask is called
func (userTaskBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	ut := node.(*bpmn20.TUserTask)
	li := cc.instanceOf(e)
	name, err := cc.evaluateString(e, ut.Name)
	if err != nil {
		return err
	}
	assignee, err := cc.evaluateString(e, ut.Assignee)
	if err != nil {
		return err
	}
	candidateUsers, err := cc.evaluateList(e, ut.CandidateUsers)
	if err != nil {
		return err
	}
	candidateGroups, err := cc.evaluateList(e, ut.CandidateGroups)
	if err != nil {
		return err
	}
	formKey, err := cc.evaluateString(e, ut.FormKey)
	if err != nil {
		return err
	}
	task := &runtime.Task{
		Key:                  cc.engine.generateKey(),
		Name:                 name,
		ElementId:            ut.Id,
		ExecutionKey:         e.Key,
		ProcessInstanceKey:   e.ProcessInstanceKey,
		ProcessDefinitionKey: li.instance.ProcessDefinitionKey,
		TenantId:             li.instance.TenantId,
		Assignee:             assignee,
		CandidateUsers:       candidateUsers,
		CandidateGroups:      candidateGroups,
		FormKey:              formKey,
		CreatedAt:            cc.now,
	}
	cc.tasks.add(task.Key, task)
	if assignee != "" {
		if err := cc.recordAssignee(e, assignee); err != nil {
			return err
		}
	}
	cc.waitAt(e)
	return nil
}

// evaluateList resolves candidateUsers or candidateGroups, an expression may yield a list or a comma separated string
func (cc *commandContext) evaluateList(e *runtime.Execution, text string) ([]string, error) {
	if !isExpression(text) {
		return extensions.SplitList(text), nil
	}
	value, err := cc.evaluateExpression(e, text)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case string:
		return extensions.SplitList(v), nil
	case []string:
		return v, nil
	case []any:
		res := make([]string, 0, len(v))
		for _, item := range v {
			res = append(res, fmt.Sprint(item))
		}
		return res, nil
	}
	return extensions.SplitList(fmt.Sprint(value)), nil
}

// CompleteTask removes the user task, sets variables in the scope of its execution and continues the process
func (engine *Engine) CompleteTask(ctx context.Context, taskKey int64, variables map[string]any) error {
	stored, err := engine.persistence.FindTaskByKey(ctx, taskKey)
	if err != nil {
		return fmt.Errorf("failed to find task %d: %w", taskKey, err)
	}
	return engine.runCommand(ctx, "complete-task", func(cc *commandContext) error {
		if _, err := cc.activeInstance(stored.ProcessInstanceKey); err != nil {
			return err
		}
		task, ok := cc.tasks.get(taskKey)
		if !ok {
			return fmt.Errorf("task %d: %w", taskKey, storage.ErrNotFound)
		}
		e, ok := cc.execution(task.ExecutionKey)
		if !ok {
			return fmt.Errorf("execution %d of task %d: %w", task.ExecutionKey, taskKey, storage.ErrNotFound)
		}
		cc.tasks.remove(task.Key)
		cc.setVariables(e, variables, false)
		cc.activate(e)
		cc.planLeave(e)
		return nil
	})
}

// ClaimTask assigns the task to userId, an empty userId releases the claim.
// Claiming a task assigned to somebody else fails with ErrTaskAlreadyClaimed.
func (engine *Engine) ClaimTask(ctx context.Context, taskKey int64, userId string) error {
	stored, err := engine.persistence.FindTaskByKey(ctx, taskKey)
	if err != nil {
		return fmt.Errorf("failed to find task %d: %w", taskKey, err)
	}
	return engine.runCommand(ctx, "claim-task", func(cc *commandContext) error {
		if _, err := cc.activeInstance(stored.ProcessInstanceKey); err != nil {
			return err
		}
		task, ok := cc.tasks.get(taskKey)
		if !ok {
			return fmt.Errorf("task %d: %w", taskKey, storage.ErrNotFound)
		}
		if userId != "" && task.Assignee != "" && task.Assignee != userId {
			return fmt.Errorf("task %d is assigned to %s: %w", taskKey, task.Assignee, ErrTaskAlreadyClaimed)
		}
		task.Assignee = userId
		cc.tasks.touch(task.Key)
		if e, ok := cc.execution(task.ExecutionKey); ok {
			return cc.recordAssignee(e, userId)
		}
		return nil
	})
}

// FindTasks returns open user tasks matching filter
func (engine *Engine) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	return engine.persistence.FindTasks(ctx, filter)
}
