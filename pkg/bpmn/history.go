// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pvmflow/pvm/pkg/bpmn/exporter"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// HistoryLevel controls how much is written to the history tables.
// Exporters receive every event regardless of the level.
type HistoryLevel int

const (
	HistoryLevelNone HistoryLevel = iota
	// HistoryLevelActivity records process and activity instances
	HistoryLevelActivity
	// HistoryLevelAudit adds task assignees
	HistoryLevelAudit
	// HistoryLevelFull adds every variable update
	HistoryLevelFull
)

func (l HistoryLevel) String() string {
	switch l {
	case HistoryLevelNone:
		return "none"
	case HistoryLevelActivity:
		return "activity"
	case HistoryLevelAudit:
		return "audit"
	case HistoryLevelFull:
		return "full"
	}
	return fmt.Sprintf("HistoryLevel(%d)", int(l))
}

func ParseHistoryLevel(level string) (HistoryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "none":
		return HistoryLevelNone, nil
	case "activity":
		return HistoryLevelActivity, nil
	case "audit", "":
		return HistoryLevelAudit, nil
	case "full":
		return HistoryLevelFull, nil
	}
	return HistoryLevelNone, fmt.Errorf("unknown history level %q", level)
}

func (cc *commandContext) historyEnabled(level HistoryLevel) bool {
	return cc.engine.historyLevel >= level
}

func (cc *commandContext) startProcessHistory(li *loadedInstance, startActivityId string) {
	if !cc.historyEnabled(HistoryLevelActivity) {
		return
	}
	instance := li.instance
	li.historic = &runtime.HistoricProcessInstance{
		Key:                  instance.Key,
		ProcessDefinitionKey: instance.ProcessDefinitionKey,
		BpmnProcessId:        instance.BpmnProcessId,
		BusinessKey:          instance.BusinessKey,
		TenantId:             instance.TenantId,
		State:                instance.State,
		StartActivityId:      startActivityId,
		StartedAt:            instance.CreatedAt,
	}
}

func (cc *commandContext) endProcessHistory(li *loadedInstance, endActivityId string, reason string) error {
	if !cc.historyEnabled(HistoryLevelActivity) {
		return nil
	}
	if li.historic == nil {
		historic, err := cc.engine.persistence.FindHistoricProcessInstance(cc.ctx, li.instance.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// started while history was switched off
			return nil
		case err != nil:
			return fmt.Errorf("failed to load history of process instance %d: %w", li.instance.Key, err)
		}
		li.historic = &historic
	}
	endedAt := cc.now
	li.historic.State = li.instance.State
	li.historic.EndActivityId = endActivityId
	li.historic.EndedAt = &endedAt
	li.historic.DurationMillis = endedAt.Sub(li.historic.StartedAt).Milliseconds()
	li.historic.DeleteReason = reason
	return nil
}

// startActivity opens the activity instance of the execution and exports the activation
func (cc *commandContext) startActivity(e *runtime.Execution) {
	li := cc.instanceOf(e)
	node, ok := li.definition.process.FindFlowNode(e.ActivityId)
	if !ok {
		return
	}
	cc.exportElementEvent(e, node.GetId(), string(node.GetType()), exporter.ElementActivated)
	if !cc.historyEnabled(HistoryLevelActivity) {
		return
	}
	activity := &runtime.HistoricActivityInstance{
		Key:                cc.engine.generateKey(),
		ProcessInstanceKey: e.ProcessInstanceKey,
		ExecutionKey:       e.Key,
		ActivityId:         node.GetId(),
		ActivityName:       node.GetName(),
		ActivityType:       string(node.GetType()),
		TenantId:           li.instance.TenantId,
		StartedAt:          cc.now,
	}
	cc.activities.add(activity.Key, activity)
	e.ActivityInstanceKey = activity.Key
	cc.saveExecution(e)
}

// endActivity closes the open activity instance of the execution, completed or with the reason it was removed
func (cc *commandContext) endActivity(e *runtime.Execution, reason string) error {
	if e.ActivityId == "" {
		return nil
	}
	li := cc.instanceOf(e)
	if node, ok := li.definition.process.FindFlowNode(e.ActivityId); ok {
		intent := exporter.ElementCompleted
		if reason != runtime.DeleteReasonCompleted {
			intent = exporter.ElementTerminated
		}
		cc.exportElementEvent(e, node.GetId(), string(node.GetType()), intent)
	}
	if e.ActivityInstanceKey == 0 {
		return nil
	}
	activity, err := cc.activityInstance(e.ActivityInstanceKey)
	e.ActivityInstanceKey = 0
	cc.saveExecution(e)
	if err != nil || activity == nil {
		return err
	}
	endedAt := cc.now
	activity.EndedAt = &endedAt
	activity.DurationMillis = endedAt.Sub(activity.StartedAt).Milliseconds()
	activity.DeleteReason = reason
	cc.activities.touch(activity.Key)
	return nil
}

func (cc *commandContext) activityInstance(key int64) (*runtime.HistoricActivityInstance, error) {
	if activity, ok := cc.activities.get(key); ok {
		return activity, nil
	}
	activity, err := cc.engine.persistence.FindHistoricActivityInstanceByKey(cc.ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load activity instance %d: %w", key, err)
	}
	cc.activities.load(key, activity)
	res, _ := cc.activities.get(key)
	return res, nil
}

// recordAssignee writes the task assignee to the open activity instance of the execution
func (cc *commandContext) recordAssignee(e *runtime.Execution, assignee string) error {
	if !cc.historyEnabled(HistoryLevelAudit) || e.ActivityInstanceKey == 0 {
		return nil
	}
	activity, err := cc.activityInstance(e.ActivityInstanceKey)
	if err != nil || activity == nil {
		return err
	}
	activity.Assignee = assignee
	cc.activities.touch(activity.Key)
	return nil
}

func (cc *commandContext) recordVariableUpdate(e *runtime.Execution, name string, value any) {
	if !cc.historyEnabled(HistoryLevelFull) {
		return
	}
	cc.variableUpdates = append(cc.variableUpdates, runtime.HistoricVariableUpdate{
		Key:                cc.engine.generateKey(),
		ProcessInstanceKey: e.ProcessInstanceKey,
		ExecutionKey:       e.Key,
		Name:               name,
		Value:              value,
		UpdatedAt:          cc.now,
	})
}
