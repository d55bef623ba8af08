// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/senseyeio/duration"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// evaluateTimer computes the due date of a timer definition.
// For cycles the returned repeat holds the repetitions left after the first firing, empty when there are none.
// The execution may be nil for timer start events, expressions are then evaluated without variables.
func (cc *commandContext) evaluateTimer(e *runtime.Execution, timerDef *bpmn20.TTimerEventDefinition) (due time.Time, repeat string, err error) {
	switch {
	case timerDef.TimeDuration != nil:
		text, err := cc.timerText(e, timerDef.TimeDuration)
		if err != nil {
			return due, "", err
		}
		d, err := duration.ParseISO8601(text)
		if err != nil {
			return due, "", newEngineErrorf("failed to parse timeDuration '%s' of timer %s: %s", text, timerDef.Id, err)
		}
		return d.Shift(cc.now), "", nil
	case timerDef.TimeDate != nil:
		value, err := cc.timerValue(e, timerDef.TimeDate)
		if err != nil {
			return due, "", err
		}
		if t, ok := value.(time.Time); ok {
			return t, "", nil
		}
		text := fmt.Sprint(value)
		t, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return due, "", newEngineErrorf("failed to parse timeDate '%s' of timer %s: %s", text, timerDef.Id, err)
		}
		return t, "", nil
	case timerDef.TimeCycle != nil:
		text, err := cc.timerText(e, timerDef.TimeCycle)
		if err != nil {
			return due, "", err
		}
		return parseCycle(text, cc.now)
	}
	return due, "", newEngineErrorf("timer %s has no timeDuration, timeDate or timeCycle", timerDef.Id)
}

func (cc *commandContext) timerValue(e *runtime.Execution, expression *bpmn20.TExpression) (any, error) {
	text := expression.GetText()
	if !isExpression(text) {
		return text, nil
	}
	if e == nil {
		return cc.engine.evaluateStandalone(text)
	}
	return cc.evaluateExpression(e, text)
}

func (cc *commandContext) timerText(e *runtime.Execution, expression *bpmn20.TExpression) (string, error) {
	value, err := cc.timerValue(e, expression)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(fmt.Sprint(value)), nil
}

// parseCycle reads R[n]/[start/]duration. R without a number repeats forever.
func parseCycle(text string, now time.Time) (time.Time, string, error) {
	parts := strings.Split(text, "/")
	if len(parts) < 2 || len(parts) > 3 || !strings.HasPrefix(parts[0], "R") {
		return time.Time{}, "", newEngineErrorf("failed to parse timeCycle '%s', expected R[n]/[start/]duration", text)
	}
	repetitions := -1
	if parts[0] != "R" {
		n, err := strconv.Atoi(parts[0][1:])
		if err != nil || n < 1 {
			return time.Time{}, "", newEngineErrorf("failed to parse repetitions of timeCycle '%s'", text)
		}
		repetitions = n
	}
	durationPart := parts[len(parts)-1]
	d, err := duration.ParseISO8601(durationPart)
	if err != nil {
		return time.Time{}, "", newEngineErrorf("failed to parse duration of timeCycle '%s': %s", text, err)
	}
	due := d.Shift(now)
	if len(parts) == 3 {
		start, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return time.Time{}, "", newEngineErrorf("failed to parse start of timeCycle '%s': %s", text, err)
		}
		due = start
	}
	switch {
	case repetitions == -1:
		return due, "R/" + durationPart, nil
	case repetitions > 1:
		return due, fmt.Sprintf("R%d/%s", repetitions-1, durationPart), nil
	}
	return due, "", nil
}

// nextCycle returns the next job of a repeating timer, or false when the cycle is used up
func nextCycle(job runtime.Job, now time.Time) (runtime.Job, bool, error) {
	if job.RepeatCycle == "" {
		return job, false, nil
	}
	due, repeat, err := parseCycle(job.RepeatCycle, now)
	if err != nil {
		return job, false, err
	}
	next := runtime.Job{
		Type:                 job.Type,
		ProcessDefinitionKey: job.ProcessDefinitionKey,
		ProcessInstanceKey:   job.ProcessInstanceKey,
		ExecutionKey:         job.ExecutionKey,
		ElementId:            job.ElementId,
		TenantId:             job.TenantId,
		DueAt:                due,
		RepeatCycle:          repeat,
	}
	return next, true, nil
}

// scheduleTimer creates the timer job of an intermediate or boundary timer event
func (cc *commandContext) scheduleTimer(e *runtime.Execution, elementId string, timerDef *bpmn20.TTimerEventDefinition) error {
	due, repeat, err := cc.evaluateTimer(e, timerDef)
	if err != nil {
		return err
	}
	cc.createJob(runtime.Job{
		Type:               runtime.JobTypeTimer,
		ProcessInstanceKey: e.ProcessInstanceKey,
		ExecutionKey:       e.Key,
		ElementId:          elementId,
		DueAt:              due,
		RepeatCycle:        repeat,
	})
	return nil
}
