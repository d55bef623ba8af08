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
	"slices"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/model/extensions"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// TaskHandler runs the work of a service task. Returning a *BpmnError throws a BPMN error
// at the task, any other error fails the command.
type TaskHandler func(execution DelegateExecution) error

type taskMatcher func(task *bpmn20.TServiceTask) bool

type taskHandlerType string

const (
	taskHandlerForId       taskHandlerType = "TASK_HANDLER_ID"
	taskHandlerForDelegate taskHandlerType = "TASK_HANDLER_DELEGATE"
	taskHandlerForType     taskHandlerType = "TASK_HANDLER_TYPE"
)

// search order of handler lookups
var taskHandlerSearchOrder = []taskHandlerType{taskHandlerForId, taskHandlerForDelegate, taskHandlerForType}

type taskHandler struct {
	handlerType taskHandlerType
	matches     taskMatcher
	handler     TaskHandler
}

type newTaskHandlerCommand struct {
	handlerType taskHandlerType
	matcher     taskMatcher
	append      func(handler *taskHandler)
}

type NewTaskHandlerCommand2 interface {
	// Handler is the actual handler to be executed
	Handler(handler TaskHandler) *taskHandler
}

type NewTaskHandlerCommand1 interface {
	// Id defines a handler for a given element ID (as defined in the task element in the BPMN file)
	// This is 1:1 relation between a handler and a task definition (since IDs are supposed to be unique).
	Id(id string) NewTaskHandlerCommand2

	// Delegate defines a handler for tasks naming it in activiti:class or activiti:delegateExpression.
	Delegate(name string) NewTaskHandlerCommand2

	// Type defines a handler for a Service Task with a given activiti:type.
	// This allows a single handler to be used for multiple task definitions.
	Type(taskType string) NewTaskHandlerCommand2
}

// NewTaskHandler registers a handler function to be called for service tasks
func (engine *Engine) NewTaskHandler() NewTaskHandlerCommand1 {
	cmd := newTaskHandlerCommand{
		append: func(handler *taskHandler) {
			engine.taskHandlersMu.Lock()
			defer engine.taskHandlersMu.Unlock()
			engine.taskHandlers = append(engine.taskHandlers, handler)
		},
	}
	return cmd
}

// Id implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Id(id string) NewTaskHandlerCommand2 {
	thc.matcher = func(task *bpmn20.TServiceTask) bool {
		return task.Id == id
	}
	thc.handlerType = taskHandlerForId
	return thc
}

// Delegate implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Delegate(name string) NewTaskHandlerCommand2 {
	thc.matcher = func(task *bpmn20.TServiceTask) bool {
		return task.GetDelegateName() == name
	}
	thc.handlerType = taskHandlerForDelegate
	return thc
}

// Type implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Type(taskType string) NewTaskHandlerCommand2 {
	thc.matcher = func(task *bpmn20.TServiceTask) bool {
		return task.TaskType == taskType
	}
	thc.handlerType = taskHandlerForType
	return thc
}

// Handler implements NewTaskHandlerCommand2
func (thc newTaskHandlerCommand) Handler(f TaskHandler) *taskHandler {
	th := taskHandler{
		handlerType: thc.handlerType,
		matches:     thc.matcher,
		handler:     f,
	}
	thc.append(&th)
	return &th
}

// RemoveHandler removes the handler created by Handler method
func (engine *Engine) RemoveHandler(handler *taskHandler) {
	engine.taskHandlersMu.Lock()
	defer engine.taskHandlersMu.Unlock()
	for i, hand := range engine.taskHandlers {
		if hand == handler {
			engine.taskHandlers = slices.Delete(engine.taskHandlers, i, i+1)
			return
		}
	}
}

func (engine *Engine) findTaskHandler(task *bpmn20.TServiceTask) TaskHandler {
	engine.taskHandlersMu.RLock()
	defer engine.taskHandlersMu.RUnlock()
	for _, handlerType := range taskHandlerSearchOrder {
		for _, handler := range engine.taskHandlers {
			if handler.handlerType == handlerType && handler.matches(task) {
				return handler.handler
			}
		}
	}
	return nil
}

// SERVICE_TASK ==============================================

type serviceTaskBehavior struct{}

// execute runs the registered handler, or evaluates activiti:expression for its side effect and result
func (serviceTaskBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	task := node.(*bpmn20.TServiceTask)
	if handler := cc.engine.findTaskHandler(task); handler != nil {
		fields, err := cc.evaluateFields(e, task.Fields)
		if err != nil {
			return err
		}
		return cc.delegateResult(e, task.Id, handler(cc.delegate(e, fields)))
	}
	if task.Expression == "" {
		return newEngineErrorf("no task handler registered for service task id='%s' class='%s' type='%s'", task.Id, task.GetDelegateName(), task.TaskType)
	}
	value, err := cc.evaluateExpression(e, task.Expression)
	if err != nil {
		var bpmnErr *BpmnError
		if errors.As(err, &bpmnErr) {
			return cc.throwError(e, bpmnErr.Code, task.Id)
		}
		return &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Error evaluating expression of service task id='%s' name='%s'", task.Id, task.Name),
			Err: err,
		}
	}
	if resultVariable := task.GetResultVariable(); resultVariable != "" {
		cc.setVariable(e, resultVariable, value, false)
	}
	cc.planLeave(e)
	return nil
}

func (cc *commandContext) delegateResult(e *runtime.Execution, elementId string, err error) error {
	var bpmnErr *BpmnError
	switch {
	case errors.As(err, &bpmnErr):
		return cc.throwError(e, bpmnErr.Code, elementId)
	case err != nil:
		return fmt.Errorf("task handler of %s failed: %w", elementId, err)
	}
	cc.planLeave(e)
	return nil
}

func (cc *commandContext) evaluateFields(e *runtime.Execution, fields []extensions.TFieldExtension) (map[string]any, error) {
	res := make(map[string]any, len(fields))
	for _, f := range fields {
		value, expression := f.GetValue()
		if !expression {
			res[f.Name] = value
			continue
		}
		evaluated, err := cc.evaluateExpression(e, value)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate field %s: %w", f.Name, err)
		}
		res[f.Name] = evaluated
	}
	return res, nil
}
