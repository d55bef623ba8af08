// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"time"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

// DelegateExecution is the view of the running token handed to task handlers, scripts and expressions.
// Variable changes become part of the running command and are discarded when it fails.
// Scripts see the methods with a lower case first letter, e.g. execution.getVariable("x").
type DelegateExecution interface {
	// Key the key of the execution running the task
	Key() int64

	// ProcessInstanceKey the key of the process instance
	ProcessInstanceKey() int64

	// ProcessDefinitionKey the key of the deployed process definition
	ProcessDefinitionKey() int64

	// BpmnProcessId the id of the process as defined in the BPMN file
	BpmnProcessId() string

	BusinessKey() string

	TenantId() string

	// ElementId the id of the flow node the token is at
	ElementId() string

	ElementName() string

	// GetVariable returns the nearest variable of the execution's scope chain, nil when not set
	GetVariable(name string) any

	GetVariableLocal(name string) any

	HasVariable(name string) bool

	GetVariables() map[string]any

	// SetVariable updates the nearest scope defining the variable, otherwise the process instance
	SetVariable(name string, value any)

	SetVariableLocal(name string, value any)

	// Fields returns the evaluated activiti:field injections of a service task
	Fields() map[string]any

	// Now is the time of the running command
	Now() time.Time
}

type delegateExecution struct {
	cc        *commandContext
	execution *runtime.Execution
	fields    map[string]any
}

var _ DelegateExecution = &delegateExecution{}

func (cc *commandContext) delegate(e *runtime.Execution, fields map[string]any) *delegateExecution {
	if fields == nil {
		fields = map[string]any{}
	}
	return &delegateExecution{
		cc:        cc,
		execution: e,
		fields:    fields,
	}
}

func (d *delegateExecution) instance() *runtime.ProcessInstance {
	return d.cc.instanceOf(d.execution).instance
}

// Key implements DelegateExecution
func (d *delegateExecution) Key() int64 {
	return d.execution.Key
}

// ProcessInstanceKey implements DelegateExecution
func (d *delegateExecution) ProcessInstanceKey() int64 {
	return d.execution.ProcessInstanceKey
}

// ProcessDefinitionKey implements DelegateExecution
func (d *delegateExecution) ProcessDefinitionKey() int64 {
	return d.instance().ProcessDefinitionKey
}

// BpmnProcessId implements DelegateExecution
func (d *delegateExecution) BpmnProcessId() string {
	return d.instance().BpmnProcessId
}

// BusinessKey implements DelegateExecution
func (d *delegateExecution) BusinessKey() string {
	return d.instance().BusinessKey
}

// TenantId implements DelegateExecution
func (d *delegateExecution) TenantId() string {
	return d.instance().TenantId
}

// ElementId implements DelegateExecution
func (d *delegateExecution) ElementId() string {
	return d.execution.ActivityId
}

// ElementName implements DelegateExecution
func (d *delegateExecution) ElementName() string {
	node, ok := d.cc.instanceOf(d.execution).definition.process.FindFlowNode(d.execution.ActivityId)
	if !ok {
		return ""
	}
	return node.GetName()
}

// GetVariable implements DelegateExecution
func (d *delegateExecution) GetVariable(name string) any {
	value, _ := d.cc.variables(d.execution).GetVariable(name)
	return value
}

// GetVariableLocal implements DelegateExecution
func (d *delegateExecution) GetVariableLocal(name string) any {
	value, _ := d.cc.variables(d.execution).GetVariableLocal(name)
	return value
}

// HasVariable implements DelegateExecution
func (d *delegateExecution) HasVariable(name string) bool {
	_, ok := d.cc.variables(d.execution).GetVariable(name)
	return ok
}

// GetVariables implements DelegateExecution
func (d *delegateExecution) GetVariables() map[string]any {
	return d.cc.variables(d.execution).GetVariables()
}

// SetVariable implements DelegateExecution
func (d *delegateExecution) SetVariable(name string, value any) {
	d.cc.setVariable(d.execution, name, value, false)
}

// SetVariableLocal implements DelegateExecution
func (d *delegateExecution) SetVariableLocal(name string, value any) {
	d.cc.setVariable(d.execution, name, value, true)
}

// Fields implements DelegateExecution
func (d *delegateExecution) Fields() map[string]any {
	return d.fields
}

// Now implements DelegateExecution
func (d *delegateExecution) Now() time.Time {
	return d.cc.now
}
