// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"strings"

	"github.com/pvmflow/pvm/pkg/bpmn/model/extensions"
)

type TMultiInstanceLoopCharacteristics struct {
	IsSequential bool `xml:"isSequential,attr"`
	// activiti:collection, either a variable name or an expression
	Collection string `xml:"collection,attr"`
	// activiti:elementVariable
	ElementVariable     string       `xml:"elementVariable,attr"`
	LoopCardinality     *TExpression `xml:"loopCardinality"`
	LoopDataInputRef    string       `xml:"loopDataInputRef"`
	InputDataItem       *TDataItem   `xml:"inputDataItem"`
	CompletionCondition *TExpression `xml:"completionCondition"`
}

type TDataItem struct {
	Name string `xml:"name,attr"`
}

// GetCollection returns the collection reference, preferring activiti:collection over loopDataInputRef.
func (mi *TMultiInstanceLoopCharacteristics) GetCollection() string {
	if mi.Collection != "" {
		return mi.Collection
	}
	return strings.TrimSpace(mi.LoopDataInputRef)
}

func (mi *TMultiInstanceLoopCharacteristics) GetElementVariable() string {
	if mi.ElementVariable != "" {
		return mi.ElementVariable
	}
	if mi.InputDataItem != nil {
		return mi.InputDataItem.Name
	}
	return ""
}

type TActivity struct {
	TFlowNode
	Default           string                             `xml:"default,attr"`
	IsForCompensation bool                               `xml:"isForCompensation,attr"`
	MultiInstance     *TMultiInstanceLoopCharacteristics `xml:"multiInstanceLoopCharacteristics"`
}

func (a *TActivity) GetDefaultFlow() string {
	return a.Default
}

func (a *TActivity) GetActivity() *TActivity {
	return a
}

// Activity is implemented by tasks, sub-processes and call activities.
type Activity interface {
	FlowNode
	GetActivity() *TActivity
}

type TTask struct {
	TActivity
}

func (task *TTask) GetType() ElementType {
	return ElementTypeTask
}

type TManualTask struct {
	TActivity
}

func (task *TManualTask) GetType() ElementType {
	return ElementTypeManualTask
}

type TServiceTask struct {
	TActivity
	Implementation     string                       `xml:"implementation,attr"`
	Class              string                       `xml:"class,attr"`
	DelegateExpression string                       `xml:"delegateExpression,attr"`
	Expression         string                       `xml:"expression,attr"`
	TaskType           string                       `xml:"type,attr"`
	ResultVariable     string                       `xml:"resultVariable,attr"`
	ResultVariableName string                       `xml:"resultVariableName,attr"`
	Fields             []extensions.TFieldExtension `xml:"extensionElements>field"`
}

func (task *TServiceTask) GetType() ElementType {
	return ElementTypeServiceTask
}

func (task *TServiceTask) GetResultVariable() string {
	if task.ResultVariable != "" {
		return task.ResultVariable
	}
	return task.ResultVariableName
}

// GetDelegateName returns the name a delegate is registered under, taken from class or delegateExpression.
func (task *TServiceTask) GetDelegateName() string {
	if task.Class != "" {
		return task.Class
	}
	name := strings.TrimSpace(task.DelegateExpression)
	name = strings.TrimPrefix(name, "${")
	name = strings.TrimPrefix(name, "#{")
	return strings.TrimSuffix(name, "}")
}

type TScriptTask struct {
	TActivity
	ScriptFormat       string `xml:"scriptFormat,attr"`
	Script             string `xml:"script"`
	ResultVariable     string `xml:"resultVariable,attr"`
	AutoStoreVariables bool   `xml:"autoStoreVariables,attr"`
}

func (task *TScriptTask) GetType() ElementType {
	return ElementTypeScriptTask
}

type TUserTask struct {
	TActivity
	Assignee        string `xml:"assignee,attr"`
	CandidateUsers  string `xml:"candidateUsers,attr"`
	CandidateGroups string `xml:"candidateGroups,attr"`
	FormKey         string `xml:"formKey,attr"`
	DueDate         string `xml:"dueDate,attr"`
	Priority        string `xml:"priority,attr"`
}

func (task *TUserTask) GetType() ElementType {
	return ElementTypeUserTask
}

type TReceiveTask struct {
	TActivity
	MessageRef string `xml:"messageRef,attr"`
}

func (task *TReceiveTask) GetType() ElementType {
	return ElementTypeReceiveTask
}

type TSubProcess struct {
	TActivity
	TFlowElementsContainer
	TriggeredByEvent bool `xml:"triggeredByEvent,attr"`
}

func (sp *TSubProcess) GetType() ElementType {
	return ElementTypeSubProcess
}

type TCallActivity struct {
	TActivity
	CalledElement string                      `xml:"calledElement,attr"`
	In            []extensions.TCallParameter `xml:"extensionElements>in"`
	Out           []extensions.TCallParameter `xml:"extensionElements>out"`
}

func (ca *TCallActivity) GetType() ElementType {
	return ElementTypeCallActivity
}
