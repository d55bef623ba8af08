// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import "strings"

type ElementType string

const (
	ElementTypeStartEvent             ElementType = "START_EVENT"
	ElementTypeEndEvent               ElementType = "END_EVENT"
	ElementTypeIntermediateCatchEvent ElementType = "INTERMEDIATE_CATCH_EVENT"
	ElementTypeIntermediateThrowEvent ElementType = "INTERMEDIATE_THROW_EVENT"
	ElementTypeBoundaryEvent          ElementType = "BOUNDARY_EVENT"
	ElementTypeTask                   ElementType = "TASK"
	ElementTypeManualTask             ElementType = "MANUAL_TASK"
	ElementTypeServiceTask            ElementType = "SERVICE_TASK"
	ElementTypeScriptTask             ElementType = "SCRIPT_TASK"
	ElementTypeUserTask               ElementType = "USER_TASK"
	ElementTypeReceiveTask            ElementType = "RECEIVE_TASK"
	ElementTypeSubProcess             ElementType = "SUB_PROCESS"
	ElementTypeCallActivity           ElementType = "CALL_ACTIVITY"
	ElementTypeExclusiveGateway       ElementType = "EXCLUSIVE_GATEWAY"
	ElementTypeParallelGateway        ElementType = "PARALLEL_GATEWAY"
	ElementTypeInclusiveGateway       ElementType = "INCLUSIVE_GATEWAY"
	ElementTypeEventBasedGateway      ElementType = "EVENT_BASED_GATEWAY"
	ElementTypeSequenceFlow           ElementType = "SEQUENCE_FLOW"
)

// All BPMN elements that inherit from the BaseElement will have the capability,
// through the Documentation element, to have one (1) or more text descriptions
// of that element.
type TDocumentation struct {
	Text   string `xml:",chardata"`
	Format string `xml:"textFormat,attr"`
}

type TBaseElement struct {
	// This attribute is used to uniquely identify BPMN elements. The id is
	// REQUIRED if this element is referenced or intended to be referenced by
	// something else.
	Id            string           `xml:"id,attr"`
	Documentation []TDocumentation `xml:"documentation"`
}

func (t *TBaseElement) GetId() string {
	return t.Id
}

type BaseElement interface {
	GetId() string
}

// TExpression holds the body of conditionExpression, timeDuration and similar elements.
type TExpression struct {
	Text     string `xml:",chardata"`
	Language string `xml:"language,attr"`
}

func (e *TExpression) GetText() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text)
}

type TMessage struct {
	Id   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type TSignal struct {
	Id   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type TError struct {
	Id        string `xml:"id,attr"`
	Name      string `xml:"name,attr"`
	ErrorCode string `xml:"errorCode,attr"`
}

type TDefinitions struct {
	TBaseElement
	Name            string     `xml:"name,attr"`
	TargetNamespace string     `xml:"targetNamespace,attr"`
	Processes       []TProcess `xml:"process"`
	Messages        []TMessage `xml:"message"`
	Signals         []TSignal  `xml:"signal"`
	Errors          []TError   `xml:"error"`
}

// FlowNode is implemented by every element a token can sit on.
type FlowNode interface {
	BaseElement
	GetName() string
	GetType() ElementType
	IsAsync() bool
}

type TFlowNode struct {
	TBaseElement
	Name string `xml:"name,attr"`
	// activiti:async
	Async bool `xml:"async,attr"`
	// activiti:exclusive, kept for model completeness. Jobs of one instance are always serialized.
	Exclusive string `xml:"exclusive,attr"`
}

func (fn *TFlowNode) GetName() string {
	return fn.Name
}

func (fn *TFlowNode) IsAsync() bool {
	return fn.Async
}

type TSequenceFlow struct {
	TBaseElement
	Name                string       `xml:"name,attr"`
	SourceRef           string       `xml:"sourceRef,attr"`
	TargetRef           string       `xml:"targetRef,attr"`
	ConditionExpression *TExpression `xml:"conditionExpression"`
}

func (sf *TSequenceFlow) GetType() ElementType {
	return ElementTypeSequenceFlow
}

// GetConditionExpression returns the trimmed condition or empty string when the flow is unconditional.
func (sf *TSequenceFlow) GetConditionExpression() string {
	return sf.ConditionExpression.GetText()
}

type TAssociation struct {
	TBaseElement
	SourceRef            string `xml:"sourceRef,attr"`
	TargetRef            string `xml:"targetRef,attr"`
	AssociationDirection string `xml:"associationDirection,attr"`
}

// DefaultFlowHolder is implemented by activities and gateways supporting the default attribute.
type DefaultFlowHolder interface {
	GetDefaultFlow() string
}
