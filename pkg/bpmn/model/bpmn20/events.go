// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

type TMessageEventDefinition struct {
	Id         string `xml:"id,attr"`
	MessageRef string `xml:"messageRef,attr"`
}

type TSignalEventDefinition struct {
	Id        string `xml:"id,attr"`
	SignalRef string `xml:"signalRef,attr"`
	// activiti:async on the definition makes a throwing signal asynchronous
	Async bool `xml:"async,attr"`
}

type TTimerEventDefinition struct {
	Id           string       `xml:"id,attr"`
	TimeDuration *TExpression `xml:"timeDuration"`
	TimeDate     *TExpression `xml:"timeDate"`
	TimeCycle    *TExpression `xml:"timeCycle"`
}

type TErrorEventDefinition struct {
	Id       string `xml:"id,attr"`
	ErrorRef string `xml:"errorRef,attr"`
}

type TTerminateEventDefinition struct {
	Id string `xml:"id,attr"`
}

type TCompensateEventDefinition struct {
	Id                string `xml:"id,attr"`
	ActivityRef       string `xml:"activityRef,attr"`
	WaitForCompletion string `xml:"waitForCompletion,attr"`
}

// TEventDefinitions holds the event definitions of an event. At most one of them is expected to be set.
type TEventDefinitions struct {
	MessageEventDefinition    *TMessageEventDefinition    `xml:"messageEventDefinition"`
	SignalEventDefinition     *TSignalEventDefinition     `xml:"signalEventDefinition"`
	TimerEventDefinition      *TTimerEventDefinition      `xml:"timerEventDefinition"`
	ErrorEventDefinition      *TErrorEventDefinition      `xml:"errorEventDefinition"`
	TerminateEventDefinition  *TTerminateEventDefinition  `xml:"terminateEventDefinition"`
	CompensateEventDefinition *TCompensateEventDefinition `xml:"compensateEventDefinition"`
}

type EventDefinitionType string

const (
	EventDefinitionNone       EventDefinitionType = ""
	EventDefinitionMessage    EventDefinitionType = "message"
	EventDefinitionSignal     EventDefinitionType = "signal"
	EventDefinitionTimer      EventDefinitionType = "timer"
	EventDefinitionError      EventDefinitionType = "error"
	EventDefinitionTerminate  EventDefinitionType = "terminate"
	EventDefinitionCompensate EventDefinitionType = "compensate"
)

func (ed *TEventDefinitions) GetEventDefinitionType() EventDefinitionType {
	switch {
	case ed.MessageEventDefinition != nil:
		return EventDefinitionMessage
	case ed.SignalEventDefinition != nil:
		return EventDefinitionSignal
	case ed.TimerEventDefinition != nil:
		return EventDefinitionTimer
	case ed.ErrorEventDefinition != nil:
		return EventDefinitionError
	case ed.TerminateEventDefinition != nil:
		return EventDefinitionTerminate
	case ed.CompensateEventDefinition != nil:
		return EventDefinitionCompensate
	}
	return EventDefinitionNone
}

func (ed *TEventDefinitions) GetEventDefinitions() *TEventDefinitions {
	return ed
}

// EventElement is implemented by all events carrying event definitions.
type EventElement interface {
	FlowNode
	GetEventDefinitions() *TEventDefinitions
	GetEventDefinitionType() EventDefinitionType
}

type TStartEvent struct {
	TFlowNode
	TEventDefinitions
	IsInterrupting string `xml:"isInterrupting,attr"`
	// activiti:initiator names the variable receiving the authenticated starter
	Initiator string `xml:"initiator,attr"`
}

func (startEvent *TStartEvent) GetType() ElementType {
	return ElementTypeStartEvent
}

type TEndEvent struct {
	TFlowNode
	TEventDefinitions
}

func (endEvent *TEndEvent) GetType() ElementType {
	return ElementTypeEndEvent
}

type TIntermediateCatchEvent struct {
	TFlowNode
	TEventDefinitions
}

func (ice *TIntermediateCatchEvent) GetType() ElementType {
	return ElementTypeIntermediateCatchEvent
}

type TIntermediateThrowEvent struct {
	TFlowNode
	TEventDefinitions
}

func (ite *TIntermediateThrowEvent) GetType() ElementType {
	return ElementTypeIntermediateThrowEvent
}

type TBoundaryEvent struct {
	TFlowNode
	TEventDefinitions
	AttachedToRef  string `xml:"attachedToRef,attr"`
	CancelActivity string `xml:"cancelActivity,attr"`
}

func (be *TBoundaryEvent) GetType() ElementType {
	return ElementTypeBoundaryEvent
}

// IsInterrupting reports the cancelActivity attribute which defaults to true.
func (be *TBoundaryEvent) IsInterrupting() bool {
	return be.CancelActivity != "false"
}
