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
)

var (
	ErrSuspended            = errors.New("process instance is suspended")
	ErrNoCorrelation        = errors.New("no subscription matches the message")
	ErrAmbiguousCorrelation = errors.New("more than one subscription matches the message")
	ErrTaskAlreadyClaimed   = errors.New("task is already claimed by another user")
	ErrInstanceEnded        = errors.New("process instance has already ended")
	ErrInstanceBusy         = errors.New("process instance is locked by another command")
)

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type BpmnEngineUnmarshallingError struct {
	Msg string
	Err error
}

func (e *BpmnEngineUnmarshallingError) Error() string {
	if len(e.Msg) > 0 {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *BpmnEngineUnmarshallingError) Unwrap() error {
	return e.Err
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// BpmnError is a business error. Service task handlers return it to trigger error boundary events.
type BpmnError struct {
	Code    string
	Message string
}

func (e *BpmnError) Error() string {
	if e.Message == "" {
		return "bpmn error " + e.Code
	}
	return fmt.Sprintf("bpmn error %s: %s", e.Code, e.Message)
}

// NewBpmnError creates a business error with the given error code.
func NewBpmnError(code string, message string) *BpmnError {
	return &BpmnError{Code: code, Message: message}
}

// UnhandledBpmnError is returned when no error boundary event catches a thrown BpmnError.
type UnhandledBpmnError struct {
	Code      string
	ElementId string
}

func (e *UnhandledBpmnError) Error() string {
	return fmt.Sprintf("no catching boundary event found for error '%s' thrown by %s", e.Code, e.ElementId)
}
