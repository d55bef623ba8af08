// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"strings"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/script/js"
)

// isExpression reports whether the text is a FEEL expression (=...) or contains ${...} or #{...}
func isExpression(text string) bool {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "=") {
		return true
	}
	for _, segment := range js.SplitTemplate(text) {
		if segment.IsExpression {
			return true
		}
	}
	return false
}

// evaluateExpression evaluates the text in the variable scope of the execution.
// "=..." is FEEL, a single ${...} returns the value of the expression, text mixing literals
// and expressions is interpolated into a string. Anything else is a literal.
func (cc *commandContext) evaluateExpression(e *runtime.Execution, expression string) (any, error) {
	variables := cc.variables(e).GetVariables()
	bindings := map[string]any{
		"execution": cc.delegate(e, nil),
	}
	return cc.engine.evaluate(expression, variables, bindings)
}

// evaluateStandalone evaluates an expression outside of any execution, like a timer start event definition
func (engine *Engine) evaluateStandalone(expression string) (any, error) {
	return engine.evaluate(expression, map[string]any{}, map[string]any{})
}

func (engine *Engine) evaluate(expression string, variables map[string]any, bindings map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if strings.HasPrefix(expression, "=") {
		res, err := engine.feelRuntime.Evaluate(strings.TrimPrefix(expression, "="), variables)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate expression %s: %w", expression, err)
		}
		return res, nil
	}
	segments := js.SplitTemplate(expression)
	if len(segments) == 1 && segments[0].IsExpression {
		return engine.evaluateJuel(segments[0].Text, variables, bindings)
	}
	var sb strings.Builder
	for _, segment := range segments {
		if !segment.IsExpression {
			sb.WriteString(segment.Text)
			continue
		}
		value, err := engine.evaluateJuel(segment.Text, variables, bindings)
		if err != nil {
			return nil, err
		}
		if value != nil {
			sb.WriteString(fmt.Sprint(value))
		}
	}
	return sb.String(), nil
}

func (engine *Engine) evaluateJuel(body string, variables map[string]any, bindings map[string]any) (any, error) {
	res, err := engine.jsRuntime.Evaluate(js.TranslateJuel(body), variables, bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression ${%s}: %w", body, err)
	}
	return res, nil
}

// evaluateCondition evaluates the condition of a sequence flow, flows without a condition are always taken
func (cc *commandContext) evaluateCondition(e *runtime.Execution, flow *bpmn20.TSequenceFlow) (bool, error) {
	expression := flow.GetConditionExpression()
	if expression == "" {
		return true, nil
	}
	language := strings.ToLower(flow.ConditionExpression.Language)
	if strings.Contains(language, "feel") && !strings.HasPrefix(expression, "=") {
		expression = "=" + expression
	}
	out, err := cc.evaluateExpression(e, expression)
	if err != nil {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Error evaluating expression in flow element id='%s' name='%s'", flow.Id, flow.Name),
			Err: err,
		}
	}
	res, ok := out.(bool)
	if !ok {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Condition of flow element id='%s' returned %v, expected a boolean", flow.Id, out),
		}
	}
	return res, nil
}

// evaluateString evaluates attributes like assignee which may hold an expression
func (cc *commandContext) evaluateString(e *runtime.Execution, text string) (string, error) {
	if !isExpression(text) {
		return text, nil
	}
	value, err := cc.evaluateExpression(e, text)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprint(value), nil
}

// toInt converts numbers coming from expressions, scripts or JSON storage
func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
