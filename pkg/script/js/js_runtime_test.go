// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecution struct {
	set map[string]any
}

func (e *recordingExecution) SetVariable(name string, value any) {
	e.set[name] = value
}

func newRuntime(t *testing.T) *JsRuntime {
	rt, err := NewJsRuntime(t.Context(), 2, 1)
	require.NoError(t, err)
	return rt
}

func TestEvaluateExpression(t *testing.T) {
	rt := newRuntime(t)

	res, err := rt.Evaluate("amount > 100 && customer == 'jane'", map[string]any{"amount": float64(120), "customer": "jane"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res)

	res, err = rt.Evaluate(TranslateJuel("empty items"), map[string]any{"items": []any{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res)
}

func TestEvaluateDoesNotLeakVariables(t *testing.T) {
	rt := newRuntime(t)

	_, err := rt.Evaluate("secret", map[string]any{"secret": "x"}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = rt.Evaluate("secret", nil, nil)
		assert.Error(t, err)
	}
}

func TestRunScriptReportsGlobals(t *testing.T) {
	rt := newRuntime(t)
	execution := &recordingExecution{set: map[string]any{}}

	res, err := rt.RunScript(`
var total = price * quantity;
execution.setVariable("approved", total < 100);
total`, map[string]any{"price": float64(10), "quantity": float64(3)}, map[string]any{"execution": execution})
	require.NoError(t, err)
	assert.EqualValues(t, 30, res.Value)
	assert.EqualValues(t, 30, res.Globals["total"])
	assert.EqualValues(t, 10, res.Globals["price"])
	assert.NotContains(t, res.Globals, "execution")
	assert.Equal(t, true, execution.set["approved"])

	// redeclaring the same top level binding must work on a fresh runner
	_, err = rt.RunScript(`let x = 1; x`, nil, nil)
	require.NoError(t, err)
	_, err = rt.RunScript(`let x = 2; x`, nil, nil)
	require.NoError(t, err)
}

func TestScriptSyntaxError(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.RunScript("var = ;", nil, nil)
	assert.Error(t, err)
}
