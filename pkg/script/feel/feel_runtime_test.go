// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package feel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateComparison(t *testing.T) {
	rt := NewFeelRuntime()
	res, err := rt.UnaryTest(`amount > 100 and customer = "jane"`, map[string]any{"amount": float64(120), "customer": "jane"})
	require.NoError(t, err)
	assert.True(t, res)
}

func TestEvaluateArithmetic(t *testing.T) {
	rt := NewFeelRuntime()
	res, err := rt.Evaluate("price * 2", map[string]any{"price": float64(21)})
	require.NoError(t, err)
	assert.EqualValues(t, 42, res)
}

func TestUnaryTestRejectsNonBoolean(t *testing.T) {
	rt := NewFeelRuntime()
	_, err := rt.UnaryTest(`"text"`, nil)
	assert.Error(t, err)
}
