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
)

func TestTranslateJuel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"amount > 100", "amount > 100"},
		{"a gt 1 and b le 2", "a > 1 && b <= 2"},
		{"not approved or x eq 'and'", "! approved || x == 'and'"},
		{"empty items", "__empty(items)"},
		{"not empty order.lines", "! __empty(order.lines)"},
		{"empty (a)", "__empty((a))"},
		{"x div 2 mod 3", "x / 2 % 3"},
		{"order.empty", "order.empty"},
		{"execution.getVariable(\"ne\")", "execution.getVariable(\"ne\")"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			assert.Equal(t, test.expected, TranslateJuel(test.input))
		})
	}
}

func TestSplitTemplate(t *testing.T) {
	assert.Equal(t, []Segment{{Text: "amount > 1", IsExpression: true}}, SplitTemplate("${amount > 1}"))
	assert.Equal(t, []Segment{
		{Text: "Hello "},
		{Text: "name", IsExpression: true},
		{Text: ", you owe "},
		{Text: "total", IsExpression: true},
	}, SplitTemplate("Hello ${name}, you owe #{total}"))
	assert.Equal(t, []Segment{{Text: "plain text"}}, SplitTemplate("plain text"))
	assert.Equal(t, []Segment{{Text: "m['}']", IsExpression: true}}, SplitTemplate("${m['}']}"))
}
