// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newChain() (root, scope, leaf *Execution, lookup ExecutionLookup) {
	root = &Execution{Key: 1, Variables: map[string]any{"a": 1, "b": "root"}}
	scope = &Execution{Key: 2, ParentKey: 1, Variables: map[string]any{"b": "scope"}}
	leaf = &Execution{Key: 3, ParentKey: 2}
	all := map[int64]*Execution{1: root, 2: scope, 3: leaf}
	lookup = func(key int64) (*Execution, bool) {
		e, ok := all[key]
		return e, ok
	}
	return
}

func TestVariableLookupWalksParents(t *testing.T) {
	_, _, leaf, lookup := newChain()
	vh := NewVariableHolder(leaf, lookup)

	v, ok := vh.GetVariable("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, _ = vh.GetVariable("b")
	assert.Equal(t, "scope", v)

	_, ok = vh.GetVariable("missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{"a": 1, "b": "scope"}, vh.GetVariables())
}

func TestSetVariableTargetsDefiningExecution(t *testing.T) {
	root, scope, leaf, lookup := newChain()
	vh := NewVariableHolder(leaf, lookup)

	modified := vh.SetVariable("b", "changed")
	assert.Equal(t, scope, modified)
	assert.Equal(t, "changed", scope.Variables["b"])
	assert.Equal(t, "root", root.Variables["b"])

	modified = vh.SetVariable("c", true)
	assert.Equal(t, root, modified)
	assert.Equal(t, true, root.Variables["c"])

	modified = vh.SetVariableLocal("d", 4)
	assert.Equal(t, leaf, modified)
	_, ok := NewVariableHolder(scope, lookup).GetVariable("d")
	assert.False(t, ok)
}
