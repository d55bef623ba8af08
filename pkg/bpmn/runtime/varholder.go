// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

// ExecutionLookup finds a loaded execution by its key.
type ExecutionLookup func(key int64) (*Execution, bool)

// VariableHolder resolves variables of an execution following the chain of its parents up to the root.
type VariableHolder struct {
	execution *Execution
	lookup    ExecutionLookup
}

func NewVariableHolder(execution *Execution, lookup ExecutionLookup) VariableHolder {
	return VariableHolder{
		execution: execution,
		lookup:    lookup,
	}
}

func (vh VariableHolder) chain() []*Execution {
	res := make([]*Execution, 0, 4)
	current := vh.execution
	for current != nil {
		res = append(res, current)
		if current.ParentKey == 0 {
			break
		}
		parent, ok := vh.lookup(current.ParentKey)
		if !ok {
			break
		}
		current = parent
	}
	return res
}

// GetVariable returns the value defined by the nearest execution of the chain.
func (vh VariableHolder) GetVariable(name string) (any, bool) {
	for _, e := range vh.chain() {
		if v, ok := e.Variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (vh VariableHolder) GetVariableLocal(name string) (any, bool) {
	v, ok := vh.execution.Variables[name]
	return v, ok
}

// GetVariables flattens the chain, nearer executions shadow the outer ones.
func (vh VariableHolder) GetVariables() map[string]any {
	chain := vh.chain()
	res := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Variables {
			res[k] = v
		}
	}
	return res
}

// SetVariable updates the nearest execution already defining the variable, otherwise the root.
// The modified execution is returned.
func (vh VariableHolder) SetVariable(name string, value any) *Execution {
	chain := vh.chain()
	target := chain[len(chain)-1]
	for _, e := range chain {
		if _, ok := e.Variables[name]; ok {
			target = e
			break
		}
	}
	setLocal(target, name, value)
	return target
}

func (vh VariableHolder) SetVariableLocal(name string, value any) *Execution {
	setLocal(vh.execution, name, value)
	return vh.execution
}

func setLocal(e *Execution, name string, value any) {
	if e.Variables == nil {
		e.Variables = map[string]any{}
	}
	e.Variables[name] = value
}
