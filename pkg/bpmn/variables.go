// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"maps"
	"slices"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

func (cc *commandContext) variables(e *runtime.Execution) runtime.VariableHolder {
	return runtime.NewVariableHolder(e, cc.executions.get)
}

// setVariable writes the variable through the scope chain of the execution, or locally
func (cc *commandContext) setVariable(e *runtime.Execution, name string, value any, local bool) {
	holder := cc.variables(e)
	var target *runtime.Execution
	if local {
		target = holder.SetVariableLocal(name, value)
	} else {
		target = holder.SetVariable(name, value)
	}
	cc.saveExecution(target)
	cc.recordVariableUpdate(target, name, value)
	cc.exportVariableEvent(target, name, value)
}

// setVariables applies the variables in name order so history and exporters see a stable order
func (cc *commandContext) setVariables(e *runtime.Execution, variables map[string]any, local bool) {
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		cc.setVariable(e, name, variables[name], local)
	}
}

// clearLocalVariables drops the locals of a scope holder or multi-instance root that leaves its activity
func (cc *commandContext) clearLocalVariables(e *runtime.Execution) {
	if len(e.Variables) == 0 {
		return
	}
	e.Variables = map[string]any{}
	cc.saveExecution(e)
}
