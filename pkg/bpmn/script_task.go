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
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

type scriptTaskBehavior struct{}

// execute runs the script with the variables of the execution as globals and the execution bound as "execution".
// With activiti:autoStoreVariables globals the script changed or declared are stored as process variables.
func (scriptTaskBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	task := node.(*bpmn20.TScriptTask)
	switch strings.ToLower(task.ScriptFormat) {
	case "", "javascript", "ecmascript", "js":
	default:
		return newEngineErrorf("unsupported script format '%s' of script task %s", task.ScriptFormat, task.Id)
	}
	variables := cc.variables(e).GetVariables()
	result, err := cc.engine.jsRuntime.RunScript(task.Script, variables, map[string]any{
		"execution": cc.delegate(e, nil),
	})
	if err != nil {
		var bpmnErr *BpmnError
		if errors.As(err, &bpmnErr) {
			return cc.throwError(e, bpmnErr.Code, task.Id)
		}
		return fmt.Errorf("script of %s failed: %w", task.Id, err)
	}
	if task.ResultVariable != "" {
		cc.setVariable(e, task.ResultVariable, result.Value, false)
	}
	if task.AutoStoreVariables {
		for _, name := range slices.Sorted(maps.Keys(result.Globals)) {
			value := result.Globals[name]
			if old, ok := variables[name]; ok && reflect.DeepEqual(old, value) {
				continue
			}
			cc.setVariable(e, name, value, false)
		}
	}
	cc.planLeave(e)
	return nil
}
