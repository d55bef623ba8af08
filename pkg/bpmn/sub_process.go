// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

type subProcessBehavior struct{}

// execute turns the arriving token into the scope holder of the sub-process and starts a child token
// at the none start event. The holder leaves once its last child ended, see scopeCompleted.
func (subProcessBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	process := cc.instanceOf(e).definition.process
	start, ok := process.StartEvent(node.GetId())
	if !ok {
		return newEngineErrorf("sub-process %s has no none start event", node.GetId())
	}
	e.IsScope = true
	e.State = runtime.ExecutionStateWaiting
	cc.saveExecution(e)
	cc.planContinue(cc.newExecution(e, start.Id), false)
	return nil
}
