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

type receiveTaskBehavior struct{}

// execute waits for the message of messageRef, without one only Trigger continues the task
func (receiveTaskBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	task := node.(*bpmn20.TReceiveTask)
	if task.MessageRef != "" {
		name := cc.instanceOf(e).definition.definitions.MessageName(task.MessageRef)
		cc.createSubscription(e, runtime.EventTypeMessage, name, task.Id)
	}
	cc.waitAt(e)
	return nil
}
