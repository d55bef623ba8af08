// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/model/bpmn20"
	"github.com/pvmflow/pvm/pkg/bpmn/model/extensions"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

type callActivityBehavior struct{}

// execute starts the latest version of the called process in the tenant of the caller within the same command.
// The calling token waits until the called instance completes.
func (callActivityBehavior) execute(cc *commandContext, e *runtime.Execution, node bpmn20.FlowNode) error {
	ca := node.(*bpmn20.TCallActivity)
	li := cc.instanceOf(e)
	calledElement, err := cc.evaluateString(e, ca.CalledElement)
	if err != nil {
		return err
	}
	definition, err := cc.engine.persistence.FindLatestProcessDefinitionById(cc.ctx, calledElement, li.instance.TenantId)
	if err != nil {
		return fmt.Errorf("no process with id=%s was found for call activity %s: %w", calledElement, ca.Id, err)
	}
	info, err := cc.engine.loadDefinition(cc.ctx, definition.Key)
	if err != nil {
		return err
	}
	variables, err := cc.mapVariables(e, ca.In)
	if err != nil {
		return err
	}
	cc.waitAt(e)
	_, err = cc.startInstance(info, li.instance.BusinessKey, variables, "", e)
	return err
}

// mapVariables applies activiti:in or activiti:out parameters in the scope of e, no parameters copy everything
func (cc *commandContext) mapVariables(e *runtime.Execution, parameters []extensions.TCallParameter) (map[string]any, error) {
	holder := cc.variables(e)
	if len(parameters) == 0 {
		return holder.GetVariables(), nil
	}
	res := map[string]any{}
	for _, p := range parameters {
		switch {
		case p.CopiesAll():
			for name, value := range holder.GetVariables() {
				res[name] = value
			}
		case p.SourceExpression != "":
			value, err := cc.evaluateExpression(e, p.SourceExpression)
			if err != nil {
				return nil, err
			}
			res[p.Target] = value
		case p.Source != "":
			target := p.Target
			if target == "" {
				target = p.Source
			}
			if value, ok := holder.GetVariable(p.Source); ok {
				res[target] = value
			}
		}
	}
	return res, nil
}

// calledFrom returns the call activity that started the instance, read without locking the caller
func (cc *commandContext) calledFrom(li *loadedInstance) (*bpmn20.TCallActivity, error) {
	instance := li.instance
	var callerActivityId string
	if e, ok := cc.execution(instance.ParentExecutionKey); ok {
		callerActivityId = e.ActivityId
	} else {
		e, err := cc.engine.persistence.FindExecutionByKey(cc.ctx, instance.ParentExecutionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to find calling execution %d: %w", instance.ParentExecutionKey, err)
		}
		callerActivityId = e.ActivityId
	}
	var definitionKey int64
	if parent, ok := cc.instances[instance.ParentProcessInstanceKey]; ok {
		definitionKey = parent.instance.ProcessDefinitionKey
	} else {
		parent, err := cc.engine.persistence.FindProcessInstanceByKey(cc.ctx, instance.ParentProcessInstanceKey)
		if err != nil {
			return nil, fmt.Errorf("failed to find calling process instance %d: %w", instance.ParentProcessInstanceKey, err)
		}
		definitionKey = parent.ProcessDefinitionKey
	}
	info, err := cc.engine.loadDefinition(cc.ctx, definitionKey)
	if err != nil {
		return nil, err
	}
	node, ok := info.process.FindFlowNode(callerActivityId)
	if !ok {
		return nil, newEngineErrorf("calling element %s not found", callerActivityId)
	}
	ca, ok := node.(*bpmn20.TCallActivity)
	if !ok {
		return nil, newEngineErrorf("calling element %s is not a call activity", callerActivityId)
	}
	return ca, nil
}

// resumeCaller continues the call activity of the parent instance with the out mapped variables.
// The parent continues in this command when its lock is free, otherwise an async-continuation job resumes it.
func (cc *commandContext) resumeCaller(li *loadedInstance, ca *bpmn20.TCallActivity, variables map[string]any) error {
	instance := li.instance
	parent, ok, err := cc.tryLoadInstance(instance.ParentProcessInstanceKey)
	if err != nil {
		return err
	}
	if ok {
		if parent.instance.State.IsEnded() {
			return nil
		}
		caller, found := cc.execution(instance.ParentExecutionKey)
		if !found {
			cc.engine.logger.Warn("calling execution left meanwhile", "processInstanceKey", instance.ParentProcessInstanceKey, "executionKey", instance.ParentExecutionKey)
			return nil
		}
		cc.setVariables(caller, variables, false)
		cc.activate(caller)
		cc.planLeave(caller)
		return nil
	}
	cc.createJob(runtime.Job{
		Type:               runtime.JobTypeAsyncContinuation,
		ProcessInstanceKey: instance.ParentProcessInstanceKey,
		ExecutionKey:       instance.ParentExecutionKey,
		ElementId:          ca.Id,
		TenantId:           instance.TenantId,
		Payload: map[string]any{
			jobPhase:     jobPhaseLeave,
			jobVariables: variables,
		},
	})
	return nil
}
