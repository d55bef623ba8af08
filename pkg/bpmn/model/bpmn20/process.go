// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

// TFlowElementsContainer is shared by process and sub-process.
type TFlowElementsContainer struct {
	StartEvents             []TStartEvent             `xml:"startEvent"`
	EndEvents               []TEndEvent               `xml:"endEvent"`
	IntermediateCatchEvents []TIntermediateCatchEvent `xml:"intermediateCatchEvent"`
	IntermediateThrowEvents []TIntermediateThrowEvent `xml:"intermediateThrowEvent"`
	BoundaryEvents          []TBoundaryEvent          `xml:"boundaryEvent"`
	Tasks                   []TTask                   `xml:"task"`
	ManualTasks             []TManualTask             `xml:"manualTask"`
	ServiceTasks            []TServiceTask            `xml:"serviceTask"`
	ScriptTasks             []TScriptTask             `xml:"scriptTask"`
	UserTasks               []TUserTask               `xml:"userTask"`
	ReceiveTasks            []TReceiveTask            `xml:"receiveTask"`
	SubProcesses            []TSubProcess             `xml:"subProcess"`
	CallActivities          []TCallActivity           `xml:"callActivity"`
	ExclusiveGateways       []TExclusiveGateway       `xml:"exclusiveGateway"`
	ParallelGateways        []TParallelGateway        `xml:"parallelGateway"`
	InclusiveGateways       []TInclusiveGateway       `xml:"inclusiveGateway"`
	EventBasedGateways      []TEventBasedGateway      `xml:"eventBasedGateway"`
	SequenceFlows           []TSequenceFlow           `xml:"sequenceFlow"`
	Associations            []TAssociation            `xml:"association"`
}

// flowNodes returns pointers to all flow nodes directly inside the container
func (c *TFlowElementsContainer) flowNodes() []FlowNode {
	res := make([]FlowNode, 0)
	for i := range c.StartEvents {
		res = append(res, &c.StartEvents[i])
	}
	for i := range c.EndEvents {
		res = append(res, &c.EndEvents[i])
	}
	for i := range c.IntermediateCatchEvents {
		res = append(res, &c.IntermediateCatchEvents[i])
	}
	for i := range c.IntermediateThrowEvents {
		res = append(res, &c.IntermediateThrowEvents[i])
	}
	for i := range c.BoundaryEvents {
		res = append(res, &c.BoundaryEvents[i])
	}
	for i := range c.Tasks {
		res = append(res, &c.Tasks[i])
	}
	for i := range c.ManualTasks {
		res = append(res, &c.ManualTasks[i])
	}
	for i := range c.ServiceTasks {
		res = append(res, &c.ServiceTasks[i])
	}
	for i := range c.ScriptTasks {
		res = append(res, &c.ScriptTasks[i])
	}
	for i := range c.UserTasks {
		res = append(res, &c.UserTasks[i])
	}
	for i := range c.ReceiveTasks {
		res = append(res, &c.ReceiveTasks[i])
	}
	for i := range c.SubProcesses {
		res = append(res, &c.SubProcesses[i])
	}
	for i := range c.CallActivities {
		res = append(res, &c.CallActivities[i])
	}
	for i := range c.ExclusiveGateways {
		res = append(res, &c.ExclusiveGateways[i])
	}
	for i := range c.ParallelGateways {
		res = append(res, &c.ParallelGateways[i])
	}
	for i := range c.InclusiveGateways {
		res = append(res, &c.InclusiveGateways[i])
	}
	for i := range c.EventBasedGateways {
		res = append(res, &c.EventBasedGateways[i])
	}
	return res
}

type TProcess struct {
	TBaseElement
	TFlowElementsContainer
	Name         string `xml:"name,attr"`
	IsExecutable string `xml:"isExecutable,attr"`

	// resolved by ResolveReferences
	nodes          map[string]FlowNode
	flows          map[string]*TSequenceFlow
	outgoing       map[string][]*TSequenceFlow
	incoming       map[string][]*TSequenceFlow
	boundaries     map[string][]*TBoundaryEvent
	scopes         map[string]string
	compensations  map[string]string
	subProcessByID map[string]*TSubProcess
}

// Executable reports whether the process should be deployed; isExecutable defaults to true.
func (p *TProcess) Executable() bool {
	return p.IsExecutable != "false"
}

// FindFlowNode looks up any flow node of the process including nested sub-processes.
func (p *TProcess) FindFlowNode(id string) (FlowNode, bool) {
	node, ok := p.nodes[id]
	return node, ok
}

func (p *TProcess) FindSequenceFlow(id string) (*TSequenceFlow, bool) {
	flow, ok := p.flows[id]
	return flow, ok
}

// OutgoingFlows returns outgoing sequence flows of the node in document order.
func (p *TProcess) OutgoingFlows(nodeId string) []*TSequenceFlow {
	return p.outgoing[nodeId]
}

func (p *TProcess) IncomingFlows(nodeId string) []*TSequenceFlow {
	return p.incoming[nodeId]
}

// AttachedBoundaryEvents returns boundary events attached to the activity.
func (p *TProcess) AttachedBoundaryEvents(activityId string) []*TBoundaryEvent {
	return p.boundaries[activityId]
}

// ScopeOf returns id of the sub-process containing the node or empty string for the process level.
func (p *TProcess) ScopeOf(nodeId string) string {
	return p.scopes[nodeId]
}

// StartEvent returns the none start event of the scope, scopeId being empty for the process level.
func (p *TProcess) StartEvent(scopeId string) (*TStartEvent, bool) {
	for _, se := range p.ScopeStartEvents(scopeId) {
		if se.GetEventDefinitionType() == EventDefinitionNone {
			return se, true
		}
	}
	return nil, false
}

// ScopeStartEvents returns all start events of the scope.
func (p *TProcess) ScopeStartEvents(scopeId string) []*TStartEvent {
	container := &p.TFlowElementsContainer
	if scopeId != "" {
		sp, ok := p.subProcessByID[scopeId]
		if !ok {
			return nil
		}
		container = &sp.TFlowElementsContainer
	}
	res := make([]*TStartEvent, 0, len(container.StartEvents))
	for i := range container.StartEvents {
		res = append(res, &container.StartEvents[i])
	}
	return res
}

// CompensationHandler returns the activity associated with the compensation boundary event.
func (p *TProcess) CompensationHandler(boundaryId string) (Activity, bool) {
	handlerId, ok := p.compensations[boundaryId]
	if !ok {
		return nil, false
	}
	node, ok := p.nodes[handlerId]
	if !ok {
		return nil, false
	}
	activity, ok := node.(Activity)
	return activity, ok
}

// CompensationBoundary returns the compensation boundary event attached to the activity if there is one.
func (p *TProcess) CompensationBoundary(activityId string) (*TBoundaryEvent, bool) {
	for _, be := range p.boundaries[activityId] {
		if be.GetEventDefinitionType() == EventDefinitionCompensate {
			return be, true
		}
	}
	return nil, false
}

// CanReach reports whether a token at from may still arrive at target following sequence flows
// and boundary events of the visited activities.
func (p *TProcess) CanReach(from string, target string) bool {
	if from == target {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next := make([]string, 0)
		for _, flow := range p.outgoing[current] {
			next = append(next, flow.TargetRef)
		}
		for _, be := range p.boundaries[current] {
			next = append(next, be.Id)
		}
		for _, n := range next {
			if n == target {
				return true
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, n)
		}
	}
	return false
}
