// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"encoding/xml"
	"errors"
	"fmt"
)

func (definitions *TDefinitions) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	// Create an alias to avoid recursion
	type Alias TDefinitions
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(definitions),
	}
	if err := d.DecodeElement(aux, &start); err != nil {
		return fmt.Errorf("failed to unmarshal TDefinitions: %w", err)
	}
	if err := definitions.ResolveReferences(); err != nil {
		return fmt.Errorf("failed to resolve references: %w", err)
	}
	return nil
}

// ResolveReferences builds the lookup indexes of every process and validates references between elements.
func (definitions *TDefinitions) ResolveReferences() error {
	var errJoin error
	for i := range definitions.Processes {
		errJoin = errors.Join(errJoin, definitions.Processes[i].resolveReferences())
	}
	return errJoin
}

// FindProcess returns the process with the given id.
func (definitions *TDefinitions) FindProcess(id string) (*TProcess, bool) {
	for i := range definitions.Processes {
		if definitions.Processes[i].Id == id {
			return &definitions.Processes[i], true
		}
	}
	return nil, false
}

// MessageName resolves messageRef into the message name; unknown references are used as the name itself.
func (definitions *TDefinitions) MessageName(messageRef string) string {
	for _, m := range definitions.Messages {
		if m.Id == messageRef && m.Name != "" {
			return m.Name
		}
	}
	return messageRef
}

// SignalName resolves signalRef into the signal name; unknown references are used as the name itself.
func (definitions *TDefinitions) SignalName(signalRef string) string {
	for _, s := range definitions.Signals {
		if s.Id == signalRef && s.Name != "" {
			return s.Name
		}
	}
	return signalRef
}

// ErrorCode resolves errorRef into the error code; unknown references are used as the code itself.
func (definitions *TDefinitions) ErrorCode(errorRef string) string {
	if errorRef == "" {
		return ""
	}
	for _, e := range definitions.Errors {
		if e.Id == errorRef && e.ErrorCode != "" {
			return e.ErrorCode
		}
	}
	return errorRef
}

func (p *TProcess) resolveReferences() error {
	p.nodes = map[string]FlowNode{}
	p.flows = map[string]*TSequenceFlow{}
	p.outgoing = map[string][]*TSequenceFlow{}
	p.incoming = map[string][]*TSequenceFlow{}
	p.boundaries = map[string][]*TBoundaryEvent{}
	p.scopes = map[string]string{}
	p.compensations = map[string]string{}
	p.subProcessByID = map[string]*TSubProcess{}

	associations := make([]*TAssociation, 0)
	ordered := make([]FlowNode, 0)
	if err := p.collect(&p.TFlowElementsContainer, "", &ordered, &associations); err != nil {
		return err
	}

	var errJoin error
	for id, flow := range p.flows {
		if _, ok := p.nodes[flow.SourceRef]; !ok {
			errJoin = errors.Join(errJoin, fmt.Errorf("sequence flow %s references unknown source %s", id, flow.SourceRef))
		}
		if _, ok := p.nodes[flow.TargetRef]; !ok {
			errJoin = errors.Join(errJoin, fmt.Errorf("sequence flow %s references unknown target %s", id, flow.TargetRef))
		}
	}
	for _, node := range ordered {
		be, ok := node.(*TBoundaryEvent)
		if !ok {
			continue
		}
		if _, ok := p.nodes[be.AttachedToRef]; !ok {
			errJoin = errors.Join(errJoin, fmt.Errorf("boundary event %s is attached to unknown activity %s", be.Id, be.AttachedToRef))
			continue
		}
		p.boundaries[be.AttachedToRef] = append(p.boundaries[be.AttachedToRef], be)
	}
	for _, node := range ordered {
		holder, ok := node.(DefaultFlowHolder)
		if !ok || holder.GetDefaultFlow() == "" {
			continue
		}
		flow, ok := p.flows[holder.GetDefaultFlow()]
		if !ok || flow.SourceRef != node.GetId() {
			errJoin = errors.Join(errJoin, fmt.Errorf("default flow %s of %s is not an outgoing flow", holder.GetDefaultFlow(), node.GetId()))
		}
	}
	for _, a := range associations {
		if be, ok := p.nodes[a.SourceRef].(*TBoundaryEvent); ok {
			p.compensations[be.Id] = a.TargetRef
			continue
		}
		if be, ok := p.nodes[a.TargetRef].(*TBoundaryEvent); ok {
			p.compensations[be.Id] = a.SourceRef
		}
	}
	return errJoin
}

func (p *TProcess) collect(c *TFlowElementsContainer, scopeId string, ordered *[]FlowNode, associations *[]*TAssociation) error {
	for _, node := range c.flowNodes() {
		if node.GetId() == "" {
			return fmt.Errorf("flow node of type %s has no id", node.GetType())
		}
		if _, exists := p.nodes[node.GetId()]; exists {
			return fmt.Errorf("duplicate element id %s", node.GetId())
		}
		p.nodes[node.GetId()] = node
		*ordered = append(*ordered, node)
		p.scopes[node.GetId()] = scopeId
	}
	for i := range c.SequenceFlows {
		flow := &c.SequenceFlows[i]
		p.flows[flow.Id] = flow
		p.outgoing[flow.SourceRef] = append(p.outgoing[flow.SourceRef], flow)
		p.incoming[flow.TargetRef] = append(p.incoming[flow.TargetRef], flow)
	}
	for i := range c.Associations {
		*associations = append(*associations, &c.Associations[i])
	}
	for i := range c.SubProcesses {
		sp := &c.SubProcesses[i]
		p.subProcessByID[sp.Id] = sp
		if err := p.collect(&sp.TFlowElementsContainer, sp.Id, ordered, associations); err != nil {
			return err
		}
	}
	return nil
}
