// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

type TGateway struct {
	TFlowNode
	GatewayDirection string `xml:"gatewayDirection,attr"`
}

type TExclusiveGateway struct {
	TGateway
	Default string `xml:"default,attr"`
}

func (eg *TExclusiveGateway) GetType() ElementType {
	return ElementTypeExclusiveGateway
}

func (eg *TExclusiveGateway) GetDefaultFlow() string {
	return eg.Default
}

type TParallelGateway struct {
	TGateway
}

func (pg *TParallelGateway) GetType() ElementType {
	return ElementTypeParallelGateway
}

type TInclusiveGateway struct {
	TGateway
	Default string `xml:"default,attr"`
}

func (ig *TInclusiveGateway) GetType() ElementType {
	return ElementTypeInclusiveGateway
}

func (ig *TInclusiveGateway) GetDefaultFlow() string {
	return ig.Default
}

type TEventBasedGateway struct {
	TGateway
	Instantiate bool `xml:"instantiate,attr"`
}

func (ebg *TEventBasedGateway) GetType() ElementType {
	return ElementTypeEventBasedGateway
}
