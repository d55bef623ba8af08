// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"encoding/xml"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefinitions(t *testing.T, file string) *TDefinitions {
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var definitions TDefinitions
	require.NoError(t, xml.Unmarshal(data, &definitions))
	return &definitions
}

func Test_no_expression_when_only_blanks(t *testing.T) {
	flow := TSequenceFlow{
		ConditionExpression: &TExpression{Text: "   "},
	}
	assert.Empty(t, flow.GetConditionExpression())
	assert.Empty(t, (&TSequenceFlow{}).GetConditionExpression())
}

func Test_unmarshalling_with_reference_resolution(t *testing.T) {
	definitions := loadDefinitions(t, "./testdata/order.bpmn")

	process, ok := definitions.FindProcess("order")
	require.True(t, ok)
	assert.True(t, process.Executable())

	node, ok := process.FindFlowNode("reserve")
	require.True(t, ok)
	assert.Equal(t, ElementTypeServiceTask, node.GetType())
	assert.True(t, node.IsAsync())
	serviceTask := node.(*TServiceTask)
	assert.Equal(t, "reserveStock", serviceTask.GetDelegateName())
	require.Len(t, serviceTask.Fields, 1)
	value, isExpression := serviceTask.Fields[0].GetValue()
	assert.Equal(t, "north", value)
	assert.False(t, isExpression)

	outgoing := process.OutgoingFlows("split")
	require.Len(t, outgoing, 2)
	assert.Equal(t, "fBig", outgoing[0].Id)
	assert.Equal(t, "${amount > 100}", outgoing[0].GetConditionExpression())

	gw, _ := process.FindFlowNode("split")
	assert.Equal(t, "fDefault", gw.(DefaultFlowHolder).GetDefaultFlow())
}

func Test_nested_scopes_and_boundaries(t *testing.T) {
	definitions := loadDefinitions(t, "./testdata/order.bpmn")
	process, _ := definitions.FindProcess("order")

	assert.Equal(t, "payment", process.ScopeOf("waitPayment"))
	assert.Equal(t, "", process.ScopeOf("reserve"))

	start, ok := process.StartEvent("payment")
	require.True(t, ok)
	assert.Equal(t, "payStart", start.Id)

	boundaries := process.AttachedBoundaryEvents("payment")
	require.Len(t, boundaries, 2)
	assert.Equal(t, "cancelled", boundaries[0].Id)
	assert.False(t, boundaries[0].IsInterrupting())
	assert.True(t, boundaries[1].IsInterrupting())
	assert.Equal(t, EventDefinitionTimer, boundaries[1].GetEventDefinitionType())
	assert.Equal(t, "PT1H", boundaries[1].TimerEventDefinition.TimeDuration.GetText())

	sp, _ := process.FindFlowNode("payment")
	mi := sp.(Activity).GetActivity().MultiInstance
	require.NotNil(t, mi)
	assert.True(t, mi.IsSequential)
	assert.Equal(t, "items", mi.GetCollection())
	assert.Equal(t, "item", mi.GetElementVariable())
}

func Test_compensation_and_references(t *testing.T) {
	definitions := loadDefinitions(t, "./testdata/order.bpmn")
	process, _ := definitions.FindProcess("order")

	boundary, ok := process.CompensationBoundary("reserve")
	require.True(t, ok)
	handler, ok := process.CompensationHandler(boundary.Id)
	require.True(t, ok)
	assert.Equal(t, "releaseStock", handler.GetId())
	assert.True(t, handler.GetActivity().IsForCompensation)

	assert.Equal(t, "payment-received", definitions.MessageName("paymentReceived"))
	assert.Equal(t, "order-cancelled", definitions.SignalName("cancelSignal"))
	assert.Equal(t, "OUT_OF_STOCK", definitions.ErrorCode("outOfStock"))
	assert.Equal(t, "raw", definitions.ErrorCode("raw"))
}

func Test_reachability(t *testing.T) {
	definitions := loadDefinitions(t, "./testdata/order.bpmn")
	process, _ := definitions.FindProcess("order")

	assert.True(t, process.CanReach("start", "end"))
	assert.True(t, process.CanReach("reserve", "end"))
	assert.False(t, process.CanReach("end", "start"))
	assert.False(t, process.CanReach("payment", "reserve"))
}

func Test_unknown_reference_fails(t *testing.T) {
	data := []byte(`<definitions><process id="p"><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="missing"/></process></definitions>`)
	var definitions TDefinitions
	err := xml.Unmarshal(data, &definitions)
	assert.ErrorContains(t, err, "unknown target missing")
}
