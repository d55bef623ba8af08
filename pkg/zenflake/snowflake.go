// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package zenflake generates the engine keys. Every key embeds the id of the node which generated it.
package zenflake

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	timeShift       = NodeBits + StepBits
	nodeShift       = StepBits
)

// NewNode creates a key generator for the node.
func NewNode(nodeId int64) (*snowflake.Node, error) {
	if nodeId < 0 || nodeId > nodeMax {
		return nil, fmt.Errorf("node id %d must be between 0 and %d", nodeId, nodeMax)
	}
	snowflake.NodeBits = NodeBits
	snowflake.StepBits = StepBits
	return snowflake.NewNode(nodeId)
}

// GetNodeId returns id of the node which generated the key.
func GetNodeId(key int64) int64 {
	return (key & nodeMask) >> int64(nodeShift)
}

// GetTime returns the moment the key was generated.
func GetTime(key int64) time.Time {
	return time.UnixMilli((key >> int64(timeShift)) + snowflake.Epoch)
}
