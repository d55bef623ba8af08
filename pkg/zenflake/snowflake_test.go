// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package zenflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIdIsEmbeddedInKey(t *testing.T) {
	node, err := NewNode(4)
	require.NoError(t, err)
	key := node.Generate().Int64()
	assert.Equal(t, int64(4), GetNodeId(key))
}

func TestKeyTime(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)
	before := time.Now().Add(-time.Second)
	key := node.Generate().Int64()
	assert.WithinRange(t, GetTime(key), before, time.Now().Add(time.Second))
}

func TestNodeIdOutOfRange(t *testing.T) {
	_, err := NewNode(nodeMax + 1)
	assert.Error(t, err)
	_, err = NewNode(-1)
	assert.Error(t, err)
}
