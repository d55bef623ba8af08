// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"hash/adler32"
	"os"

	"github.com/bwmarrin/snowflake"

	"github.com/pvmflow/pvm/pkg/zenflake"
)

func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}

// createSnowflakeIdGenerator derives the node id from the environment when none is configured.
// Two engines started in the same environment need an explicit EngineWithNodeId.
func createSnowflakeIdGenerator() (*snowflake.Node, error) {
	hash32 := adler32.New()
	for _, e := range os.Environ() {
		_, _ = hash32.Write([]byte(e))
	}
	return zenflake.NewNode(int64(hash32.Sum32() % (1 << zenflake.NodeBits)))
}

func createSnowflakeNode(nodeId int64) (*snowflake.Node, error) {
	return zenflake.NewNode(nodeId)
}
