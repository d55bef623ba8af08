// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package appcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobContext(t *testing.T) {
	ctx := WithJob(context.Background(), 42, "executor-1")

	jc, found := JobFromContext(ctx)
	assert.True(t, found)
	assert.Equal(t, JobContext{JobKey: 42, LockOwner: "executor-1"}, jc)

	jc, found = JobFromContext(context.Background())
	assert.False(t, found)
	assert.Equal(t, JobContext{}, jc)
}
