// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package appcontext

import (
	"context"
)

type jobContextKey struct{}

// JobContext identifies the job a command runs for and the executor holding its lock
type JobContext struct {
	JobKey    int64
	LockOwner string
}

func WithJob(ctx context.Context, jobKey int64, lockOwner string) context.Context {
	return context.WithValue(ctx, jobContextKey{}, JobContext{JobKey: jobKey, LockOwner: lockOwner})
}

func JobFromContext(ctx context.Context) (JobContext, bool) {
	jc, ok := ctx.Value(jobContextKey{}).(JobContext)
	return jc, ok
}
