// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import "context"

// TransferHeaderKey is the context key of a configured transfer header
type TransferHeaderKey string

// TransferHeader returns the value of a transfer header copied into ctx by the REST middleware
func TransferHeader(ctx context.Context, header string) string {
	v, _ := ctx.Value(TransferHeaderKey(header)).(string)
	return v
}
