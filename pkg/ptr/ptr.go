// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package ptr helps with optional filter fields, where nil means "not filtered".
package ptr

func To[T any](v T) *T {
	return &v
}

// Deref returns the value p points to, or def for a nil p
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
