// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package migrations

import "embed"

// FS contains embedded SQLite migrations of the engine schema.
//
//go:embed *.sql
var FS embed.FS
