// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storage holds the persistence contract of the engine: entity readers, a Batch of writes
// produced by one command, and the job locking used by executors.
//
// Implementations must:
//   - return ErrNotFound when a single item is looked up and does not exist
//   - return an empty slice when a query matches nothing
//   - apply a Batch atomically, every write of the batch is stored or none is
//   - return ErrConflict when an updated entity changed since it was read
package storage
