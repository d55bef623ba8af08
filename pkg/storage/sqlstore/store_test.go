// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package sqlstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/storage"
	"github.com/pvmflow/pvm/pkg/storage/sqlstore"
	"github.com/pvmflow/pvm/pkg/storage/storagetest"
)

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(t.Context(), filepath.Join(t.TempDir(), "pvm.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSqliteStorage(t *testing.T) {
	var store storage.Storage = openStore(t)

	tester := storagetest.StorageTester{}

	tests := tester.GetTests()
	tester.PrepareTestData(store, t)
	for name, testFunc := range tests {
		t.Run(name, testFunc(store, t))
	}
}

func TestReopeningAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvm.db")
	first, err := sqlstore.Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlstore.Open(t.Context(), path)
	require.NoError(t, err)
	defer second.Close()

	definitions, err := second.FindProcessDefinitions(t.Context(), "")
	assert.NoError(t, err)
	assert.Empty(t, definitions)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlstore.Open(t.Context(), "  ")
	assert.Error(t, err)
}
