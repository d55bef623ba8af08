// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct{ id int }

func (*countingRunner) Runner() {}

type countingFactory struct{ created int }

func (f *countingFactory) NewRunner() *countingRunner {
	f.created++
	return &countingRunner{id: f.created}
}

func TestPoolReusesRunners(t *testing.T) {
	factory := &countingFactory{}
	pool, err := NewRunnerPool[*countingRunner](t.Context(), factory, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, factory.created)

	first := pool.GetRunnerFromPool()
	second := pool.GetRunnerFromPool()
	assert.NotEqual(t, first.id, second.id)
	assert.Equal(t, 2, pool.ActiveRunners())

	pool.ReturnRunnerToPool(first)
	again := pool.GetRunnerFromPool()
	assert.Equal(t, first.id, again.id)

	pool.DiscardRunner(second)
	assert.Equal(t, 1, pool.ActiveRunners())
	third := pool.GetRunnerFromPool()
	assert.Equal(t, 3, third.id)
}

func TestPoolShrinksToMinimum(t *testing.T) {
	factory := &countingFactory{}
	pool, err := NewRunnerPool[*countingRunner](t.Context(), factory, 3, 1)
	require.NoError(t, err)
	runners := []*countingRunner{pool.GetRunnerFromPool(), pool.GetRunnerFromPool(), pool.GetRunnerFromPool()}
	for _, r := range runners {
		pool.ReturnRunnerToPool(r)
	}
	assert.Equal(t, 3, pool.ActiveRunners())
	pool.shrink()
	assert.Equal(t, 1, pool.ActiveRunners())
}

func TestInvalidPoolSize(t *testing.T) {
	_, err := NewRunnerPool[*countingRunner](t.Context(), &countingFactory{}, 1, 2)
	assert.Error(t, err)
}
