// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Runner interface {
	Runner()
}

type RunnerFactory[R Runner] interface {
	NewRunner() R
}

// RunnerPool keeps between minVmPoolSize and maxVmPoolSize runners alive.
// Callers block in GetRunnerFromPool when all runners are in use.
type RunnerPool[R Runner] struct {
	pool               chan R
	runnerFactory      RunnerFactory[R]
	activeRunnersCount int
	activeRunnersMu    *sync.Mutex
	maxVmPoolSize      int // max amount of active runners
	minVmPoolSize      int // min amount of active runners
}

func NewRunnerPool[R Runner](ctx context.Context, runnerFactory RunnerFactory[R], maxVmPoolSize int, minVmPoolSize int) (*RunnerPool[R], error) {
	if maxVmPoolSize < minVmPoolSize || maxVmPoolSize <= 0 {
		return nil, fmt.Errorf("invalid vm pool size, min: %d max: %d", minVmPoolSize, maxVmPoolSize)
	}

	pool := RunnerPool[R]{
		pool:            make(chan R, maxVmPoolSize),
		runnerFactory:   runnerFactory,
		activeRunnersMu: &sync.Mutex{},
		maxVmPoolSize:   maxVmPoolSize,
		minVmPoolSize:   minVmPoolSize,
	}

	//start min amount of runners
	for i := 0; i < minVmPoolSize; i++ {
		pool.pool <- runnerFactory.NewRunner()
		pool.activeRunnersCount++
	}

	//cleanup idle runners every 10 minutes
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pool.shrink()
			case <-ctx.Done():
				return
			}
		}
	}()
	return &pool, nil
}

// shrink drops idle runners above the minimal pool size
func (r *RunnerPool[R]) shrink() {
	for {
		r.activeRunnersMu.Lock()
		if r.activeRunnersCount <= r.minVmPoolSize {
			r.activeRunnersMu.Unlock()
			return
		}
		select {
		case <-r.pool:
			r.activeRunnersCount--
			r.activeRunnersMu.Unlock()
		default:
			r.activeRunnersMu.Unlock()
			return
		}
	}
}

func (r *RunnerPool[R]) GetRunnerFromPool() R {
	select {
	case runner := <-r.pool:
		return runner
	default:
	}
	r.activeRunnersMu.Lock()
	if r.activeRunnersCount < r.maxVmPoolSize {
		r.activeRunnersCount++
		r.activeRunnersMu.Unlock()
		return r.runnerFactory.NewRunner()
	}
	r.activeRunnersMu.Unlock()
	return <-r.pool
}

func (r *RunnerPool[R]) ReturnRunnerToPool(runner R) {
	select {
	case r.pool <- runner:
	default:
		//delete runner if pool is full
		r.DiscardRunner(runner)
	}
}

// DiscardRunner forgets a runner which must not be reused, a new one is created on demand.
func (r *RunnerPool[R]) DiscardRunner(runner R) {
	r.activeRunnersMu.Lock()
	r.activeRunnersCount--
	r.activeRunnersMu.Unlock()
}

// ActiveRunners returns the number of runners created and not discarded.
func (r *RunnerPool[R]) ActiveRunners() int {
	r.activeRunnersMu.Lock()
	defer r.activeRunnersMu.Unlock()
	return r.activeRunnersCount
}
