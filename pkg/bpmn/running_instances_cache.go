// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"sync"
)

type runningInstance struct {
	mu *sync.Mutex
	// number of commands holding or waiting for the lock
	refs int
}

// RunningInstancesCache serializes commands working on the same process instance inside one engine.
type RunningInstancesCache struct {
	processInstances map[int64]*runningInstance
	mu               *sync.Mutex
}

func newRunningInstancesCache() *RunningInstancesCache {
	return &RunningInstancesCache{
		processInstances: map[int64]*runningInstance{},
		mu:               &sync.Mutex{},
	}
}

func (c *RunningInstancesCache) acquire(key int64) *runningInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	ins, ok := c.processInstances[key]
	if !ok {
		ins = &runningInstance{mu: &sync.Mutex{}}
		c.processInstances[key] = ins
	}
	ins.refs++
	return ins
}

func (c *RunningInstancesCache) release(key int64, ins *runningInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ins.refs--
	if ins.refs == 0 {
		delete(c.processInstances, key)
	}
}

func (c *RunningInstancesCache) lockInstance(key int64) {
	c.acquire(key).mu.Lock()
}

// tryLockInstance locks the instance only when no other command holds it.
func (c *RunningInstancesCache) tryLockInstance(key int64) bool {
	ins := c.acquire(key)
	if ins.mu.TryLock() {
		return true
	}
	c.release(key, ins)
	return false
}

func (c *RunningInstancesCache) unlockInstance(key int64) {
	c.mu.Lock()
	ins, ok := c.processInstances[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	ins.mu.Unlock()
	c.release(key, ins)
}
