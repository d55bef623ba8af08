// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobexecutor

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/ptr"
)

// TenantInfoHolder knows the tenants the executor serves
type TenantInfoHolder interface {
	Tenants() []string
}

type StaticTenants []string

func (s StaticTenants) Tenants() []string {
	return slices.Clone(s)
}

// MultiTenantExecutor runs one Executor per tenant so a busy tenant cannot starve the others
type MultiTenantExecutor struct {
	runner JobRunner
	store  JobStore
	cfg    Config
	logger hclog.Logger

	mu        sync.RWMutex
	running   bool
	executors map[string]*Executor
}

func NewMultiTenantExecutor(runner JobRunner, store JobStore, tenants TenantInfoHolder, cfg Config, logger hclog.Logger) *MultiTenantExecutor {
	if logger == nil {
		logger = hclog.Default()
	}
	m := &MultiTenantExecutor{
		runner:    runner,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		executors: map[string]*Executor{},
	}
	for _, tenantId := range tenants.Tenants() {
		m.executors[tenantId] = m.newExecutor(tenantId)
	}
	return m
}

func (m *MultiTenantExecutor) newExecutor(tenantId string) *Executor {
	cfg := m.cfg
	cfg.TenantId = ptr.To(tenantId)
	return NewExecutor(m.runner, m.store, cfg, m.logger)
}

func (m *MultiTenantExecutor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	for _, ex := range m.executors {
		ex.Start()
	}
}

// Stop drains the executors of all tenants
func (m *MultiTenantExecutor) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	executors := make([]*Executor, 0, len(m.executors))
	for _, ex := range m.executors {
		executors = append(executors, ex)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(executors))
	for i, ex := range executors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ex.Stop(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// AddTenant starts serving the tenant, it is a no-op for known tenants
func (m *MultiTenantExecutor) AddTenant(tenantId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executors[tenantId]; ok {
		return
	}
	ex := m.newExecutor(tenantId)
	m.executors[tenantId] = ex
	if m.running {
		ex.Start()
	}
	m.logger.Info("tenant added to job executor", "tenantId", tenantId)
}

// RemoveTenant stops the executor of the tenant, its running jobs are drained until ctx is done
func (m *MultiTenantExecutor) RemoveTenant(ctx context.Context, tenantId string) error {
	m.mu.Lock()
	ex, ok := m.executors[tenantId]
	delete(m.executors, tenantId)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.logger.Info("tenant removed from job executor", "tenantId", tenantId)
	return ex.Stop(ctx)
}

func (m *MultiTenantExecutor) Tenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]string, 0, len(m.executors))
	for tenantId := range m.executors {
		res = append(res, tenantId)
	}
	slices.Sort(res)
	return res
}

// Wake triggers an immediate acquisition for the tenant
func (m *MultiTenantExecutor) Wake(tenantId string) {
	if ex, ok := m.executor(tenantId); ok {
		ex.Wake()
	}
}

func (m *MultiTenantExecutor) JobScheduled(job runtime.Job) {
	ex, ok := m.executor(job.TenantId)
	if !ok {
		m.logger.Warn("job of unknown tenant scheduled", "jobKey", job.Key, "tenantId", job.TenantId)
		return
	}
	ex.JobScheduled(job)
}

func (m *MultiTenantExecutor) JobCancelled(jobKey int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ex := range m.executors {
		ex.JobCancelled(jobKey)
	}
}

func (m *MultiTenantExecutor) executor(tenantId string) (*Executor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.executors[tenantId]
	return ex, ok
}
