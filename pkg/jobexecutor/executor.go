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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/pvmflow/pvm/internal/appcontext"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/ptr"
	"github.com/pvmflow/pvm/pkg/storage"
)

// JobRunner executes acquired jobs, implemented by bpmn.Engine
type JobRunner interface {
	ExecuteJob(ctx context.Context, job runtime.Job) error
	HandleJobFailure(ctx context.Context, job runtime.Job, cause error) error
}

// JobStore is the part of the storage the executor acquires jobs from
type JobStore interface {
	FindAcquirableJobs(ctx context.Context, query storage.AcquirableJobsQuery) ([]runtime.Job, error)
	AcquireJob(ctx context.Context, jobKey int64, owner string, lockUntil time.Time, now time.Time) (runtime.Job, error)
}

type Config struct {
	// TenantId restricts the executor to jobs of one tenant, nil takes jobs of every tenant
	TenantId              *string
	Workers               int
	AcquisitionInterval   time.Duration
	LockTime              time.Duration
	MaxJobsPerAcquisition int
	Clock                 func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Workers:               8,
		AcquisitionInterval:   5 * time.Second,
		LockTime:              5 * time.Minute,
		MaxJobsPerAcquisition: 64,
		Clock:                 time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.AcquisitionInterval <= 0 {
		c.AcquisitionInterval = def.AcquisitionInterval
	}
	if c.LockTime <= 0 {
		c.LockTime = def.LockTime
	}
	if c.MaxJobsPerAcquisition <= 0 {
		c.MaxJobsPerAcquisition = def.MaxJobsPerAcquisition
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Executor polls due jobs from the store, locks them and runs them on a bounded worker pool.
// Jobs that become due before the next poll wait in memory and are dispatched at their due time.
type Executor struct {
	cfg    Config
	runner JobRunner
	store  JobStore
	owner  string
	logger hclog.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	nextPoll time.Time
	waiting  map[int64]context.CancelFunc
	inflight map[int64]struct{}
	wake     chan struct{}
	loopDone chan struct{}
	workers  sync.WaitGroup
}

func NewExecutor(runner JobRunner, store JobStore, cfg Config, logger hclog.Logger) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = hclog.Default()
	}
	name := "job-executor"
	if cfg.TenantId != nil {
		name = fmt.Sprintf("job-executor-%s", *cfg.TenantId)
	}
	return &Executor{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		owner:    uuid.NewString(),
		logger:   logger.Named(name),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		waiting:  map[int64]context.CancelFunc{},
		inflight: map[int64]struct{}{},
		wake:     make(chan struct{}, 1),
	}
}

// Owner is the lock owner written to acquired jobs
func (ex *Executor) Owner() string {
	return ex.owner
}

func (ex *Executor) Start() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.running {
		return
	}
	ex.ctx, ex.cancel = context.WithCancel(context.Background())
	ex.running = true
	ex.nextPoll = ex.cfg.Clock()
	ex.loopDone = make(chan struct{})
	go ex.run(ex.ctx, ex.loopDone)
	ex.logger.Info("job executor started", "owner", ex.owner, "workers", ex.cfg.Workers, "tenant", ptr.Deref(ex.cfg.TenantId, "*"))
}

// Stop stops acquiring jobs and waits for running jobs until ctx is done
func (ex *Executor) Stop(ctx context.Context) error {
	ex.mu.Lock()
	if !ex.running {
		ex.mu.Unlock()
		return nil
	}
	ex.running = false
	ex.cancel()
	for key, cancel := range ex.waiting {
		cancel()
		delete(ex.waiting, key)
	}
	loopDone := ex.loopDone
	ex.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		<-loopDone
		ex.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		ex.logger.Info("job executor stopped", "owner", ex.owner)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job executor did not drain: %w", ctx.Err())
	}
}

// Wake triggers an immediate acquisition
func (ex *Executor) Wake() {
	select {
	case ex.wake <- struct{}{}:
	default:
	}
}

// JobScheduled registers a job flushed by the engine. Jobs due before the next poll are not left to it.
func (ex *Executor) JobScheduled(job runtime.Job) {
	if !ex.accepts(job) || job.State != runtime.JobStatePending || job.Retries <= 0 {
		return
	}
	ex.mu.Lock()
	if !ex.running || job.DueAt.After(ex.nextPoll) {
		ex.mu.Unlock()
		return
	}
	ex.mu.Unlock()
	if !job.DueAt.After(ex.cfg.Clock()) {
		ex.Wake()
		return
	}
	ex.addWaitingJob(job)
}

// JobCancelled drops the in-memory wait of a removed job
func (ex *Executor) JobCancelled(jobKey int64) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if cancel, ok := ex.waiting[jobKey]; ok {
		cancel()
		delete(ex.waiting, jobKey)
	}
}

func (ex *Executor) accepts(job runtime.Job) bool {
	return ex.cfg.TenantId == nil || *ex.cfg.TenantId == job.TenantId
}

func (ex *Executor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(ex.cfg.AcquisitionInterval)
	defer ticker.Stop()
	ex.acquire(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ex.acquire(ctx)
		case <-ex.wake:
			ex.acquire(ctx)
		}
	}
}

// acquire polls the jobs due before the next poll, due ones are dispatched and the rest wait in memory
func (ex *Executor) acquire(ctx context.Context) {
	now := ex.cfg.Clock()
	nextPoll := now.Add(ex.cfg.AcquisitionInterval)
	ex.mu.Lock()
	ex.nextPoll = nextPoll
	ex.mu.Unlock()
	jobs, err := ex.store.FindAcquirableJobs(ctx, storage.AcquirableJobsQuery{
		TenantId:  ex.cfg.TenantId,
		DueBefore: nextPoll,
		Now:       now,
		Limit:     ex.cfg.MaxJobsPerAcquisition,
	})
	if err != nil {
		if ctx.Err() == nil {
			ex.logger.Error(fmt.Sprintf("Failed to poll jobs for execution: %s", err))
		}
		return
	}
	for _, job := range jobs {
		if job.DueAt.After(now) {
			ex.addWaitingJob(job)
			continue
		}
		ex.dispatch(ctx, job)
	}
}

func (ex *Executor) addWaitingJob(job runtime.Job) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if !ex.running {
		return
	}
	if _, ok := ex.waiting[job.Key]; ok {
		return
	}
	ctx, cancel := context.WithCancel(ex.ctx)
	ex.waiting[job.Key] = cancel
	wait := job.DueAt.Sub(ex.cfg.Clock())
	go func() {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
			ex.mu.Lock()
			delete(ex.waiting, job.Key)
			ex.mu.Unlock()
			ex.dispatch(ctx, job)
		case <-ctx.Done():
		}
	}()
}

// dispatch blocks until a worker is free, then locks and executes the job on it
func (ex *Executor) dispatch(ctx context.Context, job runtime.Job) {
	ex.mu.Lock()
	if _, ok := ex.inflight[job.Key]; ok {
		ex.mu.Unlock()
		return
	}
	ex.inflight[job.Key] = struct{}{}
	ex.mu.Unlock()
	if err := ex.sem.Acquire(ctx, 1); err != nil {
		ex.finish(job.Key)
		return
	}
	ex.workers.Add(1)
	go func() {
		defer ex.workers.Done()
		defer ex.sem.Release(1)
		defer ex.finish(job.Key)
		// running jobs are finished during a graceful stop
		ex.execute(context.WithoutCancel(ctx), job)
	}()
}

func (ex *Executor) finish(jobKey int64) {
	ex.mu.Lock()
	delete(ex.inflight, jobKey)
	ex.mu.Unlock()
}

func (ex *Executor) execute(ctx context.Context, job runtime.Job) {
	now := ex.cfg.Clock()
	acquired, err := ex.store.AcquireJob(ctx, job.Key, ex.owner, now.Add(ex.cfg.LockTime), now)
	switch {
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotFound):
		ex.logger.Debug("job taken meanwhile", "jobKey", job.Key)
		return
	case err != nil:
		ex.logger.Error(fmt.Sprintf("Failed to acquire job %d: %s", job.Key, err))
		return
	}
	ctx = appcontext.WithJob(ctx, acquired.Key, ex.owner)
	err = ex.runner.ExecuteJob(ctx, acquired)
	if err == nil {
		return
	}
	ex.logger.Debug("job execution failed", "jobKey", acquired.Key, "type", acquired.Type, "err", err)
	if err := ex.runner.HandleJobFailure(ctx, acquired, err); err != nil {
		// the lock expires and another acquisition retries the job
		ex.logger.Error(fmt.Sprintf("Failed to record failure of job %d: %s", acquired.Key, err))
	}
}
