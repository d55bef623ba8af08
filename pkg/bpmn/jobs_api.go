// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

// HandleJobFailure records a failed ExecuteJob. Conflicts, busy and suspended instances only release the lock
// so the job is picked up again. Other failures use up a retry, a job without retries left becomes a dead letter
// and raises an incident.
func (engine *Engine) HandleJobFailure(ctx context.Context, job runtime.Job, cause error) error {
	release := errors.Is(cause, storage.ErrConflict) || errors.Is(cause, ErrSuspended) || errors.Is(cause, ErrInstanceBusy)
	name := "fail-job"
	if release {
		name = "release-job"
	}
	err := engine.runCommand(ctx, name, func(cc *commandContext) error {
		current, found, err := cc.lockedJob(job)
		if err != nil || !found {
			return err
		}
		current.LockOwner = ""
		current.LockExpiresAt = time.Time{}
		cc.jobs.touch(current.Key)
		if release {
			return nil
		}
		current.Retries--
		current.Exception = cause.Error()
		current.DueAt = cc.now.Add(cc.engine.retryWait)
		if current.Retries <= 0 {
			current.Retries = 0
			current.State = runtime.JobStateDeadLetter
			cc.createIncident(current, cause.Error())
			return nil
		}
		scheduled := *current
		cc.addPostFlushAction(func() {
			if cc.engine.jobListener != nil {
				cc.engine.jobListener.JobScheduled(scheduled)
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	if !release {
		engine.metrics.JobsFailed.Add(ctx, 1, jobTypeAttribute(job.Type))
		engine.logger.Warn("job failed", "jobKey", job.Key, "type", job.Type, "err", cause)
	}
	return nil
}

// SetJobRetries makes a failed or dead letter job due again and resolves its incidents
func (engine *Engine) SetJobRetries(ctx context.Context, jobKey int64, retries int) error {
	if retries <= 0 {
		return newEngineErrorf("retries must be positive, got %d", retries)
	}
	stored, err := engine.persistence.FindJobByKey(ctx, jobKey)
	if err != nil {
		return fmt.Errorf("failed to find job %d: %w", jobKey, err)
	}
	return engine.runCommand(ctx, "set-job-retries", func(cc *commandContext) error {
		if stored.ProcessInstanceKey != 0 {
			if _, err := cc.loadInstance(stored.ProcessInstanceKey); err != nil {
				return err
			}
		} else {
			cc.jobs.load(stored.Key, stored)
		}
		job, ok := cc.jobs.get(jobKey)
		if !ok {
			return fmt.Errorf("job %d: %w", jobKey, storage.ErrNotFound)
		}
		job.Retries = retries
		job.State = runtime.JobStatePending
		job.Exception = ""
		job.DueAt = cc.now
		job.LockOwner = ""
		job.LockExpiresAt = time.Time{}
		cc.jobs.touch(job.Key)
		if err := cc.resolveIncidents(job.Key); err != nil {
			return err
		}
		scheduled := *job
		cc.addPostFlushAction(func() {
			if cc.engine.jobListener != nil {
				cc.engine.jobListener.JobScheduled(scheduled)
			}
		})
		return nil
	})
}

// FindJobs returns the jobs of the process instance, dead letters included
func (engine *Engine) FindJobs(ctx context.Context, processInstanceKey int64) ([]runtime.Job, error) {
	return engine.persistence.FindProcessInstanceJobs(ctx, processInstanceKey)
}

// FindJob returns the job by its key
func (engine *Engine) FindJob(ctx context.Context, jobKey int64) (runtime.Job, error) {
	return engine.persistence.FindJobByKey(ctx, jobKey)
}
