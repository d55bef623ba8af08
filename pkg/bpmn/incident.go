// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
)

func (cc *commandContext) createIncident(job *runtime.Job, message string) {
	incident := runtime.Incident{
		Key:                cc.engine.generateKey(),
		JobKey:             job.Key,
		ProcessInstanceKey: job.ProcessInstanceKey,
		ExecutionKey:       job.ExecutionKey,
		ElementId:          job.ElementId,
		TenantId:           job.TenantId,
		Message:            message,
		CreatedAt:          cc.now,
	}
	cc.incidents = append(cc.incidents, incident)
	cc.addPostFlushAction(func() {
		cc.engine.logger.Error("incident created", "incidentKey", incident.Key, "jobKey", incident.JobKey, "processInstanceKey", incident.ProcessInstanceKey, "message", message)
	})
}

func (cc *commandContext) resolveIncidents(jobKey int64) error {
	incidents, err := cc.engine.persistence.FindIncidentsByJobKey(cc.ctx, jobKey)
	if err != nil {
		return fmt.Errorf("failed to find incidents of job %d: %w", jobKey, err)
	}
	for _, incident := range incidents {
		if incident.ResolvedAt != nil {
			continue
		}
		resolvedAt := cc.now
		incident.ResolvedAt = &resolvedAt
		cc.incidents = append(cc.incidents, incident)
	}
	return nil
}

// ResolveIncident gives the failed job of the incident one more retry
func (engine *Engine) ResolveIncident(ctx context.Context, incidentKey int64) error {
	incident, err := engine.persistence.FindIncidentByKey(ctx, incidentKey)
	if err != nil {
		return fmt.Errorf("failed to find incident %d: %w", incidentKey, err)
	}
	if incident.ResolvedAt != nil {
		return nil
	}
	return engine.SetJobRetries(ctx, incident.JobKey, 1)
}

// FindIncidents returns resolved and open incidents of the process instance
func (engine *Engine) FindIncidents(ctx context.Context, processInstanceKey int64) ([]runtime.Incident, error) {
	return engine.persistence.FindIncidentsByProcessInstanceKey(ctx, processInstanceKey)
}
