// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted   metric.Int64Counter
	ProcessesEnded     metric.Int64Counter
	ProcessesRunning   metric.Int64UpDownCounter
	JobsCreated        metric.Int64Counter
	JobsExecuted       metric.Int64Counter
	JobsFailed         metric.Int64Counter
	SignalsDelivered   metric.Int64Counter
	MessagesDelivered  metric.Int64Counter
	CommandsConflicted metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of process instances started"))
	errJoin = errors.Join(errJoin, err)

	processesEndedTotal, err := meter.Int64Counter("processes_ended", metric.WithDescription("Number of process instances ended"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of process instances currently running"))
	errJoin = errors.Join(errJoin, err)

	jobsCreated, err := meter.Int64Counter("jobs_created", metric.WithDescription("Number of jobs created"))
	errJoin = errors.Join(errJoin, err)

	jobsExecuted, err := meter.Int64Counter("jobs_executed", metric.WithDescription("Number of jobs executed successfully"))
	errJoin = errors.Join(errJoin, err)

	jobsFailed, err := meter.Int64Counter("jobs_failed", metric.WithDescription("Number of failed job executions"))
	errJoin = errors.Join(errJoin, err)

	signalsDelivered, err := meter.Int64Counter("signals_delivered", metric.WithDescription("Number of signal subscriptions triggered"))
	errJoin = errors.Join(errJoin, err)

	messagesDelivered, err := meter.Int64Counter("messages_delivered", metric.WithDescription("Number of message subscriptions triggered"))
	errJoin = errors.Join(errJoin, err)

	commandsConflicted, err := meter.Int64Counter("commands_conflicted", metric.WithDescription("Number of commands rejected by the optimistic lock"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted:   processesStartedTotal,
		ProcessesEnded:     processesEndedTotal,
		ProcessesRunning:   processesRunning,
		JobsCreated:        jobsCreated,
		JobsExecuted:       jobsExecuted,
		JobsFailed:         jobsFailed,
		SignalsDelivered:   signalsDelivered,
		MessagesDelivered:  messagesDelivered,
		CommandsConflicted: commandsConflicted,
	}
	return &metrics, errJoin
}
