// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobexecutor_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/bpmn"
	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/jobexecutor"
	"github.com/pvmflow/pvm/pkg/storage/inmemory"
)

func newEngine(t *testing.T, options ...bpmn.EngineOption) (*bpmn.Engine, *inmemory.Storage) {
	t.Helper()
	mem := inmemory.NewStorage()
	engine, err := bpmn.NewEngine(append([]bpmn.EngineOption{bpmn.EngineWithStorage(mem)}, options...)...)
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	return engine, mem
}

func deployAsyncTask(t *testing.T, engine *bpmn.Engine, tenantId string) {
	t.Helper()
	data, err := os.ReadFile("../bpmn/test-cases/async_task.bpmn")
	require.NoError(t, err)
	_, err = engine.Deploy(t.Context(), data, "async_task.bpmn", tenantId)
	require.NoError(t, err)
}

func instanceState(t *testing.T, engine *bpmn.Engine, key int64) runtime.ProcessInstanceState {
	instance, err := engine.FindProcessInstance(context.Background(), key)
	require.NoError(t, err)
	return instance.State
}

func TestExecutorCompletesAsyncContinuations(t *testing.T) {
	engine, mem := newEngine(t)
	deployAsyncTask(t, engine, "")
	var calls atomic.Int32
	engine.NewTaskHandler().Type("work").Handler(func(bpmn.DelegateExecution) error {
		calls.Add(1)
		return nil
	})
	ex := jobexecutor.NewExecutor(engine, mem, jobexecutor.Config{AcquisitionInterval: time.Hour}, nil)
	engine.SetJobListener(ex)
	ex.Start()
	t.Cleanup(func() {
		_ = ex.Stop(context.Background())
	})

	instance, err := engine.StartProcessInstanceByKey(t.Context(), "async-task", "", "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return instanceState(t, engine, instance.Key) == runtime.ProcessInstanceStateCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecutorRetriesFailedJobs(t *testing.T) {
	engine, mem := newEngine(t, bpmn.EngineWithRetryWait(50*time.Millisecond))
	deployAsyncTask(t, engine, "")
	var calls atomic.Int32
	engine.NewTaskHandler().Type("work").Handler(func(bpmn.DelegateExecution) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky service")
		}
		return nil
	})
	ex := jobexecutor.NewExecutor(engine, mem, jobexecutor.Config{AcquisitionInterval: time.Hour}, nil)
	engine.SetJobListener(ex)
	ex.Start()
	t.Cleanup(func() {
		_ = ex.Stop(context.Background())
	})

	instance, err := engine.StartProcessInstanceByKey(t.Context(), "async-task", "", "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return instanceState(t, engine, instance.Key) == runtime.ProcessInstanceStateCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMultiTenantExecutorServesEachTenant(t *testing.T) {
	engine, mem := newEngine(t)
	deployAsyncTask(t, engine, "acme")
	deployAsyncTask(t, engine, "globex")
	engine.NewTaskHandler().Type("work").Handler(func(bpmn.DelegateExecution) error { return nil })
	ex := jobexecutor.NewMultiTenantExecutor(engine, mem, jobexecutor.StaticTenants{"acme"}, jobexecutor.Config{AcquisitionInterval: time.Hour}, nil)
	engine.SetJobListener(ex)
	ex.Start()
	t.Cleanup(func() {
		_ = ex.Stop(context.Background())
	})

	acme, err := engine.StartProcessInstanceByKey(t.Context(), "async-task", "acme", "", nil)
	require.NoError(t, err)
	globex, err := engine.StartProcessInstanceByKey(t.Context(), "async-task", "globex", "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return instanceState(t, engine, acme.Key) == runtime.ProcessInstanceStateCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, runtime.ProcessInstanceStateActive, instanceState(t, engine, globex.Key))

	ex.AddTenant("globex")
	assert.Equal(t, []string{"acme", "globex"}, ex.Tenants())
	assert.Eventually(t, func() bool {
		return instanceState(t, engine, globex.Key) == runtime.ProcessInstanceStateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ex.RemoveTenant(t.Context(), "acme"))
	assert.Equal(t, []string{"globex"}, ex.Tenants())
}
