// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
	"github.com/pvmflow/pvm/pkg/storage/inmemory"
)

type CallPath struct {
	mu       sync.Mutex
	CallPath string
}

func (callPath *CallPath) TaskHandler(execution DelegateExecution) error {
	callPath.mu.Lock()
	defer callPath.mu.Unlock()
	if len(callPath.CallPath) > 0 {
		callPath.CallPath += ","
	}
	callPath.CallPath += execution.ElementId()
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEngine struct {
	*Engine
	clock   *testClock
	storage *inmemory.Storage
}

func newTestEngine(t *testing.T, options ...EngineOption) *testEngine {
	t.Helper()
	clock := newTestClock()
	mem := inmemory.NewStorage()
	opts := append([]EngineOption{
		EngineWithStorage(mem),
		EngineWithClock(clock.Now),
		EngineWithVmPoolSize(4, 1),
	}, options...)
	engine, err := NewEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	return &testEngine{Engine: engine, clock: clock, storage: mem}
}

func (te *testEngine) deploy(t *testing.T, file string) runtime.ProcessDefinition {
	t.Helper()
	definition, err := te.LoadFromFile(t.Context(), "./test-cases/"+file)
	require.NoError(t, err)
	return definition
}

func (te *testEngine) start(t *testing.T, bpmnProcessId string, variables map[string]any) runtime.ProcessInstance {
	t.Helper()
	instance, err := te.StartProcessInstanceByKey(t.Context(), bpmnProcessId, "", "", variables)
	require.NoError(t, err)
	return instance
}

func (te *testEngine) instance(t *testing.T, key int64) runtime.ProcessInstance {
	t.Helper()
	instance, err := te.FindProcessInstance(t.Context(), key)
	require.NoError(t, err)
	return instance
}

// activityIds returns the visited activities in the order they were started
func (te *testEngine) activityIds(t *testing.T, processInstanceKey int64) []string {
	t.Helper()
	activities, err := te.FindHistoricActivityInstances(t.Context(), processInstanceKey)
	require.NoError(t, err)
	res := make([]string, 0, len(activities))
	for _, a := range activities {
		res = append(res, a.ActivityId)
	}
	return res
}

func (te *testEngine) tasks(t *testing.T, processInstanceKey int64) []runtime.Task {
	t.Helper()
	tasks, err := te.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: processInstanceKey})
	require.NoError(t, err)
	return tasks
}

func (te *testEngine) task(t *testing.T, processInstanceKey int64, elementId string) runtime.Task {
	t.Helper()
	tasks, err := te.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: processInstanceKey, ElementId: elementId})
	require.NoError(t, err)
	require.Len(t, tasks, 1, "expected one task at %s", elementId)
	return tasks[0]
}

func (te *testEngine) completeTask(t *testing.T, processInstanceKey int64, elementId string, variables map[string]any) {
	t.Helper()
	task := te.task(t, processInstanceKey, elementId)
	require.NoError(t, te.CompleteTask(t.Context(), task.Key, variables))
}

// runDueJobs executes the pending jobs of the instance that are due at the current test time
func (te *testEngine) runDueJobs(t *testing.T, processInstanceKey int64) int {
	t.Helper()
	jobs, err := te.FindJobs(t.Context(), processInstanceKey)
	require.NoError(t, err)
	executed := 0
	for _, job := range jobs {
		if job.State != runtime.JobStatePending || job.DueAt.After(te.clock.Now()) {
			continue
		}
		require.NoError(t, te.ExecuteJob(t.Context(), job))
		executed++
	}
	return executed
}

func TestNewEngineRequiresStorage(t *testing.T) {
	_, err := NewEngine()

	var engineErr *BpmnEngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestRegisterHandlerByTaskIdGetsCalled(t *testing.T) {
	// setup
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.bpmn")
	wasCalled := false
	handler := func(execution DelegateExecution) error {
		wasCalled = true
		return nil
	}

	// given
	idH := engine.NewTaskHandler().Id("id").Handler(handler)
	defer engine.RemoveHandler(idH)

	// when
	instance := engine.start(t, "simple-task", nil)

	// then
	assert.True(t, wasCalled)
	assert.Equal(t, runtime.ProcessInstanceStateCompleted, instance.State)
}

func TestHandlerLookupPrefersIdOverDelegateOverType(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.bpmn")
	var called []string
	engine.NewTaskHandler().Type("task-type").Handler(func(DelegateExecution) error {
		called = append(called, "type")
		return nil
	})
	delegateH := engine.NewTaskHandler().Delegate("greeter").Handler(func(DelegateExecution) error {
		called = append(called, "delegate")
		return nil
	})
	idH := engine.NewTaskHandler().Id("id").Handler(func(DelegateExecution) error {
		called = append(called, "id")
		return nil
	})

	engine.start(t, "simple-task", nil)
	engine.RemoveHandler(idH)
	engine.start(t, "simple-task", nil)
	engine.RemoveHandler(delegateH)
	engine.start(t, "simple-task", nil)

	assert.Equal(t, []string{"id", "delegate", "type"}, called)
}

func TestServiceTaskWithoutHandlerFailsTheCommand(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.bpmn")

	_, err := engine.StartProcessInstanceByKey(t.Context(), "simple-task", "", "", nil)

	var engineErr *BpmnEngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Contains(t, engineErr.Error(), "no task handler")
	instances, err := engine.storage.FindProcessInstancesByParentExecutionKey(t.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, instances, "a failed command must not flush anything")
}

func TestRegisteredHandlerCanMutateVariableContext(t *testing.T) {
	engine := newTestEngine(t, EngineWithHistoryLevel(HistoryLevelFull))
	engine.deploy(t, "simple_task.bpmn")
	engine.NewTaskHandler().Id("id").Handler(func(execution DelegateExecution) error {
		assert.Equal(t, "oldVal", execution.GetVariable("variable_name"), "one should be able to read variables")
		execution.SetVariable("variable_name", "newVal")
		return nil
	})

	instance := engine.start(t, "simple-task", map[string]any{"variable_name": "oldVal"})

	updates, err := engine.FindHistoricVariableUpdates(t.Context(), instance.Key)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "oldVal", updates[0].Value)
	assert.Equal(t, "newVal", updates[1].Value)
}

func TestHandlerReceivesEvaluatedFieldInjections(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.bpmn")
	var fields map[string]any
	engine.NewTaskHandler().Delegate("greeter").Handler(func(execution DelegateExecution) error {
		fields = execution.Fields()
		assert.Equal(t, "simple-task", execution.BpmnProcessId())
		assert.Equal(t, "Task", execution.ElementName())
		assert.Equal(t, "order-1", execution.BusinessKey())
		return nil
	})

	_, err := engine.StartProcessInstanceByKey(t.Context(), "simple-task", "", "order-1", map[string]any{"name": "world"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"greeting": "hello world", "language": "en"}, fields)
}

func TestServiceTaskExpressionStoresResultVariable(t *testing.T) {
	engine := newTestEngine(t)
	engine.deploy(t, "expression_task.bpmn")

	instance := engine.start(t, "expression-task", map[string]any{"price": 20, "quantity": 3})

	task := engine.task(t, instance.Key, "wait")
	variables, err := engine.GetVariables(t.Context(), task.ExecutionKey)
	require.NoError(t, err)
	assert.EqualValues(t, 60, variables["total"])
}

func TestMetadataIsGivenFromLoadedXmlFile(t *testing.T) {
	engine := newTestEngine(t)

	metadata := engine.deploy(t, "simple_task.bpmn")

	assert.Equal(t, int32(1), metadata.Version)
	assert.Greater(t, metadata.Key, int64(1))
	assert.Equal(t, "simple-task", metadata.BpmnProcessId)
	assert.Equal(t, "simple_task.bpmn", metadata.BpmnResourceName)
}

func TestLoadingTheSameFileWillNotIncreaseTheVersionNorChangeTheProcessKey(t *testing.T) {
	engine := newTestEngine(t)

	first := engine.deploy(t, "simple_task.bpmn")
	second := engine.deploy(t, "simple_task.bpmn")

	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, int32(1), second.Version)
}

func TestDeployingChangedXmlIncreasesTheVersion(t *testing.T) {
	engine := newTestEngine(t)
	data, err := os.ReadFile("./test-cases/simple_task.bpmn")
	require.NoError(t, err)
	first, err := engine.Deploy(t.Context(), data, "simple_task.bpmn", "")
	require.NoError(t, err)

	changed := strings.Replace(string(data), `name="Task"`, `name="Changed task"`, 1)
	second, err := engine.Deploy(t.Context(), []byte(changed), "simple_task.bpmn", "")
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, int32(2), second[0].Version)
	assert.NotEqual(t, first[0].Key, second[0].Key)

	engine.NewTaskHandler().Id("id").Handler(func(DelegateExecution) error { return nil })
	instance := engine.start(t, "simple-task", nil)
	assert.Equal(t, second[0].Key, instance.ProcessDefinitionKey)
}

func TestDeployWithoutExecutableProcessFails(t *testing.T) {
	engine := newTestEngine(t)
	xml := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL"><process id="draft" isExecutable="false"/></definitions>`

	_, err := engine.Deploy(t.Context(), []byte(xml), "draft.bpmn", "")

	assert.Error(t, err)
}

func TestDefinitionsAreIsolatedPerTenant(t *testing.T) {
	engine := newTestEngine(t)
	data, err := os.ReadFile("./test-cases/simple_task.bpmn")
	require.NoError(t, err)
	_, err = engine.Deploy(t.Context(), data, "simple_task.bpmn", "acme")
	require.NoError(t, err)
	engine.NewTaskHandler().Id("id").Handler(func(execution DelegateExecution) error {
		assert.Equal(t, "acme", execution.TenantId())
		return nil
	})

	instance, err := engine.StartProcessInstanceByKey(t.Context(), "simple-task", "acme", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", instance.TenantId)

	_, err = engine.StartProcessInstanceByKey(t.Context(), "simple-task", "", "", nil)
	assert.Error(t, err)

	definitions, err := engine.FindProcessDefinitions(t.Context(), "acme")
	require.NoError(t, err)
	assert.Len(t, definitions, 1)
}

func TestStartByDefinitionKeyUsesThatVersion(t *testing.T) {
	engine := newTestEngine(t)
	definition := engine.deploy(t, "parallel_gateway.bpmn")

	instance, err := engine.StartProcessInstanceByDefinitionKey(t.Context(), definition.Key, "bk", nil)
	require.NoError(t, err)

	assert.Equal(t, definition.Key, instance.ProcessDefinitionKey)
	assert.Equal(t, "bk", instance.BusinessKey)
	assert.Equal(t, runtime.ProcessInstanceStateActive, instance.State)
}
