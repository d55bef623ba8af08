// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storagetest contains a test suite every storage.Storage implementation has to pass.
package storagetest

import (
	"fmt"
	"reflect"
	stdruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bpmnruntime "github.com/pvmflow/pvm/pkg/bpmn/runtime"
	"github.com/pvmflow/pvm/pkg/storage"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

type StorageTester struct {
	node              *snowflake.Node
	processDefinition bpmnruntime.ProcessDefinition
	processInstance   bpmnruntime.ProcessInstance
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessDefinitionStorageReader,
		st.TestProcessInstanceRevisionConflict,
		st.TestProcessInstanceStorageReader,
		st.TestExecutionStorage,
		st.TestJobStorage,
		st.TestAcquirableJobs,
		st.TestJobLocking,
		st.TestJobLockingRequiresARunnableJob,
		st.TestVariableTypesSurviveRoundTrip,
		st.TestEventSubscriptionStorage,
		st.TestTaskStorage,
		st.TestIncidentStorage,
		st.TestHistoryStorage,
		st.TestFailedBatchLeavesNoTrace,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func (st *StorageTester) nextKey() int64 {
	return st.node.Generate().Int64()
}

func now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

func getProcessDefinition(key int64, id string, version int32) bpmnruntime.ProcessDefinition {
	data := `<?xml version="1.0" encoding="UTF-8"?><definitions><process id="%s" isExecutable="true"></process></definitions>`
	return bpmnruntime.ProcessDefinition{
		Key:              key,
		BpmnProcessId:    id,
		Version:          version,
		TenantId:         "tenant-a",
		BpmnData:         fmt.Sprintf(data, id),
		BpmnChecksum:     [16]byte{byte(version)},
		BpmnResourceName: fmt.Sprintf("resource-%s.bpmn", id),
		DeployedAt:       now(),
	}
}

func getProcessInstance(key int64, d bpmnruntime.ProcessDefinition) bpmnruntime.ProcessInstance {
	return bpmnruntime.ProcessInstance{
		Key:                  key,
		ProcessDefinitionKey: d.Key,
		BpmnProcessId:        d.BpmnProcessId,
		BusinessKey:          fmt.Sprintf("bk-%d", key),
		TenantId:             d.TenantId,
		State:                bpmnruntime.ProcessInstanceStateActive,
		CreatedAt:            now(),
		Revision:             1,
	}
}

func getJob(key int64, pi bpmnruntime.ProcessInstance, due time.Time) bpmnruntime.Job {
	return bpmnruntime.Job{
		Key:                  key,
		Type:                 bpmnruntime.JobTypeAsyncContinuation,
		State:                bpmnruntime.JobStatePending,
		ProcessDefinitionKey: pi.ProcessDefinitionKey,
		ProcessInstanceKey:   pi.Key,
		ExecutionKey:         pi.Key,
		ElementId:            fmt.Sprintf("job-%d", key),
		TenantId:             pi.TenantId,
		DueAt:                due,
		Retries:              3,
		Payload:              map[string]any{"phase": "execute"},
		CreatedAt:            now(),
	}
}

func flush(t *testing.T, s storage.Storage, write func(b storage.Batch)) {
	batch := s.NewBatch()
	write(batch)
	require.NoError(t, batch.Flush(t.Context()))
}

// PrepareTestData will prepare common data for the tests
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	st.node = node

	st.processDefinition = getProcessDefinition(st.nextKey(), fmt.Sprintf("shared-%d", st.nextKey()), 1)
	st.processInstance = getProcessInstance(st.nextKey(), st.processDefinition)
	flush(t, s, func(b storage.Batch) {
		assert.NoError(t, b.SaveProcessDefinition(t.Context(), st.processDefinition))
		assert.NoError(t, b.SaveProcessInstance(t.Context(), st.processInstance))
	})
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		id := fmt.Sprintf("definition-%d", st.nextKey())
		v1 := getProcessDefinition(st.nextKey(), id, 1)
		v2 := getProcessDefinition(st.nextKey(), id, 2)
		other := getProcessDefinition(st.nextKey(), id, 3)
		other.TenantId = "tenant-b"
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessDefinition(t.Context(), v2))
			assert.NoError(t, b.SaveProcessDefinition(t.Context(), v1))
			assert.NoError(t, b.SaveProcessDefinition(t.Context(), other))
		})

		latest, err := s.FindLatestProcessDefinitionById(t.Context(), id, "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, v2.Key, latest.Key)
		assert.Equal(t, v2.BpmnData, latest.BpmnData)
		assert.Equal(t, v2.BpmnChecksum, latest.BpmnChecksum)

		byKey, err := s.FindProcessDefinitionByKey(t.Context(), v1.Key)
		require.NoError(t, err)
		assert.Equal(t, int32(1), byKey.Version)
		assert.Equal(t, v1.BpmnResourceName, byKey.BpmnResourceName)

		versions, err := s.FindProcessDefinitionsById(t.Context(), id, "tenant-a")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, int32(1), versions[0].Version)
		assert.Equal(t, int32(2), versions[1].Version)

		_, err = s.FindLatestProcessDefinitionById(t.Context(), "does-not-exist", "tenant-a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindProcessDefinitionByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		all, err := s.FindProcessDefinitions(t.Context(), "tenant-b")
		require.NoError(t, err)
		keys := make([]int64, 0, len(all))
		for _, d := range all {
			keys = append(keys, d.Key)
		}
		assert.Contains(t, keys, other.Key)
		assert.NotContains(t, keys, v1.Key)
	}
}

func (st *StorageTester) TestProcessInstanceRevisionConflict(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		inst := getProcessInstance(st.nextKey(), st.processDefinition)
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), inst))
		})

		next := inst
		next.Revision = 2
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), next))
		})

		// a second writer still holding revision 1
		stale := inst
		stale.Revision = 2
		stale.State = bpmnruntime.ProcessInstanceStateSuspended
		batch := s.NewBatch()
		assert.NoError(t, batch.SaveProcessInstance(t.Context(), stale))
		err := batch.Flush(t.Context())
		assert.ErrorIs(t, err, storage.ErrConflict)

		stored, err := s.FindProcessInstanceByKey(t.Context(), inst.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Revision)
		assert.Equal(t, bpmnruntime.ProcessInstanceStateActive, stored.State)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		parentExecutionKey := st.nextKey()
		child := getProcessInstance(st.nextKey(), st.processDefinition)
		child.ParentExecutionKey = parentExecutionKey
		child.ParentProcessInstanceKey = st.processInstance.Key
		ended := now()
		child.EndedAt = &ended
		child.State = bpmnruntime.ProcessInstanceStateCompleted
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), child))
		})

		instance, err := s.FindProcessInstanceByKey(t.Context(), child.Key)
		require.NoError(t, err)
		assert.Equal(t, child.BusinessKey, instance.BusinessKey)
		assert.Equal(t, child.State, instance.State)
		assert.True(t, child.CreatedAt.Equal(instance.CreatedAt))
		require.NotNil(t, instance.EndedAt)
		assert.True(t, ended.Equal(*instance.EndedAt))

		children, err := s.FindProcessInstancesByParentExecutionKey(t.Context(), parentExecutionKey)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, child.Key, children[0].Key)
		assert.Equal(t, st.processInstance.Key, children[0].ParentProcessInstanceKey)

		_, err = s.FindProcessInstanceByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestExecutionStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		inst := getProcessInstance(st.nextKey(), st.processDefinition)
		root := bpmnruntime.Execution{
			Key:                inst.Key,
			ProcessInstanceKey: inst.Key,
			IsScope:            true,
			State:              bpmnruntime.ExecutionStateActive,
			Variables:          map[string]any{"amount": 120.5, "customer": "jane"},
			CreatedAt:          now(),
		}
		child := bpmnruntime.Execution{
			Key:                 st.nextKey(),
			ProcessInstanceKey:  inst.Key,
			ParentKey:           root.Key,
			ActivityId:          "task",
			IsActive:            true,
			State:               bpmnruntime.ExecutionStateWaiting,
			ActivityInstanceKey: st.nextKey(),
			CreatedAt:           now(),
		}
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), inst))
			assert.NoError(t, b.SaveExecution(t.Context(), root))
			assert.NoError(t, b.SaveExecution(t.Context(), child))
		})

		executions, err := s.FindProcessInstanceExecutions(t.Context(), inst.Key)
		require.NoError(t, err)
		require.Len(t, executions, 2)

		stored, err := s.FindExecutionByKey(t.Context(), root.Key)
		require.NoError(t, err)
		assert.Equal(t, root.Variables, stored.Variables)
		assert.True(t, stored.IsScope)
		assert.True(t, stored.IsRoot())

		// mutating a returned execution must not change the stored one
		stored.Variables["amount"] = float64(1)
		again, err := s.FindExecutionByKey(t.Context(), root.Key)
		require.NoError(t, err)
		assert.Equal(t, 120.5, again.Variables["amount"])

		storedChild, err := s.FindExecutionByKey(t.Context(), child.Key)
		require.NoError(t, err)
		assert.Equal(t, child.ActivityId, storedChild.ActivityId)
		assert.Equal(t, child.ParentKey, storedChild.ParentKey)
		assert.Equal(t, child.ActivityInstanceKey, storedChild.ActivityInstanceKey)
		assert.Equal(t, bpmnruntime.ExecutionStateWaiting, storedChild.State)

		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.DeleteExecution(t.Context(), child.Key))
		})
		_, err = s.FindExecutionByKey(t.Context(), child.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestJobStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		job := getJob(st.nextKey(), st.processInstance, now())
		job.RepeatCycle = "R2/PT10S"
		startJob := getJob(st.nextKey(), st.processInstance, now())
		startJob.Type = bpmnruntime.JobTypeTimerStart
		startJob.ProcessInstanceKey = 0
		startJob.ExecutionKey = 0
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveJob(t.Context(), job))
			assert.NoError(t, b.SaveJob(t.Context(), startJob))
		})

		stored, err := s.FindJobByKey(t.Context(), job.Key)
		require.NoError(t, err)
		assert.Equal(t, job.Type, stored.Type)
		assert.Equal(t, job.Payload, stored.Payload)
		assert.Equal(t, job.RepeatCycle, stored.RepeatCycle)
		assert.Equal(t, 3, stored.Retries)
		assert.True(t, job.DueAt.Equal(stored.DueAt))

		jobs, err := s.FindProcessInstanceJobs(t.Context(), st.processInstance.Key)
		require.NoError(t, err)
		assert.True(t, containsKey(jobs, job.Key, func(j bpmnruntime.Job) int64 { return j.Key }))
		assert.False(t, containsKey(jobs, startJob.Key, func(j bpmnruntime.Job) int64 { return j.Key }))

		defJobs, err := s.FindProcessDefinitionJobs(t.Context(), st.processDefinition.Key)
		require.NoError(t, err)
		assert.True(t, containsKey(defJobs, startJob.Key, func(j bpmnruntime.Job) int64 { return j.Key }))

		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.DeleteJob(t.Context(), job.Key))
			assert.NoError(t, b.DeleteJob(t.Context(), startJob.Key))
		})
		_, err = s.FindJobByKey(t.Context(), job.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestAcquirableJobs(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		def := getProcessDefinition(st.nextKey(), fmt.Sprintf("acquire-%d", st.nextKey()), 1)
		def.TenantId = fmt.Sprintf("acquire-tenant-%d", st.nextKey())
		active := getProcessInstance(st.nextKey(), def)
		suspended := getProcessInstance(st.nextKey(), def)
		suspended.State = bpmnruntime.ProcessInstanceStateSuspended

		base := now()
		late := getJob(st.nextKey(), active, base.Add(-time.Minute))
		early := getJob(st.nextKey(), active, base.Add(-time.Hour))
		future := getJob(st.nextKey(), active, base.Add(time.Hour))
		ofSuspended := getJob(st.nextKey(), suspended, base.Add(-time.Hour))
		dead := getJob(st.nextKey(), active, base.Add(-time.Hour))
		dead.State = bpmnruntime.JobStateDeadLetter
		dead.Retries = 0
		locked := getJob(st.nextKey(), active, base.Add(-time.Hour))
		locked.LockOwner = "other"
		locked.LockExpiresAt = base.Add(time.Minute)
		expiredLock := getJob(st.nextKey(), active, base.Add(-2*time.Hour))
		expiredLock.LockOwner = "crashed"
		expiredLock.LockExpiresAt = base.Add(-time.Minute)

		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessDefinition(t.Context(), def))
			assert.NoError(t, b.SaveProcessInstance(t.Context(), active))
			assert.NoError(t, b.SaveProcessInstance(t.Context(), suspended))
			for _, j := range []bpmnruntime.Job{late, early, future, ofSuspended, dead, locked, expiredLock} {
				assert.NoError(t, b.SaveJob(t.Context(), j))
			}
		})

		jobs, err := s.FindAcquirableJobs(t.Context(), storage.AcquirableJobsQuery{
			TenantId:  &def.TenantId,
			DueBefore: base,
			Now:       base,
			Limit:     10,
		})
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, expiredLock.Key, jobs[0].Key)
		assert.Equal(t, early.Key, jobs[1].Key)
		assert.Equal(t, late.Key, jobs[2].Key)

		limited, err := s.FindAcquirableJobs(t.Context(), storage.AcquirableJobsQuery{
			TenantId:  &def.TenantId,
			DueBefore: base,
			Now:       base,
			Limit:     1,
		})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, expiredLock.Key, limited[0].Key)

		otherTenant := "nobody"
		none, err := s.FindAcquirableJobs(t.Context(), storage.AcquirableJobsQuery{
			TenantId:  &otherTenant,
			DueBefore: base.Add(24 * time.Hour),
			Now:       base,
			Limit:     10,
		})
		require.NoError(t, err)
		assert.Empty(t, none)
	}
}

func (st *StorageTester) TestJobLocking(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		job := getJob(st.nextKey(), st.processInstance, now())
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveJob(t.Context(), job))
		})

		base := now()
		acquired, err := s.AcquireJob(t.Context(), job.Key, "owner-1", base.Add(time.Minute), base)
		require.NoError(t, err)
		assert.Equal(t, "owner-1", acquired.LockOwner)
		assert.True(t, base.Add(time.Minute).Equal(acquired.LockExpiresAt))

		_, err = s.AcquireJob(t.Context(), job.Key, "owner-2", base.Add(time.Minute), base)
		assert.ErrorIs(t, err, storage.ErrConflict)

		// the lock expired
		later := base.Add(2 * time.Minute)
		acquired, err = s.AcquireJob(t.Context(), job.Key, "owner-2", later.Add(time.Minute), later)
		require.NoError(t, err)
		assert.Equal(t, "owner-2", acquired.LockOwner)

		_, err = s.AcquireJob(t.Context(), -1, "owner-2", later, later)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestJobLockingRequiresARunnableJob(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		base := now()
		suspended := getProcessInstance(st.nextKey(), st.processDefinition)
		suspended.State = bpmnruntime.ProcessInstanceStateSuspended
		notDue := getJob(st.nextKey(), st.processInstance, base.Add(time.Minute))
		noRetries := getJob(st.nextKey(), st.processInstance, base)
		noRetries.Retries = 0
		deadLetter := getJob(st.nextKey(), st.processInstance, base)
		deadLetter.State = bpmnruntime.JobStateDeadLetter
		ofSuspended := getJob(st.nextKey(), suspended, base)
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), suspended))
			for _, j := range []bpmnruntime.Job{notDue, noRetries, deadLetter, ofSuspended} {
				assert.NoError(t, b.SaveJob(t.Context(), j))
			}
		})

		for name, job := range map[string]bpmnruntime.Job{
			"not due":          notDue,
			"no retries":       noRetries,
			"dead letter":      deadLetter,
			"suspended parent": ofSuspended,
		} {
			_, err := s.AcquireJob(t.Context(), job.Key, "owner-1", base.Add(time.Minute), base)
			assert.ErrorIs(t, err, storage.ErrConflict, name)
			stored, err := s.FindJobByKey(t.Context(), job.Key)
			require.NoError(t, err)
			assert.Empty(t, stored.LockOwner, name)
		}

		// a retry rescheduled the job, it becomes acquirable once due
		acquired, err := s.AcquireJob(t.Context(), notDue.Key, "owner-1", base.Add(2*time.Minute), base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "owner-1", acquired.LockOwner)
	}
}

func (st *StorageTester) TestVariableTypesSurviveRoundTrip(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		variables := map[string]any{
			"orderId":  int64(9007199254740993),
			"ratio":    0.25,
			"customer": "jane",
			"approved": true,
			"order": map[string]any{
				"total": int64(42),
				"items": []any{int64(1), "two", 3.5},
			},
		}
		inst := getProcessInstance(st.nextKey(), st.processDefinition)
		root := bpmnruntime.Execution{
			Key:                inst.Key,
			ProcessInstanceKey: inst.Key,
			IsScope:            true,
			State:              bpmnruntime.ExecutionStateActive,
			Variables:          variables,
			CreatedAt:          now(),
		}
		job := getJob(st.nextKey(), inst, now())
		job.Payload = map[string]any{"attempt": 2, "orderId": int64(9007199254740993)}
		update := bpmnruntime.HistoricVariableUpdate{
			Key:                st.nextKey(),
			ProcessInstanceKey: inst.Key,
			Name:               "order",
			Value:              variables["order"],
			UpdatedAt:          now(),
		}
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), inst))
			assert.NoError(t, b.SaveExecution(t.Context(), root))
			assert.NoError(t, b.SaveJob(t.Context(), job))
			assert.NoError(t, b.SaveHistoricVariableUpdate(t.Context(), update))
		})

		stored, err := s.FindExecutionByKey(t.Context(), root.Key)
		require.NoError(t, err)
		assert.Equal(t, variables, stored.Variables)
		assert.Equal(t, int64(9007199254740993), stored.Variables["orderId"])

		storedJob, err := s.FindJobByKey(t.Context(), job.Key)
		require.NoError(t, err)
		assert.EqualValues(t, 2, storedJob.Payload["attempt"])
		assert.Equal(t, int64(9007199254740993), storedJob.Payload["orderId"])

		updates, err := s.FindHistoricVariableUpdates(t.Context(), inst.Key)
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, variables["order"], updates[0].Value)
	}
}

func (st *StorageTester) TestEventSubscriptionStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		name := fmt.Sprintf("signal-%d", st.nextKey())
		instanceSub := bpmnruntime.EventSubscription{
			Key:                  st.nextKey(),
			EventType:            bpmnruntime.EventTypeSignal,
			EventName:            name,
			ProcessDefinitionKey: st.processDefinition.Key,
			ProcessInstanceKey:   st.processInstance.Key,
			ExecutionKey:         st.nextKey(),
			ElementId:            "catch",
			TenantId:             "tenant-a",
			CreatedAt:            now(),
		}
		startSub := bpmnruntime.EventSubscription{
			Key:                  st.nextKey(),
			EventType:            bpmnruntime.EventTypeSignal,
			EventName:            name,
			ProcessDefinitionKey: st.processDefinition.Key,
			ElementId:            "start",
			TenantId:             "tenant-a",
			CreatedAt:            now(),
		}
		message := instanceSub
		message.Key = st.nextKey()
		message.EventType = bpmnruntime.EventTypeMessage
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveEventSubscription(t.Context(), instanceSub))
			assert.NoError(t, b.SaveEventSubscription(t.Context(), startSub))
			assert.NoError(t, b.SaveEventSubscription(t.Context(), message))
		})

		byName, err := s.FindEventSubscriptionsByName(t.Context(), "tenant-a", bpmnruntime.EventTypeSignal, name)
		require.NoError(t, err)
		require.Len(t, byName, 2)
		assert.Equal(t, instanceSub.Key, byName[0].Key)
		assert.True(t, byName[1].IsStartEvent())

		otherTenant, err := s.FindEventSubscriptionsByName(t.Context(), "tenant-b", bpmnruntime.EventTypeSignal, name)
		require.NoError(t, err)
		assert.Empty(t, otherTenant)

		defSubs, err := s.FindProcessDefinitionEventSubscriptions(t.Context(), st.processDefinition.Key)
		require.NoError(t, err)
		assert.True(t, containsKey(defSubs, startSub.Key, func(e bpmnruntime.EventSubscription) int64 { return e.Key }))
		assert.False(t, containsKey(defSubs, instanceSub.Key, func(e bpmnruntime.EventSubscription) int64 { return e.Key }))

		instSubs, err := s.FindProcessInstanceEventSubscriptions(t.Context(), st.processInstance.Key)
		require.NoError(t, err)
		assert.True(t, containsKey(instSubs, message.Key, func(e bpmnruntime.EventSubscription) int64 { return e.Key }))

		stored, err := s.FindEventSubscriptionByKey(t.Context(), instanceSub.Key)
		require.NoError(t, err)
		assert.Equal(t, instanceSub.ExecutionKey, stored.ExecutionKey)
		assert.Equal(t, "catch", stored.ElementId)

		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.DeleteEventSubscription(t.Context(), instanceSub.Key))
		})
		_, err = s.FindEventSubscriptionByKey(t.Context(), instanceSub.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTaskStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		inst := getProcessInstance(st.nextKey(), st.processDefinition)
		approve := bpmnruntime.Task{
			Key:                  st.nextKey(),
			Name:                 "Approve",
			ElementId:            "approve",
			ExecutionKey:         st.nextKey(),
			ProcessInstanceKey:   inst.Key,
			ProcessDefinitionKey: st.processDefinition.Key,
			TenantId:             "tenant-a",
			CandidateUsers:       []string{"kermit", "gonzo"},
			CandidateGroups:      []string{"management"},
			FormKey:              "approve-form",
			CreatedAt:            now(),
		}
		review := approve
		review.Key = st.nextKey()
		review.ElementId = "review"
		review.Assignee = "fozzie"
		review.CandidateUsers = nil
		review.CandidateGroups = []string{"accounting"}
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), inst))
			assert.NoError(t, b.SaveTask(t.Context(), approve))
			assert.NoError(t, b.SaveTask(t.Context(), review))
		})

		stored, err := s.FindTaskByKey(t.Context(), approve.Key)
		require.NoError(t, err)
		assert.Equal(t, approve.CandidateUsers, stored.CandidateUsers)
		assert.Equal(t, approve.FormKey, stored.FormKey)

		byInstance, err := s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: inst.Key})
		require.NoError(t, err)
		assert.Len(t, byInstance, 2)

		byCandidate, err := s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: inst.Key, CandidateUser: "gonzo"})
		require.NoError(t, err)
		require.Len(t, byCandidate, 1)
		assert.Equal(t, approve.Key, byCandidate[0].Key)

		byGroup, err := s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: inst.Key, CandidateGroup: "accounting"})
		require.NoError(t, err)
		require.Len(t, byGroup, 1)
		assert.Equal(t, review.Key, byGroup[0].Key)

		byAssignee, err := s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceKey: inst.Key, Assignee: "fozzie"})
		require.NoError(t, err)
		require.Len(t, byAssignee, 1)

		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.DeleteTask(t.Context(), approve.Key))
		})
		_, err = s.FindTaskByKey(t.Context(), approve.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestIncidentStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		jobKey := st.nextKey()
		incident := bpmnruntime.Incident{
			Key:                st.nextKey(),
			JobKey:             jobKey,
			ProcessInstanceKey: st.processInstance.Key,
			ExecutionKey:       st.nextKey(),
			ElementId:          "service",
			TenantId:           "tenant-a",
			Message:            "boom",
			CreatedAt:          now(),
		}
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveIncident(t.Context(), incident))
		})

		byJob, err := s.FindIncidentsByJobKey(t.Context(), jobKey)
		require.NoError(t, err)
		require.Len(t, byJob, 1)
		assert.Equal(t, "boom", byJob[0].Message)
		assert.Nil(t, byJob[0].ResolvedAt)

		resolved := now()
		incident.ResolvedAt = &resolved
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveIncident(t.Context(), incident))
		})

		stored, err := s.FindIncidentByKey(t.Context(), incident.Key)
		require.NoError(t, err)
		require.NotNil(t, stored.ResolvedAt)
		assert.True(t, resolved.Equal(*stored.ResolvedAt))

		byInstance, err := s.FindIncidentsByProcessInstanceKey(t.Context(), st.processInstance.Key)
		require.NoError(t, err)
		assert.True(t, containsKey(byInstance, incident.Key, func(i bpmnruntime.Incident) int64 { return i.Key }))
	}
}

func (st *StorageTester) TestHistoryStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		piKey := st.nextKey()
		ended := now()
		started := ended.Add(-time.Minute)
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveHistoricProcessInstance(t.Context(), bpmnruntime.HistoricProcessInstance{
				Key:                  piKey,
				ProcessDefinitionKey: st.processDefinition.Key,
				BpmnProcessId:        st.processDefinition.BpmnProcessId,
				TenantId:             "tenant-a",
				State:                bpmnruntime.ProcessInstanceStateCompleted,
				StartActivityId:      "start",
				EndActivityId:        "end",
				StartedAt:            started,
				EndedAt:              &ended,
				DurationMillis:       ended.Sub(started).Milliseconds(),
				DeleteReason:         bpmnruntime.DeleteReasonCompleted,
			}))
			assert.NoError(t, b.SaveHistoricActivityInstance(t.Context(), bpmnruntime.HistoricActivityInstance{
				Key:                st.nextKey(),
				ProcessInstanceKey: piKey,
				ActivityId:         "task",
				ActivityType:       "userTask",
				Assignee:           "kermit",
				StartedAt:          started.Add(time.Second),
			}))
			assert.NoError(t, b.SaveHistoricActivityInstance(t.Context(), bpmnruntime.HistoricActivityInstance{
				Key:                st.nextKey(),
				ProcessInstanceKey: piKey,
				ActivityId:         "start",
				ActivityType:       "startEvent",
				StartedAt:          started,
				EndedAt:            &started,
			}))
			assert.NoError(t, b.SaveHistoricVariableUpdate(t.Context(), bpmnruntime.HistoricVariableUpdate{
				Key:                st.nextKey(),
				ProcessInstanceKey: piKey,
				Name:               "approved",
				Value:              true,
				UpdatedAt:          ended,
			}))
		})

		hpi, err := s.FindHistoricProcessInstance(t.Context(), piKey)
		require.NoError(t, err)
		assert.Equal(t, "end", hpi.EndActivityId)
		assert.Equal(t, int64(60000), hpi.DurationMillis)
		assert.Equal(t, bpmnruntime.DeleteReasonCompleted, hpi.DeleteReason)

		activities, err := s.FindHistoricActivityInstances(t.Context(), piKey)
		require.NoError(t, err)
		require.Len(t, activities, 2)
		assert.Equal(t, "start", activities[0].ActivityId)
		assert.Equal(t, "task", activities[1].ActivityId)
		assert.Equal(t, "kermit", activities[1].Assignee)
		assert.Nil(t, activities[1].EndedAt)

		byKey, err := s.FindHistoricActivityInstanceByKey(t.Context(), activities[1].Key)
		require.NoError(t, err)
		assert.Equal(t, "task", byKey.ActivityId)
		_, err = s.FindHistoricActivityInstanceByKey(t.Context(), st.nextKey())
		assert.ErrorIs(t, err, storage.ErrNotFound)

		variables, err := s.FindHistoricVariableUpdates(t.Context(), piKey)
		require.NoError(t, err)
		require.Len(t, variables, 1)
		assert.Equal(t, true, variables[0].Value)
	}
}

func (st *StorageTester) TestFailedBatchLeavesNoTrace(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		inst := getProcessInstance(st.nextKey(), st.processDefinition)
		flush(t, s, func(b storage.Batch) {
			assert.NoError(t, b.SaveProcessInstance(t.Context(), inst))
		})

		job := getJob(st.nextKey(), inst, now())
		stale := inst
		stale.Revision = 5
		batch := s.NewBatch()
		assert.NoError(t, batch.SaveJob(t.Context(), job))
		assert.NoError(t, batch.SaveProcessInstance(t.Context(), stale))
		assert.ErrorIs(t, batch.Flush(t.Context()), storage.ErrConflict)

		_, err := s.FindJobByKey(t.Context(), job.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func containsKey[T any](items []T, key int64, keyOf func(T) int64) bool {
	for _, item := range items {
		if keyOf(item) == key {
			return true
		}
	}
	return false
}
