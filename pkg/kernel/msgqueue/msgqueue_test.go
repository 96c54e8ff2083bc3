// Copyright 2024 The Echo-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgqueue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/kernel/kerneltest"
	"github.com/epizzella/Echo-OS/pkg/kernel/msgqueue"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

type sample struct {
	seq  int
	code uint16
}

func TestFIFOOrder(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[sample](make([]sample, 4))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	kerneltest.Start(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(sample{seq: i}, 0))
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		v, err := q.Pop(0)
		require.NoError(t, err)
		assert.Equal(t, i, v.seq)
	}
	assert.Zero(t, q.Len())
}

func TestRingWraps(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 2))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	kerneltest.Start(t)

	for i := 0; i < 7; i++ {
		require.NoError(t, q.Push(i, 0))
		v, err := q.Pop(0)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

func TestTryOps(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 1))
	require.NoError(t, q.Init())

	ok, err := q.TryPush(42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.TryPush(43)
	require.NoError(t, err)
	assert.False(t, ok, "full queue rejects TryPush")

	v, ok, err := q.TryPop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok, err = q.TryPop()
	require.NoError(t, err)
	assert.False(t, ok, "empty queue rejects TryPop")
}

func TestPopBlocksWhenEmpty(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 2))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	b := kerneltest.NewTask(t, "b", 5, nil)
	require.NoError(t, b.Init())
	kerneltest.Start(t)

	q.Pop(0)
	assert.Equal(t, kernel.TaskBlocked, a.State())
	assert.Equal(t, b, kernel.RunningTask())

	// The push readies the consumer, which outranks the producer.
	require.NoError(t, q.Push(7, 0))
	assert.Equal(t, a, kernel.RunningTask())
}

func TestPopTimeoutLeavesQueueClean(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 2))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	kerneltest.Start(t)

	q.Pop(5)
	require.Equal(t, kernel.TaskBlocked, a.State())
	assert.ErrorIs(t, q.Deinit(), oserr.TaskPendingOnSync)

	kerneltest.Tick(t, 5)
	assert.Equal(t, a, kernel.RunningTask())
	require.NoError(t, q.Deinit())
}

func TestPushBlocksWhenFull(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 1))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	b := kerneltest.NewTask(t, "b", 5, nil)
	require.NoError(t, b.Init())
	kerneltest.Start(t)

	require.NoError(t, q.Push(1, 0))
	q.Push(2, 0) // full: a blocks
	assert.Equal(t, kernel.TaskBlocked, a.State())
	assert.Equal(t, b, kernel.RunningTask())

	// The pop frees a slot and readies the producer.
	v, err := q.Pop(0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, a, kernel.RunningTask())
}

func TestAbortPop(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 2))
	require.NoError(t, q.Init())

	a := kerneltest.NewTask(t, "a", 1, nil)
	require.NoError(t, a.Init())
	kerneltest.Start(t)

	q.Pop(0)
	require.Equal(t, kernel.TaskBlocked, a.State())

	require.NoError(t, q.AbortPop(a))
	assert.Equal(t, a, kernel.RunningTask())
	require.NoError(t, q.Deinit())
}

func TestUninitializedQueue(t *testing.T) {
	kerneltest.Setup(t)
	q := msgqueue.New[int](make([]int, 2))

	assert.ErrorIs(t, q.Push(1, 0), oserr.Uninitialized)
	_, err := q.Pop(0)
	assert.ErrorIs(t, err, oserr.Uninitialized)
}
