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

// Package msgqueue provides a typed, bounded message queue. The element
// type is a compile-time parameter and the ring storage is owned by the
// caller.
//
// Blocked peers use direct handoff: a producer facing a pending consumer
// deposits the element straight with the consumer, and a consumer that
// frees a slot in a full ring pulls the highest-priority pending producer's
// element in behind it. A woken task therefore never re-examines the ring.
package msgqueue

import (
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// Queue is a bounded FIFO of T. Producers block while it is full and
// consumers block while it is empty; each wait condition is a sync object
// with the kernel's shared blocking protocol.
type Queue[T any] struct {
	notEmpty kernel.SyncObject
	notFull  kernel.SyncObject

	buf   []T
	head  int
	count int
}

// New returns a queue over the caller-owned ring storage. The storage
// length is the queue capacity and must not be zero.
func New[T any](storage []T) Queue[T] {
	if len(storage) == 0 {
		panic("msgqueue: zero-capacity storage")
	}
	return Queue[T]{buf: storage}
}

// Init registers the queue with the kernel.
func (q *Queue[T]) Init() error {
	if err := q.notEmpty.Init(); err != nil {
		return err
	}
	if err := q.notFull.Init(); err != nil {
		q.notEmpty.Deinit()
		return err
	}
	return nil
}

// Deinit unregisters the queue. It fails with TaskPendingOnSync while any
// producer or consumer is blocked on it.
func (q *Queue[T]) Deinit() error {
	if !q.notEmpty.Initialized() || !q.notFull.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	if q.notEmpty.PendingCount() != 0 || q.notFull.PendingCount() != 0 {
		kernel.CriticalEnd()
		return oserr.TaskPendingOnSync
	}
	kernel.CriticalEnd()
	if err := q.notEmpty.Deinit(); err != nil {
		return err
	}
	return q.notFull.Deinit()
}

// Len returns the number of queued messages.
func (q *Queue[T]) Len() int {
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// putLocked appends v to the ring. Critical section held, ring not full.
func (q *Queue[T]) putLocked(v T) {
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
}

// getLocked removes the ring head and, if a producer is pending on the
// freed slot, pulls its element in behind. Critical section held, ring not
// empty. Reports whether the woken producer preempts.
func (q *Queue[T]) getLocked() (T, bool) {
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	if w, preempt := q.notFull.WakeOne(); w != nil {
		q.putLocked(w.TakeSyncPayload().(T))
		return v, preempt
	}
	return v, false
}

// Push appends v, blocking while the queue is full. A timeoutMs of zero
// waits forever.
func (q *Queue[T]) Push(v T, timeoutMs uint32) error {
	if !q.notFull.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	// A pending consumer means an empty ring: hand the element over
	// directly.
	if w, preempt := q.notEmpty.WakeOne(); w != nil {
		w.SetSyncPayload(v)
		if preempt {
			kernel.Reschedule()
		} else {
			kernel.CriticalEnd()
		}
		return nil
	}
	if q.count == len(q.buf) {
		// Park with the element; the consumer that frees a slot pulls
		// it from us.
		cur := kernel.RunningTask()
		if cur != nil {
			cur.SetSyncPayload(v)
		}
		if err := q.notFull.Block(timeoutMs); err != nil {
			kernel.CriticalStart()
			if cur != nil {
				cur.TakeSyncPayload()
			}
			kernel.CriticalEnd()
			return err
		}
		return nil
	}
	q.putLocked(v)
	kernel.CriticalEnd()
	return nil
}

// Pop removes and returns the oldest message, blocking while the queue is
// empty. A timeoutMs of zero waits forever.
func (q *Queue[T]) Pop(timeoutMs uint32) (T, error) {
	var zero T
	if !q.notEmpty.Initialized() {
		return zero, oserr.Uninitialized
	}
	kernel.CriticalStart()
	if q.count > 0 {
		v, preempt := q.getLocked()
		if preempt {
			kernel.Reschedule()
		} else {
			kernel.CriticalEnd()
		}
		return v, nil
	}
	cur := kernel.RunningTask()
	if err := q.notEmpty.Block(timeoutMs); err != nil {
		return zero, err
	}
	// The producer that woke us deposited the element with us.
	kernel.CriticalStart()
	var raw any
	if cur != nil {
		raw = cur.TakeSyncPayload()
	}
	kernel.CriticalEnd()
	v, ok := raw.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

// TryPush appends v without blocking, reporting whether it did. Safe from
// interrupt context.
func (q *Queue[T]) TryPush(v T) (bool, error) {
	if !q.notFull.Initialized() {
		return false, oserr.Uninitialized
	}
	kernel.CriticalStart()
	if w, preempt := q.notEmpty.WakeOne(); w != nil {
		w.SetSyncPayload(v)
		if preempt {
			kernel.Reschedule()
		} else {
			kernel.CriticalEnd()
		}
		return true, nil
	}
	if q.count == len(q.buf) {
		kernel.CriticalEnd()
		return false, nil
	}
	q.putLocked(v)
	kernel.CriticalEnd()
	return true, nil
}

// TryPop removes the oldest message without blocking, reporting whether it
// did. Safe from interrupt context.
func (q *Queue[T]) TryPop() (T, bool, error) {
	var zero T
	if !q.notEmpty.Initialized() {
		return zero, false, oserr.Uninitialized
	}
	kernel.CriticalStart()
	if q.count == 0 {
		kernel.CriticalEnd()
		return zero, false, nil
	}
	v, preempt := q.getLocked()
	if preempt {
		kernel.Reschedule()
	} else {
		kernel.CriticalEnd()
	}
	return v, true, nil
}

// AbortPush unblocks a producer with Aborted. Its element is not
// delivered.
func (q *Queue[T]) AbortPush(t *kernel.Task) error {
	return q.notFull.Abort(t)
}

// AbortPop unblocks a consumer with Aborted.
func (q *Queue[T]) AbortPop(t *kernel.Task) error {
	return q.notEmpty.Abort(t)
}
