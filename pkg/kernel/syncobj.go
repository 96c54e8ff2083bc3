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

package kernel

import (
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// SyncObject is the part of every synchronization primitive the kernel
// understands: registry membership and a priority-sorted queue of blocked
// tasks. Mutex, semaphore, event group, and message queue embed one and
// reuse the same block/timeout/abort protocol.
//
// Like tasks, sync objects are owned by their creator; Init borrows them
// into the registry and Deinit must succeed before the storage goes away.
type SyncObject struct {
	next        *SyncObject
	pending     TaskQueue
	initialized bool
}

// Init links the object into the kernel's registry.
func (o *SyncObject) Init() error {
	if o.initialized {
		return oserr.Reinitialized
	}
	port.CriticalStart()
	o.next = syncRegistry
	syncRegistry = o
	o.initialized = true
	port.CriticalEnd()
	return nil
}

// Deinit unlinks the object. It fails while tasks are blocked on it.
func (o *SyncObject) Deinit() error {
	if !o.initialized {
		return oserr.Uninitialized
	}
	port.CriticalStart()
	if !o.pending.Empty() {
		port.CriticalEnd()
		return oserr.TaskPendingOnSync
	}
	for at := &syncRegistry; *at != nil; at = &(*at).next {
		if *at == o {
			*at = o.next
			break
		}
	}
	o.next = nil
	o.initialized = false
	port.CriticalEnd()
	return nil
}

// Initialized reports whether the object is linked into the registry.
func (o *SyncObject) Initialized() bool {
	return o.initialized
}

// PendingCount returns the number of tasks blocked on the object.
func (o *SyncObject) PendingCount() int {
	return o.pending.Len()
}

// blockGuard rejects contexts that must not block.
func blockGuard() error {
	if !osStarted {
		return oserr.OsOffline
	}
	if port.InterruptActive() {
		return oserr.IllegalInterruptAccess
	}
	t := tc.current
	if t == nil {
		halt(oserr.RunningTaskNull)
	}
	if t.priority == idlePriority {
		return oserr.IllegalIdleTask
	}
	if timerSvc != nil && timerSvc.InCallback() && t == timerSvc.ServiceTask() {
		return oserr.IllegalTimerTask
	}
	return nil
}

// Block parks the running task on the object's pending queue until a
// release, a timeout, or an abort. timeoutMs of zero waits forever.
//
// Block must be entered with the critical section held, after the caller's
// try-acquire failed; it returns with the critical section released, on
// this task, once the task runs again.
func (o *SyncObject) Block(timeoutMs uint32) error {
	if err := blockGuard(); err != nil {
		port.CriticalEnd()
		return err
	}
	ticks, err := ticksFromMs(timeoutMs)
	if err != nil {
		port.CriticalEnd()
		return err
	}

	t := tc.popRunning()
	if t == nil {
		halt(oserr.RunningTaskNull)
	}
	o.pending.InsertSorted(t)
	t.timeout = ticks
	t.state = TaskBlocked
	schedule()

	// Running again: released, timed out, or aborted.
	port.CriticalStart()
	defer port.CriticalEnd()
	switch {
	case t.sync.timedOut:
		t.sync.timedOut = false
		return oserr.TimedOut
	case t.sync.aborted:
		t.sync.aborted = false
		return oserr.Aborted
	default:
		return nil
	}
}

// WakeOne readies the object's highest-priority waiter. It returns the
// waiter (nil if none were blocked) and whether the waiter outranks the
// running priority, in which case the caller must reschedule. Called with
// the critical section held.
func (o *SyncObject) WakeOne() (*Task, bool) {
	t := o.pending.Head()
	if t == nil {
		return nil, false
	}
	tc.readyTask(t)
	return t, uint32(t.priority) < tc.runningPrio
}

// WakeMatching readies every waiter match accepts, invoking woke on each
// before it is moved to its ready queue. It reports whether any readied
// waiter outranks the running priority. Called with the critical section
// held.
func (o *SyncObject) WakeMatching(match func(*Task) bool, woke func(*Task)) (int, bool) {
	n := 0
	preempt := false
	for t := o.pending.Head(); t != nil; {
		nt := t.next
		if match(t) {
			if woke != nil {
				woke(t)
			}
			tc.readyTask(t)
			if uint32(t.priority) < tc.runningPrio {
				preempt = true
			}
			n++
		}
		t = nt
	}
	return n, preempt
}

// Abort unblocks a specific waiter with an error. If the aborted task
// outranks the running task, the abort preempts before returning. Callable
// from tasks and from interrupt context.
func (o *SyncObject) Abort(t *Task) error {
	if !o.initialized {
		return oserr.Uninitialized
	}
	port.CriticalStart()
	if t.queue != &o.pending {
		port.CriticalEnd()
		return oserr.TaskNotBlockedBySync
	}
	t.sync.aborted = true
	tc.readyTask(t)
	if uint32(t.priority) < tc.runningPrio {
		schedule()
	} else {
		port.CriticalEnd()
	}
	return nil
}

// syncUpdateTimeouts burns one tick off every blocked task's timeout,
// waking those that expire with the timed-out flag. Called from the tick
// with the critical section held.
func syncUpdateTimeouts() {
	for o := syncRegistry; o != nil; o = o.next {
		for t := o.pending.Head(); t != nil; {
			nt := t.next
			if t.timeout > 0 {
				t.timeout--
				if t.timeout == 0 {
					t.sync.timedOut = true
					tc.readyTask(t)
				}
			}
			t = nt
		}
	}
}
