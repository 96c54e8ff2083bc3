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
	"github.com/epizzella/Echo-OS/pkg/arch"
)

// schedule makes the scheduling decision and, when the decision differs
// from the running task, asks the port for a context switch.
//
// It must be entered with the critical section held and returns with it
// released; if a switch happens, the call returns on the previous task once
// that task runs again.
func schedule() {
	tc.setNextRunning()
	if tc.validSwitch() {
		port.RunScheduler()
		return
	}
	port.CriticalEnd()
}

// Reschedule re-evaluates the scheduling decision after the caller changed
// readiness. It must be entered with the critical section held (see
// CriticalStart) and returns with it released.
func Reschedule() {
	schedule()
}

// switcher is the kernel's side of the context switch: the port calls
// SwapRunning from RunScheduler or the pended switch to commit the
// decision.
type switcher struct{}

// SwapRunning implements arch.Switcher.
func (switcher) SwapRunning() (prev, next *arch.TaskFrame) {
	if tc.current != nil {
		if tc.current.state == TaskRunning {
			// Preempted but still runnable.
			tc.current.state = TaskReady
		}
		prev = &tc.current.frame
	}
	tc.current = tc.next
	tc.current.state = TaskRunning
	return prev, &tc.current.frame
}

// RunningTask returns the task owning the CPU, or nil before the OS starts.
func RunningTask() *Task {
	return tc.current
}

// CriticalStart enters a critical section on the port. Exposed for the sync
// primitives and for application code with short atomic needs.
func CriticalStart() {
	if port == nil {
		return
	}
	port.CriticalStart()
}

// CriticalEnd leaves a critical section.
func CriticalEnd() {
	if port == nil {
		return
	}
	port.CriticalEnd()
}

// setTaskPriorityLocked changes t's current priority and repositions it in
// whatever queue holds it so that placement reflects the new priority.
// Called with the critical section held.
func setTaskPriorityLocked(t *Task, prio uint8) {
	if t.priority == prio {
		return
	}
	q := t.queue
	wasReady := q == &tc.table[t.priority].ready
	if q != nil {
		tc.detach(t)
	}
	t.priority = prio
	switch {
	case q == nil:
	case wasReady:
		rq := &tc.table[prio].ready
		rq.InsertAfter(t, nil)
		tc.setReadyBit(prio)
	default:
		// Pending and other sorted queues re-sort by the new priority;
		// yielded and suspended queues are unordered so tail placement
		// is fine either way.
		q.InsertSorted(t)
	}
}

// InheritPriority raises t's current priority to prio if that outranks it.
// Used by the mutex for priority inheritance; the base priority is
// untouched. Called with the critical section held.
func InheritPriority(t *Task, prio uint8) {
	if prio < t.priority {
		setTaskPriorityLocked(t, prio)
	}
}

// RestoreBasePriority drops t back to its base priority after an
// inheritance window closes. Called with the critical section held.
func RestoreBasePriority(t *Task) {
	setTaskPriorityLocked(t, t.basePriority)
}
