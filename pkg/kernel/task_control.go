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
	"math/bits"
)

// numPriorities covers user priorities 0..31 plus the idle slot.
const numPriorities = idlePriority + 1

// priorityLevel holds the three queues of one priority level.
type priorityLevel struct {
	ready     TaskQueue
	yielded   TaskQueue
	suspended TaskQueue
}

// taskControl is the run-queue machinery: per-priority ready, yielded, and
// suspended queues, the ready bitmap, and the current scheduling decision.
//
// Public priority p maps to bit 31-p of readyMask so that a count of
// leading zeros yields the highest ready priority directly. The idle slot
// is not in the bitmap: a zero mask count-leads to 32, which indexes it.
//
// All mutation happens inside a critical section.
type taskControl struct {
	table       [numPriorities]priorityLevel
	readyMask   uint32
	runningPrio uint32

	current *Task
	next    *Task
}

func (c *taskControl) setReadyBit(p uint8) {
	if p < idlePriority {
		c.readyMask |= 1 << (31 - p)
	}
}

func (c *taskControl) clearReadyBit(p uint8) {
	if p < idlePriority {
		c.readyMask &^= 1 << (31 - p)
	}
}

// detach removes t from whatever queue holds it, fixing the ready bit if
// that queue was a ready queue that drained.
func (c *taskControl) detach(t *Task) {
	q := t.queue
	if q == nil {
		return
	}
	q.Remove(t)
	if q == &c.table[t.priority].ready && q.Empty() {
		c.clearReadyBit(t.priority)
	}
}

// readyTask makes t runnable at the tail of its priority's ready queue.
// It is idempotent: a task already on its ready queue is left in place.
func (c *taskControl) readyTask(t *Task) {
	rq := &c.table[t.priority].ready
	if t.queue == rq {
		if t.state != TaskRunning {
			t.state = TaskReady
		}
		return
	}
	c.detach(t)
	rq.InsertAfter(t, nil)
	c.setReadyBit(t.priority)
	t.state = TaskReady
	t.timeout = 0
}

// yieldTask moves t to its priority's yielded (delayed) queue. The caller
// stores the delay afterwards.
func (c *taskControl) yieldTask(t *Task) {
	c.detach(t)
	c.table[t.priority].yielded.InsertAfter(t, nil)
	t.state = TaskYielded
}

// suspendTask moves t to its priority's suspended queue.
func (c *taskControl) suspendTask(t *Task) {
	c.detach(t)
	c.table[t.priority].suspended.InsertAfter(t, nil)
	t.state = TaskSuspended
}

// removeTask detaches t from the kernel's queues without assigning a new
// state.
func (c *taskControl) removeTask(t *Task) {
	c.detach(t)
}

// popRunning pops the head of the ready queue at the running priority: the
// task is detached, pending its new state.
func (c *taskControl) popRunning() *Task {
	rq := &c.table[c.runningPrio].ready
	t := rq.Pop()
	if t != nil && rq.Empty() {
		c.clearReadyBit(t.priority)
	}
	return t
}

// cycleActive rotates the ready queue at the running priority for
// round-robin among equal-priority tasks.
func (c *taskControl) cycleActive() {
	c.table[c.runningPrio].ready.HeadToTail()
}

// setNextRunning computes the scheduling decision: the running priority is
// the leading-zero count of the ready mask and the next task is the head of
// that ready queue. The idle queue is never empty once the OS has started,
// so next is never nil.
func (c *taskControl) setNextRunning() {
	c.runningPrio = uint32(bits.LeadingZeros32(c.readyMask))
	c.next = c.table[c.runningPrio].ready.Head()
}

// validSwitch reports whether the scheduling decision requires a context
// switch.
func (c *taskControl) validSwitch() bool {
	return c.current != c.next
}

// updateDelayed burns one tick off every delayed task, readying those whose
// delay expired. A zero timeout on a yielded task means it sleeps until
// explicitly readied.
func (c *taskControl) updateDelayed() {
	for p := 0; p < numPriorities; p++ {
		yq := &c.table[p].yielded
		for t := yq.Head(); t != nil; {
			nt := t.next
			if t.timeout > 0 {
				t.timeout--
				if t.timeout == 0 {
					c.readyTask(t)
				}
			}
			t = nt
		}
	}
}
