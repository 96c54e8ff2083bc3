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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// checkReadyMask verifies the bitmap invariant: bit 31-p is set iff the
// ready queue at priority p is non-empty.
func checkReadyMask(t require.TestingT, c *taskControl) {
	for p := 0; p < idlePriority; p++ {
		bit := c.readyMask&(1<<(31-p)) != 0
		require.Equal(t, !c.table[p].ready.Empty(), bit, "ready mask bit for priority %d", p)
	}
}

func TestReadyTaskSetsBitAndState(t *testing.T) {
	var c taskControl
	a := mkTask("a", 3)

	c.readyTask(a)
	assert.Equal(t, TaskReady, a.State())
	assert.Equal(t, &c.table[3].ready, a.queue)
	checkReadyMask(t, &c)
}

func TestReadyTaskIdempotent(t *testing.T) {
	var c taskControl
	a, b := mkTask("a", 3), mkTask("b", 3)

	c.readyTask(a)
	c.readyTask(b)
	c.readyTask(a)
	// A second ready must not reorder the queue.
	assert.Equal(t, []string{"a", "b"}, queueNames(&c.table[3].ready))
	checkReadyMask(t, &c)
}

func TestYieldClearsBitWhenDrained(t *testing.T) {
	var c taskControl
	a := mkTask("a", 3)

	c.readyTask(a)
	c.yieldTask(a)
	assert.Equal(t, TaskYielded, a.State())
	assert.Zero(t, c.readyMask)
	assert.Equal(t, &c.table[3].yielded, a.queue)
	checkReadyMask(t, &c)
}

func TestSetNextRunningPicksHighestPriority(t *testing.T) {
	var c taskControl
	idle := mkTask("idle", idlePriority)
	c.readyTask(idle)

	lo := mkTask("lo", 20)
	hi := mkTask("hi", 4)
	c.readyTask(lo)
	c.readyTask(hi)

	c.setNextRunning()
	assert.Equal(t, uint32(4), c.runningPrio)
	assert.Equal(t, hi, c.next)
	assert.Equal(t, uint32(bits.LeadingZeros32(c.readyMask)), c.runningPrio)

	// Only the idle task left: the zero mask selects the idle slot.
	c.removeTask(hi)
	c.removeTask(lo)
	c.setNextRunning()
	assert.Equal(t, uint32(idlePriority), c.runningPrio)
	assert.Equal(t, idle, c.next)
}

func TestPopRunningDetaches(t *testing.T) {
	var c taskControl
	a := mkTask("a", 7)
	c.readyTask(a)
	c.setNextRunning()

	got := c.popRunning()
	require.Equal(t, a, got)
	assert.Nil(t, a.queue)
	assert.Zero(t, c.readyMask)
	checkReadyMask(t, &c)
}

func TestCycleActiveRoundRobin(t *testing.T) {
	var c taskControl
	a1, a2, a3 := mkTask("a1", 3), mkTask("a2", 3), mkTask("a3", 3)
	c.readyTask(a1)
	c.readyTask(a2)
	c.readyTask(a3)
	c.setNextRunning()

	c.cycleActive()
	assert.Equal(t, []string{"a2", "a3", "a1"}, queueNames(&c.table[3].ready))
	c.cycleActive()
	assert.Equal(t, []string{"a3", "a1", "a2"}, queueNames(&c.table[3].ready))
	c.cycleActive()
	assert.Equal(t, []string{"a1", "a2", "a3"}, queueNames(&c.table[3].ready))
}

func TestUpdateDelayedPromotesAtZero(t *testing.T) {
	var c taskControl
	a := mkTask("a", 3)
	forever := mkTask("forever", 3)

	c.readyTask(a)
	c.yieldTask(a)
	a.timeout = 3
	c.readyTask(forever)
	c.yieldTask(forever) // zero timeout: sleeps until readied

	c.updateDelayed()
	c.updateDelayed()
	assert.Equal(t, TaskYielded, a.State())
	c.updateDelayed()
	assert.Equal(t, TaskReady, a.State())
	assert.Equal(t, &c.table[3].ready, a.queue)

	assert.Equal(t, TaskYielded, forever.State())
	checkReadyMask(t, &c)
}

// TestControlInvariants runs random state transitions over a task pool and
// checks, at every step, that each task is in at most one queue with an
// agreeing back-reference and that the ready mask matches the queues.
func TestControlInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var c taskControl
		pool := make([]*Task, 12)
		for i := range pool {
			pool[i] = mkTask(string(rune('a'+i)), uint8(rapid.IntRange(0, 31).Draw(rt, "prio")))
		}

		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for s := 0; s < steps; s++ {
			x := pool[rapid.IntRange(0, len(pool)-1).Draw(rt, "task")]
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				c.readyTask(x)
			case 1:
				c.yieldTask(x)
			case 2:
				c.suspendTask(x)
			case 3:
				c.removeTask(x)
			}

			checkReadyMask(rt, &c)

			// Membership: every task appears exactly once across all
			// queues iff its back-reference is set.
			for _, task := range pool {
				found := 0
				for p := 0; p < numPriorities; p++ {
					for _, q := range []*TaskQueue{
						&c.table[p].ready, &c.table[p].yielded, &c.table[p].suspended,
					} {
						for at := q.Head(); at != nil; at = at.next {
							if at == task {
								require.Same(rt, q, task.queue)
								found++
							}
						}
					}
				}
				if task.queue == nil {
					require.Zero(rt, found)
				} else {
					require.Equal(rt, 1, found)
				}
			}
		}
	})
}
