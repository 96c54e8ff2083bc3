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

// Package events provides a 32-bit event group. Tasks wait for bit
// patterns; writers wake every waiter whose criterion the new state
// satisfies.
package events

import (
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// Group is an event group of 32 flag bits.
type Group struct {
	obj  kernel.SyncObject
	bits uint32
}

// Create returns an event group with all bits clear. The caller owns the
// storage; Init links it into the kernel.
func Create() Group {
	return Group{}
}

// Init registers the group with the kernel.
func (g *Group) Init() error {
	return g.obj.Init()
}

// Deinit unregisters the group. It fails with TaskPendingOnSync while
// tasks are blocked on it.
func (g *Group) Deinit() error {
	return g.obj.Deinit()
}

// Read returns the current event bits.
func (g *Group) Read() uint32 {
	return g.bits
}

// satisfied evaluates a wait criterion against the group state.
func satisfied(bits, mask uint32, mode kernel.TriggerMode) bool {
	switch mode {
	case kernel.TriggerAllSet:
		return bits&mask == mask
	case kernel.TriggerAllClear:
		return bits&mask == 0
	case kernel.TriggerAnySet:
		return bits&mask != 0
	case kernel.TriggerAnyClear:
		return bits&mask != mask
	default:
		return false
	}
}

// Write sets and clears event bits in one atomic step, then wakes every
// waiter whose criterion the new state satisfies. If any woken waiter
// outranks the caller, it preempts before Write returns. Safe from
// interrupt context.
func (g *Group) Write(set, clear uint32) error {
	if !g.obj.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	g.bits = (g.bits | set) &^ clear
	_, preempt := g.obj.WakeMatching(
		func(t *kernel.Task) bool {
			mask, mode := t.EventCriteria()
			return satisfied(g.bits, mask, mode)
		},
		func(t *kernel.Task) {
			t.SetEventTriggered(g.bits)
		},
	)
	if preempt {
		kernel.Reschedule()
	} else {
		kernel.CriticalEnd()
	}
	return nil
}

// Set sets bits.
func (g *Group) Set(bits uint32) error {
	return g.Write(bits, 0)
}

// Clear clears bits.
func (g *Group) Clear(bits uint32) error {
	return g.Write(0, bits)
}

// Wait blocks the running task until the group state satisfies the (mask,
// mode) criterion, returning the bits that triggered it. A timeoutMs of
// zero waits forever.
func (g *Group) Wait(mask uint32, mode kernel.TriggerMode, timeoutMs uint32) (uint32, error) {
	if !g.obj.Initialized() {
		return 0, oserr.Uninitialized
	}
	kernel.CriticalStart()
	if satisfied(g.bits, mask, mode) {
		bits := g.bits
		kernel.CriticalEnd()
		return bits, nil
	}
	cur := kernel.RunningTask()
	if cur != nil {
		cur.SetEventCriteria(mask, mode)
	}
	if err := g.obj.Block(timeoutMs); err != nil {
		return 0, err
	}
	return cur.EventTriggered(), nil
}

// Abort unblocks a specific waiter with Aborted.
func (g *Group) Abort(t *kernel.Task) error {
	return g.obj.Abort(t)
}
