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

// Package mutex provides a task mutex with priority inheritance.
package mutex

import (
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// Mutex is an ownership lock. While a higher-priority task waits for it,
// the owner runs at the waiter's priority; release restores the owner's
// base priority and hands ownership to the highest-priority waiter.
type Mutex struct {
	obj   kernel.SyncObject
	owner *kernel.Task
}

// Create returns an unowned mutex. The caller owns the storage; Init links
// it into the kernel.
func Create() Mutex {
	return Mutex{}
}

// Init registers the mutex with the kernel.
func (m *Mutex) Init() error {
	return m.obj.Init()
}

// Deinit unregisters the mutex. It fails with TaskPendingOnSync while
// tasks are blocked on it.
func (m *Mutex) Deinit() error {
	return m.obj.Deinit()
}

// Owner returns the owning task, or nil.
func (m *Mutex) Owner() *kernel.Task {
	return m.owner
}

// Acquire takes the mutex, blocking while another task owns it. A
// timeoutMs of zero waits forever. Acquiring a mutex the caller already
// owns fails with MutexOwnerAcquire.
func (m *Mutex) Acquire(timeoutMs uint32) error {
	if !m.obj.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	cur := kernel.RunningTask()
	if m.owner == nil {
		m.owner = cur
		kernel.CriticalEnd()
		return nil
	}
	if m.owner == cur {
		kernel.CriticalEnd()
		return oserr.MutexOwnerAcquire
	}
	if cur != nil {
		kernel.InheritPriority(m.owner, cur.Priority())
	}
	err := m.obj.Block(timeoutMs)
	if err != nil {
		return err
	}
	// Release handed us ownership before readying us.
	return nil
}

// Release gives the mutex up. Only the owner may release; the owner's base
// priority is restored and the highest-priority waiter, if any, becomes the
// new owner and is readied.
func (m *Mutex) Release() error {
	if !m.obj.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	cur := kernel.RunningTask()
	if m.owner != cur || cur == nil {
		kernel.CriticalEnd()
		return oserr.InvalidMutexOwner
	}
	kernel.RestoreBasePriority(cur)
	w, _ := m.obj.WakeOne()
	m.owner = w
	// The restore may have dropped the caller below other ready tasks;
	// always re-evaluate.
	kernel.Reschedule()
	return nil
}

// Abort unblocks a specific waiter with Aborted. The waiter does not gain
// ownership.
func (m *Mutex) Abort(t *kernel.Task) error {
	return m.obj.Abort(t)
}
