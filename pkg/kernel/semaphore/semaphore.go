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

// Package semaphore provides a counting semaphore on the kernel's shared
// blocking protocol.
package semaphore

import (
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// Semaphore is a counting semaphore. The zero value is usable after Init;
// Create sets an initial count.
type Semaphore struct {
	obj   kernel.SyncObject
	count uint32
}

// Create returns a semaphore with the given initial count. The caller owns
// the storage; Init links it into the kernel.
func Create(initial uint32) Semaphore {
	return Semaphore{count: initial}
}

// Init registers the semaphore with the kernel.
func (s *Semaphore) Init() error {
	return s.obj.Init()
}

// Deinit unregisters the semaphore. It fails with TaskPendingOnSync while
// tasks are blocked on it.
func (s *Semaphore) Deinit() error {
	return s.obj.Deinit()
}

// Count returns the current count.
func (s *Semaphore) Count() uint32 {
	return s.count
}

// Wait takes the semaphore, blocking while the count is zero. A timeoutMs
// of zero waits forever. Must be called from a task.
func (s *Semaphore) Wait(timeoutMs uint32) error {
	if !s.obj.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	if s.count > 0 {
		s.count--
		kernel.CriticalEnd()
		return nil
	}
	return s.obj.Block(timeoutMs)
}

// TryWait takes the semaphore without blocking, reporting whether it did.
// Safe from interrupt context.
func (s *Semaphore) TryWait() (bool, error) {
	if !s.obj.Initialized() {
		return false, oserr.Uninitialized
	}
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	if s.count == 0 {
		return false, nil
	}
	s.count--
	return true, nil
}

// Post gives the semaphore. The highest-priority waiter, if any, takes it
// directly and preempts the caller if it outranks it; otherwise the count
// increments. Safe from interrupt context, where the preemption is pended
// until the interrupt returns.
func (s *Semaphore) Post() error {
	if !s.obj.Initialized() {
		return oserr.Uninitialized
	}
	kernel.CriticalStart()
	if w, preempt := s.obj.WakeOne(); w != nil {
		if preempt {
			kernel.Reschedule()
		} else {
			kernel.CriticalEnd()
		}
		return nil
	}
	s.count++
	kernel.CriticalEnd()
	return nil
}

// PostLocked gives the semaphore with the critical section already held and
// without rescheduling. It exists for the tick path, where the scheduling
// pass at the end of the tick picks up any readied waiter.
func (s *Semaphore) PostLocked() {
	if w, _ := s.obj.WakeOne(); w == nil {
		s.count++
	}
}

// Abort unblocks a specific waiter with Aborted.
func (s *Semaphore) Abort(t *kernel.Task) error {
	return s.obj.Abort(t)
}
