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

// Package ktimer provides software timers backed by a dedicated service
// task.
//
// The tick interrupt burns elapsed time off every running timer and moves
// the expired ones to an expired list, posting the service semaphore. The
// service task drains the expired list and invokes callbacks at its own
// priority; an autoreload timer is then re-armed with its original timeout.
// The running list is kept sorted by remaining time, soonest first; each
// tick walks the whole list to burn the elapsed time off every timer.
package ktimer

import (
	"github.com/epizzella/Echo-OS/pkg/arch"
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/kernel/semaphore"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// State is a timer's lifecycle state.
type State uint8

const (
	// StateIdle means the timer is not counting down.
	StateIdle State = iota

	// StateRunning means the timer is on the running list, counting
	// down.
	StateRunning

	// StateExpired means the timer reached zero and awaits (or is in)
	// its callback.
	StateExpired
)

// Timer is a software timer. The caller owns the storage; the service
// borrows it through intrusive links while the timer runs.
type Timer struct {
	name        string
	callback    func()
	timeoutMs   uint32
	remainingMs uint32
	autoreload  bool
	state       State

	next *Timer
	prev *Timer
	list *timerList
}

// TimerConfig defines the configuration of a new Timer.
type TimerConfig struct {
	// Name identifies the timer in diagnostics.
	Name string

	// Callback runs on the service task when the timer expires. It must
	// not block.
	Callback func()
}

// Create returns an idle timer. Set configures its timeout before Start.
func Create(cfg TimerConfig) Timer {
	return Timer{name: cfg.Name, callback: cfg.Callback}
}

// SetOpts carries Timer.Set parameters.
type SetOpts struct {
	// TimeoutMs is the countdown, in milliseconds. Must not be zero.
	TimeoutMs uint32

	// Autoreload re-arms the timer with TimeoutMs after each expiry.
	Autoreload bool

	// Callback replaces the timer's callback when non-nil.
	Callback func()
}

// Set configures the timer. The timer must not be running.
func (t *Timer) Set(opts SetOpts) error {
	if opts.TimeoutMs == 0 {
		return oserr.TimeoutCannotBeZero
	}
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	if t.state == StateRunning {
		return oserr.TimerRunning
	}
	t.timeoutMs = opts.TimeoutMs
	t.autoreload = opts.Autoreload
	if opts.Callback != nil {
		t.callback = opts.Callback
	}
	return nil
}

// Start arms the timer. The timer must be idle and have a nonzero timeout.
func (t *Timer) Start() error {
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	if t.state != StateIdle {
		return oserr.TimerRunning
	}
	if t.timeoutMs == 0 {
		return oserr.TimeoutCannotBeZero
	}
	t.remainingMs = t.timeoutMs
	svc.running.insertSorted(t)
	t.state = StateRunning
	return nil
}

// Restart re-arms the timer with its full timeout from any state.
func (t *Timer) Restart() error {
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	if t.timeoutMs == 0 {
		return oserr.TimeoutCannotBeZero
	}
	if t.list != nil {
		t.list.remove(t)
	}
	t.remainingMs = t.timeoutMs
	svc.running.insertSorted(t)
	t.state = StateRunning
	return nil
}

// Cancel stops a running timer.
func (t *Timer) Cancel() error {
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	if t.state != StateRunning {
		return oserr.TimerNotRunning
	}
	svc.running.remove(t)
	t.state = StateIdle
	return nil
}

// Remaining returns the time left, in milliseconds.
func (t *Timer) Remaining() uint32 {
	kernel.CriticalStart()
	defer kernel.CriticalEnd()
	return t.remainingMs
}

// State returns the timer's lifecycle state.
func (t *Timer) State() State {
	return t.state
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// timerList is an intrusive doubly-linked timer list. The running list is
// kept sorted by remaining time (soonest first); the expired list is FIFO.
type timerList struct {
	head *Timer
	tail *Timer
}

func (l *timerList) empty() bool {
	return l.head == nil
}

// insertSorted places t so that remaining times are non-decreasing from the
// head, equal remainders keeping insertion order.
func (l *timerList) insertSorted(t *Timer) {
	at := l.tail
	for at != nil && at.remainingMs > t.remainingMs {
		at = at.prev
	}
	l.insertAfter(t, at)
}

// insertAfter places t after at; a nil at prepends.
func (l *timerList) insertAfter(t, at *Timer) {
	if t.list != nil {
		panic("ktimer: timer is already listed")
	}
	if at == nil {
		t.next = l.head
		if l.head != nil {
			l.head.prev = t
		}
		l.head = t
		if l.tail == nil {
			l.tail = t
		}
	} else {
		t.next = at.next
		t.prev = at
		at.next = t
		if t.next != nil {
			t.next.prev = t
		} else {
			l.tail = t
		}
	}
	t.list = l
}

func (l *timerList) pushBack(t *Timer) {
	l.insertAfter(t, l.tail)
}

func (l *timerList) pop() *Timer {
	t := l.head
	if t != nil {
		l.remove(t)
	}
	return t
}

func (l *timerList) remove(t *Timer) {
	if t.list != l {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next = nil
	t.prev = nil
	t.list = nil
}

// serviceStackWords sizes the service task's stack.
const serviceStackWords = 128

// service is the process-wide timer service state.
type service struct {
	running timerList
	expired timerList

	sem   semaphore.Semaphore
	task  kernel.Task
	stack [serviceStackWords]arch.Word

	priority   uint8
	inCallback bool
	enabled    bool
}

var svc service

// Config carries Enable parameters.
type Config struct {
	// Priority is the service task's priority. Callbacks run at it.
	Priority uint8
}

// Enable registers the timer service with the kernel. Must be called
// before kernel.StartOS; the service task is created during startup.
func Enable(cfg Config) error {
	if svc.enabled {
		return oserr.Reinitialized
	}
	svc.priority = cfg.Priority
	svc.enabled = true
	kernel.RegisterTimerService(&svc)
	return nil
}

// Start implements kernel.TimerService.
func (s *service) Start() error {
	s.sem = semaphore.Create(0)
	if err := s.sem.Init(); err != nil {
		return err
	}
	s.task = kernel.NewTask(kernel.TaskConfig{
		Name:       "echo_timer",
		Stack:      s.stack[:],
		Subroutine: s.run,
		Priority:   s.priority,
	})
	return s.task.Init()
}

// Tick implements kernel.TimerService: elapsed time is burned off every
// running timer and expired timers move to the expired list. Called from
// the tick with the critical section held; the service semaphore is posted
// without rescheduling, since the tick schedules after its update pass.
func (s *service) Tick(elapsedMs uint32) {
	moved := false
	for t := s.running.head; t != nil; {
		nt := t.next
		if t.remainingMs > elapsedMs {
			t.remainingMs -= elapsedMs
		} else {
			t.remainingMs = 0
			s.running.remove(t)
			s.expired.pushBack(t)
			t.state = StateExpired
			moved = true
		}
		t = nt
	}
	if moved {
		s.sem.PostLocked()
	}
}

// ServiceTask implements kernel.TimerService.
func (s *service) ServiceTask() *kernel.Task {
	return &s.task
}

// InCallback implements kernel.TimerService.
func (s *service) InCallback() bool {
	return s.inCallback
}

// run is the service task body: wait for the tick's post, then drain the
// expired list, running each callback outside the critical section.
func (s *service) run() error {
	for {
		if err := s.sem.Wait(0); err != nil {
			return err
		}
		for {
			kernel.CriticalStart()
			t := s.expired.pop()
			if t == nil {
				kernel.CriticalEnd()
				break
			}
			s.inCallback = true
			kernel.CriticalEnd()

			if t.callback != nil {
				t.callback()
			}

			kernel.CriticalStart()
			s.inCallback = false
			if t.state == StateExpired {
				if t.autoreload {
					t.remainingMs = t.timeoutMs
					s.running.insertSorted(t)
					t.state = StateRunning
				} else {
					t.state = StateIdle
				}
			}
			kernel.CriticalEnd()
		}
	}
}
