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

// Package kernel is the Echo nucleus: the task control block and run-queue
// machinery, the priority-bitmap scheduler, tick-driven timekeeping, and
// the blocking protocol shared by every synchronization primitive.
//
// Kernel state is process-wide, zero-valued at image load, and mutated only
// inside critical sections once the OS starts. The concrete architecture is
// behind arch.Port; the kernel contains no architecture code.
package kernel

import (
	"github.com/sirupsen/logrus"

	"github.com/epizzella/Echo-OS/pkg/arch"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

var log = logrus.WithField("subsys", "kernel")

// idleStackWords sizes the idle task's stack. StartOS checks it against the
// port minimum.
const idleStackWords = 64

// Process-wide kernel state.
var (
	port arch.Port

	tc taskControl

	osStarted bool

	ticks        uint64
	clock        arch.ClockConfig
	tickCallback func()

	syncRegistry *SyncObject

	timerSvc TimerService

	idleTask  Task
	idleStack [idleStackWords]arch.Word
)

// TimerService is the hook the software timer service registers with the
// kernel. The kernel drives it from the tick and consults it for the
// timer-callback context guard.
type TimerService interface {
	// Start creates the service's task and semaphore. Called by StartOS
	// before the first context restore.
	Start() error

	// Tick advances timer time by elapsedMs. Called from the tick with
	// the critical section held, before task delays are updated.
	Tick(elapsedMs uint32)

	// ServiceTask returns the service's task.
	ServiceTask() *Task

	// InCallback reports whether the service task is executing a timer
	// callback.
	InCallback() bool
}

// Config carries the parameters StartOS needs.
type Config struct {
	// Clock is handed to the port's CoreInit; SysTickFreqHz also scales
	// every kernel timeout.
	Clock arch.ClockConfig

	// TickCallback, if set, runs first on every tick, outside the
	// critical section.
	TickCallback func()
}

// Init connects the kernel to its architecture port. It may be called again
// before StartOS to rebind the port.
func Init(p arch.Port) {
	port = p
	p.SetSwitcher(switcher{})
}

// RegisterTimerService installs the software timer service. Must be called
// before StartOS.
func RegisterTimerService(ts TimerService) {
	timerSvc = ts
}

// StartOS brings the operating system up: the idle task is created, the
// port programs the tick source, the timer service (if registered) starts,
// and the first context restore hands the CPU to the highest-priority ready
// task. On hardware the call never returns; a simulated port returns from
// it at shutdown. A second call is a no-op.
func StartOS(cfg Config) error {
	if osStarted {
		return nil
	}
	if port == nil {
		return oserr.OsOffline
	}
	if idleStackWords < port.MinStackSize() {
		panic("kernel: idle stack below the port minimum stack size")
	}

	clock = cfg.Clock
	tickCallback = cfg.TickCallback

	idleTask = NewTask(TaskConfig{
		Name:       "idle",
		Stack:      idleStack[:],
		Subroutine: idleSubroutine,
	})
	idleTask.priority = idlePriority
	idleTask.basePriority = idlePriority
	port.CriticalStart()
	idleTask.initLocked()
	port.CriticalEnd()

	port.CoreInit(&clock)

	if timerSvc != nil {
		if err := timerSvc.Start(); err != nil {
			return err
		}
	}

	osStarted = true
	log.WithFields(logrus.Fields{
		"tick_hz": clock.SysTickFreqHz,
		"cpu_hz":  clock.CPUFreqHz,
	}).Info("starting OS")

	port.CriticalStart()
	tc.setNextRunning()
	port.RunScheduler()

	// Only a simulated port comes back here.
	log.Info("scheduler returned; OS stopped")
	if port.DebugAttached() {
		halt(oserr.OsOffline)
	}
	return nil
}

// Started reports whether StartOS has run.
func Started() bool {
	return osStarted
}

// idleSubroutine runs at the reserved idle priority. It never blocks,
// yields, or returns.
func idleSubroutine() error {
	for {
		port.Idle()
	}
}

// halt is the invariant-violation exit: log and stop.
func halt(err error) {
	log.WithError(err).Error("kernel invariant violated; halting")
	panic(err)
}

// Restart resets every piece of kernel state to its image-load value. It
// exists for soft reboot on simulated ports and for host-side tests; tasks
// and sync objects initialized before the call are orphaned and must be
// reinitialized.
func Restart() {
	port = nil
	tc = taskControl{}
	osStarted = false
	ticks = 0
	clock = arch.ClockConfig{}
	tickCallback = nil
	syncRegistry = nil
	timerSvc = nil
	idleTask = Task{}
}
