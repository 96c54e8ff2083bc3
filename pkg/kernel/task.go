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
	"fmt"

	"github.com/epizzella/Echo-OS/pkg/arch"
	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// Task priorities. Lower numbers run first. MaxUserPriority is the lowest
// user priority; idlePriority is reserved for the idle task and sits
// outside the ready bitmap.
const (
	MaxUserPriority = 31
	idlePriority    = 32
)

// TaskState is the scheduling state of a task.
type TaskState uint8

const (
	// TaskUninitialized means the task has not been handed to the kernel
	// (or has exited). It is in no queue.
	TaskUninitialized TaskState = iota

	// TaskReady means the task is on a ready queue, runnable.
	TaskReady

	// TaskRunning means the task owns the CPU. It remains the head of
	// its priority's ready queue.
	TaskRunning

	// TaskYielded means the task sleeps on a delay, counted down by the
	// tick.
	TaskYielded

	// TaskBlocked means the task waits on a sync object's pending queue.
	TaskBlocked

	// TaskSuspended means the task was explicitly suspended and will not
	// run until resumed.
	TaskSuspended
)

// String implements fmt.Stringer.
func (s TaskState) String() string {
	switch s {
	case TaskUninitialized:
		return "uninitialized"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskYielded:
		return "yielded"
	case TaskBlocked:
		return "blocked"
	case TaskSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// TriggerMode selects how an event-group wait condition is evaluated
// against the waiter's event mask.
type TriggerMode uint8

const (
	// TriggerAllSet wakes the waiter when every masked bit is set.
	TriggerAllSet TriggerMode = iota

	// TriggerAllClear wakes the waiter when every masked bit is clear.
	TriggerAllClear

	// TriggerAnySet wakes the waiter when any masked bit is set.
	TriggerAnySet

	// TriggerAnyClear wakes the waiter when any masked bit is clear.
	TriggerAnyClear
)

// syncContext is the per-task state of the shared blocking protocol.
type syncContext struct {
	aborted  bool
	timedOut bool

	// Event-group wait criterion and result.
	eventMask      uint32
	eventMode      TriggerMode
	eventTriggered uint32

	// payload carries a message handed directly to or from a blocked
	// task by the message queue.
	payload any
}

// TaskConfig defines the configuration of a new Task (see below).
type TaskConfig struct {
	// Name identifies the task in logs and diagnostics. Not owned; the
	// kernel keeps the reference.
	Name string

	// Stack is the task's stack storage. Its length must be at least the
	// port's minimum stack size. The caller owns the backing array and
	// must keep it alive while the task is initialized.
	Stack []arch.Word

	// Subroutine is the task body. A task that returns is removed from
	// the kernel; its result is handed to ExitHandler.
	Subroutine func() error

	// ExitHandler, if set, observes the subroutine's result before the
	// task is removed. It runs inside a critical section and must not
	// block.
	ExitHandler func(*Task, error)

	// Priority is the task priority, 0 (highest) through
	// MaxUserPriority.
	Priority uint8
}

// Task is a task control block. The kernel never allocates: the caller owns
// the Task's storage and must not move or copy it once Init has linked it
// into the kernel.
type Task struct {
	// frame must stay the first field: the context switch trampoline
	// locates the saved stack pointer at offset zero of the TCB.
	frame arch.TaskFrame

	name string

	state        TaskState
	priority     uint8
	basePriority uint8

	// Intrusive queue membership. queue is the owning queue, nil while
	// detached.
	queue *TaskQueue
	next  *Task
	prev  *Task

	// timeout is the remaining wait, in ticks. Zero means "wait
	// indefinitely" while blocked and "no delay" otherwise.
	timeout uint32

	sync syncContext

	subroutine  func() error
	exitHandler func(*Task, error)

	initialized bool
}

// NewTask creates a new task defined by cfg.
//
// NewTask does not hand the task to the kernel; the caller must call
// Task.Init. The returned Task must not be copied after Init.
func NewTask(cfg TaskConfig) Task {
	return Task{
		frame:        arch.TaskFrame{Stack: cfg.Stack},
		name:         cfg.Name,
		priority:     cfg.Priority,
		basePriority: cfg.Priority,
		subroutine:   cfg.Subroutine,
		exitHandler:  cfg.ExitHandler,
	}
}

// Name returns the task's name.
func (t *Task) Name() string {
	return t.name
}

// State returns the task's scheduling state.
func (t *Task) State() TaskState {
	return t.state
}

// Priority returns the task's current priority, which may be elevated above
// its base priority by priority inheritance.
func (t *Task) Priority() uint8 {
	return t.priority
}

// BasePriority returns the priority the task was created with.
func (t *Task) BasePriority() uint8 {
	return t.basePriority
}

// StackUsage returns the number of stack words that have ever been used,
// judged by the watermark sentinel written at init.
func (t *Task) StackUsage() int {
	free := 0
	for _, w := range t.frame.Stack {
		if w != arch.StackSentinel {
			break
		}
		free++
	}
	return len(t.frame.Stack) - free
}

// SetEventCriteria records the event-group wait criterion evaluated against
// the group's bits while the task is blocked. Called by the event-group
// primitive with the critical section held, before blocking.
func (t *Task) SetEventCriteria(mask uint32, mode TriggerMode) {
	t.sync.eventMask = mask
	t.sync.eventMode = mode
	t.sync.eventTriggered = 0
}

// EventCriteria returns the recorded wait criterion.
func (t *Task) EventCriteria() (mask uint32, mode TriggerMode) {
	return t.sync.eventMask, t.sync.eventMode
}

// SetEventTriggered records the group bits that satisfied the criterion.
func (t *Task) SetEventTriggered(bits uint32) {
	t.sync.eventTriggered = bits
}

// EventTriggered returns the bits recorded by SetEventTriggered.
func (t *Task) EventTriggered() uint32 {
	return t.sync.eventTriggered
}

// SetSyncPayload parks a message with the task. The message queue deposits
// an element directly with a blocked peer instead of re-checking the ring
// after a wakeup. Called with the critical section held.
func (t *Task) SetSyncPayload(v any) {
	t.sync.payload = v
}

// TakeSyncPayload returns and clears the parked message.
func (t *Task) TakeSyncPayload() any {
	v := t.sync.payload
	t.sync.payload = nil
	return v
}

// Init hands the task to the kernel: the stack is watermarked and prepared
// by the port, and the task becomes ready. If the OS is running and the
// task outranks the running one, it preempts immediately.
func (t *Task) Init() error {
	if port == nil {
		return oserr.OsOffline
	}
	if t.initialized {
		return oserr.Reinitialized
	}
	if t.priority > MaxUserPriority {
		panic(fmt.Sprintf("kernel: task %q priority %d out of range", t.name, t.priority))
	}
	if len(t.frame.Stack) < port.MinStackSize() {
		panic(fmt.Sprintf("kernel: task %q stack of %d words is below the port minimum %d",
			t.name, len(t.frame.Stack), port.MinStackSize()))
	}
	port.CriticalStart()
	t.initLocked()
	if osStarted {
		schedule()
	} else {
		port.CriticalEnd()
	}
	log.WithField("task", t.name).Debug("task initialized")
	return nil
}

// initLocked watermarks the stack, prepares the frame, and readies the
// task. Called with the critical section held.
func (t *Task) initLocked() {
	for i := range t.frame.Stack {
		t.frame.Stack[i] = arch.StackSentinel
	}
	t.frame.Entry = func() { taskTop(t) }
	t.frame.Dead = false
	port.InitStack(&t.frame)
	t.initialized = true
	tc.readyTask(t)
}

// Deinit removes the task from the kernel. The backing storage may be
// reused afterwards. Deinitializing the running task does not return to it.
func (t *Task) Deinit() error {
	if !t.initialized {
		return oserr.Uninitialized
	}
	port.CriticalStart()
	wasRunning := t == tc.current
	tc.removeTask(t)
	t.deinitLocked()
	if wasRunning && osStarted {
		schedule()
	} else {
		port.CriticalEnd()
	}
	return nil
}

// deinitLocked clears kernel bookkeeping for a detached task.
func (t *Task) deinitLocked() {
	t.initialized = false
	t.state = TaskUninitialized
	t.timeout = 0
	t.sync = syncContext{}
	t.frame.Dead = true
}

// Suspend parks the task until Resume. Suspending the running task
// reschedules immediately.
func (t *Task) Suspend() error {
	if !t.initialized {
		return oserr.Uninitialized
	}
	if t.priority == idlePriority {
		return oserr.IllegalIdleTask
	}
	port.CriticalStart()
	wasRunning := t == tc.current
	tc.suspendTask(t)
	if wasRunning && osStarted {
		schedule()
	} else {
		port.CriticalEnd()
	}
	return nil
}

// Resume makes a suspended task ready again, preempting if it outranks the
// running task.
func (t *Task) Resume() error {
	if !t.initialized {
		return oserr.Uninitialized
	}
	if t.state != TaskSuspended {
		return oserr.IllegalTaskResume
	}
	port.CriticalStart()
	tc.readyTask(t)
	if osStarted {
		schedule()
	} else {
		port.CriticalEnd()
	}
	return nil
}

// taskTop is the routine every task resumes into on its first context
// restore. It runs the subroutine and retires the task when it returns.
func taskTop(t *Task) {
	err := t.subroutine()

	port.CriticalStart()
	if t.exitHandler != nil {
		t.exitHandler(t, err)
	}
	tc.removeTask(t)
	t.deinitLocked()
	log.WithField("task", t.name).Debug("task exited")
	schedule()
}
