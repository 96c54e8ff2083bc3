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

// Package oserr holds the kernel's error values.
//
// Errors are distinguished sentinel values compared by identity; allocating
// or wrapping on kernel paths is deliberately avoided. errors.Is works on
// them directly.
package oserr

// Error is a kernel error. All instances are package-level values; callers
// must compare against those values rather than construct their own.
type Error struct {
	msg string
}

// New creates a new Error.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.msg
}

// Context errors.
var (
	// OsOffline is returned when an operation requires a started kernel.
	OsOffline = New("operating system has not been started")

	// RunningTaskNull indicates the scheduler lost track of the running
	// task after start. It is an invariant violation; the kernel halts
	// with it rather than returning it.
	RunningTaskNull = New("running task is null while the OS is started")

	// IllegalIdleTask is returned when the idle task attempts an
	// operation that would block it.
	IllegalIdleTask = New("operation not permitted from the idle task")

	// IllegalTimerTask is returned when a timer callback attempts an
	// operation that would block the timer service task.
	IllegalTimerTask = New("operation not permitted from a timer callback")

	// IllegalInterruptAccess is returned when a task-only operation is
	// attempted from interrupt context.
	IllegalInterruptAccess = New("operation not permitted from interrupt context")

	// IllegalTaskResume is returned when resuming a task that is not
	// suspended.
	IllegalTaskResume = New("task is not suspended")
)

// Synchronization object errors.
var (
	// Uninitialized is returned when using a sync object or task that has
	// not been initialized.
	Uninitialized = New("object has not been initialized")

	// Reinitialized is returned when initializing an object twice.
	Reinitialized = New("object is already initialized")

	// TaskPendingOnSync is returned when deinitializing a sync object
	// that still has blocked tasks.
	TaskPendingOnSync = New("tasks are pending on the sync object")

	// TaskNotBlockedBySync is returned by abort when the task is not
	// blocked on the given sync object.
	TaskNotBlockedBySync = New("task is not blocked by the sync object")

	// TimedOut is returned by a blocking call whose timeout expired.
	TimedOut = New("operation timed out")

	// Aborted is returned by a blocking call that was aborted.
	Aborted = New("operation aborted")
)

// Mutex errors.
var (
	// InvalidMutexOwner is returned when releasing a mutex the caller
	// does not own.
	InvalidMutexOwner = New("mutex is not owned by the calling task")

	// MutexOwnerAcquire is returned when the owner acquires its own
	// mutex a second time.
	MutexOwnerAcquire = New("mutex is already owned by the calling task")
)

// Time errors.
var (
	// SleepDurationOutOfRange is returned when a sleep duration does not
	// fit in the tick counter.
	SleepDurationOutOfRange = New("sleep duration out of range")
)

// Timer errors.
var (
	// TimeoutCannotBeZero is returned when starting a timer with no
	// timeout configured.
	TimeoutCannotBeZero = New("timer timeout cannot be zero")

	// TimerRunning is returned when the operation requires an idle timer.
	TimerRunning = New("timer is running")

	// TimerNotRunning is returned when the operation requires a running
	// timer.
	TimerNotRunning = New("timer is not running")
)
