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

// Package arch defines the contract between the kernel core and an
// architecture port.
//
// The kernel is written against the Port interface only. A port supplies
// critical sections, stack initialization, the context switch, and the
// system tick source; everything else is the kernel's business.
package arch

// Word is one machine word of task stack.
type Word = uint32

// StackSentinel is the watermark value every stack word is set to before a
// task first runs. Stack usage diagnostics count the words that no longer
// hold it.
const StackSentinel Word = 0xDEADC0DE

// ClockConfig describes the clocks a port must program during CoreInit.
type ClockConfig struct {
	// CPUFreqHz is the core clock frequency.
	CPUFreqHz uint32

	// SysTickFreqHz is the frequency of the system tick interrupt. All
	// kernel timeouts are measured in periods of this clock.
	SysTickFreqHz uint32
}

// TaskFrame is the architecture-visible part of a task control block. It is
// embedded at offset zero of the TCB, and SP must remain the first field:
// the context switch trampoline loads the stack pointer from the first word
// of the frame without knowing the rest of the task layout.
type TaskFrame struct {
	// SP is the saved stack pointer. Written by InitStack and by the
	// context switch; the kernel never touches it.
	SP uintptr

	// Stack is the task's stack storage, owned by the task's creator.
	Stack []Word

	// Entry is the routine the first context restore resumes into.
	Entry func()

	// Dead is set by the kernel before the final reschedule of an
	// exiting task. A port must not attempt to save state for a dead
	// frame.
	Dead bool

	port any
}

// SetPortData attaches port-private state to the frame.
func (f *TaskFrame) SetPortData(d any) {
	f.port = d
}

// PortData returns the state attached by SetPortData, or nil.
func (f *TaskFrame) PortData() any {
	return f.port
}

// Switcher is implemented by the kernel. SwapRunning commits the pending
// scheduling decision (current becomes next) and returns the frames of the
// previous and the new running task. prev is nil on the very first switch.
//
// SwapRunning must only be called by a port, with the critical section held.
type Switcher interface {
	SwapRunning() (prev, next *TaskFrame)
}

// Port is the architecture facade the kernel runs on.
type Port interface {
	// SetSwitcher hands the port the kernel's switch-commit hook. Called
	// once, before the OS starts.
	SetSwitcher(sw Switcher)

	// CriticalStart disables preemption. Critical sections nest.
	CriticalStart()

	// CriticalEnd reverses one CriticalStart. Leaving the outermost
	// critical section delivers any pended context switch.
	CriticalEnd()

	// InitStack prepares f so that the first context restore resumes the
	// task at f.Entry. The kernel has already filled f.Stack with the
	// watermark sentinel.
	InitStack(f *TaskFrame)

	// RunScheduler requests a context switch to the task selected by the
	// kernel. It must be entered with the critical section held. From
	// task context the switch happens immediately and the call returns
	// later, on the previous task; from interrupt context the switch is
	// pended. Either way the critical section has been released when the
	// call returns.
	RunScheduler()

	// RunContextSwitch performs a pended context switch, if one is
	// outstanding. Called outside the critical section.
	RunContextSwitch()

	// CoreInit programs the system tick to cfg.SysTickFreqHz.
	CoreInit(cfg *ClockConfig)

	// InterruptActive reports whether the caller executes in interrupt
	// context.
	InterruptActive() bool

	// DebugAttached reports whether a debugger is attached.
	DebugAttached() bool

	// MinStackSize is the smallest stack, in words, InitStack accepts.
	MinStackSize() int

	// Idle is the idle task's wait hint (WFI or equivalent).
	Idle()
}
