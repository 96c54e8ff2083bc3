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

// Package archtest provides a recording architecture port for kernel unit
// tests.
//
// The port performs context switches synchronously: SwapRunning commits on
// the caller's goroutine and no task code actually runs. Tests drive the
// kernel state machine directly and assert on queue and task state.
package archtest

import (
	"github.com/epizzella/Echo-OS/pkg/arch"
)

// Port is a stub arch.Port.
type Port struct {
	sw arch.Switcher

	// InISR makes InterruptActive report true, simulating calls made
	// from interrupt context.
	InISR bool

	// Attached is returned by DebugAttached.
	Attached bool

	// MinStack is returned by MinStackSize.
	MinStack int

	// Depth is the current critical section nesting depth.
	Depth int

	// SwitchRequests counts RunScheduler calls that committed a switch.
	SwitchRequests int

	// PendedSwitches counts RunScheduler calls made in interrupt
	// context. The stub commits those synchronously as well.
	PendedSwitches int

	// InitStackCalls counts InitStack invocations.
	InitStackCalls int

	// Clock is the configuration passed to CoreInit.
	Clock arch.ClockConfig

	// IdleSpins counts Idle calls.
	IdleSpins int
}

// New returns a stub port with a small minimum stack.
func New() *Port {
	return &Port{MinStack: 8}
}

// SetSwitcher implements arch.Port.SetSwitcher.
func (p *Port) SetSwitcher(sw arch.Switcher) {
	p.sw = sw
}

// CriticalStart implements arch.Port.CriticalStart.
func (p *Port) CriticalStart() {
	p.Depth++
}

// CriticalEnd implements arch.Port.CriticalEnd.
func (p *Port) CriticalEnd() {
	if p.Depth == 0 {
		panic("archtest: CriticalEnd without CriticalStart")
	}
	p.Depth--
}

// InitStack implements arch.Port.InitStack.
func (p *Port) InitStack(f *arch.TaskFrame) {
	p.InitStackCalls++
	f.SP = uintptr(len(f.Stack))
}

// RunScheduler implements arch.Port.RunScheduler. The switch is committed
// synchronously; task code never runs.
func (p *Port) RunScheduler() {
	if p.InISR {
		p.PendedSwitches++
	}
	prev, next := p.sw.SwapRunning()
	if prev != next {
		p.SwitchRequests++
	}
	p.CriticalEnd()
}

// RunContextSwitch implements arch.Port.RunContextSwitch. Switches are
// always committed synchronously, so there is never a pended one.
func (p *Port) RunContextSwitch() {}

// CoreInit implements arch.Port.CoreInit.
func (p *Port) CoreInit(cfg *arch.ClockConfig) {
	p.Clock = *cfg
}

// InterruptActive implements arch.Port.InterruptActive.
func (p *Port) InterruptActive() bool {
	return p.InISR
}

// DebugAttached implements arch.Port.DebugAttached.
func (p *Port) DebugAttached() bool {
	return p.Attached
}

// MinStackSize implements arch.Port.MinStackSize.
func (p *Port) MinStackSize() int {
	return p.MinStack
}

// Idle implements arch.Port.Idle.
func (p *Port) Idle() {
	p.IdleSpins++
}
