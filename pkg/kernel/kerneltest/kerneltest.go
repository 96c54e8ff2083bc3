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

// Package kerneltest provides helpers for testing code against the kernel
// on the archtest stub port.
package kerneltest

import (
	"testing"

	"github.com/epizzella/Echo-OS/pkg/arch"
	"github.com/epizzella/Echo-OS/pkg/arch/archtest"
	"github.com/epizzella/Echo-OS/pkg/kernel"
)

// TickHz is the tick rate Start configures: one tick per millisecond.
const TickHz = 1000

// Setup resets the kernel and binds it to a fresh stub port. The kernel is
// reset again at test cleanup.
func Setup(tb testing.TB) *archtest.Port {
	tb.Helper()
	kernel.Restart()
	p := archtest.New()
	kernel.Init(p)
	tb.Cleanup(kernel.Restart)
	return p
}

// NewTask returns a task with a test stack, not yet handed to the kernel;
// the caller calls Init. The body never runs on the stub port; a nil sub
// gets a trivial one.
func NewTask(tb testing.TB, name string, prio uint8, sub func() error) *kernel.Task {
	tb.Helper()
	if sub == nil {
		sub = func() error { return nil }
	}
	t := kernel.NewTask(kernel.TaskConfig{
		Name:       name,
		Stack:      make([]arch.Word, 64),
		Priority:   prio,
		Subroutine: sub,
	})
	return &t
}

// Start brings the OS up at TickHz. On the stub port StartOS returns after
// committing the first context switch.
func Start(tb testing.TB) {
	tb.Helper()
	if err := kernel.StartOS(kernel.Config{
		Clock: arch.ClockConfig{CPUFreqHz: 64_000_000, SysTickFreqHz: TickHz},
	}); err != nil {
		tb.Fatalf("StartOS: %v", err)
	}
}

// Tick advances kernel time by n ticks.
func Tick(tb testing.TB, n int) {
	tb.Helper()
	for i := 0; i < n; i++ {
		kernel.OsTick()
	}
}
