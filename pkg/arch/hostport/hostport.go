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

// Package hostport implements the architecture port on a host operating
// system, for simulation, demos, and end-to-end tests.
//
// Each task runs on its own goroutine, parked on a channel while the task
// is not the running one; at any moment at most one task goroutine
// executes. The critical section models the interrupt mask: a virtual tick
// interrupt (TriggerTick) cannot run while a task holds it. A context
// switch requested from task context swaps immediately; one requested from
// interrupt context is pended and delivered when the running task leaves
// its outermost critical section or reaches a checkpoint, mirroring a
// pended PendSV firing once PRIMASK clears.
package hostport

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/epizzella/Echo-OS/pkg/arch"
)

const minStackWords = 16

// Options configures a Port.
type Options struct {
	// ManualTick suppresses the tick goroutine CoreInit would otherwise
	// start; the caller drives time with TriggerTick.
	ManualTick bool

	// Log overrides the default logger entry.
	Log *logrus.Entry
}

// Port is a simulated architecture port.
type Port struct {
	mu    sync.Mutex
	owner atomic.Int64 // goid of the critical section holder, 0 if none
	depth int          // nesting depth, guarded by mu via owner

	isr atomic.Int64 // goid of the active interrupt handler, 0 if none

	// pending is the PendSV-equivalent: a context switch requested from
	// interrupt context, not yet delivered. Guarded by mu.
	pending bool

	sw    arch.Switcher
	tick  func()
	irqMu sync.Mutex

	manualTick bool
	done       chan struct{}
	stopOnce   sync.Once

	log *logrus.Entry
}

// taskCtx is the per-task port state.
type taskCtx struct {
	resume  chan struct{}
	started bool
}

// New returns a simulated port.
func New(opts Options) *Port {
	log := opts.Log
	if log == nil {
		log = logrus.WithField("subsys", "hostport")
	}
	return &Port{
		manualTick: opts.ManualTick,
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetTickHandler registers the system tick interrupt handler, normally the
// kernel's OsTick. Must be called before the first TriggerTick.
func (p *Port) SetTickHandler(fn func()) {
	p.tick = fn
}

// SetSwitcher implements arch.Port.SetSwitcher.
func (p *Port) SetSwitcher(sw arch.Switcher) {
	p.sw = sw
}

// goid returns the calling goroutine's id. The port uses it to support
// nested critical sections and to answer InterruptActive per execution
// context, standing in for the CPU's exception state.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// The header is "goroutine N [".
	fields := bytes.Fields(buf[:n])
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		panic("hostport: cannot parse goroutine id")
	}
	return id
}

// CriticalStart implements arch.Port.CriticalStart.
func (p *Port) CriticalStart() {
	id := goid()
	if p.owner.Load() == id {
		p.depth++
		return
	}
	p.mu.Lock()
	p.owner.Store(id)
	p.depth = 1
}

// CriticalEnd implements arch.Port.CriticalEnd.
func (p *Port) CriticalEnd() {
	id := goid()
	if p.owner.Load() != id {
		panic("hostport: CriticalEnd by non-owner")
	}
	p.depth--
	if p.depth > 0 {
		return
	}
	p.owner.Store(0)
	p.mu.Unlock()
	if p.isr.Load() != id {
		p.RunContextSwitch()
	}
}

// criticalExitAll releases the critical section completely, regardless of
// nesting depth. The context switch resets the mask state on the way out of
// the switching exception, and the port mirrors that here.
func (p *Port) criticalExitAll() {
	p.depth = 0
	p.owner.Store(0)
	p.mu.Unlock()
}

// InitStack implements arch.Port.InitStack.
func (p *Port) InitStack(f *arch.TaskFrame) {
	f.SP = uintptr(len(f.Stack))
	f.SetPortData(&taskCtx{resume: make(chan struct{}, 1)})
}

// ctxOf returns the port state InitStack attached to f.
func ctxOf(f *arch.TaskFrame) *taskCtx {
	return f.PortData().(*taskCtx)
}

// RunScheduler implements arch.Port.RunScheduler.
func (p *Port) RunScheduler() {
	id := goid()
	if p.isr.Load() == id {
		// Interrupt context: pend the switch for delivery once the
		// running task unmasks.
		p.pending = true
		p.CriticalEnd()
		return
	}

	prev, next := p.sw.SwapRunning()
	p.pending = false
	if prev == next {
		p.CriticalEnd()
		return
	}
	nc := ctxOf(next)
	p.startLocked(next, nc)
	p.criticalExitAll()
	nc.resume <- struct{}{}

	switch {
	case prev == nil:
		// First context restore, entered from StartOS. There is no
		// previous task to return on; hold the boot context until the
		// simulation is shut down.
		<-p.done
	case prev.Dead:
		// The exiting task's goroutine unwinds and terminates.
		runtime.Goexit()
	default:
		<-ctxOf(prev).resume
	}
}

// startLocked launches next's goroutine on first use. Called with the
// critical section held.
func (p *Port) startLocked(next *arch.TaskFrame, nc *taskCtx) {
	if nc.started {
		return
	}
	nc.started = true
	go func() {
		<-nc.resume
		next.Entry()
	}()
}

// RunContextSwitch implements arch.Port.RunContextSwitch: it delivers a
// pended switch, parking the calling task until it is scheduled again.
func (p *Port) RunContextSwitch() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	p.pending = false
	prev, next := p.sw.SwapRunning()
	if prev == next {
		p.mu.Unlock()
		return
	}
	nc := ctxOf(next)
	p.startLocked(next, nc)
	p.mu.Unlock()
	nc.resume <- struct{}{}
	if prev == nil || prev.Dead {
		return
	}
	<-ctxOf(prev).resume
}

// TriggerTick raises the virtual system tick interrupt. It waits for any
// task-held critical section, runs the registered handler in interrupt
// context, and leaves a requested context switch pended for the running
// task to pick up.
func (p *Port) TriggerTick() {
	if p.tick == nil {
		return
	}
	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	p.CriticalStart()
	p.isr.Store(goid())
	p.tick()
	p.CriticalEnd()
	p.isr.Store(0)
}

// CoreInit implements arch.Port.CoreInit. Unless the port was created with
// ManualTick, it starts a goroutine pacing TriggerTick at the configured
// tick frequency.
func (p *Port) CoreInit(cfg *arch.ClockConfig) {
	if p.manualTick {
		p.log.WithField("tick_hz", cfg.SysTickFreqHz).Debug("manual tick mode; no tick source started")
		return
	}
	period := time.Second / time.Duration(cfg.SysTickFreqHz)
	p.log.WithField("period", period).Debug("starting tick source")
	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				p.TriggerTick()
			case <-p.done:
				return
			}
		}
	}()
}

// InterruptActive implements arch.Port.InterruptActive.
func (p *Port) InterruptActive() bool {
	id := p.isr.Load()
	return id != 0 && id == goid()
}

// DebugAttached implements arch.Port.DebugAttached.
func (p *Port) DebugAttached() bool {
	return false
}

// MinStackSize implements arch.Port.MinStackSize.
func (p *Port) MinStackSize() int {
	return minStackWords
}

// Idle implements arch.Port.Idle. It delivers any pended switch and yields
// the host CPU; once the simulation is shut down it parks the idle
// goroutine for good.
func (p *Port) Idle() {
	select {
	case <-p.done:
		select {} // simulation over; never run again
	default:
	}
	p.RunContextSwitch()
	time.Sleep(50 * time.Microsecond)
}

// Checkpoint is a preemption point for simulated task code: a pended switch
// is delivered here, the way a real core would take a pended exception at
// the next instruction boundary.
func (p *Port) Checkpoint() {
	p.RunContextSwitch()
}

// Shutdown ends the simulation: the boot context blocked in StartOS
// returns, the tick goroutine stops, and the idle task parks.
func (p *Port) Shutdown() {
	p.stopOnce.Do(func() {
		p.log.Debug("shutting down simulation")
		close(p.done)
	})
}
