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
	"math"

	"github.com/epizzella/Echo-OS/pkg/oserr"
)

// GetTicks returns the number of ticks since StartOS.
func GetTicks() uint64 {
	return ticks
}

// GetTicksMs returns the time since StartOS in milliseconds.
func GetTicksMs() uint64 {
	if clock.SysTickFreqHz == 0 {
		return 0
	}
	return ticks * 1000 / uint64(clock.SysTickFreqHz)
}

// TickPeriodMs returns the tick period in milliseconds, at least 1.
func TickPeriodMs() uint32 {
	if clock.SysTickFreqHz == 0 || clock.SysTickFreqHz >= 1000 {
		return 1
	}
	return 1000 / clock.SysTickFreqHz
}

// ticksFromMs converts a millisecond duration to ticks, rounding a nonzero
// duration up to at least one tick. Durations that overflow the tick
// counter are rejected.
func ticksFromMs(ms uint32) (uint32, error) {
	if ms == 0 {
		return 0, nil
	}
	t := uint64(ms) * uint64(clock.SysTickFreqHz) / 1000
	if t > math.MaxUint32 {
		return 0, oserr.SleepDurationOutOfRange
	}
	if t == 0 {
		t = 1
	}
	return uint32(t), nil
}

// OsTick is the system tick entry point, called from the tick interrupt.
// The fixed order: user callback, tick count, timers, sync timeouts, task
// delays, same-priority rotation, schedule.
func OsTick() {
	if !osStarted {
		return
	}
	if tickCallback != nil {
		tickCallback()
	}
	port.CriticalStart()
	ticks++
	if timerSvc != nil {
		timerSvc.Tick(TickPeriodMs())
	}
	syncUpdateTimeouts()
	tc.updateDelayed()
	tc.cycleActive()
	schedule()
}

// Delay yields the running task for ms milliseconds of tick time. A zero
// delay is a no-op. Only a user task may delay: calls from interrupt
// context, the idle task, or a timer callback fail.
func Delay(ms uint32) error {
	if !osStarted {
		return oserr.OsOffline
	}
	if port.InterruptActive() {
		return oserr.IllegalInterruptAccess
	}
	t := tc.current
	if t == nil {
		halt(oserr.RunningTaskNull)
	}
	if t.priority == idlePriority {
		return oserr.IllegalIdleTask
	}
	if timerSvc != nil && timerSvc.InCallback() && t == timerSvc.ServiceTask() {
		return oserr.IllegalTimerTask
	}
	dticks, err := ticksFromMs(ms)
	if err != nil {
		return err
	}
	if dticks == 0 {
		return nil
	}

	port.CriticalStart()
	tc.yieldTask(t)
	t.timeout = dticks
	schedule()
	return nil
}

// SleepTime is a composite sleep duration. The fields add.
type SleepTime struct {
	Ms   uint32
	Sec  uint32
	Min  uint32
	Hr   uint32
	Days uint32
}

// Sleep delays the running task for the given composite duration, with the
// same context rules as Delay. Durations that do not fit the tick counter
// fail with SleepDurationOutOfRange.
func Sleep(st SleepTime) error {
	total := uint64(st.Ms) +
		uint64(st.Sec)*1000 +
		uint64(st.Min)*60_000 +
		uint64(st.Hr)*3_600_000 +
		uint64(st.Days)*86_400_000
	if total > math.MaxUint32 {
		return oserr.SleepDurationOutOfRange
	}
	return Delay(uint32(total))
}
