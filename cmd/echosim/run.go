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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/epizzella/Echo-OS/pkg/arch"
	"github.com/epizzella/Echo-OS/pkg/arch/hostport"
	"github.com/epizzella/Echo-OS/pkg/kernel"
	"github.com/epizzella/Echo-OS/pkg/kernel/ktimer"
)

// runCmd boots a board profile and lets it run for a while.
type runCmd struct {
	config   string
	duration time.Duration
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string { return "run" }

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string { return "boot a board profile on the simulation port" }

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [-config board.toml] [-duration 2s]:
	Boot the configured tasks and timers and run them in simulated time.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "TOML board profile (built-in demo profile if empty)")
	f.DurationVar(&c.duration, "duration", 2*time.Second, "how long to run the simulation")
}

// Execute implements subcommands.Command.Execute.
func (c *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := loadBoard(c.config)
	if err != nil {
		logrus.WithError(err).Error("invalid board profile")
		return subcommands.ExitUsageError
	}

	port := hostport.New(hostport.Options{})
	kernel.Init(port)
	port.SetTickHandler(kernel.OsTick)

	// Task storage lives for the whole run.
	stacks := make([][]arch.Word, len(cfg.Tasks))
	tasks := make([]kernel.Task, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		t := t
		words := t.StackWords
		if words < port.MinStackSize() {
			words = 256
		}
		stacks[i] = make([]arch.Word, words)
		tasks[i] = kernel.NewTask(kernel.TaskConfig{
			Name:     t.Name,
			Stack:    stacks[i],
			Priority: t.Priority,
			Subroutine: func() error {
				tick := logrus.WithField("task", t.Name)
				for {
					tick.Info(t.Message)
					if err := kernel.Delay(t.PeriodMs); err != nil {
						return err
					}
				}
			},
		})
		if err := tasks[i].Init(); err != nil {
			logrus.WithError(err).WithField("task", t.Name).Error("task init failed")
			return subcommands.ExitFailure
		}
	}

	var beat ktimer.Timer
	if cfg.Timer.Enabled {
		if err := ktimer.Enable(ktimer.Config{Priority: cfg.Timer.Priority}); err != nil {
			logrus.WithError(err).Error("timer service enable failed")
			return subcommands.ExitFailure
		}
		beat = ktimer.Create(ktimer.TimerConfig{
			Name:     "heartbeat",
			Callback: func() { logrus.Info("heartbeat") },
		})
		if err := beat.Set(ktimer.SetOpts{TimeoutMs: cfg.Timer.PeriodMs, Autoreload: cfg.Timer.Autoreload}); err != nil {
			logrus.WithError(err).Error("timer set failed")
			return subcommands.ExitFailure
		}
		if err := beat.Start(); err != nil {
			logrus.WithError(err).Error("timer start failed")
			return subcommands.ExitFailure
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- kernel.StartOS(kernel.Config{
			Clock: arch.ClockConfig{
				CPUFreqHz:     cfg.Clock.CPUFreqHz,
				SysTickFreqHz: cfg.Clock.TickHz,
			},
		})
	}()

	time.Sleep(c.duration)
	port.Shutdown()
	if err := <-done; err != nil {
		logrus.WithError(err).Error("start failed")
		return subcommands.ExitFailure
	}

	logrus.WithField("ticks", kernel.GetTicks()).Info("simulation finished")
	for i := range tasks {
		logrus.WithFields(logrus.Fields{
			"task":        tasks[i].Name(),
			"stack_words": tasks[i].StackUsage(),
		}).Debug("stack usage")
	}
	return subcommands.ExitSuccess
}

// inspectCmd validates a board profile and prints what it would boot.
type inspectCmd struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*inspectCmd) Name() string { return "inspect" }

// Synopsis implements subcommands.Command.Synopsis.
func (*inspectCmd) Synopsis() string { return "validate and print a board profile" }

// Usage implements subcommands.Command.Usage.
func (*inspectCmd) Usage() string {
	return `inspect [-config board.toml]:
	Parse the profile and print the resolved clock, tasks, and timers.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *inspectCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "TOML board profile (built-in demo profile if empty)")
}

// Execute implements subcommands.Command.Execute.
func (c *inspectCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := loadBoard(c.config)
	if err != nil {
		logrus.WithError(err).Error("invalid board profile")
		return subcommands.ExitUsageError
	}
	fmt.Printf("clock: cpu %d Hz, tick %d Hz (%.3f ms period)\n",
		cfg.Clock.CPUFreqHz, cfg.Clock.TickHz, 1000/float64(cfg.Clock.TickHz))
	for _, t := range cfg.Tasks {
		fmt.Printf("task %-12s prio %-2d period %4d ms\n", t.Name, t.Priority, t.PeriodMs)
	}
	if cfg.Timer.Enabled {
		fmt.Printf("timer service: prio %d, heartbeat %d ms autoreload=%v\n",
			cfg.Timer.Priority, cfg.Timer.PeriodMs, cfg.Timer.Autoreload)
	}
	return subcommands.ExitSuccess
}
