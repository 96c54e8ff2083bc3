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
	"fmt"

	"github.com/BurntSushi/toml"
)

// boardConfig is the TOML simulation profile.
type boardConfig struct {
	Clock clockConfig  `toml:"clock"`
	Tasks []taskConfig `toml:"task"`
	Timer timerConfig  `toml:"timer"`
}

type clockConfig struct {
	CPUFreqHz uint32 `toml:"cpu_freq_hz"`
	TickHz    uint32 `toml:"tick_hz"`
}

type taskConfig struct {
	Name       string `toml:"name"`
	Priority   uint8  `toml:"priority"`
	PeriodMs   uint32 `toml:"period_ms"`
	Message    string `toml:"message"`
	StackWords int    `toml:"stack_words"`
}

type timerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Priority   uint8  `toml:"priority"`
	PeriodMs   uint32 `toml:"period_ms"`
	Autoreload bool   `toml:"autoreload"`
}

// defaultBoard is used when no config file is given: two periodic tasks and
// an autoreload timer at a 1 kHz tick.
func defaultBoard() boardConfig {
	return boardConfig{
		Clock: clockConfig{CPUFreqHz: 64_000_000, TickHz: 1000},
		Tasks: []taskConfig{
			{Name: "blink", Priority: 4, PeriodMs: 250, Message: "blink"},
			{Name: "sense", Priority: 2, PeriodMs: 100, Message: "sample"},
		},
		Timer: timerConfig{Enabled: true, Priority: 1, PeriodMs: 500, Autoreload: true},
	}
}

// loadBoard reads and validates a TOML board profile.
func loadBoard(path string) (boardConfig, error) {
	cfg := defaultBoard()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Clock.TickHz == 0 {
		return cfg, fmt.Errorf("%s: clock.tick_hz must be nonzero", path)
	}
	for _, t := range cfg.Tasks {
		if t.Priority > 31 {
			return cfg, fmt.Errorf("%s: task %q priority %d out of range", path, t.Name, t.Priority)
		}
	}
	return cfg, nil
}
