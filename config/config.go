// Copyright 2025 The Cascade Authors.
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

package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
)

// Config contains configuration options for the execution engine.
type Config struct {
	// WorkMem bounds the memory one sort or hash build may use before it
	// spills, e.g. "32MB".
	WorkMem string `toml:"work-mem" json:"work-mem"`
	// TempDir is where hash-batch and tuplestore spill files are created.
	TempDir string `toml:"temp-dir" json:"temp-dir"`
	// HashFillFactor is the target number of tuples per hash bucket.
	HashFillFactor int `toml:"hash-fill-factor" json:"hash-fill-factor"`

	Log   Log   `toml:"log" json:"log"`
	Hooks Hooks `toml:"hooks" json:"hooks"`
}

// Log is the log section of config.
type Log struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log format, one of json, text, or console.
	Format string `toml:"format" json:"format"`
	// File is the log file path. Empty means stderr.
	File string `toml:"file" json:"file"`
}

// Hooks is the test-hook section of config. A zero lock id disables the
// corresponding delay.
type Hooks struct {
	// PlannerDelayLockID names the advisory lock taken and released between
	// parse-analysis and planning.
	PlannerDelayLockID int64 `toml:"planner-delay-lock-id" json:"planner-delay-lock-id"`
	// ExecutorStartDelayLockID names the advisory lock taken and released
	// immediately before executor start.
	ExecutorStartDelayLockID int64 `toml:"executor-start-delay-lock-id" json:"executor-start-delay-lock-id"`
}

var defaultConf = Config{
	WorkMem:        "4MB",
	TempDir:        os.TempDir(),
	HashFillFactor: 10,
	Log: Log{
		Level:  "info",
		Format: "text",
	},
}

// NewConfig creates a new config instance with default value.
func NewConfig() *Config {
	conf := defaultConf
	return &conf
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	_, err := toml.DecodeFile(confFile, c)
	return errors.Trace(err)
}

// WorkMemBytes parses WorkMem into a byte count.
func (c *Config) WorkMemBytes() (int64, error) {
	n, err := units.RAMInBytes(c.WorkMem)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid work-mem %q", c.WorkMem)
	}
	if n <= 0 {
		return 0, errors.Errorf("work-mem must be positive, got %q", c.WorkMem)
	}
	return n, nil
}
