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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := NewConfig()
	require.Equal(t, "4MB", c.WorkMem)
	require.Equal(t, 10, c.HashFillFactor)
	require.Equal(t, "info", c.Log.Level)
	require.NotEmpty(t, c.TempDir)

	n, err := c.WorkMemBytes()
	require.NoError(t, err)
	require.Equal(t, int64(4*1024*1024), n)
}

func TestWorkMemBytes(t *testing.T) {
	c := NewConfig()

	c.WorkMem = "64KB"
	n, err := c.WorkMemBytes()
	require.NoError(t, err)
	require.Equal(t, int64(64*1024), n)

	c.WorkMem = "not-a-size"
	_, err = c.WorkMemBytes()
	require.Error(t, err)

	c.WorkMem = "0"
	_, err = c.WorkMemBytes()
	require.Error(t, err)
}

func TestLoadTomlFile(t *testing.T) {
	confFile := filepath.Join(t.TempDir(), "config.toml")
	content := `
work-mem = "16MB"
hash-fill-factor = 4

[log]
level = "debug"
format = "json"

[hooks]
executor-start-delay-lock-id = 7
`
	require.NoError(t, os.WriteFile(confFile, []byte(content), 0o644))

	c := NewConfig()
	require.NoError(t, c.Load(confFile))
	require.Equal(t, "16MB", c.WorkMem)
	require.Equal(t, 4, c.HashFillFactor)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "json", c.Log.Format)
	require.Equal(t, int64(7), c.Hooks.ExecutorStartDelayLockID)
	// Unset keys keep their defaults.
	require.NotEmpty(t, c.TempDir)
	require.Empty(t, c.Log.File)
}

func TestLoadMissingFile(t *testing.T) {
	c := NewConfig()
	require.Error(t, c.Load(filepath.Join(t.TempDir(), "nope.toml")))
}
