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

package storage

import (
	"sync"
)

// AdvisoryLocks is a process-wide table of numbered locks. The executor's
// test delay hooks take and release one of these around planning and start.
type AdvisoryLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewAdvisoryLocks creates an empty lock table.
func NewAdvisoryLocks() *AdvisoryLocks {
	return &AdvisoryLocks{locks: make(map[int64]*sync.Mutex)}
}

func (a *AdvisoryLocks) get(id int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

// Acquire blocks until lock id is held.
func (a *AdvisoryLocks) Acquire(id int64) {
	a.get(id).Lock()
}

// Release drops lock id.
func (a *AdvisoryLocks) Release(id int64) {
	a.get(id).Unlock()
}
