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

package tuple

import (
	"github.com/pingcap/errors"
)

// Table is the per-execution pool of tuple slots. It is sized once at plan
// initialization from the plan tree's declared slot counts and never grows.
type Table struct {
	slots []Slot
	used  int
}

// NewTable creates a table with a fixed number of slots.
func NewTable(size int) *Table {
	return &Table{slots: make([]Slot, size)}
}

// Alloc reserves the next free slot. Running out of slots means the plan
// walk undercounted, which is a plan-initialization bug.
func (t *Table) Alloc() (*Slot, error) {
	if t.used >= len(t.slots) {
		return nil, errors.Errorf("tuple table exhausted: %d slots allocated at plan init", len(t.slots))
	}
	s := &t.slots[t.used]
	t.used++
	return s, nil
}

// Size returns the table capacity.
func (t *Table) Size() int {
	return len(t.slots)
}

// Used returns the number of allocated slots.
func (t *Table) Used() int {
	return t.used
}

// Destroy clears every allocated slot. When freeContents is false the held
// tuples are abandoned without being freed, but page pins are still
// released.
func (t *Table) Destroy(freeContents bool) {
	for i := 0; i < t.used; i++ {
		s := &t.slots[i]
		if !freeContents {
			s.own = false
		}
		s.Clear()
	}
	t.used = 0
}
