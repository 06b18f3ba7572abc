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

package expression

import (
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// Arena is a scratch allocation scope. Objects registered with Hold live
// until the next Reset. Operators reset the per-tuple arena between input
// tuples to bound memory.
type Arena struct {
	held  []interface{}
	bytes int64
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Hold registers an allocation with the arena.
func (a *Arena) Hold(obj interface{}, size int64) {
	a.held = append(a.held, obj)
	a.bytes += size
}

// Bytes returns the tracked allocation size.
func (a *Arena) Bytes() int64 {
	return a.bytes
}

// Reset drops everything held by the arena.
func (a *Arena) Reset() {
	a.held = a.held[:0]
	a.bytes = 0
}

// ExprContext is the evaluation environment handed to expressions: the three
// input slots, the parameter arrays and the two arenas.
type ExprContext struct {
	ScanSlot  *tuple.Slot
	InnerSlot *tuple.Slot
	OuterSlot *tuple.Slot

	ExternParams []types.Datum
	ExecParams   []types.Datum

	PerTuple *Arena
	PerQuery *Arena
}

// NewExprContext creates a context with fresh arenas.
func NewExprContext() *ExprContext {
	return &ExprContext{
		PerTuple: NewArena(),
		PerQuery: NewArena(),
	}
}

// ResetPerTuple resets the per-tuple arena. Called between input tuples.
func (ec *ExprContext) ResetPerTuple() {
	if ec.PerTuple != nil {
		ec.PerTuple.Reset()
	}
}
