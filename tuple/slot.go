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

	"github.com/cascadedb/cascade/types"
)

// Tuple is a record of attribute values typed by a Desc. A physical tuple is
// backed by a storage page and must stay pinned while referenced; a heap
// tuple is owned memory and may be freed.
type Tuple struct {
	Values []types.Datum
	// Self is the tuple's own item pointer, set for physical tuples.
	Self ItemPointer
	// freed is set when an owning slot releases the tuple. Any later use is
	// a bug caught by the slot assertions.
	freed bool
}

// NewTuple creates a heap tuple from values.
func NewTuple(values ...types.Datum) *Tuple {
	return &Tuple{Values: values}
}

// Clone returns an owned deep copy of the tuple.
func (t *Tuple) Clone() *Tuple {
	vals := make([]types.Datum, len(t.Values))
	for i, v := range t.Values {
		vals[i] = v.Clone()
	}
	return &Tuple{Values: vals, Self: t.Self}
}

// Freed reports whether an owning slot has released the tuple.
func (t *Tuple) Freed() bool {
	return t.freed
}

// Pin is a reference on the storage page backing a physical tuple. Release
// must be idempotent per Pin value handed to a slot; the slot calls it
// exactly once.
type Pin interface {
	Release()
}

// Slot holds at most one tuple together with its descriptor, an optional
// page pin and an ownership flag. When the slot owns the tuple (own flag),
// Clear frees it; when the tuple is page-backed, Clear releases the pin.
type Slot struct {
	tup       *Tuple
	pin       Pin
	own       bool
	desc      *Desc
	descIsNew bool
}

// NewSlot creates a standalone slot, outside any tuple table.
func NewSlot() *Slot {
	return &Slot{}
}

// Store places a tuple into the slot, clearing any previous content first.
// pin is the page pin backing a physical tuple, nil for heap tuples. own
// marks the tuple as freed on the next clear.
func (s *Slot) Store(t *Tuple, pin Pin, own bool) error {
	if t != nil && t.freed {
		return errors.New("tuple: store of freed tuple")
	}
	s.Clear()
	s.tup = t
	s.pin = pin
	s.own = own
	return nil
}

// Clear empties the slot, releasing the page pin and freeing an owned tuple
// exactly once. Clearing an empty slot is a no-op.
func (s *Slot) Clear() {
	if s.pin != nil {
		s.pin.Release()
		s.pin = nil
	}
	if s.tup != nil {
		if s.own {
			s.tup.freed = true
		}
		s.tup = nil
	}
	s.own = false
}

// IsEmpty reports whether the slot holds no tuple.
func (s *Slot) IsEmpty() bool {
	return s.tup == nil
}

// Tuple returns the held tuple, or nil.
func (s *Slot) Tuple() *Tuple {
	return s.tup
}

// Owned reports whether the slot owns its tuple.
func (s *Slot) Owned() bool {
	return s.own
}

// SetDesc installs the slot descriptor. isNew tells consumers to rebuild any
// cached per-type state before the next read.
func (s *Slot) SetDesc(d *Desc, isNew bool) {
	s.desc = d
	s.descIsNew = isNew
}

// Desc returns the slot descriptor.
func (s *Slot) Desc() *Desc {
	return s.desc
}

// DescIsNew reports whether the descriptor changed since the last call and
// resets the flag.
func (s *Slot) DescIsNew() bool {
	isNew := s.descIsNew
	s.descIsNew = false
	return isNew
}

// TakeFrom moves the tuple, pin and ownership out of src into s. src keeps a
// borrowed reference so readers still see the tuple, but a later clear of
// src releases nothing. Used by merge join to park the marked inner tuple
// without risking a double free.
func (s *Slot) TakeFrom(src *Slot) {
	s.Clear()
	s.tup = src.tup
	s.pin = src.pin
	s.own = src.own
	s.desc = src.desc
	src.pin = nil
	src.own = false
}
