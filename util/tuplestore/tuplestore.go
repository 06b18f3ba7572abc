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

// Package tuplestore is a row buffer readable in both directions through
// multiple read pointers. It spills to a temp file once it exceeds its
// memory budget. Material, CTE scans and the recursive-union working table
// are built on it.
package tuplestore

import (
	"os"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/codec"
	"github.com/cascadedb/cascade/util/logutil"
)

// Store buffers tuples for repeated and backward reads.
type Store struct {
	rows    []*tuple.Tuple
	nrows   int
	mem     int64
	workMem int64
	tempDir string

	file    *os.File
	offsets []int64
	fileEnd int64

	ptrs   []*readPtr
	active int
	closed bool
}

type readPtr struct {
	pos  int
	mark int
}

// New creates a store with the given memory budget. workMem <= 0 means
// never spill.
func New(workMem int64, tempDir string) *Store {
	return &Store{
		workMem: workMem,
		tempDir: tempDir,
		ptrs:    []*readPtr{{mark: -1}},
	}
}

// NewFileBacked creates a store that goes to its temp file on the first
// put, keeping no resident rows. Hash-join batch files use it.
func NewFileBacked(tempDir string) *Store {
	return &Store{
		workMem: 1,
		tempDir: tempDir,
		ptrs:    []*readPtr{{mark: -1}},
	}
}

// Put appends a tuple. The store owns the appended tuple.
func (s *Store) Put(t *tuple.Tuple) error {
	if s.closed {
		return errors.New("tuplestore: put after end")
	}
	if s.file != nil {
		return errors.Trace(s.writeRow(t))
	}
	s.rows = append(s.rows, t)
	s.nrows++
	s.mem += rowMem(t)
	if s.workMem > 0 && s.mem > s.workMem {
		return errors.Trace(s.spill())
	}
	return nil
}

func rowMem(t *tuple.Tuple) int64 {
	m := int64(48)
	for _, v := range t.Values {
		m += 16 + int64(len(v.RawBytes()))
	}
	return m
}

func (s *Store) spill() error {
	f, err := os.CreateTemp(s.tempDir, "cascade-tuplestore-*")
	if err != nil {
		return errors.Trace(err)
	}
	s.file = f
	logutil.BgLogger().Debug("tuplestore spilling to disk",
		zap.String("file", f.Name()), zap.Int("rows", s.nrows), zap.Int64("bytes", s.mem))
	rows := s.rows
	s.rows = nil
	s.nrows = 0
	for _, t := range rows {
		if err := s.writeRow(t); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (s *Store) writeRow(t *tuple.Tuple) error {
	buf := codec.EncodeTuple(nil, t)
	if _, err := s.file.WriteAt(buf, s.fileEnd); err != nil {
		return errors.Trace(err)
	}
	s.offsets = append(s.offsets, s.fileEnd)
	s.fileEnd += int64(len(buf))
	s.nrows++
	return nil
}

func (s *Store) row(i int) (*tuple.Tuple, error) {
	if s.file == nil {
		return s.rows[i], nil
	}
	start := s.offsets[i]
	end := s.fileEnd
	if i+1 < len(s.offsets) {
		end = s.offsets[i+1]
	}
	buf := make([]byte, end-start)
	if _, err := s.file.ReadAt(buf, start); err != nil {
		return nil, errors.Trace(err)
	}
	t, _, err := codec.DecodeTuple(buf)
	return t, errors.Trace(err)
}

// Len returns the number of stored tuples.
func (s *Store) Len() int {
	return s.nrows
}

// AllocReadPointer allocates a private read pointer and returns its id.
// Pointer 0 always exists.
func (s *Store) AllocReadPointer() int {
	s.ptrs = append(s.ptrs, &readPtr{mark: -1})
	return len(s.ptrs) - 1
}

// SelectReadPointer makes ptr the active pointer. Siblings sharing a store
// re-select their pointer before every read.
func (s *Store) SelectReadPointer(ptr int) {
	s.active = ptr
}

// Get returns the next tuple in the given direction, or nil at the end.
func (s *Store) Get(dir storage.ScanDirection) (*tuple.Tuple, error) {
	p := s.ptrs[s.active]
	switch dir {
	case storage.Forward:
		if p.pos >= s.nrows {
			return nil, nil
		}
		t, err := s.row(p.pos)
		if err != nil {
			return nil, errors.Trace(err)
		}
		p.pos++
		return t, nil
	case storage.Backward:
		if p.pos <= 0 {
			return nil, nil
		}
		p.pos--
		return s.row(p.pos)
	}
	return nil, nil
}

// Advance moves the active pointer without reading. It reports whether a
// tuple was skipped.
func (s *Store) Advance(dir storage.ScanDirection) bool {
	p := s.ptrs[s.active]
	switch dir {
	case storage.Forward:
		if p.pos >= s.nrows {
			return false
		}
		p.pos++
		return true
	case storage.Backward:
		if p.pos <= 0 {
			return false
		}
		p.pos--
		return true
	}
	return false
}

// Rescan repositions the active pointer at the beginning.
func (s *Store) Rescan() {
	s.ptrs[s.active].pos = 0
}

// MarkPos remembers the active pointer position.
func (s *Store) MarkPos() {
	p := s.ptrs[s.active]
	p.mark = p.pos
}

// RestorePos returns the active pointer to its mark.
func (s *Store) RestorePos() {
	p := s.ptrs[s.active]
	if p.mark >= 0 {
		p.pos = p.mark
	}
}

// AtEnd reports whether the active pointer is past the last tuple.
func (s *Store) AtEnd() bool {
	return s.ptrs[s.active].pos >= s.nrows
}

// End releases the store, removing any spill file. Safe to call twice.
func (s *Store) End() {
	if s.closed {
		return
	}
	s.closed = true
	s.rows = nil
	if s.file != nil {
		name := s.file.Name()
		if err := s.file.Close(); err != nil {
			logutil.BgLogger().Warn("tuplestore close", zap.Error(err))
		}
		if err := os.Remove(name); err != nil {
			logutil.BgLogger().Warn("tuplestore remove spill file", zap.Error(err))
		}
		s.file = nil
	}
}
