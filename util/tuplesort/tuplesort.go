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

// Package tuplesort sorts tuples under a caller-supplied comparator,
// spilling sorted runs to disk past the memory budget and merging them on
// PerformSort. The Sort node and the ordered-set aggregates are built on
// it.
package tuplesort

import (
	"bufio"
	"encoding/binary"
	"os"
	"sort"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/codec"
	"github.com/cascadedb/cascade/util/logutil"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// Comparator orders tuples. It returns <0, 0, >0.
type Comparator func(a, b *tuple.Tuple) (int, error)

// Sorter accumulates tuples, sorts them on PerformSort and then serves
// positioned reads.
type Sorter struct {
	cmp     Comparator
	workMem int64
	tempDir string

	cur    []*tuple.Tuple
	curMem int64
	runs   []*os.File

	performed bool
	out       *tuplestore.Store
}

// New creates a sorter. workMem <= 0 means never spill.
func New(cmp Comparator, workMem int64, tempDir string) *Sorter {
	return &Sorter{cmp: cmp, workMem: workMem, tempDir: tempDir}
}

// Put adds a tuple to be sorted.
func (s *Sorter) Put(t *tuple.Tuple) error {
	if s.performed {
		return errors.New("tuplesort: put after performsort")
	}
	s.cur = append(s.cur, t)
	s.curMem += int64(48)
	for _, v := range t.Values {
		s.curMem += 16 + int64(len(v.RawBytes()))
	}
	if s.workMem > 0 && s.curMem > s.workMem {
		return errors.Trace(s.dumpRun())
	}
	return nil
}

// PutDatum adds a single-datum tuple, for datum sorts used by the
// ordered-set aggregates.
func (s *Sorter) PutDatum(d types.Datum) error {
	return s.Put(tuple.NewTuple(d))
}

// Len returns the number of sorted tuples. Only meaningful after
// PerformSort once runs have spilled.
func (s *Sorter) Len() int {
	if s.out != nil {
		return s.out.Len()
	}
	return len(s.cur)
}

func (s *Sorter) sortCur() error {
	var sortErr error
	sort.SliceStable(s.cur, func(i, j int) bool {
		c, err := s.cmp(s.cur[i], s.cur[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	return sortErr
}

func (s *Sorter) dumpRun() error {
	if err := s.sortCur(); err != nil {
		return errors.Trace(err)
	}
	f, err := os.CreateTemp(s.tempDir, "cascade-tuplesort-run-*")
	if err != nil {
		return errors.Trace(err)
	}
	logutil.BgLogger().Debug("tuplesort spilling run",
		zap.String("file", f.Name()), zap.Int("rows", len(s.cur)))
	w := bufio.NewWriter(f)
	for _, t := range s.cur {
		body := codec.EncodeTuple(nil, t)
		var hdr [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(hdr[:], uint64(len(body)))
		if _, err := w.Write(hdr[:n]); err != nil {
			return errors.Trace(err)
		}
		if _, err := w.Write(body); err != nil {
			return errors.Trace(err)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Trace(err)
	}
	s.runs = append(s.runs, f)
	s.cur = nil
	s.curMem = 0
	return nil
}

// PerformSort finishes input and sorts. Empty input never invokes the sort
// routine.
func (s *Sorter) PerformSort() error {
	if s.performed {
		return nil
	}
	s.performed = true
	if len(s.cur) == 0 && len(s.runs) == 0 {
		s.out = tuplestore.New(0, s.tempDir)
		return nil
	}
	if len(s.runs) == 0 {
		if err := s.sortCur(); err != nil {
			return errors.Trace(err)
		}
		out := tuplestore.New(0, s.tempDir)
		for _, t := range s.cur {
			if err := out.Put(t); err != nil {
				return errors.Trace(err)
			}
		}
		s.cur = nil
		s.out = out
		return nil
	}
	return errors.Trace(s.mergeRuns())
}

// Get returns the next sorted tuple in the given direction, nil at the end.
func (s *Sorter) Get(dir storage.ScanDirection) (*tuple.Tuple, error) {
	if !s.performed {
		return nil, errors.New("tuplesort: get before performsort")
	}
	return s.out.Get(dir)
}

// GetDatum returns the first attribute of the next sorted tuple.
func (s *Sorter) GetDatum(dir storage.ScanDirection) (types.Datum, bool, error) {
	t, err := s.Get(dir)
	if err != nil || t == nil {
		return types.Datum{}, false, errors.Trace(err)
	}
	return t.Values[0], true, nil
}

// SkipTuples advances past n tuples without reading them.
func (s *Sorter) SkipTuples(n int) error {
	if !s.performed {
		return errors.New("tuplesort: skip before performsort")
	}
	for i := 0; i < n; i++ {
		if !s.out.Advance(storage.Forward) {
			return nil
		}
	}
	return nil
}

// Rescan repositions at the first sorted tuple.
func (s *Sorter) Rescan() {
	if s.out != nil {
		s.out.Rescan()
	}
}

// MarkPos remembers the current read position.
func (s *Sorter) MarkPos() {
	if s.out != nil {
		s.out.MarkPos()
	}
}

// RestorePos returns to the marked position.
func (s *Sorter) RestorePos() {
	if s.out != nil {
		s.out.RestorePos()
	}
}

// End releases all resources, including any spill files.
func (s *Sorter) End() {
	s.cur = nil
	for _, f := range s.runs {
		name := f.Name()
		if err := f.Close(); err != nil {
			logutil.BgLogger().Warn("tuplesort close run", zap.Error(err))
		}
		if err := os.Remove(name); err != nil {
			logutil.BgLogger().Warn("tuplesort remove run", zap.Error(err))
		}
	}
	s.runs = nil
	if s.out != nil {
		s.out.End()
		s.out = nil
	}
}
