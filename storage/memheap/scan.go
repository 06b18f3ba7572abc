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

package memheap

import (
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
)

// heapScan walks a table's line pointers in tid order. cur is a linear
// position; -1 means before the first item, size means after the last.
type heapScan struct {
	tbl  *Table
	snap storage.Snapshot
	cur  int
	mark int
}

func (s *heapScan) size() int {
	s.tbl.mu.RLock()
	defer s.tbl.mu.RUnlock()
	n := 0
	for _, pg := range s.tbl.pages {
		n += len(pg.tuples)
	}
	return n
}

func (s *heapScan) at(pos int) (*Page, *tuple.Tuple) {
	s.tbl.mu.RLock()
	defer s.tbl.mu.RUnlock()
	for _, pg := range s.tbl.pages {
		if pos < len(pg.tuples) {
			return pg, pg.tuples[pos]
		}
		pos -= len(pg.tuples)
	}
	return nil, nil
}

// Next implements storage.HeapScan interface.
func (s *heapScan) Next(dir storage.ScanDirection) (*tuple.Tuple, tuple.Pin, error) {
	if dir == storage.NoMovement {
		if s.cur < 0 || s.cur >= s.size() {
			return nil, nil, nil
		}
		pg, tup := s.at(s.cur)
		if tup == nil {
			return nil, nil, nil
		}
		return tup, pg.pin(), nil
	}
	n := s.size()
	if dir == storage.Backward && s.cur < 0 {
		// A fresh backward scan starts past the end.
		s.cur = n
	}
	for {
		s.cur += int(dir)
		if s.cur < 0 || s.cur >= n {
			// Clamp so a direction flip re-enters the table.
			if s.cur < 0 {
				s.cur = -1
			} else {
				s.cur = n
			}
			return nil, nil, nil
		}
		pg, tup := s.at(s.cur)
		if tup == nil || (s.snap != nil && !s.snap.Visible(tup)) {
			continue
		}
		return tup, pg.pin(), nil
	}
}

// Rescan implements storage.HeapScan interface.
func (s *heapScan) Rescan() error {
	s.cur = -1
	s.mark = -1
	return nil
}

// MarkPos implements storage.HeapScan interface.
func (s *heapScan) MarkPos() {
	s.mark = s.cur
}

// RestorePos implements storage.HeapScan interface.
func (s *heapScan) RestorePos() {
	if s.mark >= -1 {
		s.cur = s.mark
	}
}

// Close implements storage.HeapScan interface.
func (s *heapScan) Close() {}
