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

package tuplesort

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"io"
	"os"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/codec"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// runReader sequentially decodes one spilled sorted run.
type runReader struct {
	r    *bufio.Reader
	head *tuple.Tuple
}

func newRunReader(f *os.File) (*runReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Trace(err)
	}
	rr := &runReader{r: bufio.NewReader(f)}
	if err := rr.advance(); err != nil {
		return nil, errors.Trace(err)
	}
	return rr, nil
}

func (rr *runReader) advance() error {
	n, err := binary.ReadUvarint(rr.r)
	if err == io.EOF {
		rr.head = nil
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(rr.r, body); err != nil {
		return errors.Trace(err)
	}
	t, _, err := codec.DecodeTuple(body)
	if err != nil {
		return errors.Trace(err)
	}
	rr.head = t
	return nil
}

// mergeHeap is a min-heap of run readers keyed by their head tuples.
type mergeHeap struct {
	readers []*runReader
	cmp     Comparator
	err     error
}

func (h *mergeHeap) Len() int { return len(h.readers) }

func (h *mergeHeap) Less(i, j int) bool {
	c, err := h.cmp(h.readers[i].head, h.readers[j].head)
	if err != nil && h.err == nil {
		h.err = err
	}
	return c < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.readers[i], h.readers[j] = h.readers[j], h.readers[i]
}

func (h *mergeHeap) Push(x interface{}) {
	h.readers = append(h.readers, x.(*runReader))
}

func (h *mergeHeap) Pop() interface{} {
	n := len(h.readers)
	x := h.readers[n-1]
	h.readers = h.readers[:n-1]
	return x
}

// mergeRuns merges the spilled runs plus the in-memory tail into the output
// store.
func (s *Sorter) mergeRuns() error {
	if len(s.cur) > 0 {
		if err := s.dumpRun(); err != nil {
			return errors.Trace(err)
		}
	}
	h := &mergeHeap{cmp: s.cmp}
	for _, f := range s.runs {
		rr, err := newRunReader(f)
		if err != nil {
			return errors.Trace(err)
		}
		if rr.head != nil {
			h.readers = append(h.readers, rr)
		}
	}
	heap.Init(h)
	if h.err != nil {
		return errors.Trace(h.err)
	}
	out := tuplestore.New(s.workMem, s.tempDir)
	for h.Len() > 0 {
		rr := h.readers[0]
		if err := out.Put(rr.head); err != nil {
			out.End()
			return errors.Trace(err)
		}
		if err := rr.advance(); err != nil {
			out.End()
			return errors.Trace(err)
		}
		if rr.head == nil {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
		if h.err != nil {
			out.End()
			return errors.Trace(h.err)
		}
	}
	s.out = out
	return nil
}
