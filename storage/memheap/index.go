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
	"sync"

	"github.com/google/btree"
	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

type indexItem struct {
	key types.Datum
	tid tuple.ItemPointer
}

func indexItemLess(a, b indexItem) bool {
	cmp, err := a.key.Compare(b.key)
	if err != nil {
		// Index keys are homogeneous by construction; a mixed-kind key is a
		// catalog bug.
		panic(errors.Annotate(err, "index key comparison"))
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.tid.Less(b.tid)
}

// btreeIndex is a single-column ordered index over google/btree.
type btreeIndex struct {
	mu     sync.RWMutex
	name   string
	keyCol int
	tree   *btree.BTreeG[indexItem]
}

var _ storage.Index = (*btreeIndex)(nil)

func newBTreeIndex(name string, keyCol int) *btreeIndex {
	return &btreeIndex{
		name:   name,
		keyCol: keyCol,
		tree:   btree.NewG[indexItem](8, indexItemLess),
	}
}

// Name implements storage.Index interface.
func (ix *btreeIndex) Name() string {
	return ix.name
}

// KeyColumn implements storage.Index interface.
func (ix *btreeIndex) KeyColumn() int {
	return ix.keyCol
}

// Insert implements storage.Index interface.
func (ix *btreeIndex) Insert(key types.Datum, tid tuple.ItemPointer) error {
	ix.mu.Lock()
	ix.tree.ReplaceOrInsert(indexItem{key: key, tid: tid})
	ix.mu.Unlock()
	return nil
}

// Delete implements storage.Index interface.
func (ix *btreeIndex) Delete(key types.Datum, tid tuple.ItemPointer) error {
	ix.mu.Lock()
	ix.tree.Delete(indexItem{key: key, tid: tid})
	ix.mu.Unlock()
	return nil
}

// BeginScan implements storage.Index interface. The cursor sees the index
// as of the call.
func (ix *btreeIndex) BeginScan(low, high *types.Datum, lowInc, highInc bool) (storage.IndexScan, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var items []indexItem
	var scanErr error
	ix.tree.Ascend(func(it indexItem) bool {
		if low != nil {
			cmp, err := it.key.Compare(*low)
			if err != nil {
				scanErr = errors.Trace(err)
				return false
			}
			if cmp < 0 || (cmp == 0 && !lowInc) {
				return true
			}
		}
		if high != nil {
			cmp, err := it.key.Compare(*high)
			if err != nil {
				scanErr = errors.Trace(err)
				return false
			}
			if cmp > 0 || (cmp == 0 && !highInc) {
				return false
			}
		}
		items = append(items, it)
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return &indexScan{items: items, cur: -1}, nil
}

// indexScan walks a materialized key range in either direction.
type indexScan struct {
	items []indexItem
	cur   int
}

// Next implements storage.IndexScan interface.
func (s *indexScan) Next(dir storage.ScanDirection) (types.Datum, tuple.ItemPointer, bool, error) {
	if dir == storage.Backward && s.cur < 0 {
		s.cur = len(s.items)
	}
	s.cur += int(dir)
	if s.cur < 0 || s.cur >= len(s.items) {
		if s.cur < 0 {
			s.cur = -1
		} else {
			s.cur = len(s.items)
		}
		return types.Datum{}, tuple.ItemPointer{}, false, nil
	}
	it := s.items[s.cur]
	return it.key, it.tid, true, nil
}

// Close implements storage.IndexScan interface.
func (s *indexScan) Close() {}
