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

// Package memheap is the bundled in-memory implementation of the storage
// API: paged heap tables with pin accounting, plus btree indexes.
package memheap

import (
	"sync"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
)

// pageCap is the number of line pointers per page.
const pageCap = 64

// Page holds up to pageCap tuples and a pin count. A nil entry is a deleted
// line pointer.
type Page struct {
	mu     sync.Mutex
	tuples []*tuple.Tuple
	pins   int
}

// PinCount returns the current pin count, for invariant checks in tests.
func (p *Page) PinCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins
}

func (p *Page) pin() tuple.Pin {
	p.mu.Lock()
	p.pins++
	p.mu.Unlock()
	return &pagePin{page: p}
}

type pagePin struct {
	page     *Page
	released bool
}

// Release implements tuple.Pin interface. A second release of the same pin
// is a no-op.
func (pp *pagePin) Release() {
	if pp.released {
		return
	}
	pp.released = true
	pp.page.mu.Lock()
	pp.page.pins--
	pp.page.mu.Unlock()
}

// Table is an in-memory heap relation.
type Table struct {
	mu       sync.RWMutex
	name     string
	desc     *tuple.Desc
	sequence bool
	pages    []*Page
	indexes  []storage.Index

	lock sync.Mutex // relation-level write lock
}

var _ storage.Relation = (*Table)(nil)

// Name implements storage.Relation interface.
func (t *Table) Name() string {
	return t.name
}

// Desc implements storage.Relation interface.
func (t *Table) Desc() *tuple.Desc {
	return t.desc
}

// IsSequence implements storage.Relation interface.
func (t *Table) IsSequence() bool {
	return t.sequence
}

// Indexes implements storage.Relation interface.
func (t *Table) Indexes() []storage.Index {
	return t.indexes
}

// LockExclusive implements storage.Relation interface.
func (t *Table) LockExclusive() {
	t.lock.Lock()
}

// Unlock implements storage.Relation interface.
func (t *Table) Unlock() {
	t.lock.Unlock()
}

// Page returns the page at block, or nil.
func (t *Table) Page(block uint32) *Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(block) >= len(t.pages) {
		return nil
	}
	return t.pages[block]
}

// Insert implements storage.Relation interface.
func (t *Table) Insert(tup *tuple.Tuple) (tuple.ItemPointer, error) {
	t.mu.Lock()
	if len(t.pages) == 0 || len(t.pages[len(t.pages)-1].tuples) >= pageCap {
		t.pages = append(t.pages, &Page{})
	}
	pg := t.pages[len(t.pages)-1]
	pg.tuples = append(pg.tuples, tup)
	tid := tuple.ItemPointer{
		Block:  uint32(len(t.pages) - 1),
		Offset: uint16(len(pg.tuples)),
	}
	tup.Self = tid
	t.mu.Unlock()
	return tid, nil
}

// Delete implements storage.Relation interface.
func (t *Table) Delete(tid tuple.ItemPointer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pg, idx, err := t.locate(tid)
	if err != nil {
		return errors.Trace(err)
	}
	pg.tuples[idx] = nil
	return nil
}

// Replace implements storage.Relation interface.
func (t *Table) Replace(tid tuple.ItemPointer, tup *tuple.Tuple) (tuple.ItemPointer, error) {
	if err := t.Delete(tid); err != nil {
		return tuple.ItemPointer{}, errors.Trace(err)
	}
	newTID, err := t.Insert(tup)
	return newTID, errors.Trace(err)
}

// Fetch implements storage.Relation interface.
func (t *Table) Fetch(tid tuple.ItemPointer, snap storage.Snapshot) (*tuple.Tuple, tuple.Pin, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pg, idx, err := t.locate(tid)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	tup := pg.tuples[idx]
	if tup == nil || (snap != nil && !snap.Visible(tup)) {
		return nil, nil, storage.ErrTupleNotFound.Gen("no tuple at %s", tid)
	}
	return tup, pg.pin(), nil
}

// locate resolves a tid; the caller holds the table mutex.
func (t *Table) locate(tid tuple.ItemPointer) (*Page, int, error) {
	if !tid.Valid() || int(tid.Block) >= len(t.pages) {
		return nil, 0, storage.ErrTupleNotFound.Gen("no tuple at %s", tid)
	}
	pg := t.pages[tid.Block]
	idx := int(tid.Offset) - 1
	if idx >= len(pg.tuples) {
		return nil, 0, storage.ErrTupleNotFound.Gen("no tuple at %s", tid)
	}
	return pg, idx, nil
}

// BeginScan implements storage.Relation interface.
func (t *Table) BeginScan(snap storage.Snapshot) (storage.HeapScan, error) {
	return &heapScan{tbl: t, snap: snap, cur: -1, mark: -1}, nil
}

// DB is an in-memory catalog of heap tables.
type DB struct {
	mu     sync.Mutex
	tables map[string]*Table
}

var _ storage.Catalog = (*DB)(nil)

// NewDB creates an empty catalog.
func NewDB() *DB {
	return &DB{tables: make(map[string]*Table)}
}

// Relation implements storage.Catalog interface.
func (db *DB) Relation(name string) (storage.Relation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, storage.ErrRelationNotFound.Gen("relation %q does not exist", name)
	}
	return t, nil
}

// CreateRelation implements storage.Catalog interface.
func (db *DB) CreateRelation(name string, desc *tuple.Desc) (storage.Relation, error) {
	return db.CreateTable(name, desc)
}

// CreateTable creates a heap table.
func (db *DB) CreateTable(name string, desc *tuple.Desc, opts ...TableOption) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; ok {
		return nil, storage.ErrDuplicateRelation.Gen("relation %q already exists", name)
	}
	t := &Table{name: name, desc: desc}
	for _, opt := range opts {
		opt(t)
	}
	db.tables[name] = t
	return t, nil
}

// TableOption configures table creation.
type TableOption func(*Table)

// AsSequence marks the table as a sequence relation.
func AsSequence() TableOption {
	return func(t *Table) { t.sequence = true }
}

// WithIndex attaches a btree index over the given key column.
func WithIndex(name string, keyCol int) TableOption {
	return func(t *Table) {
		t.indexes = append(t.indexes, newBTreeIndex(name, keyCol))
	}
}
