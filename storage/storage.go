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

// Package storage defines the narrow relation/scan/tuple API the executor
// consumes from the storage layer, together with small shared pieces (TID
// bitmaps, advisory locks). The bundled memheap subpackage implements it
// over paged in-memory storage.
package storage

import (
	"github.com/cascadedb/cascade/terror"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// Error codes.
const (
	CodeRelationNotFound terror.ErrCode = iota + 1
	CodeTupleNotFound
	CodeDuplicateRelation
)

// Error instances.
var (
	ErrRelationNotFound  = terror.ClassStorage.New(CodeRelationNotFound, "relation not found")
	ErrTupleNotFound     = terror.ClassStorage.New(CodeTupleNotFound, "tuple not found")
	ErrDuplicateRelation = terror.ClassStorage.New(CodeDuplicateRelation, "relation already exists")
)

// ScanDirection is the direction of a scan.
type ScanDirection int

// Scan directions.
const (
	Backward   ScanDirection = -1
	NoMovement ScanDirection = 0
	Forward    ScanDirection = 1
)

// Reverse flips the direction.
func (d ScanDirection) Reverse() ScanDirection {
	return -d
}

// Snapshot filters tuple visibility for one execution.
type Snapshot interface {
	Visible(t *tuple.Tuple) bool
}

// currentSnapshot sees every stored tuple.
type currentSnapshot struct{}

// Visible implements Snapshot interface.
func (currentSnapshot) Visible(*tuple.Tuple) bool {
	return true
}

// CurrentSnapshot returns the snapshot that sees all committed tuples.
func CurrentSnapshot() Snapshot {
	return currentSnapshot{}
}

// Relation is an open table handle.
type Relation interface {
	Name() string
	Desc() *tuple.Desc
	// IsSequence marks sequence relations, which the executor refuses to
	// modify.
	IsSequence() bool

	BeginScan(snap Snapshot) (HeapScan, error)
	// Fetch returns the tuple at tid with a pin on its page. The caller
	// releases the pin through the slot holding it.
	Fetch(tid tuple.ItemPointer, snap Snapshot) (*tuple.Tuple, tuple.Pin, error)

	Insert(t *tuple.Tuple) (tuple.ItemPointer, error)
	Delete(tid tuple.ItemPointer) error
	// Replace deletes the tuple at tid and stores t, returning the new tid.
	Replace(tid tuple.ItemPointer, t *tuple.Tuple) (tuple.ItemPointer, error)

	Indexes() []Index

	// LockExclusive takes the relation write lock; Unlock releases it. Start
	// locks the result relation before any scan can elevate a read lock.
	LockExclusive()
	Unlock()
}

// HeapScan is a heap cursor. Next returns nil at end of scan in the given
// direction.
type HeapScan interface {
	Next(dir ScanDirection) (*tuple.Tuple, tuple.Pin, error)
	Rescan() error
	MarkPos()
	RestorePos()
	Close()
}

// Index is an open index handle over a single key column.
type Index interface {
	Name() string
	// KeyColumn is the position of the indexed attribute in the relation
	// descriptor.
	KeyColumn() int
	Insert(key types.Datum, tid tuple.ItemPointer) error
	Delete(key types.Datum, tid tuple.ItemPointer) error
	// BeginScan returns an index cursor over [low, high]. A nil bound is
	// unbounded; the inclusive flags apply to non-nil bounds.
	BeginScan(low, high *types.Datum, lowInc, highInc bool) (IndexScan, error)
}

// IndexScan is an index cursor yielding (key, tid) pairs in key order.
type IndexScan interface {
	Next(dir ScanDirection) (key types.Datum, tid tuple.ItemPointer, ok bool, err error)
	Close()
}

// Catalog resolves relation names to open relations.
type Catalog interface {
	Relation(name string) (Relation, error)
	CreateRelation(name string, desc *tuple.Desc) (Relation, error)
}
