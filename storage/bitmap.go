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

package storage

import (
	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/cascadedb/cascade/tuple"
)

// TIDBitmap is a set of tuple identifiers, produced by bitmap index scans
// and combined by BitmapAnd/BitmapOr before the heap fetch.
type TIDBitmap struct {
	bits *roaring64.Bitmap
}

// NewTIDBitmap creates an empty bitmap.
func NewTIDBitmap() *TIDBitmap {
	return &TIDBitmap{bits: roaring64.New()}
}

// Add inserts a tid.
func (b *TIDBitmap) Add(tid tuple.ItemPointer) {
	b.bits.Add(tid.Encode())
}

// Contains reports membership.
func (b *TIDBitmap) Contains(tid tuple.ItemPointer) bool {
	return b.bits.Contains(tid.Encode())
}

// IsEmpty reports whether the bitmap has no members.
func (b *TIDBitmap) IsEmpty() bool {
	return b.bits.IsEmpty()
}

// Count returns the number of members.
func (b *TIDBitmap) Count() uint64 {
	return b.bits.GetCardinality()
}

// And intersects other into b.
func (b *TIDBitmap) And(other *TIDBitmap) {
	b.bits.And(other.bits)
}

// Or unions other into b.
func (b *TIDBitmap) Or(other *TIDBitmap) {
	b.bits.Or(other.bits)
}

// Iterator returns a cursor over the members in tid order.
func (b *TIDBitmap) Iterator() *TIDBitmapIterator {
	return &TIDBitmapIterator{it: b.bits.Iterator()}
}

// TIDBitmapIterator walks a TIDBitmap in ascending tid order.
type TIDBitmapIterator struct {
	it roaring64.IntIterable64
}

// Next returns the next tid; ok is false at the end.
func (it *TIDBitmapIterator) Next() (tid tuple.ItemPointer, ok bool) {
	if !it.it.HasNext() {
		return tuple.ItemPointer{}, false
	}
	return tuple.DecodeItemPointer(it.it.Next()), true
}
