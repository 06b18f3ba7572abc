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
	"fmt"
)

// ItemPointer identifies a physical tuple by page and line number. It is the
// value carried by the ctid junk attribute.
type ItemPointer struct {
	Block  uint32
	Offset uint16
}

// Valid reports whether the pointer names a real item. Offset zero is the
// invalid sentinel.
func (ip ItemPointer) Valid() bool {
	return ip.Offset != 0
}

// Next returns the pointer one item forward.
func (ip ItemPointer) Next() ItemPointer {
	ip.Offset++
	return ip
}

// Prev returns the pointer one item backward.
func (ip ItemPointer) Prev() ItemPointer {
	if ip.Offset > 0 {
		ip.Offset--
	}
	return ip
}

// Less orders item pointers by (block, offset).
func (ip ItemPointer) Less(other ItemPointer) bool {
	if ip.Block != other.Block {
		return ip.Block < other.Block
	}
	return ip.Offset < other.Offset
}

// Encode packs the pointer into a uint64 preserving order.
func (ip ItemPointer) Encode() uint64 {
	return uint64(ip.Block)<<16 | uint64(ip.Offset)
}

// DecodeItemPointer unpacks a pointer encoded by Encode.
func DecodeItemPointer(v uint64) ItemPointer {
	return ItemPointer{Block: uint32(v >> 16), Offset: uint16(v)}
}

// String implements fmt.Stringer interface.
func (ip ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", ip.Block, ip.Offset)
}
