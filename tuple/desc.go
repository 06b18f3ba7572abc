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
	"github.com/cascadedb/cascade/types"
)

// ColumnInfo describes one attribute of a tuple descriptor.
type ColumnInfo struct {
	Name    string
	Type    *types.FieldType
	NotNull bool
}

// Desc is an ordered tuple descriptor.
type Desc struct {
	Cols []ColumnInfo
}

// NewDesc creates a descriptor from columns.
func NewDesc(cols ...ColumnInfo) *Desc {
	return &Desc{Cols: cols}
}

// Len returns the number of attributes.
func (d *Desc) Len() int {
	return len(d.Cols)
}

// ColIndex returns the position of the named attribute, or -1.
func (d *Desc) ColIndex(name string) int {
	for i := range d.Cols {
		if d.Cols[i].Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two descriptors carry identical attribute metadata.
func (d *Desc) Equal(other *Desc) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.Cols) != len(other.Cols) {
		return false
	}
	for i := range d.Cols {
		a, b := &d.Cols[i], &other.Cols[i]
		if a.Name != b.Name || a.NotNull != b.NotNull || !a.Type.Equal(b.Type) {
			return false
		}
	}
	return true
}

// Clone returns a copy of the descriptor.
func (d *Desc) Clone() *Desc {
	cols := make([]ColumnInfo, len(d.Cols))
	copy(cols, d.Cols)
	return &Desc{Cols: cols}
}
