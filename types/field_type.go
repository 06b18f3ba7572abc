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

package types

// FieldType describes the type of a column or expression result.
type FieldType struct {
	Kind      Kind
	Typmod    int32
	Collation string
}

// NewFieldType creates a FieldType with the given kind and no modifier.
func NewFieldType(k Kind) *FieldType {
	return &FieldType{Kind: k, Typmod: -1}
}

// Equal reports whether two field types carry identical metadata.
func (ft *FieldType) Equal(other *FieldType) bool {
	if ft == nil || other == nil {
		return ft == other
	}
	return ft.Kind == other.Kind && ft.Typmod == other.Typmod && ft.Collation == other.Collation
}

// ByValue reports whether values of the type are fixed width and copied by
// value, as opposed to varlena values referenced through a pointer.
func (ft *FieldType) ByValue() bool {
	switch ft.Kind {
	case KindString, KindBytes:
		return false
	}
	return true
}

// Len returns the storage width in bytes, or -1 for variable length.
func (ft *FieldType) Len() int {
	switch ft.Kind {
	case KindString, KindBytes:
		return -1
	case KindBool:
		return 1
	}
	return 8
}
