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

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
)

// Kind enumerates the value kinds a Datum can hold.
type Kind byte

// Datum kinds.
const (
	KindNull Kind = iota
	KindInt64
	KindUint64
	KindFloat64
	KindString
	KindBytes
	KindBool
	// KindInterval is a time interval stored as microseconds.
	KindInterval
	// KindList is an ordered list of datums, the result shape of the
	// multi-fraction percentile finalizers.
	KindList
)

// String implements fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "bigint"
	case KindUint64:
		return "bigint unsigned"
	case KindFloat64:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	case KindInterval:
		return "interval"
	case KindList:
		return "list"
	}
	return strconv.Itoa(int(k))
}

// Datum is a single typed value. The zero Datum is NULL.
type Datum struct {
	k    Kind
	i    int64
	f    float64
	b    []byte
	list []Datum
}

// NewIntDatum creates a Datum from an int64.
func NewIntDatum(i int64) Datum {
	return Datum{k: KindInt64, i: i}
}

// NewUintDatum creates a Datum from a uint64.
func NewUintDatum(u uint64) Datum {
	return Datum{k: KindUint64, i: int64(u)}
}

// NewFloat64Datum creates a Datum from a float64.
func NewFloat64Datum(f float64) Datum {
	return Datum{k: KindFloat64, f: f}
}

// NewStringDatum creates a Datum from a string.
func NewStringDatum(s string) Datum {
	return Datum{k: KindString, b: []byte(s)}
}

// NewBytesDatum creates a Datum from a byte slice.
func NewBytesDatum(b []byte) Datum {
	return Datum{k: KindBytes, b: b}
}

// NewBoolDatum creates a Datum from a bool.
func NewBoolDatum(v bool) Datum {
	d := Datum{k: KindBool}
	if v {
		d.i = 1
	}
	return d
}

// NewIntervalDatum creates a Datum from a duration.
func NewIntervalDatum(d time.Duration) Datum {
	return Datum{k: KindInterval, i: d.Microseconds()}
}

// NewListDatum creates a Datum holding an ordered list of datums.
func NewListDatum(vals []Datum) Datum {
	return Datum{k: KindList, list: vals}
}

// Kind returns the datum kind.
func (d Datum) Kind() Kind {
	return d.k
}

// IsNull reports whether the datum is NULL.
func (d Datum) IsNull() bool {
	return d.k == KindNull
}

// GetInt64 returns the int64 value.
func (d Datum) GetInt64() int64 {
	return d.i
}

// GetUint64 returns the uint64 value.
func (d Datum) GetUint64() uint64 {
	return uint64(d.i)
}

// GetFloat64 returns the float64 value.
func (d Datum) GetFloat64() float64 {
	return d.f
}

// GetString returns the string value.
func (d Datum) GetString() string {
	return string(d.b)
}

// GetBytes returns the raw byte value.
func (d Datum) GetBytes() []byte {
	return d.b
}

// GetBool returns the bool value.
func (d Datum) GetBool() bool {
	return d.i != 0
}

// GetList returns the list value.
func (d Datum) GetList() []Datum {
	return d.list
}

// GetInterval returns the interval as a duration.
func (d Datum) GetInterval() time.Duration {
	return time.Duration(d.i) * time.Microsecond
}

// AsFloat64 converts a numeric or interval datum to float64.
func (d Datum) AsFloat64() (float64, error) {
	switch d.k {
	case KindInt64, KindBool, KindInterval:
		return float64(d.i), nil
	case KindUint64:
		return float64(uint64(d.i)), nil
	case KindFloat64:
		return d.f, nil
	}
	return 0, errors.Errorf("cannot convert %s to double", d.k)
}

// AsInt64 converts a numeric datum to int64.
func (d Datum) AsInt64() (int64, error) {
	switch d.k {
	case KindInt64, KindBool, KindInterval:
		return d.i, nil
	case KindUint64:
		u := uint64(d.i)
		if u > math.MaxInt64 {
			return 0, errors.Errorf("value %d overflows bigint", u)
		}
		return int64(u), nil
	case KindFloat64:
		return int64(d.f), nil
	}
	return 0, errors.Errorf("cannot convert %s to bigint", d.k)
}

// Compare compares two datums under a total order. NULL sorts before every
// non-NULL value. Numeric kinds compare by value across kinds.
func (d Datum) Compare(other Datum) (int, error) {
	if d.k == KindNull {
		if other.k == KindNull {
			return 0, nil
		}
		return -1, nil
	}
	if other.k == KindNull {
		return 1, nil
	}
	if d.isNumeric() && other.isNumeric() {
		a, err := d.AsFloat64()
		if err != nil {
			return 0, errors.Trace(err)
		}
		b, err := other.AsFloat64()
		if err != nil {
			return 0, errors.Trace(err)
		}
		return compareFloat64(a, b), nil
	}
	switch d.k {
	case KindString, KindBytes:
		if other.k == KindString || other.k == KindBytes {
			return compareBytes(d.b, other.b), nil
		}
	}
	return 0, errors.Errorf("cannot compare %s with %s", d.k, other.k)
}

func (d Datum) isNumeric() bool {
	switch d.k {
	case KindInt64, KindUint64, KindFloat64, KindBool, KindInterval:
		return true
	}
	return false
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// OutputForm returns the textual form of the datum, the analogue of calling
// the type's output function.
func (d Datum) OutputForm() string {
	switch d.k {
	case KindNull:
		return "NULL"
	case KindInt64:
		return strconv.FormatInt(d.i, 10)
	case KindUint64:
		return strconv.FormatUint(uint64(d.i), 10)
	case KindFloat64:
		return strconv.FormatFloat(d.f, 'g', -1, 64)
	case KindString, KindBytes:
		return string(d.b)
	case KindBool:
		if d.i != 0 {
			return "true"
		}
		return "false"
	case KindInterval:
		return d.GetInterval().String()
	case KindList:
		elems := make([]string, len(d.list))
		for i, e := range d.list {
			elems[i] = e.OutputForm()
		}
		return "{" + strings.Join(elems, ",") + "}"
	}
	return fmt.Sprintf("<unknown kind %d>", d.k)
}

// RawBytes returns the raw value bytes used for hashing. Fixed-width values
// are encoded little-endian; variable-length values are returned without any
// length header. NULL returns nil.
func (d Datum) RawBytes() []byte {
	switch d.k {
	case KindNull:
		return nil
	case KindInt64, KindUint64, KindBool, KindInterval:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(d.i))
		return buf[:]
	case KindFloat64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(d.f))
		return buf[:]
	case KindString, KindBytes:
		return d.b
	}
	return nil
}

// Clone returns a deep copy of the datum.
func (d Datum) Clone() Datum {
	nd := d
	if d.b != nil {
		nd.b = append([]byte(nil), d.b...)
	}
	if d.list != nil {
		nd.list = make([]Datum, len(d.list))
		for i := range d.list {
			nd.list[i] = d.list[i].Clone()
		}
	}
	return nd
}
