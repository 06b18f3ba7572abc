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

// Package codec serializes datums and tuples, for group keys and for
// spilling row stores to disk.
package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// EncodeValue appends the encoded form of the datums to buf. The encoding
// is self-delimiting and distinguishes kinds, so it can serve as a group
// key.
func EncodeValue(buf []byte, vals ...types.Datum) []byte {
	for _, v := range vals {
		buf = append(buf, byte(v.Kind()))
		switch v.Kind() {
		case types.KindNull:
		case types.KindString, types.KindBytes:
			b := v.GetBytes()
			buf = binary.AppendUvarint(buf, uint64(len(b)))
			buf = append(buf, b...)
		case types.KindFloat64:
			buf = binary.AppendUvarint(buf, math.Float64bits(v.GetFloat64()))
		case types.KindList:
			l := v.GetList()
			buf = binary.AppendUvarint(buf, uint64(len(l)))
			buf = EncodeValue(buf, l...)
		default:
			buf = binary.AppendVarint(buf, v.GetInt64())
		}
	}
	return buf
}

// DecodeValue decodes n datums from buf, returning the remainder.
func DecodeValue(buf []byte, n int) ([]types.Datum, []byte, error) {
	vals := make([]types.Datum, 0, n)
	for i := 0; i < n; i++ {
		if len(buf) == 0 {
			return nil, nil, errors.New("codec: short buffer")
		}
		kind := types.Kind(buf[0])
		buf = buf[1:]
		switch kind {
		case types.KindNull:
			vals = append(vals, types.Datum{})
		case types.KindString, types.KindBytes:
			l, sz := binary.Uvarint(buf)
			if sz <= 0 || uint64(len(buf)-sz) < l {
				return nil, nil, errors.New("codec: corrupt varlena")
			}
			b := append([]byte(nil), buf[sz:sz+int(l)]...)
			buf = buf[sz+int(l):]
			if kind == types.KindString {
				vals = append(vals, types.NewStringDatum(string(b)))
			} else {
				vals = append(vals, types.NewBytesDatum(b))
			}
		case types.KindFloat64:
			u, sz := binary.Uvarint(buf)
			if sz <= 0 {
				return nil, nil, errors.New("codec: corrupt double")
			}
			buf = buf[sz:]
			vals = append(vals, types.NewFloat64Datum(math.Float64frombits(u)))
		case types.KindList:
			l, sz := binary.Uvarint(buf)
			if sz <= 0 {
				return nil, nil, errors.New("codec: corrupt list")
			}
			elems, rest, err := DecodeValue(buf[sz:], int(l))
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			buf = rest
			vals = append(vals, types.NewListDatum(elems))
		default:
			v, sz := binary.Varint(buf)
			if sz <= 0 {
				return nil, nil, errors.New("codec: corrupt integer")
			}
			buf = buf[sz:]
			switch kind {
			case types.KindInt64:
				vals = append(vals, types.NewIntDatum(v))
			case types.KindUint64:
				vals = append(vals, types.NewUintDatum(uint64(v)))
			case types.KindBool:
				vals = append(vals, types.NewBoolDatum(v != 0))
			case types.KindInterval:
				vals = append(vals, types.NewIntervalDatum(time.Duration(v)*time.Microsecond))
			default:
				return nil, nil, errors.Errorf("codec: unknown kind %d", kind)
			}
		}
	}
	return vals, buf, nil
}

// EncodeTuple appends the encoded tuple (self tid plus values) to buf.
func EncodeTuple(buf []byte, t *tuple.Tuple) []byte {
	buf = binary.AppendUvarint(buf, t.Self.Encode())
	buf = binary.AppendUvarint(buf, uint64(len(t.Values)))
	return EncodeValue(buf, t.Values...)
}

// DecodeTuple decodes one tuple from buf, returning the remainder.
func DecodeTuple(buf []byte) (*tuple.Tuple, []byte, error) {
	self, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, nil, errors.New("codec: corrupt tuple header")
	}
	buf = buf[sz:]
	n, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, nil, errors.New("codec: corrupt tuple arity")
	}
	buf = buf[sz:]
	vals, rest, err := DecodeValue(buf, int(n))
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	t := tuple.NewTuple(vals...)
	t.Self = tuple.DecodeItemPointer(self)
	return t, rest, nil
}
