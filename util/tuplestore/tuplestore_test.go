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

package tuplestore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fill(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Put(tuple.NewTuple(types.NewIntDatum(int64(i)))))
	}
}

func readInt(t *testing.T, s *Store, dir storage.ScanDirection) (int64, bool) {
	t.Helper()
	tup, err := s.Get(dir)
	require.NoError(t, err)
	if tup == nil {
		return 0, false
	}
	return tup.Values[0].GetInt64(), true
}

func TestStoreForwardBackward(t *testing.T) {
	s := New(0, "")
	defer s.End()
	fill(t, s, 3)
	require.Equal(t, 3, s.Len())

	for want := int64(0); want < 3; want++ {
		v, ok := readInt(t, s, storage.Forward)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok := readInt(t, s, storage.Forward)
	require.False(t, ok)
	require.True(t, s.AtEnd())

	// Backward walks the same rows in reverse.
	for want := int64(2); want >= 0; want-- {
		v, ok := readInt(t, s, storage.Backward)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok = readInt(t, s, storage.Backward)
	require.False(t, ok)
}

func TestStoreReadPointers(t *testing.T) {
	s := New(0, "")
	defer s.End()
	fill(t, s, 4)

	other := s.AllocReadPointer()

	v, ok := readInt(t, s, storage.Forward)
	require.True(t, ok)
	require.Equal(t, int64(0), v)

	// The second pointer is independent of the first.
	s.SelectReadPointer(other)
	v, ok = readInt(t, s, storage.Forward)
	require.True(t, ok)
	require.Equal(t, int64(0), v)
	require.True(t, s.Advance(storage.Forward))

	s.SelectReadPointer(0)
	v, ok = readInt(t, s, storage.Forward)
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

func TestStoreMarkRestore(t *testing.T) {
	s := New(0, "")
	defer s.End()
	fill(t, s, 5)

	_, _ = readInt(t, s, storage.Forward)
	s.MarkPos()
	_, _ = readInt(t, s, storage.Forward)
	_, _ = readInt(t, s, storage.Forward)

	s.RestorePos()
	v, ok := readInt(t, s, storage.Forward)
	require.True(t, ok)
	require.Equal(t, int64(1), v)

	s.Rescan()
	v, ok = readInt(t, s, storage.Forward)
	require.True(t, ok)
	require.Equal(t, int64(0), v)
}

func TestStoreSpill(t *testing.T) {
	// A tiny budget forces the spill path immediately.
	s := New(64, t.TempDir())
	defer s.End()
	fill(t, s, 50)
	require.Equal(t, 50, s.Len())

	for want := int64(0); want < 50; want++ {
		v, ok := readInt(t, s, storage.Forward)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok := readInt(t, s, storage.Forward)
	require.False(t, ok)

	v, ok := readInt(t, s, storage.Backward)
	require.True(t, ok)
	require.Equal(t, int64(49), v)

	// End twice is safe and removes the spill file.
	s.End()
	s.End()
	require.Error(t, s.Put(tuple.NewTuple(types.NewIntDatum(1))))
}
