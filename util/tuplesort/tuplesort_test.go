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

package tuplesort

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

func intComparator(a, b *tuple.Tuple) (int, error) {
	return a.Values[0].Compare(b.Values[0])
}

func newIntSorter(t *testing.T, workMem int64, vals ...int64) *Sorter {
	t.Helper()
	s := New(intComparator, workMem, t.TempDir())
	for _, v := range vals {
		require.NoError(t, s.PutDatum(types.NewIntDatum(v)))
	}
	return s
}

func drain(t *testing.T, s *Sorter) []int64 {
	t.Helper()
	var got []int64
	for {
		d, ok, err := s.GetDatum(storage.Forward)
		require.NoError(t, err)
		if !ok {
			return got
		}
		got = append(got, d.GetInt64())
	}
}

func TestSortInMemory(t *testing.T) {
	s := newIntSorter(t, 0, 3, 1, 4, 1, 5, 9, 2, 6)
	defer s.End()
	require.NoError(t, s.PerformSort())
	require.Equal(t, 8, s.Len())
	require.Equal(t, []int64{1, 1, 2, 3, 4, 5, 6, 9}, drain(t, s))

	// Backward reads walk back over the sorted order.
	d, ok, err := s.GetDatum(storage.Backward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), d.GetInt64())
}

func TestSortEmpty(t *testing.T) {
	s := newIntSorter(t, 0)
	defer s.End()
	require.NoError(t, s.PerformSort())
	require.Equal(t, 0, s.Len())
	require.Nil(t, drain(t, s))
}

func TestSortSpilledRuns(t *testing.T) {
	vals := make([]int64, 0, 200)
	for i := 0; i < 200; i++ {
		vals = append(vals, int64((i*7919)%200))
	}
	// A small budget forces several spilled runs and a disk merge.
	s := newIntSorter(t, 256, vals...)
	defer s.End()
	require.NoError(t, s.PerformSort())
	got := drain(t, s)
	require.Len(t, got, 200)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestSortSkipAndMark(t *testing.T) {
	s := newIntSorter(t, 0, 5, 4, 3, 2, 1)
	defer s.End()
	require.NoError(t, s.PerformSort())

	require.NoError(t, s.SkipTuples(2))
	d, ok, err := s.GetDatum(storage.Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), d.GetInt64())

	s.MarkPos()
	_, _, err = s.GetDatum(storage.Forward)
	require.NoError(t, err)
	s.RestorePos()
	d, ok, err = s.GetDatum(storage.Forward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), d.GetInt64())

	s.Rescan()
	require.Equal(t, []int64{1, 2, 3, 4, 5}, drain(t, s))
}

func TestPutAfterPerformSort(t *testing.T) {
	s := newIntSorter(t, 0, 1)
	defer s.End()
	require.NoError(t, s.PerformSort())
	require.Error(t, s.Put(tuple.NewTuple(types.NewIntDatum(2))))
}
