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

package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/storage/memheap"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

func TestNestLoopParameterizedRescan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "outer_t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2),
	})
	udesc := intDesc("x", "y")
	udesc.Cols[1].Type = types.NewFieldType(types.KindString)
	makeTable(t, db, "u", udesc, [][]types.Datum{
		{types.NewIntDatum(1), types.NewStringDatum("a")},
		{types.NewIntDatum(1), types.NewStringDatum("b")},
		{types.NewIntDatum(2), types.NewStringDatum("c")},
	})

	outer := &plan.SeqScan{RTIndex: 0}
	outer.Targets = scanTargets("a")

	// The inner scan filters on the current outer tuple.
	inner := &plan.SeqScan{RTIndex: 1}
	inner.Targets = scanTargets("x", "y")
	inner.Qual = []expression.Expression{
		expression.NewFunc(expression.OpEQ, scanCol(0, "x"), outerCol(0, "a")),
	}

	join := &plan.NestLoop{}
	join.Left = outer
	join.Right = inner
	join.Targets = []*plan.TargetEntry{
		te("a", outerCol(0, "a")),
		te("y", innerCol(1, "y")),
	}

	rows := runStmt(t, db, selectStmt(join, "outer_t", "u"))
	require.Len(t, rows, 3)
	require.Equal(t, []int64{1, 1, 2}, col0Ints(rows))
	require.Equal(t, "a", rows[0].Values[1].GetString())
	require.Equal(t, "b", rows[1].Values[1].GetString())
	require.Equal(t, "c", rows[2].Values[1].GetString())
}

func TestNestLoopLeftOuter(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		intRow(2),
	})

	outer := &plan.SeqScan{RTIndex: 0}
	outer.Targets = scanTargets("a")
	inner := &plan.SeqScan{RTIndex: 1}
	inner.Targets = scanTargets("b")

	join := &plan.NestLoop{Join: plan.LeftOuterJoin}
	join.Left = outer
	join.Right = inner
	join.JoinQual = []expression.Expression{
		expression.NewFunc(expression.OpEQ, outerCol(0, "a"), innerCol(0, "b")),
	}
	join.Targets = []*plan.TargetEntry{
		te("a", outerCol(0, "a")),
		te("b", innerCol(0, "b")),
	}

	rows := runStmt(t, db, selectStmt(join, "l", "r"))
	require.Equal(t, []int64{1, 2, 3}, col0Ints(rows))
	require.True(t, rows[0].Values[1].IsNull())
	require.Equal(t, int64(2), rows[1].Values[1].GetInt64())
	require.True(t, rows[2].Values[1].IsNull())
}

// mergePlan builds the standard test merge join over two single-column
// sorted tables.
func mergePlan(joinType plan.JoinType) *plan.MergeJoin {
	outer := &plan.SeqScan{RTIndex: 0}
	outer.Targets = scanTargets("a")
	inner := &plan.SeqScan{RTIndex: 1}
	inner.Targets = scanTargets("b")

	join := &plan.MergeJoin{
		Join: joinType,
		Clauses: []plan.MergeClause{
			{OuterKey: outerCol(0, "a"), InnerKey: innerCol(0, "b")},
		},
	}
	join.Left = outer
	join.Right = inner
	join.Targets = []*plan.TargetEntry{
		te("a", outerCol(0, "a")),
		te("b", innerCol(0, "b")),
	}
	return join
}

func TestMergeJoinDuplicates(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(1), intRow(2), intRow(3),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		intRow(1), intRow(1), intRow(2), intRow(2), intRow(4),
	})

	rows := runStmt(t, db, selectStmt(mergePlan(plan.InnerJoin), "l", "r"))
	// 2 outer 1s x 2 inner 1s + 1 outer 2 x 2 inner 2s = 6 pairs.
	require.Len(t, rows, 6)

	// Every equal-key pair appears exactly once.
	counts := map[string]int{}
	for _, r := range rows {
		require.Equal(t, r.Values[0].GetInt64(), r.Values[1].GetInt64())
		counts[fmt.Sprint(r.Values[0].GetInt64())]++
	}
	require.Equal(t, map[string]int{"1": 4, "2": 2}, counts)
}

func TestMergeJoinLeftOuter(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		intRow(2), intRow(4),
	})

	rows := runStmt(t, db, selectStmt(mergePlan(plan.LeftOuterJoin), "l", "r"))
	require.Equal(t, []int64{1, 2, 3}, col0Ints(rows))
	require.True(t, rows[0].Values[1].IsNull())
	require.Equal(t, int64(2), rows[1].Values[1].GetInt64())
	require.True(t, rows[2].Values[1].IsNull())
}

func TestMergeJoinLeftOuterJoinQual(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		intRow(1), intRow(2),
	})

	join := mergePlan(plan.LeftOuterJoin)
	join.JoinQual = []expression.Expression{
		expression.NewFunc(expression.OpEQ, innerCol(0, "b"), cInt(999)),
	}

	// Every key matches a group, but no pair survives the extra qual: the
	// outer tuples still come out null-extended.
	rows := runStmt(t, db, selectStmt(join, "l", "r"))
	require.Equal(t, []int64{1, 2}, col0Ints(rows))
	for _, r := range rows {
		require.True(t, r.Values[1].IsNull())
	}
}

func TestMergeJoinLeftOuterJoinQualPartial(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		intRow(1), intRow(2), intRow(4),
	})

	join := mergePlan(plan.LeftOuterJoin)
	join.JoinQual = []expression.Expression{
		expression.NewFunc(expression.OpGE, innerCol(0, "b"), cInt(2)),
	}

	rows := runStmt(t, db, selectStmt(join, "l", "r"))
	require.Equal(t, []int64{1, 2, 3}, col0Ints(rows))
	require.True(t, rows[0].Values[1].IsNull())
	require.Equal(t, int64(2), rows[1].Values[1].GetInt64())
	require.True(t, rows[2].Values[1].IsNull())
}

func TestMergeJoinNullKeysNeverJoin(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a"), [][]types.Datum{
		{types.Datum{}}, intRow(1),
	})
	makeTable(t, db, "r", intDesc("b"), [][]types.Datum{
		{types.Datum{}}, intRow(1),
	})

	rows := runStmt(t, db, selectStmt(mergePlan(plan.InnerJoin), "l", "r"))
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Values[0].GetInt64())
}

func hashJoinPlan(joinType plan.JoinType) *plan.HashJoin {
	outer := &plan.SeqScan{RTIndex: 0}
	outer.Targets = scanTargets("a", "av")
	build := &plan.SeqScan{RTIndex: 1}
	build.Targets = scanTargets("b", "bv")

	hash := &plan.Hash{Key: scanCol(0, "b")}
	hash.Left = build

	join := &plan.HashJoin{
		Join:     joinType,
		OuterKey: outerCol(0, "a"),
		JoinQual: []expression.Expression{
			expression.NewFunc(expression.OpEQ, outerCol(0, "a"), innerCol(0, "b")),
		},
	}
	join.Left = outer
	join.Right = hash
	join.Targets = []*plan.TargetEntry{
		te("a", outerCol(0, "a")),
		te("av", outerCol(1, "av")),
		te("bv", innerCol(1, "bv")),
	}
	return join
}

func TestHashJoinMatchesExactly(t *testing.T) {
	db := memheap.NewDB()
	var outerRows, innerRows [][]types.Datum
	// Keys 0..9, three outer and two inner tuples per key.
	for k := int64(0); k < 10; k++ {
		for c := int64(0); c < 3; c++ {
			outerRows = append(outerRows, intRow(k, c))
		}
		for c := int64(0); c < 2; c++ {
			innerRows = append(innerRows, intRow(k, 100+c))
		}
	}
	makeTable(t, db, "l", intDesc("a", "av"), outerRows)
	makeTable(t, db, "r", intDesc("b", "bv"), innerRows)

	rows := runStmt(t, db, selectStmt(hashJoinPlan(plan.InnerJoin), "l", "r"))
	require.Len(t, rows, 10*3*2)

	// Each (outer, inner) pair with equal keys appears exactly once.
	seen := map[string]int{}
	for _, r := range rows {
		key := fmt.Sprintf("%d/%d/%d", r.Values[0].GetInt64(), r.Values[1].GetInt64(), r.Values[2].GetInt64())
		seen[key]++
	}
	for k, n := range seen {
		require.Equal(t, 1, n, "pair %s emitted more than once", k)
	}
}

func TestHashJoinBatched(t *testing.T) {
	db := memheap.NewDB()
	var outerRows, innerRows [][]types.Datum
	for k := int64(0); k < 500; k++ {
		outerRows = append(outerRows, intRow(k, k*10))
		innerRows = append(innerRows, intRow(k, k*100))
	}
	makeTable(t, db, "l", intDesc("a", "av"), outerRows)
	makeTable(t, db, "r", intDesc("b", "bv"), innerRows)

	stmt := selectStmt(hashJoinPlan(plan.InnerJoin), "l", "r")
	cfg := testConfig(t)
	// Small budget forces the build side into multiple batches.
	cfg.WorkMem = "4KB"
	e, err := NewExecState(stmt, db, storage.CurrentSnapshot(), cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	dest := &SliceDest{}
	_, err = e.Run(ctx, RunAll, 0, dest)
	require.NoError(t, err)
	require.NoError(t, e.End())

	require.Len(t, dest.Rows, 500)
	keys := col0Ints(dest.Rows)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for i, k := range keys {
		require.Equal(t, int64(i), k)
	}
}

// tapExec runs a callback after every tuple it passes through.
type tapExec struct {
	Executor
	n  int
	fn func(n int)
}

func (e *tapExec) Next(ctx context.Context) (*tuple.Slot, error) {
	slot, err := e.Executor.Next(ctx)
	if err == nil && slot != nil {
		e.n++
		e.fn(e.n)
	}
	return slot, err
}

func TestHashJoinSpillsDuringBuild(t *testing.T) {
	db := memheap.NewDB()
	var innerRows [][]types.Datum
	for k := int64(0); k < 600; k++ {
		innerRows = append(innerRows, intRow(k, k*100))
	}
	makeTable(t, db, "l", intDesc("a", "av"), [][]types.Datum{intRow(1, 10)})
	makeTable(t, db, "r", intDesc("b", "bv"), innerRows)

	stmt := selectStmt(hashJoinPlan(plan.InnerJoin), "l", "r")
	cfg := testConfig(t)
	cfg.WorkMem = "4KB"
	e, err := NewExecState(stmt, db, storage.CurrentSnapshot(), cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	// Tuples outside batch 0 must reach their batch files while the build
	// is still reading its child, not after the whole input is buffered.
	hj, ok := e.Root.(*HashJoinExec)
	require.True(t, ok)
	spilled := false
	hj.hash.child = &tapExec{Executor: hj.hash.child, fn: func(n int) {
		if n == 400 {
			entries, err := os.ReadDir(cfg.TempDir)
			require.NoError(t, err)
			spilled = len(entries) > 0
		}
	}}

	dest := &SliceDest{}
	_, err = e.Run(ctx, RunAll, 0, dest)
	require.NoError(t, err)
	require.True(t, hj.nbatch > 1)
	require.True(t, spilled)
	require.NoError(t, e.End())
	require.Len(t, dest.Rows, 1)
	require.Equal(t, int64(100), dest.Rows[0].Values[2].GetInt64())
}

func TestHashJoinLeftOuter(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a", "av"), [][]types.Datum{
		intRow(1, 10), intRow(2, 20), intRow(3, 30),
	})
	makeTable(t, db, "r", intDesc("b", "bv"), [][]types.Datum{
		intRow(2, 200),
	})

	rows := runStmt(t, db, selectStmt(hashJoinPlan(plan.LeftOuterJoin), "l", "r"))
	require.Len(t, rows, 3)
	matched := 0
	for _, r := range rows {
		if r.Values[0].GetInt64() == 2 {
			require.Equal(t, int64(200), r.Values[2].GetInt64())
			matched++
		} else {
			require.True(t, r.Values[2].IsNull())
		}
	}
	require.Equal(t, 1, matched)
}

func TestHashJoinEmptyBuild(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a", "av"), [][]types.Datum{
		intRow(1, 10),
	})
	makeTable(t, db, "r", intDesc("b", "bv"), nil)

	rows := runStmt(t, db, selectStmt(hashJoinPlan(plan.InnerJoin), "l", "r"))
	require.Empty(t, rows)
}

func TestHashJoinRescan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "l", intDesc("a", "av"), [][]types.Datum{
		intRow(1, 10), intRow(2, 20),
	})
	makeTable(t, db, "r", intDesc("b", "bv"), [][]types.Datum{
		intRow(1, 100), intRow(2, 200),
	})

	e := newState(t, db, selectStmt(hashJoinPlan(plan.InnerJoin), "l", "r"))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	drain := func() int {
		n := 0
		for {
			slot, err := e.Root.Next(ctx)
			require.NoError(t, err)
			if slot == nil {
				break
			}
			n++
		}
		return n
	}
	require.Equal(t, 2, drain())
	require.NoError(t, e.Root.ReScan(ctx))
	require.Equal(t, 2, drain())
	require.NoError(t, e.End())
}
