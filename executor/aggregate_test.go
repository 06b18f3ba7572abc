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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage/memheap"
	"github.com/cascadedb/cascade/types"
)

// aggCall is a plain aggregate over a single argument column.
func aggCall(name string, arg expression.Expression) *plan.Aggref {
	ref := &plan.Aggref{Name: name}
	if arg != nil {
		ref.Args = []expression.Expression{arg}
	}
	return ref
}

// osaCall is an ordered-set aggregate with one direct argument and one
// ORDER BY key.
func osaCall(name string, direct, orderBy expression.Expression) *plan.Aggref {
	ref := &plan.Aggref{Name: name}
	if direct != nil {
		ref.DirectArgs = []expression.Expression{direct}
	}
	ref.OrderBy = []*plan.SortItem{{Expr: orderBy}}
	return ref
}

func TestPlainAggEmptyInput(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		aggCall("count", nil),
		aggCall("sum", scanCol(0, "v")),
	}}
	agg.Left = intValues([]string{"v"})
	agg.Targets = []*plan.TargetEntry{
		te("c", plan.NewAggResult(1, "count")),
		te("s", plan.NewAggResult(2, "sum")),
	}

	// A plain aggregate emits exactly one row even with no input.
	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(0), rows[0].Values[0].GetInt64())
	require.True(t, rows[0].Values[1].IsNull())
}

func TestPlainAggMinMaxAvg(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		aggCall("min", scanCol(0, "v")),
		aggCall("max", scanCol(0, "v")),
		aggCall("avg", scanCol(0, "v")),
	}}
	agg.Left = intValues([]string{"v"}, []int64{3}, []int64{1}, []int64{2})
	agg.Targets = []*plan.TargetEntry{
		te("mn", plan.NewAggResult(1, "min")),
		te("mx", plan.NewAggResult(2, "max")),
		te("av", plan.NewAggResult(3, "avg")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Values[0].GetInt64())
	require.Equal(t, int64(3), rows[0].Values[1].GetInt64())
	require.Equal(t, 2.0, rows[0].Values[2].GetFloat64())
}

func TestPlainAggStrictSkipsNulls(t *testing.T) {
	db := memheap.NewDB()

	child := &plan.ValuesScan{Rows: [][]expression.Expression{
		{cInt(1)}, {cNull()}, {cInt(2)},
	}}
	child.Targets = scanTargets("v")

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		aggCall("count", nil),
		aggCall("count_nonnull", scanCol(0, "v")),
		aggCall("sum", scanCol(0, "v")),
	}}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{
		te("all", plan.NewAggResult(1, "count")),
		te("nn", plan.NewAggResult(2, "count_nonnull")),
		te("s", plan.NewAggResult(3, "sum")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].Values[0].GetInt64())
	require.Equal(t, int64(2), rows[0].Values[1].GetInt64())
	require.Equal(t, int64(3), rows[0].Values[2].GetInt64())
}

func TestGroupedAgg(t *testing.T) {
	db := memheap.NewDB()

	// Input sorted on the grouping column, as the planner guarantees.
	child := intValues([]string{"g", "v"},
		[]int64{1, 10}, []int64{1, 20}, []int64{2, 5})

	agg := &plan.Agg{
		GroupCols: []int{0},
		Aggs: []*plan.Aggref{
			aggCall("sum", scanCol(1, "v")),
			aggCall("count", nil),
		},
	}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{
		te("g", scanCol(0, "g")),
		te("s", plan.NewAggResult(2, "sum")),
		te("c", plan.NewAggResult(3, "count")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 2)
	require.Equal(t, []int64{1, 2}, col0Ints(rows))
	require.Equal(t, int64(30), rows[0].Values[1].GetInt64())
	require.Equal(t, int64(2), rows[0].Values[2].GetInt64())
	require.Equal(t, int64(5), rows[1].Values[1].GetInt64())
	require.Equal(t, int64(1), rows[1].Values[2].GetInt64())
}

func TestGroupedAggEmptyInputNoRows(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{
		GroupCols: []int{0},
		Aggs:      []*plan.Aggref{aggCall("count", nil)},
	}
	agg.Left = intValues([]string{"g"})
	agg.Targets = []*plan.TargetEntry{
		te("g", scanCol(0, "g")),
		te("c", plan.NewAggResult(1, "count")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Empty(t, rows)
}

func TestPercentiles(t *testing.T) {
	db := memheap.NewDB()

	// Unsorted input: ordered-set aggregates sort within the group.
	child := intValues([]string{"v"},
		[]int64{5}, []int64{3}, []int64{1}, []int64{4}, []int64{2})

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		osaCall("percentile_disc", cFloat(0.5), scanCol(0, "v")),
		osaCall("percentile_cont", cFloat(0.5), scanCol(0, "v")),
		osaCall("percentile_cont", cFloat(0.25), scanCol(0, "v")),
	}}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{
		te("disc", plan.NewAggResult(1, "percentile_disc")),
		te("cont", plan.NewAggResult(2, "percentile_cont")),
		te("q1", plan.NewAggResult(3, "percentile_cont")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].Values[0].GetInt64())
	require.Equal(t, 3.0, rows[0].Values[1].GetFloat64())
	require.Equal(t, 2.0, rows[0].Values[2].GetFloat64())
}

func TestPercentileArrays(t *testing.T) {
	db := memheap.NewDB()

	child := intValues([]string{"v"},
		[]int64{5}, []int64{3}, []int64{1}, []int64{4}, []int64{2})

	disc := &plan.Aggref{
		Name:       "percentile_disc_multi",
		DirectArgs: []expression.Expression{cFloat(0.25), cFloat(0.5), cNull(), cFloat(1.0)},
		OrderBy:    []*plan.SortItem{{Expr: scanCol(0, "v")}},
	}
	cont := &plan.Aggref{
		Name:       "percentile_cont_multi",
		DirectArgs: []expression.Expression{cFloat(0.25), cFloat(0.5)},
		OrderBy:    []*plan.SortItem{{Expr: scanCol(0, "v")}},
	}

	agg := &plan.Agg{Aggs: []*plan.Aggref{disc, cont}}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{
		te("d", plan.NewAggResult(1, "percentile_disc_multi")),
		te("c", plan.NewAggResult(2, "percentile_cont_multi")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)

	// Each fraction picks its own target row; NULL fractions yield NULL
	// elements.
	dl := rows[0].Values[0].GetList()
	require.Len(t, dl, 4)
	require.Equal(t, int64(2), dl[0].GetInt64())
	require.Equal(t, int64(3), dl[1].GetInt64())
	require.True(t, dl[2].IsNull())
	require.Equal(t, int64(5), dl[3].GetInt64())

	cl := rows[0].Values[1].GetList()
	require.Len(t, cl, 2)
	require.Equal(t, 2.0, cl[0].GetFloat64())
	require.Equal(t, 3.0, cl[1].GetFloat64())
}

func TestPercentileArrayEmptyInput(t *testing.T) {
	db := memheap.NewDB()

	disc := &plan.Aggref{
		Name:       "percentile_disc_multi",
		DirectArgs: []expression.Expression{cFloat(0.5)},
		OrderBy:    []*plan.SortItem{{Expr: scanCol(0, "v")}},
	}
	agg := &plan.Agg{Aggs: []*plan.Aggref{disc}}
	agg.Left = intValues([]string{"v"})
	agg.Targets = []*plan.TargetEntry{
		te("d", plan.NewAggResult(1, "percentile_disc_multi")),
	}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.True(t, rows[0].Values[0].IsNull())
}

func TestPercentileFractionOutOfRange(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		osaCall("percentile_disc", cFloat(1.5), scanCol(0, "v")),
	}}
	agg.Left = intValues([]string{"v"}, []int64{1})
	agg.Targets = []*plan.TargetEntry{
		te("p", plan.NewAggResult(1, "percentile_disc")),
	}

	ctx := context.Background()
	e := newState(t, db, selectStmt(agg))
	require.NoError(t, e.Start(ctx))
	_, err := e.Run(ctx, RunAll, 0, &SliceDest{})
	require.Error(t, err)
	require.NoError(t, e.End())
}

func TestModeTiesGoToFirst(t *testing.T) {
	db := memheap.NewDB()

	child := intValues([]string{"v"},
		[]int64{1}, []int64{2}, []int64{2}, []int64{3}, []int64{3}, []int64{3}, []int64{4})

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		osaCall("mode", nil, scanCol(0, "v")),
	}}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{te("m", plan.NewAggResult(1, "mode"))}

	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].Values[0].GetInt64())
}

func TestHypotheticalRank(t *testing.T) {
	db := memheap.NewDB()

	child := intValues([]string{"v"},
		[]int64{1}, []int64{2}, []int64{3}, []int64{4})

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		osaCall("rank", cFloat(2.5), scanCol(0, "v")),
		osaCall("dense_rank", cFloat(2.5), scanCol(0, "v")),
		osaCall("cume_dist", cFloat(2.5), scanCol(0, "v")),
	}}
	agg.Left = child
	agg.Targets = []*plan.TargetEntry{
		te("r", plan.NewAggResult(1, "rank")),
		te("dr", plan.NewAggResult(2, "dense_rank")),
		te("cd", plan.NewAggResult(3, "cume_dist")),
	}

	// 2.5 would land after 1 and 2: rank 3 among [1,2,3,4].
	rows := runStmt(t, db, selectStmt(agg))
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].Values[0].GetInt64())
	require.Equal(t, int64(3), rows[0].Values[1].GetInt64())
	require.Equal(t, 0.6, rows[0].Values[2].GetFloat64())
}

func TestOrderedSetRequiresOrderBy(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{Aggs: []*plan.Aggref{
		{Name: "percentile_disc", DirectArgs: []expression.Expression{cFloat(0.5)}},
	}}
	agg.Left = intValues([]string{"v"}, []int64{1})
	agg.Targets = []*plan.TargetEntry{te("p", plan.NewAggResult(1, "percentile_disc"))}

	e := newState(t, db, selectStmt(agg))
	err := e.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, e.End())
}

func TestUnknownAggregate(t *testing.T) {
	db := memheap.NewDB()

	agg := &plan.Agg{Aggs: []*plan.Aggref{aggCall("no_such_agg", nil)}}
	agg.Left = intValues([]string{"v"}, []int64{1})
	agg.Targets = []*plan.TargetEntry{te("x", plan.NewAggResult(1, "no_such_agg"))}

	e := newState(t, db, selectStmt(agg))
	err := e.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, e.End())
}

func TestGroupBoundaries(t *testing.T) {
	db := memheap.NewDB()

	child := intValues([]string{"g", "v"},
		[]int64{1, 10}, []int64{1, 20}, []int64{2, 30})

	g := &plan.Group{GroupCols: []int{0}}
	g.Left = child
	g.Targets = scanTargets("g", "v")

	rows := runStmt(t, db, selectStmt(g))
	require.Len(t, rows, 2)
	require.Equal(t, int64(10), rows[0].Values[1].GetInt64())
	require.Equal(t, int64(30), rows[1].Values[1].GetInt64())
}

func TestGroupBoundariesByOutputForm(t *testing.T) {
	db := memheap.NewDB()

	// true and 1 compare equal as numbers but print differently, so they
	// open separate groups.
	child := &plan.ValuesScan{Rows: [][]expression.Expression{
		{&expression.Constant{Val: types.NewBoolDatum(true)}},
		{cInt(1)},
		{cInt(1)},
	}}
	child.Targets = scanTargets("v")

	g := &plan.Group{GroupCols: []int{0}}
	g.Left = child
	g.Targets = scanTargets("v")

	rows := runStmt(t, db, selectStmt(g))
	require.Len(t, rows, 2)
	require.True(t, rows[0].Values[0].GetBool())
	require.Equal(t, int64(1), rows[1].Values[0].GetInt64())
}

func TestGroupReturnAll(t *testing.T) {
	db := memheap.NewDB()

	child := intValues([]string{"g"},
		[]int64{1}, []int64{1}, []int64{2})

	g := &plan.Group{GroupCols: []int{0}, ReturnAll: true}
	g.Left = child
	g.Targets = scanTargets("g")

	rows := runStmt(t, db, selectStmt(g))
	require.Equal(t, []int64{1, 1, 2}, col0Ints(rows))
}
