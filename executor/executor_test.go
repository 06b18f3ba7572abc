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

	"github.com/cascadedb/cascade/config"
	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/storage/memheap"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/tuplestore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.TempDir = t.TempDir()
	return cfg
}

func intType() *types.FieldType {
	return types.NewFieldType(types.KindInt64)
}

func scanCol(i int, name string) expression.Expression {
	return &expression.Column{Input: expression.ScanInput, Index: i, Name: name}
}

func outerCol(i int, name string) expression.Expression {
	return &expression.Column{Input: expression.OuterInput, Index: i, Name: name}
}

func innerCol(i int, name string) expression.Expression {
	return &expression.Column{Input: expression.InnerInput, Index: i, Name: name}
}

func cInt(v int64) expression.Expression {
	return &expression.Constant{Val: types.NewIntDatum(v)}
}

func cFloat(v float64) expression.Expression {
	return &expression.Constant{Val: types.NewFloat64Datum(v)}
}

func cStr(s string) expression.Expression {
	return &expression.Constant{Val: types.NewStringDatum(s)}
}

func cNull() expression.Expression {
	return &expression.Constant{}
}

func te(name string, e expression.Expression) *plan.TargetEntry {
	return plan.NewTargetEntry(name, intType(), e)
}

// scanTargets builds the pass-through target list col0..colN-1.
func scanTargets(names ...string) []*plan.TargetEntry {
	out := make([]*plan.TargetEntry, len(names))
	for i, n := range names {
		out[i] = te(n, scanCol(i, n))
	}
	return out
}

func intDesc(names ...string) *tuple.Desc {
	cols := make([]tuple.ColumnInfo, len(names))
	for i, n := range names {
		cols[i] = tuple.ColumnInfo{Name: n, Type: intType()}
	}
	return tuple.NewDesc(cols...)
}

func intRow(vals ...int64) []types.Datum {
	out := make([]types.Datum, len(vals))
	for i, v := range vals {
		out[i] = types.NewIntDatum(v)
	}
	return out
}

func makeTable(t *testing.T, db *memheap.DB, name string, desc *tuple.Desc, rows [][]types.Datum, opts ...memheap.TableOption) *memheap.Table {
	t.Helper()
	tbl, err := db.CreateTable(name, desc, opts...)
	require.NoError(t, err)
	for _, r := range rows {
		tup := tuple.NewTuple(r...)
		_, err := tbl.Insert(tup)
		require.NoError(t, err)
		for _, idx := range tbl.Indexes() {
			require.NoError(t, idx.Insert(tup.Values[idx.KeyColumn()], tup.Self))
		}
	}
	return tbl
}

func selectStmt(tree plan.Plan, rels ...string) *plan.PlannedStmt {
	rt := make([]plan.RangeTableEntry, len(rels))
	for i, r := range rels {
		rt[i] = plan.RangeTableEntry{Name: r}
	}
	return &plan.PlannedStmt{
		Cmd:            plan.CmdSelect,
		Tree:           tree,
		RangeTable:     rt,
		ResultRelation: -1,
	}
}

func newState(t *testing.T, db *memheap.DB, stmt *plan.PlannedStmt) *ExecState {
	t.Helper()
	e, err := NewExecState(stmt, db, storage.CurrentSnapshot(), testConfig(t))
	require.NoError(t, err)
	return e
}

// runStmt drives a statement start to end and returns the emitted rows.
func runStmt(t *testing.T, db *memheap.DB, stmt *plan.PlannedStmt) []*tuple.Tuple {
	t.Helper()
	e := newState(t, db, stmt)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	dest := &SliceDest{}
	_, err := e.Run(ctx, RunAll, 0, dest)
	require.NoError(t, err)
	require.NoError(t, e.End())
	return dest.Rows
}

func col0Ints(rows []*tuple.Tuple) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Values[0].GetInt64()
	}
	return out
}

func TestSeqScanFilterProject(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a", "b"), [][]types.Datum{
		intRow(1, 10), intRow(2, 20), intRow(3, 30),
	})

	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = []*plan.TargetEntry{
		te("x", expression.NewFunc(expression.OpPlus, scanCol(1, "b"), cInt(1))),
	}
	scan.Qual = []expression.Expression{
		expression.NewFunc(expression.OpGE, scanCol(0, "a"), cInt(2)),
	}

	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Equal(t, []int64{21, 31}, col0Ints(rows))
}

func TestSeqScanNullQualRejects(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), {types.Datum{}}, intRow(3),
	})

	// A NULL comparison result counts as false, so the NULL row is dropped.
	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = scanTargets("a")
	scan.Qual = []expression.Expression{
		expression.NewFunc(expression.OpGE, scanCol(0, "a"), cInt(1)),
	}

	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Equal(t, []int64{1, 3}, col0Ints(rows))
}

func TestSeqScanPinsBalanced(t *testing.T) {
	db := memheap.NewDB()
	tbl := makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3),
	})

	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = scanTargets("a")
	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Len(t, rows, 3)
	require.Equal(t, 0, tbl.Page(0).PinCount())
}

func TestIndexScanRange(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a", "b"), [][]types.Datum{
		intRow(3, 30), intRow(1, 10), intRow(5, 50), intRow(2, 20), intRow(4, 40),
	}, memheap.WithIndex("t_a", 0))

	scan := &plan.IndexScan{
		RTIndex:   0,
		IndexName: "t_a",
		Low:       cInt(2),
		High:      cInt(4),
		LowInc:    true,
		HighInc:   true,
	}
	scan.Targets = scanTargets("a", "b")

	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Equal(t, []int64{2, 3, 4}, col0Ints(rows))
}

func TestIndexOnlyScan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(3), intRow(1), intRow(2),
	}, memheap.WithIndex("t_a", 0))

	scan := &plan.IndexOnlyScan{RTIndex: 0, IndexName: "t_a"}
	scan.Targets = scanTargets("a")

	e := newState(t, db, selectStmt(scan, "t"))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	slot, err := e.Root.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, slot)
	require.Equal(t, int64(1), slot.Tuple().Values[0].GetInt64())
	// The virtual tuple carries the self tid read off the index entry.
	ios := e.Root.(*IndexOnlyScanExec)
	require.True(t, ios.scanSlot.Tuple().Self.Valid())
	require.NoError(t, e.End())
}

func TestBitmapHeapScan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a", "b"), [][]types.Datum{
		intRow(1, 1), intRow(2, 2), intRow(3, 3), intRow(4, 4), intRow(5, 5),
	}, memheap.WithIndex("t_a", 0), memheap.WithIndex("t_b", 1))

	bisA := &plan.BitmapIndexScan{RTIndex: 0, IndexName: "t_a", Low: cInt(2), LowInc: true}
	bisB := &plan.BitmapIndexScan{RTIndex: 0, IndexName: "t_b", High: cInt(4), HighInc: true}

	and := &plan.BitmapAnd{Children: []plan.Plan{bisA, bisB}}
	heap := &plan.BitmapHeapScan{RTIndex: 0, Bitmap: and}
	heap.Targets = scanTargets("a", "b")

	rows := runStmt(t, db, selectStmt(heap, "t"))
	require.Equal(t, []int64{2, 3, 4}, col0Ints(rows))

	or := &plan.BitmapOr{Children: []plan.Plan{
		&plan.BitmapIndexScan{RTIndex: 0, IndexName: "t_a", High: cInt(1), HighInc: true},
		&plan.BitmapIndexScan{RTIndex: 0, IndexName: "t_b", Low: cInt(5), LowInc: true},
	}}
	heapOr := &plan.BitmapHeapScan{RTIndex: 0, Bitmap: or}
	heapOr.Targets = scanTargets("a", "b")

	rows = runStmt(t, db, selectStmt(heapOr, "t"))
	require.Equal(t, []int64{1, 5}, col0Ints(rows))
}

func TestBitmapNoChildrenFatal(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), nil, memheap.WithIndex("t_a", 0))

	heap := &plan.BitmapHeapScan{RTIndex: 0, Bitmap: &plan.BitmapAnd{}}
	heap.Targets = scanTargets("a")

	e := newState(t, db, selectStmt(heap, "t"))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	_, err := e.Root.Next(ctx)
	require.Error(t, err)
	require.True(t, ErrBitmapNoChildren.Equal(err))
	require.NoError(t, e.End())
}

func TestTidRangeScan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3), intRow(4),
	})
	second := tuple.ItemPointer{Block: 0, Offset: 2}
	third := tuple.ItemPointer{Block: 0, Offset: 3}

	scan := &plan.TidRangeScan{
		RTIndex: 0,
		Min:     cInt(int64(second.Encode())),
		Max:     cInt(int64(third.Encode())),
		MinInc:  true,
		MaxInc:  true,
	}
	scan.Targets = scanTargets("a")
	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Equal(t, []int64{2, 3}, col0Ints(rows))

	// Non-inclusive bounds are normalized by stepping the item pointers.
	excl := &plan.TidRangeScan{
		RTIndex: 0,
		Min:     cInt(int64(second.Encode())),
		Max:     cInt(int64(tuple.ItemPointer{Block: 0, Offset: 4}.Encode())),
	}
	excl.Targets = scanTargets("a")
	rows = runStmt(t, db, selectStmt(excl, "t"))
	require.Equal(t, []int64{3}, col0Ints(rows))

	// A NULL endpoint yields an empty result.
	null := &plan.TidRangeScan{RTIndex: 0, Min: cNull(), MinInc: true}
	null.Targets = scanTargets("a")
	rows = runStmt(t, db, selectStmt(null, "t"))
	require.Empty(t, rows)
}

func TestValuesScan(t *testing.T) {
	db := memheap.NewDB()
	scan := &plan.ValuesScan{Rows: [][]expression.Expression{
		{cInt(1), cStr("a")},
		{cInt(2), cStr("b")},
	}}
	scan.Targets = scanTargets("n", "s")

	rows := runStmt(t, db, selectStmt(scan))
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Values[0].GetInt64())
	require.Equal(t, "a", rows[0].Values[1].GetString())
	require.Equal(t, "b", rows[1].Values[1].GetString())
}

func TestSubqueryScan(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2), intRow(3),
	})

	inner := &plan.SeqScan{RTIndex: 0}
	inner.Targets = scanTargets("a")

	sub := &plan.SubqueryScan{}
	sub.Left = inner
	sub.Targets = []*plan.TargetEntry{
		te("x", expression.NewFunc(expression.OpMul, scanCol(0, "a"), cInt(10))),
	}
	sub.Qual = []expression.Expression{
		expression.NewFunc(expression.OpNE, scanCol(0, "a"), cInt(2)),
	}

	rows := runStmt(t, db, selectStmt(sub, "t"))
	require.Equal(t, []int64{10, 30}, col0Ints(rows))
}

func TestCteScanSharedLeader(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2),
	})

	body := func() *plan.SeqScan {
		s := &plan.SeqScan{RTIndex: 0}
		s.Targets = scanTargets("a")
		return s
	}
	cte1 := &plan.CteScan{CTEName: "c", Leader: body()}
	cte1.Targets = scanTargets("a")
	cte2 := &plan.CteScan{CTEName: "c", Leader: body()}
	cte2.Targets = scanTargets("a")

	app := &plan.Append{Children: []plan.Plan{cte1, cte2}}
	app.Targets = scanTargets("a")

	// Both siblings read the full CTE output; the body runs once through
	// the shared store.
	rows := runStmt(t, db, selectStmt(app, "t"))
	require.Equal(t, []int64{1, 2, 1, 2}, col0Ints(rows))
}

func TestNamedTuplestoreScan(t *testing.T) {
	db := memheap.NewDB()
	scan := &plan.NamedTuplestoreScan{StoreName: "transition"}
	scan.Targets = scanTargets("a")

	stmt := selectStmt(scan)
	e := newState(t, db, stmt)
	st := tuplestore.New(e.WorkMem(), e.TempDir())
	defer st.End()
	require.NoError(t, st.Put(tuple.NewTuple(types.NewIntDatum(7))))
	require.NoError(t, st.Put(tuple.NewTuple(types.NewIntDatum(8))))
	e.RegisterNamedStore("transition", st)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	dest := &SliceDest{}
	_, err := e.Run(ctx, RunAll, 0, dest)
	require.NoError(t, err)
	require.NoError(t, e.End())
	require.Equal(t, []int64{7, 8}, col0Ints(dest.Rows))
}

func TestTableFuncScan(t *testing.T) {
	db := memheap.NewDB()
	scan := &plan.TableFuncScan{
		RowSource: &expression.GenerateSeries{Start: cInt(1), Stop: cInt(3)},
		Columns: []plan.TableFuncColumn{
			{Name: "n", Type: intType()},
		},
	}
	scan.Targets = scanTargets("n")

	rows := runStmt(t, db, selectStmt(scan))
	require.Equal(t, []int64{1, 2, 3}, col0Ints(rows))
}

func TestTableFuncScanNotNull(t *testing.T) {
	db := memheap.NewDB()
	scan := &plan.TableFuncScan{
		RowSource: &expression.ListSet{Elems: []expression.Expression{cInt(1), cNull()}},
		Columns: []plan.TableFuncColumn{
			{Name: "n", Type: intType(), NotNull: true},
		},
	}
	scan.Targets = scanTargets("n")

	e := newState(t, db, selectStmt(scan))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	_, err := e.Run(ctx, RunAll, 0, &SliceDest{})
	require.Error(t, err)
	require.True(t, ErrNullValueNotAllowed.Equal(err))
	require.NoError(t, e.End())

	// A column default fills the hole instead when present.
	withDefault := &plan.TableFuncScan{
		RowSource: &expression.ListSet{Elems: []expression.Expression{cInt(1), cNull()}},
		Columns: []plan.TableFuncColumn{
			{Name: "n", Type: intType(), NotNull: true, Default: cInt(0)},
		},
	}
	withDefault.Targets = scanTargets("n")
	rows := runStmt(t, db, selectStmt(withDefault))
	require.Equal(t, []int64{1, 0}, col0Ints(rows))
}

func TestForwardOnlyScansRejectBackward(t *testing.T) {
	db := memheap.NewDB()
	ctx := context.Background()

	cte := &plan.CteScan{CTEName: "c", Leader: intValues([]string{"v"}, []int64{1})}
	cte.Targets = scanTargets("v")

	wts := &plan.WorkTableScan{WTName: "w"}
	wts.Targets = scanTargets("v")

	named := &plan.NamedTuplestoreScan{StoreName: "transition"}
	named.Targets = scanTargets("v")

	tf := &plan.TableFuncScan{
		RowSource: &expression.GenerateSeries{Start: cInt(1), Stop: cInt(3)},
		Columns:   []plan.TableFuncColumn{{Name: "v", Type: intType()}},
	}
	tf.Targets = scanTargets("v")

	for _, tree := range []plan.Plan{cte, wts, named, tf} {
		e := newState(t, db, selectStmt(tree))
		if _, ok := tree.(*plan.NamedTuplestoreScan); ok {
			st := tuplestore.New(e.WorkMem(), e.TempDir())
			defer st.End()
			e.RegisterNamedStore("transition", st)
		}
		require.NoError(t, e.Start(ctx))
		e.Direction = storage.Backward
		_, err := e.Root.Next(ctx)
		require.True(t, ErrFeatureNotSupported.Equal(err), "%T", tree)
		require.NoError(t, e.End())
	}
}

func TestTableFuncScanNullNamespace(t *testing.T) {
	db := memheap.NewDB()
	scan := &plan.TableFuncScan{
		RowSource:  cInt(1),
		Columns:    []plan.TableFuncColumn{{Name: "n", Type: intType()}},
		Namespaces: []expression.Expression{cNull()},
	}
	scan.Targets = scanTargets("n")

	e := newState(t, db, selectStmt(scan))
	err := e.Start(context.Background())
	require.Error(t, err)
	require.True(t, ErrNullValueNotAllowed.Equal(err))
	require.NoError(t, e.End())
}

func TestScanSetReturningTargets(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2),
	})

	// Each input row expands through the SRF before the next row is pulled.
	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = []*plan.TargetEntry{
		te("a", scanCol(0, "a")),
		te("s", &expression.GenerateSeries{Start: cInt(1), Stop: scanCol(0, "a")}),
	}

	rows := runStmt(t, db, selectStmt(scan, "t"))
	require.Len(t, rows, 3)
	require.Equal(t, []int64{1, 2, 2}, col0Ints(rows))
	require.Equal(t, int64(1), rows[0].Values[1].GetInt64())
	require.Equal(t, int64(1), rows[1].Values[1].GetInt64())
	require.Equal(t, int64(2), rows[2].Values[1].GetInt64())
}

func TestUnknownPlanNode(t *testing.T) {
	db := memheap.NewDB()
	stmt := selectStmt(&plan.CommonPlan{})
	e := newState(t, db, stmt)
	err := e.Start(context.Background())
	require.Error(t, err)
	require.True(t, ErrUnknownPlan.Equal(err))
	require.NoError(t, e.End())
}

func TestInterrupt(t *testing.T) {
	db := memheap.NewDB()
	makeTable(t, db, "t", intDesc("a"), [][]types.Datum{
		intRow(1), intRow(2),
	})
	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = scanTargets("a")

	e := newState(t, db, selectStmt(scan, "t"))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	e.Interrupt()
	_, err := e.Run(ctx, RunAll, 0, &SliceDest{})
	require.Error(t, err)
	require.True(t, ErrQueryInterrupted.Equal(err))
	require.NoError(t, e.End())
}

func TestCountSlotsCoversTree(t *testing.T) {
	scan := &plan.SeqScan{RTIndex: 0}
	scan.Targets = scanTargets("a")
	require.Equal(t, 2, CountSlots(scan))

	join := &plan.NestLoop{}
	join.Left = scan
	inner := &plan.SeqScan{RTIndex: 0}
	inner.Targets = scanTargets("a")
	join.Right = inner
	require.Equal(t, 8, CountSlots(join))
}
