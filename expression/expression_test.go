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

package expression

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

func scanContext(t *testing.T, vals ...types.Datum) *ExprContext {
	t.Helper()
	ctx := NewExprContext()
	slot := tuple.NewSlot()
	require.NoError(t, slot.Store(tuple.NewTuple(vals...), nil, true))
	ctx.ScanSlot = slot
	return ctx
}

func TestColumnEval(t *testing.T) {
	ctx := scanContext(t, types.NewIntDatum(10), types.NewStringDatum("x"))
	col := &Column{Input: ScanInput, Index: 1, Name: "b"}
	d, err := col.Eval(ctx)
	require.NoError(t, err)
	require.Equal(t, "x", d.GetString())

	out := &Column{Input: ScanInput, Index: 5, Name: "bad"}
	_, err = out.Eval(ctx)
	require.Error(t, err)

	inner := &Column{Input: InnerInput, Index: 0, Name: "i"}
	_, err = inner.Eval(ctx)
	require.Error(t, err, "inner slot is unset")
}

func TestScalarFuncStrictness(t *testing.T) {
	ctx := scanContext(t, types.NewIntDatum(1))
	a := &Column{Input: ScanInput, Index: 0, Name: "a"}

	d, err := NewFunc(OpPlus, a, &Constant{Val: types.NewIntDatum(2)}).Eval(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), d.GetInt64())

	// NULL argument makes comparisons and arithmetic NULL.
	d, err = NewFunc(OpLT, a, &Constant{}).Eval(ctx)
	require.NoError(t, err)
	require.True(t, d.IsNull())

	d, err = NewFunc(OpIsNull, &Constant{}).Eval(ctx)
	require.NoError(t, err)
	require.True(t, d.GetBool())

	_, err = NewFunc(OpDiv, a, &Constant{Val: types.NewIntDatum(0)}).Eval(ctx)
	require.Error(t, err)
	require.True(t, ErrDivisionByZero.Equal(err))
}

func TestExecQual(t *testing.T) {
	ctx := scanContext(t, types.NewIntDatum(5))
	a := &Column{Input: ScanInput, Index: 0, Name: "a"}

	quals := InitList([]Expression{
		NewFunc(OpGE, a, &Constant{Val: types.NewIntDatum(2)}),
		NewFunc(OpNE, a, &Constant{Val: types.NewIntDatum(9)}),
	})
	pass, err := ExecQual(quals, ctx)
	require.NoError(t, err)
	require.True(t, pass)

	// A NULL qual result does not pass.
	quals = InitList([]Expression{NewFunc(OpLT, a, &Constant{})})
	pass, err = ExecQual(quals, ctx)
	require.NoError(t, err)
	require.False(t, pass)
}

func TestSelfReference(t *testing.T) {
	ctx := NewExprContext()
	slot := tuple.NewSlot()
	tup := tuple.NewTuple(types.NewIntDatum(1))
	tup.Self = tuple.ItemPointer{Block: 2, Offset: 5}
	require.NoError(t, slot.Store(tup, nil, true))
	ctx.ScanSlot = slot

	d, err := (&SelfReference{}).Eval(ctx)
	require.NoError(t, err)
	require.Equal(t, tup.Self, tuple.DecodeItemPointer(uint64(d.GetInt64())))
}

func TestProject(t *testing.T) {
	ctx := scanContext(t, types.NewIntDatum(10))
	b := &Column{Input: ScanInput, Index: 0, Name: "b"}
	desc := tuple.NewDesc(tuple.ColumnInfo{Name: "out", Type: types.NewFieldType(types.KindInt64)})
	proj := NewProjection([]Expression{NewFunc(OpPlus, b, &Constant{Val: types.NewIntDatum(1)})}, desc, tuple.NewSlot())
	require.False(t, proj.HasSet())

	slot, err := proj.Project(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(11), slot.Tuple().Values[0].GetInt64())
	require.Equal(t, desc, slot.Desc())
}

func TestProjectSetLockstep(t *testing.T) {
	ctx := scanContext(t, types.NewIntDatum(0))
	proj := NewProjection([]Expression{
		&GenerateSeries{Start: &Constant{Val: types.NewIntDatum(1)}, Stop: &Constant{Val: types.NewIntDatum(3)}},
		&ListSet{Elems: []Expression{&Constant{Val: types.NewStringDatum("x")}}},
		&Constant{Val: types.NewIntDatum(7)},
	}, nil, tuple.NewSlot())
	require.True(t, proj.HasSet())

	seq, err := proj.ProjectSet(ctx)
	require.NoError(t, err)

	// Shorter sets are padded with NULLs until the longest is exhausted.
	var rows [][]types.Datum
	for {
		slot, ok, err := seq.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row := make([]types.Datum, len(slot.Tuple().Values))
		copy(row, slot.Tuple().Values)
		rows = append(rows, row)
	}
	require.Len(t, rows, 3)
	require.Equal(t, int64(1), rows[0][0].GetInt64())
	require.Equal(t, "x", rows[0][1].GetString())
	require.Equal(t, int64(7), rows[0][2].GetInt64())
	require.True(t, rows[1][1].IsNull())
	require.Equal(t, int64(3), rows[2][0].GetInt64())
	require.Equal(t, int64(7), rows[2][2].GetInt64())

	// A second call after exhaustion stays done.
	_, ok, err := seq.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateSeriesBackwardStep(t *testing.T) {
	ctx := NewExprContext()
	g := &GenerateSeries{
		Start: &Constant{Val: types.NewIntDatum(3)},
		Stop:  &Constant{Val: types.NewIntDatum(1)},
		Step:  &Constant{Val: types.NewIntDatum(-1)},
	}
	set, err := g.EvalSet(ctx)
	require.NoError(t, err)
	var got []int64
	for {
		d, ok, err := set.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, d.GetInt64())
	}
	require.Equal(t, []int64{3, 2, 1}, got)

	g.Step = &Constant{Val: types.NewIntDatum(0)}
	_, err = g.EvalSet(ctx)
	require.Error(t, err)
}

func TestParam(t *testing.T) {
	ctx := NewExprContext()
	ctx.ExternParams = []types.Datum{types.NewIntDatum(42)}
	ctx.ExecParams = []types.Datum{types.NewStringDatum("in")}

	d, err := (&Param{ID: 0, Extern: true}).Eval(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), d.GetInt64())

	d, err = (&Param{ID: 0}).Eval(ctx)
	require.NoError(t, err)
	require.Equal(t, "in", d.GetString())

	_, err = (&Param{ID: 3, Extern: true}).Eval(ctx)
	require.Error(t, err)
}
