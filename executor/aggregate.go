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

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/executor/aggfuncs"
	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/tuplesort"
)

// aggRefState is the compiled and per-group running state of one aggregate
// call.
type aggRefState struct {
	ref *plan.Aggref
	def *aggfuncs.Definition

	args    []*expression.ExprState
	direct  []*expression.ExprState
	orderBy []*expression.ExprState

	state  aggfuncs.State
	sorter *tuplesort.Sorter
	nInput int
}

// AggExec computes aggregates over input sorted on the grouping columns,
// one result row per group; with no grouping columns the whole input is a
// single group, emitted even when empty.
type AggExec struct {
	baseExec
	child     Executor
	groupCols []int
	aggs      []*aggRefState
	// inputArity is the child's column count; aggregate results are
	// published after the group representative's columns.
	inputArity int

	look        *tuple.Tuple
	eof         bool
	plainEmited bool
	done        bool
}

func newAggExec(estate *ExecState, p *plan.Agg, child Executor) (*AggExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &AggExec{baseExec: b, child: child, groupCols: p.GroupCols}
	inputDesc := p.Left.Common().OutDesc()
	e.inputArity = inputDesc.Len()

	// The scan slot carries the composite (representative, results...)
	// tuple the target list projects from.
	cols := append([]tuple.ColumnInfo{}, inputDesc.Cols...)
	for _, ag := range p.Aggs {
		cols = append(cols, tuple.ColumnInfo{Name: ag.Name})
	}
	e.scanSlot.SetDesc(tuple.NewDesc(cols...), true)

	for _, ag := range p.Aggs {
		def, err := aggfuncs.Lookup(ag.Name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		st := &aggRefState{
			ref:    ag,
			def:    def,
			args:   expression.InitList(ag.Args),
			direct: expression.InitList(ag.DirectArgs),
		}
		for _, it := range ag.OrderBy {
			st.orderBy = append(st.orderBy, expression.Init(it.Expr))
		}
		if def.OrderedSet && len(st.orderBy) == 0 {
			return nil, errors.Errorf("ordered-set aggregate %q requires WITHIN GROUP ORDER BY", ag.Name)
		}
		e.aggs = append(e.aggs, st)
	}
	return e, nil
}

// resetGroup reinitializes every aggregate state for a new group.
func (e *AggExec) resetGroup() {
	for _, st := range e.aggs {
		st.state = aggfuncs.State{}
		st.nInput = 0
		if st.sorter != nil {
			st.sorter.End()
			st.sorter = nil
		}
		if st.def.OrderedSet {
			st.sorter = tuplesort.New(e.osaComparator(st), e.estate.WorkMem(), e.estate.TempDir())
		}
	}
}

// osaComparator orders within-group rows by the aggregate's ORDER BY items;
// any sentinel flag column stays out of the key comparison.
func (e *AggExec) osaComparator(st *aggRefState) tuplesort.Comparator {
	items := st.ref.OrderBy
	return func(a, b *tuple.Tuple) (int, error) {
		for i := range items {
			av, bv := a.Values[i], b.Values[i]
			if av.IsNull() || bv.IsNull() {
				if av.IsNull() && bv.IsNull() {
					continue
				}
				firstNull := 1
				if items[i].NullsFirst {
					firstNull = -1
				}
				if av.IsNull() {
					return firstNull, nil
				}
				return -firstNull, nil
			}
			c, err := av.Compare(bv)
			if err != nil {
				return 0, errors.Trace(err)
			}
			if items[i].Desc {
				c = -c
			}
			if c != 0 {
				return c, nil
			}
		}
		return 0, nil
	}
}

// advanceAggs folds one input row, held in the scan-side expression
// context, into every aggregate.
func (e *AggExec) advanceAggs(hold *tuple.Slot) error {
	saved := e.ectx.ScanSlot
	e.ectx.ScanSlot = hold
	defer func() { e.ectx.ScanSlot = saved }()
	e.ectx.ResetPerTuple()
	for _, st := range e.aggs {
		if st.def.OrderedSet {
			keys := make([]types.Datum, 0, len(st.orderBy)+1)
			skip := false
			for _, ob := range st.orderBy {
				d, err := ob.Eval(e.ectx)
				if err != nil {
					return errors.Trace(err)
				}
				if d.IsNull() && !st.def.Hypothetical {
					skip = true
					break
				}
				keys = append(keys, d)
			}
			if skip {
				continue
			}
			if st.def.Hypothetical {
				keys = append(keys, types.NewIntDatum(0))
			}
			if err := st.sorter.Put(tuple.NewTuple(keys...)); err != nil {
				return errors.Trace(err)
			}
			st.nInput++
			continue
		}
		var arg types.Datum
		if len(st.args) > 0 {
			d, err := st.args[0].Eval(e.ectx)
			if err != nil {
				return errors.Trace(err)
			}
			arg = d
		}
		if st.def.Strict && len(st.args) > 0 && arg.IsNull() {
			continue
		}
		if err := st.def.Trans(&st.state, arg); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// finalizeAggs computes every aggregate's result for the finished group.
func (e *AggExec) finalizeAggs() ([]types.Datum, error) {
	results := make([]types.Datum, len(e.aggs))
	for i, st := range e.aggs {
		if !st.def.OrderedSet {
			d, err := st.def.Final(&st.state)
			if err != nil {
				return nil, errors.Trace(err)
			}
			results[i] = d
			continue
		}
		direct := make([]types.Datum, len(st.direct))
		for j, dex := range st.direct {
			d, err := dex.Eval(e.ectx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			direct[j] = d
		}
		flagCol := -1
		if st.def.Hypothetical {
			// The direct arguments become the sentinel row's keys.
			keys := append(append([]types.Datum{}, direct...), types.NewIntDatum(1))
			if err := st.sorter.Put(tuple.NewTuple(keys...)); err != nil {
				return nil, errors.Trace(err)
			}
			flagCol = len(st.orderBy)
		}
		if err := st.sorter.PerformSort(); err != nil {
			return nil, errors.Trace(err)
		}
		d, err := st.def.FinalSorted(&aggfuncs.FinalContext{
			Direct:  direct,
			Sorter:  st.sorter,
			N:       st.nInput,
			KeyCols: len(st.orderBy),
			FlagCol: flagCol,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		results[i] = d
		st.sorter.End()
		st.sorter = nil
	}
	return results, nil
}

func (e *AggExec) sameGroup(a, b *tuple.Tuple) (bool, error) {
	for _, c := range e.groupCols {
		cmp, err := a.Values[c].Compare(b.Values[c])
		if err != nil {
			return false, errors.Trace(err)
		}
		if cmp != 0 {
			return false, nil
		}
	}
	return true, nil
}

// composite assembles the published row: the group representative's columns
// followed by the aggregate results.
func (e *AggExec) composite(rep *tuple.Tuple, results []types.Datum) *tuple.Tuple {
	vals := make([]types.Datum, 0, e.inputArity+len(results))
	if rep != nil {
		vals = append(vals, rep.Values...)
	} else {
		vals = append(vals, make([]types.Datum, e.inputArity)...)
	}
	vals = append(vals, results...)
	return tuple.NewTuple(vals...)
}

// Next implements Executor interface.
func (e *AggExec) Next(ctx context.Context) (*tuple.Slot, error) {
	hold := tuple.NewSlot()
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		if e.done {
			return nil, nil, false, nil
		}
		// First tuple of the next group.
		var first *tuple.Tuple
		if e.look != nil {
			first = e.look
			e.look = nil
		} else if !e.eof {
			slot, err := e.child.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				e.eof = true
			} else {
				first = slot.Tuple().Clone()
			}
		}
		if first == nil {
			// Empty input: a plain aggregate still emits one row.
			if len(e.groupCols) == 0 && !e.plainEmited {
				e.plainEmited = true
				e.done = true
				e.resetGroup()
				results, err := e.finalizeAggs()
				if err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				return e.composite(nil, results), nil, true, nil
			}
			e.done = true
			return nil, nil, false, nil
		}
		e.resetGroup()
		rep := first
		if err := hold.Store(first, nil, false); err != nil {
			return nil, nil, false, errors.Trace(err)
		}
		if err := e.advanceAggs(hold); err != nil {
			return nil, nil, false, errors.Trace(err)
		}
		for {
			slot, err := e.child.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				e.eof = true
				break
			}
			t := slot.Tuple()
			if len(e.groupCols) > 0 {
				same, err := e.sameGroup(rep, t)
				if err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				if !same {
					e.look = t.Clone()
					break
				}
			}
			if err := hold.Store(t, nil, false); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if err := e.advanceAggs(hold); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
		}
		if len(e.groupCols) == 0 {
			e.plainEmited = true
			e.done = true
		}
		results, err := e.finalizeAggs()
		if err != nil {
			return nil, nil, false, errors.Trace(err)
		}
		return e.composite(rep, results), nil, true, nil
	})
}

// ReScan implements Executor interface.
func (e *AggExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.look = nil
	e.eof = false
	e.plainEmited = false
	e.done = false
	for _, st := range e.aggs {
		if st.sorter != nil {
			st.sorter.End()
			st.sorter = nil
		}
	}
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *AggExec) Close() error {
	err := e.child.Close()
	for _, st := range e.aggs {
		if st.sorter != nil {
			st.sorter.End()
			st.sorter = nil
		}
	}
	e.closeBase()
	return errors.Trace(err)
}

// GroupExec emits group boundaries over input sorted on the grouping
// columns: the first tuple of each group, or every tuple when configured to
// return all.
type GroupExec struct {
	baseExec
	child     Executor
	groupCols []int
	returnAll bool

	last *tuple.Tuple
}

func newGroupExec(estate *ExecState, p *plan.Group, child Executor) (*GroupExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &GroupExec{baseExec: b, child: child, groupCols: p.GroupCols, returnAll: p.ReturnAll}
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

// sameGroup compares two tuples on the grouping columns by the type's
// textual output form, NULLs grouping together.
func (e *GroupExec) sameGroup(a, b *tuple.Tuple) bool {
	for _, c := range e.groupCols {
		av, bv := a.Values[c], b.Values[c]
		if av.IsNull() || bv.IsNull() {
			if av.IsNull() && bv.IsNull() {
				continue
			}
			return false
		}
		if av.OutputForm() != bv.OutputForm() {
			return false
		}
	}
	return true
}

// Next implements Executor interface.
func (e *GroupExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			slot, err := e.child.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot == nil {
				return nil, nil, false, nil
			}
			t := slot.Tuple()
			if e.returnAll {
				return t, nil, false, nil
			}
			if e.last != nil && e.sameGroup(e.last, t) {
				continue
			}
			e.last = t.Clone()
			return t, nil, false, nil
		}
	})
}

// ReScan implements Executor interface.
func (e *GroupExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.last = nil
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *GroupExec) Close() error {
	err := e.child.Close()
	e.last = nil
	e.closeBase()
	return errors.Trace(err)
}
