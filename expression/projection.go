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
	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// Projection evaluates a target list into a result slot.
type Projection struct {
	Exprs      []Expression
	Desc       *tuple.Desc
	ResultSlot *tuple.Slot

	hasSet bool
}

// NewProjection creates projection info over a target list. The result slot
// receives each projected tuple as an owned heap tuple.
func NewProjection(exprs []Expression, desc *tuple.Desc, resultSlot *tuple.Slot) *Projection {
	p := &Projection{Exprs: exprs, Desc: desc, ResultSlot: resultSlot}
	for _, e := range exprs {
		if _, ok := e.(SetExpression); ok {
			p.hasSet = true
			break
		}
	}
	if resultSlot != nil {
		resultSlot.SetDesc(desc, true)
	}
	return p
}

// HasSet reports whether the target list contains set-returning expressions.
func (p *Projection) HasSet() bool {
	return p.hasSet
}

// Project evaluates the target list once and stores the result tuple in the
// result slot. Set-returning expressions are evaluated in scalar context;
// use ProjectSet when the full set is needed.
func (p *Projection) Project(ctx *ExprContext) (*tuple.Slot, error) {
	vals := make([]types.Datum, len(p.Exprs))
	for i, e := range p.Exprs {
		d, err := e.Eval(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		vals[i] = d
	}
	if err := p.ResultSlot.Store(tuple.NewTuple(vals...), nil, true); err != nil {
		return nil, errors.Trace(err)
	}
	return p.ResultSlot, nil
}

// ProjectSet starts a set projection for the current input tuple. Scalar
// target entries are evaluated once; set-returning entries iterate in
// lockstep, exhausted ones padded with NULLs, until every set is done.
func (p *Projection) ProjectSet(ctx *ExprContext) (*ProjectionSeq, error) {
	seq := &ProjectionSeq{proj: p}
	seq.scalars = make([]types.Datum, len(p.Exprs))
	seq.sets = make([]SetResult, len(p.Exprs))
	for i, e := range p.Exprs {
		if se, ok := e.(SetExpression); ok {
			set, err := se.EvalSet(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			seq.sets[i] = set
			continue
		}
		d, err := e.Eval(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		seq.scalars[i] = d
	}
	return seq, nil
}

// ProjectionSeq is the restartable sequence of projection results for one
// input tuple.
type ProjectionSeq struct {
	proj    *Projection
	scalars []types.Datum
	sets    []SetResult
	done    bool
}

// Next produces the next projected tuple into the projection's result slot.
// ok is false once every set-returning entry is exhausted; a first call
// where all sets are already empty produces no row.
func (ps *ProjectionSeq) Next() (*tuple.Slot, bool, error) {
	if ps.done {
		return nil, false, nil
	}
	vals := make([]types.Datum, len(ps.scalars))
	anyLive := false
	for i := range ps.scalars {
		if ps.sets[i] == nil {
			vals[i] = ps.scalars[i]
			continue
		}
		d, ok, err := ps.sets[i].Next()
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if !ok {
			vals[i] = types.Datum{}
			continue
		}
		anyLive = true
		vals[i] = d
	}
	if !anyLive {
		ps.done = true
		return nil, false, nil
	}
	if err := ps.proj.ResultSlot.Store(tuple.NewTuple(vals...), nil, true); err != nil {
		return nil, false, errors.Trace(err)
	}
	return ps.proj.ResultSlot, true, nil
}
