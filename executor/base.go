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

	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/tuple"
)

// baseExec carries the node state every executor shares: the compiled
// qualification, the projection with its result slot, a scan slot feeding
// the expression context, and the in-progress set projection when the
// target list contains set-returning functions.
type baseExec struct {
	estate *ExecState
	common *plan.CommonPlan

	ectx *expression.ExprContext
	qual []*expression.ExprState
	proj *expression.Projection

	scanSlot   *tuple.Slot
	resultSlot *tuple.Slot

	pendingSeq *expression.ProjectionSeq
}

func newBaseExec(estate *ExecState, p plan.Plan) (baseExec, error) {
	c := p.Common()
	b := baseExec{estate: estate, common: c}
	b.ectx = estate.newExprContext()
	b.qual = expression.InitList(c.Qual)
	var err error
	if b.scanSlot, err = estate.allocSlot(); err != nil {
		return b, errors.Trace(err)
	}
	if b.resultSlot, err = estate.allocSlot(); err != nil {
		return b, errors.Trace(err)
	}
	b.ectx.ScanSlot = b.scanSlot
	exprs := make([]expression.Expression, len(c.Targets))
	for i, te := range c.Targets {
		exprs[i] = te.Expr
	}
	b.proj = expression.NewProjection(exprs, c.OutDesc(), b.resultSlot)
	return b, nil
}

// rawSource produces the next raw input tuple of a scan: the tuple, its page
// pin if physical, and whether the slot should own it. A nil tuple ends the
// scan.
type rawSource func() (*tuple.Tuple, tuple.Pin, bool, error)

// fetchNext is the common scan loop: pull a raw tuple, run the
// qualification, then project. When the target list contains set-returning
// functions each passing input tuple expands to a sequence of results; the
// sequence is resumed across calls.
func (b *baseExec) fetchNext(ctx context.Context, src rawSource) (*tuple.Slot, error) {
	for {
		if err := b.estate.CheckInterrupt(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		if b.pendingSeq != nil {
			slot, ok, err := b.pendingSeq.Next()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if ok {
				return slot, nil
			}
			b.pendingSeq = nil
		}
		raw, pin, own, err := src()
		if err != nil {
			return nil, errors.Trace(err)
		}
		if raw == nil {
			return nil, nil
		}
		if err := b.scanSlot.Store(raw, pin, own); err != nil {
			return nil, errors.Trace(err)
		}
		b.ectx.ResetPerTuple()
		pass, err := expression.ExecQual(b.qual, b.ectx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !pass {
			continue
		}
		if b.proj.HasSet() {
			seq, err := b.proj.ProjectSet(b.ectx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			b.pendingSeq = seq
			continue
		}
		slot, err := b.proj.Project(b.ectx)
		return slot, errors.Trace(err)
	}
}

// resetScan drops any in-progress set projection and clears the scan state,
// the common part of every ReScan.
func (b *baseExec) resetScan() {
	b.pendingSeq = nil
	b.scanSlot.Clear()
	b.resultSlot.Clear()
}

// closeBase clears the node's slots.
func (b *baseExec) closeBase() {
	b.pendingSeq = nil
	b.scanSlot.Clear()
	b.resultSlot.Clear()
}
