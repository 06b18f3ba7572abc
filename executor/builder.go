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
	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/plan"
)

// buildNode dispatches a plan node to its executor constructor. The type
// switch here is the single place that knows the full node set; an
// unhandled node is a planner/executor version skew bug.
func (e *ExecState) buildNode(p plan.Plan) (Executor, error) {
	switch n := p.(type) {
	case *plan.SeqScan:
		return newSeqScanExec(e, n)
	case *plan.IndexScan:
		return newIndexScanExec(e, n)
	case *plan.IndexOnlyScan:
		return newIndexOnlyScanExec(e, n)
	case *plan.BitmapIndexScan:
		return newBitmapIndexScanExec(e, n)
	case *plan.BitmapAnd:
		children, err := e.buildList(n.Children)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newBitmapAndExec(e, children), nil
	case *plan.BitmapOr:
		children, err := e.buildList(n.Children)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newBitmapOrExec(e, children), nil
	case *plan.BitmapHeapScan:
		bitmap, err := e.buildNode(n.Bitmap)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newBitmapHeapScanExec(e, n, bitmap)
	case *plan.TidRangeScan:
		return newTidRangeScanExec(e, n)
	case *plan.SubqueryScan:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newSubqueryScanExec(e, n, child)
	case *plan.CteScan:
		return newCteScanExec(e, n, func() (Executor, error) {
			return e.buildNode(n.Leader)
		})
	case *plan.WorkTableScan:
		return newWorkTableScanExec(e, n)
	case *plan.NamedTuplestoreScan:
		return newNamedTuplestoreScanExec(e, n)
	case *plan.ValuesScan:
		return newValuesScanExec(e, n)
	case *plan.TableFuncScan:
		return newTableFuncScanExec(e, n)
	case *plan.NestLoop:
		outer, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		outerHold, err := e.allocSlot()
		if err != nil {
			return nil, errors.Trace(err)
		}
		// The inner subtree resolves OuterInput columns against the hold
		// slot.
		prev := e.curOuterSlot
		e.curOuterSlot = outerHold
		inner, err := e.buildNode(n.Right)
		e.curOuterSlot = prev
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newNestLoopExec(e, n, outer, inner, outerHold)
	case *plan.MergeJoin:
		outer, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		inner, err := e.buildNode(n.Right)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newMergeJoinExec(e, n, outer, inner)
	case *plan.HashJoin:
		outer, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		hashPlan, ok := n.Right.(*plan.Hash)
		if !ok {
			return nil, errors.New("HashJoin inner child must be a Hash node")
		}
		buildChild, err := e.buildNode(hashPlan.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		hash, err := newHashExec(e, hashPlan, buildChild)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newHashJoinExec(e, n, outer, hash)
	case *plan.Material:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newMaterialExec(e, n, child)
	case *plan.Sort:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newSortExec(e, n, child)
	case *plan.Unique:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newUniqueExec(e, n, child)
	case *plan.Limit:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newLimitExec(e, n, child)
	case *plan.ProjectSet:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newProjectSetExec(e, n, child)
	case *plan.Result:
		var child Executor
		if n.Left != nil {
			var err error
			if child, err = e.buildNode(n.Left); err != nil {
				return nil, errors.Trace(err)
			}
		}
		return newResultExec(e, n, child)
	case *plan.Append:
		children, err := e.buildList(n.Children)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newAppendExec(e, n, children)
	case *plan.MergeAppend:
		children, err := e.buildList(n.Children)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newMergeAppendExec(e, n, children)
	case *plan.RecursiveUnion:
		nonRec, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		rec, err := e.buildNode(n.Right)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newRecursiveUnionExec(e, n, nonRec, rec)
	case *plan.SetOp:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newSetOpExec(e, n, child)
	case *plan.Agg:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newAggExec(e, n, child)
	case *plan.Group:
		child, err := e.buildNode(n.Left)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newGroupExec(e, n, child)
	}
	return nil, ErrUnknownPlan.Gen("unknown plan node %T", p)
}

func (e *ExecState) buildList(ps []plan.Plan) ([]Executor, error) {
	out := make([]Executor, 0, len(ps))
	for _, p := range ps {
		c, err := e.buildNode(p)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, c)
	}
	return out, nil
}

// CountSlots computes how many tuple-table slots a plan tree needs. It must
// stay in step with the slot allocations of the executor constructors.
func CountSlots(p plan.Plan) int {
	if p == nil {
		return 0
	}
	own := 2
	extra := 0
	switch n := p.(type) {
	case *plan.BitmapIndexScan:
		own = 0
	case *plan.BitmapAnd:
		own = 0
		for _, c := range n.Children {
			extra += CountSlots(c)
		}
	case *plan.BitmapOr:
		own = 0
		for _, c := range n.Children {
			extra += CountSlots(c)
		}
	case *plan.BitmapHeapScan:
		extra += CountSlots(n.Bitmap)
	case *plan.CteScan:
		extra += CountSlots(n.Leader)
	case *plan.NestLoop:
		// base, inner hold, plus the outer hold owned by the builder.
		own = 4
	case *plan.MergeJoin:
		own = 5
	case *plan.HashJoin:
		own = 4
	case *plan.Hash:
		own = 1
	case *plan.Append:
		for _, c := range n.Children {
			extra += CountSlots(c)
		}
	case *plan.MergeAppend:
		for _, c := range n.Children {
			extra += CountSlots(c)
		}
	}
	c := p.Common()
	return own + extra + CountSlots(c.Left) + CountSlots(c.Right)
}
