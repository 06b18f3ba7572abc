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

// Merge join states.
const (
	mjNeedOuter = iota
	mjTestOuter
	mjNeedInner
	mjJoinGroup
	mjDrainOuter
	mjDone
)

// mergeClauseState is one compiled merge clause.
type mergeClauseState struct {
	outerKey *expression.ExprState
	innerKey *expression.ExprState
	desc     bool
}

// MergeJoinExec joins two inputs pre-sorted on the merge clause keys. Equal
// inner groups are re-read through the inner side's mark/restore; the first
// tuple of the marked group is parked in a slot that takes over its
// ownership, since restoring repositions the cursor after it.
type MergeJoinExec struct {
	baseExec
	joinType plan.JoinType
	clauses  []mergeClauseState
	joinQual []*expression.ExprState

	outer, inner Executor
	innerMark    MarkRestorer

	outerHold  *tuple.Slot
	innerHold  *tuple.Slot
	markedHold *tuple.Slot
	nullHold   *tuple.Slot
	nullInner  *tuple.Tuple

	state int
	// lookahead is set when innerHold holds a tuple past the current group.
	lookahead bool
	innerEOF  bool
	// markedValid is set while markedHold holds the first tuple of the most
	// recent equal group.
	markedValid bool
	// matched is set once any pair of the current outer tuple survived the
	// extra join qual; an unmatched outer still owes a null extension.
	matched bool
	// groupFirst is set when the next group tuple to join is markedHold
	// rather than a fresh inner fetch.
	groupFirst bool
	// drainPending is set when mjDrainOuter still owes a null-extension for
	// the outer tuple already in the hold slot.
	drainPending bool
}

func newMergeJoinExec(estate *ExecState, p *plan.MergeJoin, outer, inner Executor) (*MergeJoinExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mr, ok := inner.(MarkRestorer)
	if !ok {
		return nil, errors.New("merge join inner side does not support mark/restore")
	}
	e := &MergeJoinExec{
		baseExec:  b,
		joinType:  p.Join,
		joinQual:  expression.InitList(p.JoinQual),
		outer:     outer,
		inner:     inner,
		innerMark: mr,
		state:     mjNeedOuter,
	}
	for _, c := range p.Clauses {
		e.clauses = append(e.clauses, mergeClauseState{
			outerKey: expression.Init(c.OuterKey),
			innerKey: expression.Init(c.InnerKey),
			desc:     c.Desc,
		})
	}
	if e.outerHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	if e.innerHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	if e.markedHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	if e.nullHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	innerDesc := p.Right.Common().OutDesc()
	e.outerHold.SetDesc(p.Left.Common().OutDesc(), true)
	e.innerHold.SetDesc(innerDesc, true)
	e.markedHold.SetDesc(innerDesc, true)
	e.nullHold.SetDesc(innerDesc, true)
	e.nullInner = nullTuple(innerDesc)
	e.ectx.OuterSlot = e.outerHold
	e.ectx.InnerSlot = e.innerHold
	return e, nil
}

// compareKeys orders the current outer tuple against the tuple in slot by
// the merge clauses. NULL keys never join; they order before non-NULL under
// ascending clauses.
func (e *MergeJoinExec) compareKeys(slot *tuple.Slot) (cmp int, nullKey bool, err error) {
	saved := e.ectx.InnerSlot
	e.ectx.InnerSlot = slot
	defer func() { e.ectx.InnerSlot = saved }()
	for _, c := range e.clauses {
		ov, err := c.outerKey.Eval(e.ectx)
		if err != nil {
			return 0, false, errors.Trace(err)
		}
		iv, err := c.innerKey.Eval(e.ectx)
		if err != nil {
			return 0, false, errors.Trace(err)
		}
		if ov.IsNull() || iv.IsNull() {
			nullKey = true
		}
		c0, err := ov.Compare(iv)
		if err != nil {
			return 0, false, errors.Trace(err)
		}
		if c.desc {
			c0 = -c0
		}
		if c0 != 0 {
			return c0, nullKey, nil
		}
	}
	return 0, nullKey, nil
}

// emitPair applies the extra join qualification and the node qualification
// to (outerHold, inner) and projects on success. Null extensions go through
// their own slot, so a lookahead tuple parked in innerHold survives them.
func (e *MergeJoinExec) emitPair(inner *tuple.Tuple, nullExtended bool) (*tuple.Slot, bool, error) {
	if nullExtended {
		if err := e.nullHold.Store(e.nullInner, nil, false); err != nil {
			return nil, false, errors.Trace(err)
		}
		e.ectx.InnerSlot = e.nullHold
		defer func() { e.ectx.InnerSlot = e.innerHold }()
	} else if inner != nil {
		if err := e.innerHold.Store(inner, nil, false); err != nil {
			return nil, false, errors.Trace(err)
		}
	}
	e.ectx.ResetPerTuple()
	if !nullExtended {
		pass, err := expression.ExecQual(e.joinQual, e.ectx)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if !pass {
			return nil, false, nil
		}
		e.matched = true
	}
	pass, err := expression.ExecQual(e.qual, e.ectx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	if !pass {
		return nil, false, nil
	}
	slot, err := e.proj.Project(e.ectx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	return slot, true, nil
}

// fetchOuter loads the next outer tuple into the hold slot.
func (e *MergeJoinExec) fetchOuter(ctx context.Context) (bool, error) {
	oslot, err := e.outer.Next(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if oslot == nil {
		return false, nil
	}
	if err := e.outerHold.Store(oslot.Tuple(), nil, false); err != nil {
		return false, errors.Trace(err)
	}
	e.matched = false
	return true, nil
}

// fetchInner loads the next inner tuple into the hold slot.
func (e *MergeJoinExec) fetchInner(ctx context.Context) (bool, error) {
	islot, err := e.inner.Next(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if islot == nil {
		e.innerEOF = true
		e.lookahead = false
		return false, nil
	}
	if err := e.innerHold.Store(islot.Tuple(), nil, false); err != nil {
		return false, errors.Trace(err)
	}
	e.lookahead = true
	return true, nil
}

// Next implements Executor interface.
func (e *MergeJoinExec) Next(ctx context.Context) (*tuple.Slot, error) {
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		switch e.state {
		case mjDone:
			return nil, nil

		case mjNeedOuter:
			ok, err := e.fetchOuter(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if !ok {
				e.state = mjDone
				return nil, nil
			}
			if e.markedValid {
				e.state = mjTestOuter
			} else if e.innerEOF && !e.lookahead {
				e.state = mjDrainOuter
				e.drainPending = true
			} else {
				e.state = mjNeedInner
			}

		case mjTestOuter:
			// Does the new outer tuple rejoin the marked inner group?
			cmp, nullKey, err := e.compareKeys(e.markedHold)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if cmp == 0 && !nullKey {
				e.innerMark.RestorePos()
				e.innerEOF = false
				e.lookahead = false
				e.groupFirst = true
				e.state = mjJoinGroup
			} else {
				e.markedValid = false
				e.markedHold.Clear()
				if e.innerEOF && !e.lookahead {
					e.state = mjDrainOuter
					e.drainPending = true
				} else {
					e.state = mjNeedInner
				}
			}

		case mjNeedInner:
			// Advance the inner side to the first key >= the outer key.
			if !e.lookahead {
				if e.innerEOF {
					e.state = mjDrainOuter
					e.drainPending = true
					continue
				}
				ok, err := e.fetchInner(ctx)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if !ok {
					e.state = mjDrainOuter
					e.drainPending = true
					continue
				}
			}
			cmp, nullKey, err := e.compareKeys(e.innerHold)
			if err != nil {
				return nil, errors.Trace(err)
			}
			switch {
			case cmp > 0:
				// inner behind; skip it.
				e.lookahead = false
			case cmp < 0 || nullKey:
				// No inner match for this outer tuple.
				e.state = mjNeedOuter
				if e.joinType == plan.LeftOuterJoin {
					slot, emitted, err := e.emitPair(nil, true)
					if err != nil {
						return nil, errors.Trace(err)
					}
					if emitted {
						return slot, nil
					}
				}
			default:
				// Group start: park the first match and mark the position
				// after it.
				e.markedHold.TakeFrom(e.innerHold)
				e.lookahead = false
				e.innerMark.MarkPos()
				e.markedValid = true
				e.groupFirst = true
				e.state = mjJoinGroup
			}

		case mjJoinGroup:
			if e.groupFirst {
				e.groupFirst = false
				slot, emitted, err := e.emitPair(e.markedHold.Tuple(), false)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
				continue
			}
			ok, err := e.fetchInner(ctx)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if !ok {
				slot, emitted, err := e.finishGroup()
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
				continue
			}
			cmp, nullKey, err := e.compareKeys(e.innerHold)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if cmp != 0 || nullKey {
				// innerHold becomes the lookahead past the group.
				slot, emitted, err := e.finishGroup()
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
				continue
			}
			e.lookahead = false
			slot, emitted, err := e.emitPair(nil, false)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if emitted {
				return slot, nil
			}

		case mjDrainOuter:
			// Inner exhausted with no marked group: remaining outers only
			// matter for a left outer join.
			if e.joinType != plan.LeftOuterJoin {
				e.state = mjDone
				return nil, nil
			}
			if !e.drainPending {
				ok, err := e.fetchOuter(ctx)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if !ok {
					e.state = mjDone
					return nil, nil
				}
			}
			e.drainPending = false
			slot, emitted, err := e.emitPair(nil, true)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if emitted {
				return slot, nil
			}
		}
	}
}

// finishGroup hands control back to the outer side once the current equal
// group is exhausted. A left-join outer tuple whose key matched the group
// but whose every pair failed the extra join qual is emitted null-extended
// here.
func (e *MergeJoinExec) finishGroup() (*tuple.Slot, bool, error) {
	e.state = mjNeedOuter
	if e.joinType == plan.LeftOuterJoin && !e.matched {
		return e.emitPair(nil, true)
	}
	return nil, false, nil
}

// ReScan implements Executor interface.
func (e *MergeJoinExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.state = mjNeedOuter
	e.lookahead = false
	e.innerEOF = false
	e.markedValid = false
	e.matched = false
	e.groupFirst = false
	e.drainPending = false
	e.outerHold.Clear()
	e.innerHold.Clear()
	e.markedHold.Clear()
	e.nullHold.Clear()
	if err := e.outer.ReScan(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.inner.ReScan(ctx))
}

// Close implements Executor interface.
func (e *MergeJoinExec) Close() error {
	err1 := e.outer.Close()
	err2 := e.inner.Close()
	e.outerHold.Clear()
	e.innerHold.Clear()
	e.markedHold.Clear()
	e.nullHold.Clear()
	e.closeBase()
	if err1 != nil {
		return errors.Trace(err1)
	}
	return errors.Trace(err2)
}
