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

	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/codec"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// RecursiveUnionExec drives a recursive CTE. The non-recursive term seeds
// the working table; the recursive term is then re-run against each
// iteration's output until an iteration adds nothing.
type RecursiveUnionExec struct {
	baseExec
	nonRec, rec Executor
	wtName      string
	dedup       bool

	seen         map[string]struct{}
	working      *tuplestore.Store
	intermediate *tuplestore.Store
	recursing    bool
	done         bool
}

func newRecursiveUnionExec(estate *ExecState, p *plan.RecursiveUnion, nonRec, rec Executor) (*RecursiveUnionExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &RecursiveUnionExec{
		baseExec: b,
		nonRec:   nonRec,
		rec:      rec,
		wtName:   p.WTName,
		dedup:    p.Dedup,
	}
	if p.Dedup {
		e.seen = make(map[string]struct{})
	}
	e.working = tuplestore.New(estate.WorkMem(), estate.TempDir())
	e.intermediate = tuplestore.New(estate.WorkMem(), estate.TempDir())
	estate.workTables[p.WTName] = e.working
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

// admit applies duplicate elimination. Under UNION ALL everything passes.
func (e *RecursiveUnionExec) admit(t *tuple.Tuple) bool {
	if !e.dedup {
		return true
	}
	key := string(codec.EncodeTuple(nil, t))
	if _, dup := e.seen[key]; dup {
		return false
	}
	e.seen[key] = struct{}{}
	return true
}

// Next implements Executor interface.
func (e *RecursiveUnionExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			if e.done {
				return nil, nil, false, nil
			}
			if !e.recursing {
				slot, err := e.nonRec.Next(ctx)
				if err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				if slot != nil {
					t := slot.Tuple()
					if !e.admit(t) {
						continue
					}
					if err := e.working.Put(t.Clone()); err != nil {
						return nil, nil, false, errors.Trace(err)
					}
					return t, nil, false, nil
				}
				// Seed phase over; start iterating the recursive term.
				e.recursing = true
				if e.working.Len() == 0 {
					e.done = true
					continue
				}
				if err := e.rec.ReScan(ctx); err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				continue
			}
			slot, err := e.rec.Next(ctx)
			if err != nil {
				return nil, nil, false, errors.Trace(err)
			}
			if slot != nil {
				t := slot.Tuple()
				if !e.admit(t) {
					continue
				}
				if err := e.intermediate.Put(t.Clone()); err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				return t, nil, false, nil
			}
			// Iteration end: the intermediate table becomes the next
			// working table.
			if e.intermediate.Len() == 0 {
				e.done = true
				continue
			}
			e.working.End()
			e.working = e.intermediate
			e.intermediate = tuplestore.New(e.estate.WorkMem(), e.estate.TempDir())
			e.estate.workTables[e.wtName] = e.working
			if err := e.rec.ReScan(ctx); err != nil {
				return nil, nil, false, errors.Trace(err)
			}
		}
	})
}

// ReScan implements Executor interface.
func (e *RecursiveUnionExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.recursing = false
	e.done = false
	if e.dedup {
		e.seen = make(map[string]struct{})
	}
	e.working.End()
	e.intermediate.End()
	e.working = tuplestore.New(e.estate.WorkMem(), e.estate.TempDir())
	e.intermediate = tuplestore.New(e.estate.WorkMem(), e.estate.TempDir())
	e.estate.workTables[e.wtName] = e.working
	if err := e.nonRec.ReScan(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.rec.ReScan(ctx))
}

// Close implements Executor interface.
func (e *RecursiveUnionExec) Close() error {
	err1 := e.nonRec.Close()
	err2 := e.rec.Close()
	e.working.End()
	e.intermediate.End()
	delete(e.estate.workTables, e.wtName)
	e.seen = nil
	e.closeBase()
	if err1 != nil {
		return errors.Trace(err1)
	}
	return errors.Trace(err2)
}

// SetOpExec computes INTERSECT/EXCEPT over input sorted on the comparison
// columns, with a flag column marking each row's source side.
type SetOpExec struct {
	baseExec
	child   Executor
	cmd     plan.SetOpCmd
	flagCol int
	cmpCols []int

	pending int
	rep     *tuple.Tuple
	// look holds the first tuple of the next group.
	look *tuple.Tuple
	eof  bool
}

func newSetOpExec(estate *ExecState, p *plan.SetOp, child Executor) (*SetOpExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &SetOpExec{
		baseExec: b,
		child:    child,
		cmd:      p.Cmd,
		flagCol:  p.FlagCol,
		cmpCols:  p.CmpCols,
	}
	e.scanSlot.SetDesc(p.Left.Common().OutDesc(), true)
	return e, nil
}

func (e *SetOpExec) sameGroup(a, b *tuple.Tuple) (bool, error) {
	for _, c := range e.cmpCols {
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

// output decides how many copies of a group to emit from the side counts.
func (e *SetOpExec) output(numLeft, numRight int) int {
	switch e.cmd {
	case plan.SetOpIntersect:
		if numLeft > 0 && numRight > 0 {
			return 1
		}
	case plan.SetOpIntersectAll:
		if numLeft < numRight {
			return numLeft
		}
		return numRight
	case plan.SetOpExcept:
		if numLeft > 0 && numRight == 0 {
			return 1
		}
	case plan.SetOpExceptAll:
		if n := numLeft - numRight; n > 0 {
			return n
		}
	}
	return 0
}

// Next implements Executor interface.
func (e *SetOpExec) Next(ctx context.Context) (*tuple.Slot, error) {
	return e.fetchNext(ctx, func() (*tuple.Tuple, tuple.Pin, bool, error) {
		for {
			if e.pending > 0 {
				e.pending--
				return e.rep, nil, false, nil
			}
			// Accumulate the next group.
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
				return nil, nil, false, nil
			}
			numLeft, numRight := 0, 0
			count := func(t *tuple.Tuple) {
				if t.Values[e.flagCol].GetInt64() == 0 {
					numLeft++
				} else {
					numRight++
				}
			}
			count(first)
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
				same, err := e.sameGroup(first, t)
				if err != nil {
					return nil, nil, false, errors.Trace(err)
				}
				if !same {
					e.look = t.Clone()
					break
				}
				count(t)
			}
			e.rep = first
			e.pending = e.output(numLeft, numRight)
		}
	})
}

// ReScan implements Executor interface.
func (e *SetOpExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.pending = 0
	e.rep = nil
	e.look = nil
	e.eof = false
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *SetOpExec) Close() error {
	err := e.child.Close()
	e.closeBase()
	return errors.Trace(err)
}
