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
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/logutil"
)

// RunFeature selects how much of the plan output one Run call consumes.
type RunFeature int

// Run features.
const (
	// RunAll runs the plan to completion.
	RunAll RunFeature = iota
	// RunFor fetches up to count tuples forward.
	RunFor
	// RunBack fetches up to count tuples backward.
	RunBack
	// RunRetOne fetches a single tuple.
	RunRetOne
)

// DestReceiver consumes result tuples from a Run call.
type DestReceiver interface {
	Receive(t *tuple.Tuple, desc *tuple.Desc) error
}

// SliceDest collects result tuples into memory.
type SliceDest struct {
	Desc *tuple.Desc
	Rows []*tuple.Tuple
}

// Receive implements DestReceiver interface.
func (d *SliceDest) Receive(t *tuple.Tuple, desc *tuple.Desc) error {
	d.Desc = desc
	d.Rows = append(d.Rows, t.Clone())
	return nil
}

// discardDest drops every tuple; MOVE runs with it.
type discardDest struct{}

// Receive implements DestReceiver interface.
func (discardDest) Receive(*tuple.Tuple, *tuple.Desc) error {
	return nil
}

// DiscardDest returns a receiver that ignores all tuples.
func DiscardDest() DestReceiver {
	return discardDest{}
}

// OutputDesc returns the descriptor of the tuples this execution delivers,
// after junk filtering.
func (e *ExecState) OutputDesc() *tuple.Desc {
	if e.JunkFilter != nil {
		return e.JunkFilter.CleanDesc()
	}
	return e.Stmt.Tree.Common().OutDesc()
}

// Start opens the execution: it sizes and allocates the tuple table, opens
// and locks the result relation, builds the executor tree and the junk
// filter, and creates any SELECT INTO destination.
func (e *ExecState) Start(ctx context.Context) error {
	if e.Hooks != nil && e.Hooks.Locks != nil && e.Hooks.StartDelayLockID != 0 {
		e.Hooks.Locks.Acquire(e.Hooks.StartDelayLockID)
		e.Hooks.Locks.Release(e.Hooks.StartDelayLockID)
	}
	failpoint.Inject("executorStartDelay", func() {})

	e.TupleTable = tuple.NewTable(CountSlots(e.Stmt.Tree) + 10)

	if e.Stmt.Cmd != plan.CmdSelect {
		if e.Stmt.ResultRelation < 0 {
			return errors.Errorf("%s has no result relation", e.Stmt.Cmd)
		}
		rel, err := e.Relation(e.Stmt.ResultRelation)
		if err != nil {
			return errors.Trace(err)
		}
		if rel.IsSequence() {
			return ErrModifySequence.Gen("cannot modify sequence %q", rel.Name())
		}
		rel.LockExclusive()
		if e.ResultRel == nil {
			e.ResultRel = &ResultRelInfo{}
		}
		e.ResultRel.Rel = rel
		e.ResultRel.Indexes = rel.Indexes()
		e.ResultRel.locked = true
	} else if e.Stmt.ResultRelation >= 0 {
		return ErrResultRelOnSelect
	}

	root, err := e.buildNode(e.Stmt.Tree)
	if err != nil {
		return errors.Trace(err)
	}
	e.Root = root

	targets := e.Stmt.Tree.Common().Targets
	if NeedsFilter(targets) || e.Stmt.Cmd == plan.CmdUpdate || e.Stmt.Cmd == plan.CmdDelete {
		jf, err := NewJunkFilter(targets, e.TupleTable)
		if err != nil {
			return errors.Trace(err)
		}
		e.JunkFilter = jf
	}

	if e.Stmt.IntoName != "" {
		rel, err := e.Catalog.CreateRelation(e.Stmt.IntoName, e.OutputDesc())
		if err != nil {
			return errors.Trace(err)
		}
		e.IntoRel = rel
	}

	logutil.BgLogger().Debug("executor started",
		zap.String("cmd", e.Stmt.Cmd.String()),
		zap.Int("slots", e.TupleTable.Size()))
	return nil
}

// Run pulls tuples from the plan root and applies the per-command side
// effect, until the feature's demand or the plan is exhausted. It returns
// the number of tuples processed by this call.
func (e *ExecState) Run(ctx context.Context, feature RunFeature, count uint64, dest DestReceiver) (uint64, error) {
	e.Direction = storage.Forward
	if feature == RunBack {
		e.Direction = storage.Backward
	}
	if feature == RunRetOne {
		count = 1
	}
	if feature == RunAll {
		count = 0
	}
	if dest == nil {
		dest = DiscardDest()
	}

	var processed uint64
	for {
		failpoint.Inject("executorRunInterrupt", func() {
			e.Interrupt()
		})
		slot, err := e.Root.Next(ctx)
		if err != nil {
			return processed, errors.Trace(err)
		}
		if slot == nil {
			break
		}
		switch e.Stmt.Cmd {
		case plan.CmdSelect:
			err = e.emitSelect(slot, dest)
		case plan.CmdInsert:
			err = e.execInsert(slot)
		case plan.CmdUpdate:
			err = e.execUpdate(slot)
		case plan.CmdDelete:
			err = e.execDelete(slot)
		}
		if err != nil {
			return processed, errors.Trace(err)
		}
		processed++
		if count > 0 && processed >= count {
			break
		}
	}
	e.Processed += processed
	return processed, nil
}

// End closes the executor tree and releases every execution resource.
func (e *ExecState) End() error {
	var firstErr error
	if e.Root != nil {
		if err := e.Root.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.Root = nil
	}
	for _, cs := range e.cteShared {
		if cs.Plan != nil {
			if err := cs.Plan.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			cs.Plan = nil
		}
		cs.Store.End()
	}
	for _, wt := range e.workTables {
		wt.End()
	}
	if e.TupleTable != nil {
		e.TupleTable.Destroy(true)
		e.TupleTable = nil
	}
	if e.ResultRel != nil && e.ResultRel.locked {
		e.ResultRel.Rel.Unlock()
		e.ResultRel.locked = false
	}
	logutil.BgLogger().Debug("executor ended", zap.Uint64("processed", e.Processed))
	return errors.Trace(firstErr)
}

// emitSelect junk-filters a result tuple and hands it to the receiver; a
// SELECT INTO destination gets a copy.
func (e *ExecState) emitSelect(slot *tuple.Slot, dest DestReceiver) error {
	out := slot
	if e.JunkFilter != nil {
		filtered, err := e.JunkFilter.Remove(slot)
		if err != nil {
			return errors.Trace(err)
		}
		out = filtered
	}
	t := out.Tuple()
	if e.IntoRel != nil {
		if _, err := e.IntoRel.Insert(t.Clone()); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(dest.Receive(t, e.OutputDesc()))
}

// fire runs the triggers for one event. A BEFORE trigger may replace the
// row or, by returning nil, skip the operation.
func (r *ResultRelInfo) fire(event TriggerEvent, old, new *tuple.Tuple) (*tuple.Tuple, bool, error) {
	for _, tg := range r.Triggers {
		if tg.Event != event {
			continue
		}
		out, err := tg.Func(old, new)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		switch event {
		case BeforeInsert, BeforeUpdate, BeforeDelete:
			if out == nil {
				return nil, true, nil
			}
			new = out
		}
	}
	return new, false, nil
}

// checkNotNull enforces the relation's NOT NULL column constraints.
func checkNotNull(rel storage.Relation, t *tuple.Tuple) error {
	for i, col := range rel.Desc().Cols {
		if col.NotNull && (i >= len(t.Values) || t.Values[i].IsNull()) {
			return ErrNullValueNotAllowed.Gen("null value in column %q violates not-null constraint", col.Name)
		}
	}
	return nil
}

func (e *ExecState) execInsert(slot *tuple.Slot) error {
	r := e.ResultRel
	t := slot.Tuple().Clone()
	t, skip, err := r.fire(BeforeInsert, nil, t)
	if err != nil || skip {
		return errors.Trace(err)
	}
	if err := checkNotNull(r.Rel, t); err != nil {
		return errors.Trace(err)
	}
	tid, err := r.Rel.Insert(t)
	if err != nil {
		return errors.Trace(err)
	}
	for _, idx := range r.Indexes {
		if err := idx.Insert(t.Values[idx.KeyColumn()], tid); err != nil {
			return errors.Trace(err)
		}
	}
	_, _, err = r.fire(AfterInsert, nil, t)
	return errors.Trace(err)
}

// junkTid pulls the ctid junk attribute out of an unfiltered result tuple.
func (e *ExecState) junkTid(slot *tuple.Slot) (tuple.ItemPointer, error) {
	d, err := e.JunkFilter.GetJunkAttribute(slot, "ctid")
	if err != nil {
		return tuple.ItemPointer{}, errors.Trace(err)
	}
	if d.IsNull() {
		return tuple.ItemPointer{}, ErrNullJunkAttribute.Gen("ctid is null")
	}
	v, err := d.AsInt64()
	if err != nil {
		return tuple.ItemPointer{}, errors.Trace(err)
	}
	return tuple.DecodeItemPointer(uint64(v)), nil
}

// fetchOld reads the current version of the target row, for trigger OLD
// rows and index key removal.
func (e *ExecState) fetchOld(tid tuple.ItemPointer) (*tuple.Tuple, error) {
	t, pin, err := e.ResultRel.Rel.Fetch(tid, e.Snapshot)
	if err != nil {
		return nil, errors.Trace(err)
	}
	old := t.Clone()
	if pin != nil {
		pin.Release()
	}
	return old, nil
}

func (e *ExecState) execUpdate(slot *tuple.Slot) error {
	r := e.ResultRel
	tid, err := e.junkTid(slot)
	if err != nil {
		return errors.Trace(err)
	}
	clean, err := e.JunkFilter.Remove(slot)
	if err != nil {
		return errors.Trace(err)
	}
	newT := clean.Tuple().Clone()
	old, err := e.fetchOld(tid)
	if err != nil {
		return errors.Trace(err)
	}
	newT, skip, err := r.fire(BeforeUpdate, old, newT)
	if err != nil || skip {
		return errors.Trace(err)
	}
	if err := checkNotNull(r.Rel, newT); err != nil {
		return errors.Trace(err)
	}
	newTid, err := r.Rel.Replace(tid, newT)
	if err != nil {
		return errors.Trace(err)
	}
	for _, idx := range r.Indexes {
		if err := idx.Delete(old.Values[idx.KeyColumn()], tid); err != nil {
			return errors.Trace(err)
		}
		if err := idx.Insert(newT.Values[idx.KeyColumn()], newTid); err != nil {
			return errors.Trace(err)
		}
	}
	_, _, err = r.fire(AfterUpdate, old, newT)
	return errors.Trace(err)
}

func (e *ExecState) execDelete(slot *tuple.Slot) error {
	r := e.ResultRel
	tid, err := e.junkTid(slot)
	if err != nil {
		return errors.Trace(err)
	}
	old, err := e.fetchOld(tid)
	if err != nil {
		return errors.Trace(err)
	}
	_, skip, err := r.fire(BeforeDelete, old, nil)
	if err != nil || skip {
		return errors.Trace(err)
	}
	if err := r.Rel.Delete(tid); err != nil {
		return errors.Trace(err)
	}
	for _, idx := range r.Indexes {
		if err := idx.Delete(old.Values[idx.KeyColumn()], tid); err != nil {
			return errors.Trace(err)
		}
	}
	_, _, err = r.fire(AfterDelete, old, nil)
	return errors.Trace(err)
}
