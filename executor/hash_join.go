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

	"github.com/cascadedb/cascade/expression"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/storage"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/logutil"
	"github.com/cascadedb/cascade/util/tuplestore"
)

// emptyKeyHash is the sentinel for zero-length key encodings, so that empty
// strings still land in a well-defined bucket.
const emptyKeyHash uint64 = 0x9e3779b97f4a7c15

// hashDatum hashes a key datum's encoding with a fixed-prime multiplicative
// hash.
func hashDatum(d types.Datum) uint64 {
	b := d.RawBytes()
	if len(b) == 0 {
		return emptyKeyHash
	}
	h := uint64(17)
	for _, c := range b {
		h = h*31 + uint64(c)
	}
	return h
}

// HashExec is the build side of a hash join. It produces no tuples; the
// join drains its child through buildInput.
type HashExec struct {
	estate *ExecState
	child  Executor
	key    *expression.ExprState
	ectx   *expression.ExprContext
	hold   *tuple.Slot
}

func newHashExec(estate *ExecState, p *plan.Hash, child Executor) (*HashExec, error) {
	e := &HashExec{
		estate: estate,
		child:  child,
		key:    expression.Init(p.Key),
		ectx:   estate.newExprContext(),
	}
	var err error
	if e.hold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	e.hold.SetDesc(p.Left.Common().OutDesc(), true)
	e.ectx.ScanSlot = e.hold
	return e, nil
}

// keyOf evaluates the build key for a tuple.
func (e *HashExec) keyOf(t *tuple.Tuple) (types.Datum, error) {
	if err := e.hold.Store(t, nil, false); err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	e.ectx.ResetPerTuple()
	return e.key.Eval(e.ectx)
}

// Next implements Executor interface. Hash nodes have no tuple output.
func (e *HashExec) Next(context.Context) (*tuple.Slot, error) {
	return nil, errors.New("Hash does not produce tuples")
}

// ReScan implements Executor interface.
func (e *HashExec) ReScan(ctx context.Context) error {
	return errors.Trace(e.child.ReScan(ctx))
}

// Close implements Executor interface.
func (e *HashExec) Close() error {
	err := e.child.Close()
	e.hold.Clear()
	return errors.Trace(err)
}

// hashBucket is one hash-table entry list.
type hashBucket []*tuple.Tuple

// HashJoinExec is a hybrid hash join. The build side is split into batches
// once it exceeds the memory budget; batch 0 stays in memory while later
// batches of both sides go to tuplestores and are joined one batch at a
// time after the first probe pass.
type HashJoinExec struct {
	baseExec
	joinType plan.JoinType
	outerKey *expression.ExprState
	joinQual []*expression.ExprState

	outer Executor
	hash  *HashExec

	outerHold *tuple.Slot
	innerHold *tuple.Slot
	nullInner *tuple.Tuple

	built  bool
	nbatch int
	table  map[uint64]hashBucket

	innerBatches []*tuplestore.Store
	outerBatches []*tuplestore.Store
	curBatch     int

	// probe cursor over the current outer tuple's bucket.
	bucket    hashBucket
	bucketIdx int
	probing   bool
	matched   bool
	outerDone bool
	done      bool
}

func newHashJoinExec(estate *ExecState, p *plan.HashJoin, outer Executor, hash *HashExec) (*HashJoinExec, error) {
	b, err := newBaseExec(estate, p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := &HashJoinExec{
		baseExec: b,
		joinType: p.Join,
		outerKey: expression.Init(p.OuterKey),
		joinQual: expression.InitList(p.JoinQual),
		outer:    outer,
		hash:     hash,
		nbatch:   1,
	}
	if e.outerHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	if e.innerHold, err = estate.allocSlot(); err != nil {
		return nil, errors.Trace(err)
	}
	innerDesc := p.Right.Common().Left.Common().OutDesc()
	e.outerHold.SetDesc(p.Left.Common().OutDesc(), true)
	e.innerHold.SetDesc(innerDesc, true)
	e.nullInner = nullTuple(innerDesc)
	e.ectx.OuterSlot = e.outerHold
	e.ectx.InnerSlot = e.innerHold
	return e, nil
}

// batchOf maps a hash to its batch number; batch selection uses high bits
// so it stays independent of bucket selection.
func (e *HashJoinExec) batchOf(h uint64) int {
	if e.nbatch <= 1 {
		return 0
	}
	return int((h >> 13) % uint64(e.nbatch))
}

func hashTupleMem(t *tuple.Tuple) int64 {
	m := int64(48)
	for _, v := range t.Values {
		m += 16 + int64(len(v.RawBytes()))
	}
	return m
}

// build drains the inner side into the hash table. Each tuple is routed to
// its batch as it arrives; whenever the resident batch outgrows the memory
// budget the batch count doubles and the overflow is evicted to batch
// files, so only batch 0 ever lives in memory.
func (e *HashJoinExec) build(ctx context.Context) error {
	workMem := e.estate.WorkMem()
	fill := e.estate.Cfg.HashFillFactor
	if fill <= 0 {
		fill = 10
	}
	// Size the table for the configured tuples-per-bucket target over the
	// rows a resident batch can hold.
	est := 64
	if workMem > 0 {
		est = int(workMem/64)/fill + 1
	}
	e.table = make(map[uint64]hashBucket, est)
	var mem int64
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return errors.Trace(err)
		}
		slot, err := e.hash.child.Next(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if slot == nil {
			return nil
		}
		t := slot.Tuple().Clone()
		key, err := e.hash.keyOf(t)
		if err != nil {
			return errors.Trace(err)
		}
		// NULL keys can never join; drop them at build time.
		if key.IsNull() {
			continue
		}
		h := hashDatum(key)
		if b := e.batchOf(h); b != 0 {
			if err := e.innerBatches[b-1].Put(t); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		e.table[h] = append(e.table[h], t)
		mem += hashTupleMem(t)
		for workMem > 0 && mem > workMem {
			prev := mem
			if mem, err = e.growBatches(); err != nil {
				return errors.Trace(err)
			}
			// A skewed batch that refuses to shrink stays resident.
			if mem >= prev {
				break
			}
		}
	}
}

// growBatches doubles the batch count and evicts resident tuples that now
// hash to a later batch, returning the memory still held by batch 0.
func (e *HashJoinExec) growBatches() (int64, error) {
	failpoint.Inject("hashJoinGrowBatches", func() {})
	e.nbatch *= 2
	for len(e.innerBatches) < e.nbatch-1 {
		e.innerBatches = append(e.innerBatches, tuplestore.NewFileBacked(e.estate.TempDir()))
		e.outerBatches = append(e.outerBatches, tuplestore.NewFileBacked(e.estate.TempDir()))
	}
	logutil.BgLogger().Debug("hash join growing batches", zap.Int("nbatch", e.nbatch))
	var mem int64
	for h, bucket := range e.table {
		b := e.batchOf(h)
		if b == 0 {
			for _, t := range bucket {
				mem += hashTupleMem(t)
			}
			continue
		}
		for _, t := range bucket {
			if err := e.innerBatches[b-1].Put(t); err != nil {
				return 0, errors.Trace(err)
			}
		}
		delete(e.table, h)
	}
	return mem, nil
}

// loadBatch rebuilds the in-memory table from inner batch b.
func (e *HashJoinExec) loadBatch(ctx context.Context, b int) error {
	e.table = make(map[uint64]hashBucket)
	st := e.innerBatches[b-1]
	st.Rescan()
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return errors.Trace(err)
		}
		t, err := st.Get(storage.Forward)
		if err != nil {
			return errors.Trace(err)
		}
		if t == nil {
			return nil
		}
		key, err := e.hash.keyOf(t)
		if err != nil {
			return errors.Trace(err)
		}
		h := hashDatum(key)
		// A tuple spilled before a batch-count increase can belong to a
		// later batch now; forward it. Doubling never moves a tuple to an
		// earlier batch.
		if nb := e.batchOf(h); nb != b {
			if err := e.innerBatches[nb-1].Put(t); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		e.table[h] = append(e.table[h], t)
	}
}

// nextOuter produces the next outer tuple for the current batch: from the
// outer child during batch 0, from the spilled batch store afterwards.
func (e *HashJoinExec) nextOuter(ctx context.Context) (*tuple.Tuple, error) {
	if e.curBatch == 0 {
		slot, err := e.outer.Next(ctx)
		if err != nil || slot == nil {
			return nil, errors.Trace(err)
		}
		return slot.Tuple(), nil
	}
	t, err := e.outerBatches[e.curBatch-1].Get(storage.Forward)
	return t, errors.Trace(err)
}

// Next implements Executor interface.
func (e *HashJoinExec) Next(ctx context.Context) (*tuple.Slot, error) {
	if e.done {
		return nil, nil
	}
	if !e.built {
		if err := e.build(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		e.built = true
	}
	for {
		if err := e.estate.CheckInterrupt(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		if e.probing {
			slot, emitted, err := e.probeBucket()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if emitted {
				return slot, nil
			}
			// Bucket exhausted.
			e.probing = false
			if e.joinType == plan.LeftOuterJoin && !e.matched {
				slot, emitted, err := e.emitPair(e.nullInner, true)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
			}
			continue
		}
		raw, err := e.nextOuter(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if raw == nil {
			if e.curBatch+1 >= e.nbatch {
				e.done = true
				return nil, nil
			}
			e.curBatch++
			if err := e.loadBatch(ctx, e.curBatch); err != nil {
				return nil, errors.Trace(err)
			}
			e.outerBatches[e.curBatch-1].Rescan()
			continue
		}
		if err := e.outerHold.Store(raw.Clone(), nil, true); err != nil {
			return nil, errors.Trace(err)
		}
		e.ectx.ResetPerTuple()
		key, err := e.outerKey.Eval(e.ectx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if key.IsNull() {
			if e.joinType == plan.LeftOuterJoin {
				slot, emitted, err := e.emitPair(e.nullInner, true)
				if err != nil {
					return nil, errors.Trace(err)
				}
				if emitted {
					return slot, nil
				}
			}
			continue
		}
		h := hashDatum(key)
		if b := e.batchOf(h); b != e.curBatch {
			// Belongs to a later batch; park the outer tuple.
			if err := e.outerBatches[b-1].Put(e.outerHold.Tuple().Clone()); err != nil {
				return nil, errors.Trace(err)
			}
			continue
		}
		e.bucket = e.table[h]
		e.bucketIdx = 0
		e.probing = true
		e.matched = false
	}
}

// probeBucket joins the current outer tuple against the rest of its bucket.
func (e *HashJoinExec) probeBucket() (*tuple.Slot, bool, error) {
	for e.bucketIdx < len(e.bucket) {
		inner := e.bucket[e.bucketIdx]
		e.bucketIdx++
		slot, emitted, err := e.emitPair(inner, false)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if emitted {
			return slot, true, nil
		}
	}
	return nil, false, nil
}

// emitPair verifies real key equality (hash collisions), then the extra
// join qualification and the node qualification, and projects.
func (e *HashJoinExec) emitPair(inner *tuple.Tuple, nullExtended bool) (*tuple.Slot, bool, error) {
	if err := e.innerHold.Store(inner, nil, false); err != nil {
		return nil, false, errors.Trace(err)
	}
	e.ectx.ResetPerTuple()
	if !nullExtended {
		ov, err := e.outerKey.Eval(e.ectx)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		iv, err := e.hash.keyOf(inner)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		cmp, err := ov.Compare(iv)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		if cmp != 0 {
			return nil, false, nil
		}
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

// ReScan implements Executor interface. The hash table is rebuilt from
// scratch.
func (e *HashJoinExec) ReScan(ctx context.Context) error {
	e.resetScan()
	e.dropBatches()
	e.built = false
	e.done = false
	e.probing = false
	e.curBatch = 0
	e.nbatch = 1
	e.table = nil
	e.outerHold.Clear()
	e.innerHold.Clear()
	if err := e.hash.ReScan(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.outer.ReScan(ctx))
}

func (e *HashJoinExec) dropBatches() {
	for _, st := range e.innerBatches {
		st.End()
	}
	for _, st := range e.outerBatches {
		st.End()
	}
	e.innerBatches = nil
	e.outerBatches = nil
}

// Close implements Executor interface.
func (e *HashJoinExec) Close() error {
	err1 := e.outer.Close()
	err2 := e.hash.Close()
	e.dropBatches()
	e.table = nil
	e.outerHold.Clear()
	e.innerHold.Clear()
	e.closeBase()
	if err1 != nil {
		return errors.Trace(err1)
	}
	return errors.Trace(err2)
}
