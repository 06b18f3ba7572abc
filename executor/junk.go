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
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/types"
)

// JunkFilter strips resjunk columns from result tuples before they leave the
// executor, and resolves junk attributes (like the ctid carried for UPDATE
// and DELETE) by name.
type JunkFilter struct {
	targets []*plan.TargetEntry

	cleanDesc *tuple.Desc
	// cleanMap maps each clean output position to the source position in the
	// unfiltered tuple.
	cleanMap   []int
	resultSlot *tuple.Slot
}

// NewJunkFilter builds a filter over a target list, drawing its result slot
// from the tuple table.
func NewJunkFilter(targets []*plan.TargetEntry, table *tuple.Table) (*JunkFilter, error) {
	jf := &JunkFilter{targets: targets}
	var cols []tuple.ColumnInfo
	for i, te := range targets {
		if te.ResJunk {
			continue
		}
		cols = append(cols, tuple.ColumnInfo{Name: te.Name, Type: te.Type})
		jf.cleanMap = append(jf.cleanMap, i)
	}
	jf.cleanDesc = tuple.NewDesc(cols...)
	slot, err := table.Alloc()
	if err != nil {
		return nil, errors.Trace(err)
	}
	slot.SetDesc(jf.cleanDesc, true)
	jf.resultSlot = slot
	return jf, nil
}

// NeedsFilter reports whether the target list carries any junk column at
// all.
func NeedsFilter(targets []*plan.TargetEntry) bool {
	for _, te := range targets {
		if te.ResJunk {
			return true
		}
	}
	return false
}

// CleanDesc returns the descriptor of filtered tuples.
func (jf *JunkFilter) CleanDesc() *tuple.Desc {
	return jf.cleanDesc
}

// GetJunkAttribute finds the junk column with the given name in the
// unfiltered tuple held by slot.
func (jf *JunkFilter) GetJunkAttribute(slot *tuple.Slot, name string) (types.Datum, error) {
	t := slot.Tuple()
	if t == nil {
		return types.Datum{}, errors.New("junk filter: empty slot")
	}
	for i, te := range jf.targets {
		if te.ResJunk && te.Name == name {
			return t.Values[i], nil
		}
	}
	return types.Datum{}, ErrMissingJunkAttribute.Gen("could not find junk attribute %q", name)
}

// Remove projects the non-junk columns of slot into the filter's result
// slot.
func (jf *JunkFilter) Remove(slot *tuple.Slot) (*tuple.Slot, error) {
	t := slot.Tuple()
	if t == nil {
		return nil, errors.New("junk filter: empty slot")
	}
	vals := make([]types.Datum, len(jf.cleanMap))
	for i, src := range jf.cleanMap {
		vals[i] = t.Values[src]
	}
	out := tuple.NewTuple(vals...)
	out.Self = t.Self
	if err := jf.resultSlot.Store(out, nil, true); err != nil {
		return nil, errors.Trace(err)
	}
	return jf.resultSlot, nil
}
