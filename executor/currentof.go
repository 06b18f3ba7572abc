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

	"github.com/cascadedb/cascade/tuple"
)

// CurrentOf resolves WHERE CURRENT OF against this execution: the ctid of
// the row the cursor is positioned on in relName. Cursors declared FOR
// UPDATE answer from their row marks; simple cursors answer by walking the
// executor tree down to the positioned scan node.
func (e *ExecState) CurrentOf(relName string) (tuple.ItemPointer, error) {
	for _, rm := range e.RowMarks {
		rel, err := e.Relation(rm.RTIndex)
		if err != nil {
			return tuple.ItemPointer{}, errors.Trace(err)
		}
		if rel.Name() != relName {
			continue
		}
		if !rm.Valid {
			return tuple.ItemPointer{}, errors.Errorf("cursor is not positioned on a row of table %q", relName)
		}
		return rm.Current, nil
	}

	if e.Root == nil {
		return tuple.ItemPointer{}, errors.New("cursor is not open")
	}
	slot, err := currentOfWalk(e.Root, relName)
	if err != nil {
		return tuple.ItemPointer{}, errors.Trace(err)
	}
	if slot == nil {
		return tuple.ItemPointer{}, errors.Errorf("cursor is not a simply updatable scan of table %q", relName)
	}
	if slot.IsEmpty() {
		return tuple.ItemPointer{}, errors.Errorf("cursor is not positioned on a row of table %q", relName)
	}
	return slot.Tuple().Self, nil
}

// currentOfWalk descends through the node kinds that preserve a one-to-one
// mapping between output rows and scan positions, returning the scan slot of
// the node reading relName.
func currentOfWalk(ex Executor, relName string) (*tuple.Slot, error) {
	switch n := ex.(type) {
	case *SeqScanExec:
		if n.rel.Name() == relName {
			return n.scanSlot, nil
		}
	case *IndexScanExec:
		if n.rel.Name() == relName {
			return n.scanSlot, nil
		}
	case *IndexOnlyScanExec:
		if n.rel.Name() == relName {
			return n.scanSlot, nil
		}
	case *BitmapHeapScanExec:
		if n.rel.Name() == relName {
			return n.scanSlot, nil
		}
	case *TidRangeScanExec:
		if n.rel.Name() == relName {
			return n.scanSlot, nil
		}
	case *ResultExec:
		if n.child != nil {
			return currentOfWalk(n.child, relName)
		}
	case *LimitExec:
		return currentOfWalk(n.child, relName)
	case *SubqueryScanExec:
		return currentOfWalk(n.child, relName)
	case *AppendExec:
		// At most one child may scan the named relation; two matches mean
		// the cursor is not simply updatable.
		var found *tuple.Slot
		for _, c := range n.children {
			slot, err := currentOfWalk(c, relName)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if slot == nil {
				continue
			}
			if found != nil {
				return nil, errors.Errorf("cursor matches multiple scans of table %q", relName)
			}
			found = slot
		}
		return found, nil
	case *MergeAppendExec:
		return nil, ErrFeatureNotSupported.Gen("WHERE CURRENT OF over a sorted cursor is not supported")
	}
	return nil, nil
}
