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

// Package aggfuncs holds the aggregate function table: plain aggregates
// with their two transition values, and ordered-set aggregates finalized
// over sorted within-group input.
package aggfuncs

import (
	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/terror"
	"github.com/cascadedb/cascade/types"
	"github.com/cascadedb/cascade/util/tuplesort"
)

// Error codes.
const (
	CodeUnknownAggregate terror.ErrCode = iota + 101
	CodeFractionOutOfRange
)

// Error instances.
var (
	ErrUnknownAggregate   = terror.ClassExecutor.New(CodeUnknownAggregate, "unknown aggregate function")
	ErrFractionOutOfRange = terror.ClassExecutor.New(CodeFractionOutOfRange, "percentile fraction must be between 0 and 1")
)

// State is the running state of one plain aggregate: a counter and a datum
// transition value that adopts the first non-null input.
type State struct {
	Count int64
	Value types.Datum
	Set   bool
}

// FinalContext carries everything an ordered-set finalizer needs: the
// evaluated direct arguments, the sorted within-group input, and the row
// layout.
type FinalContext struct {
	Direct []types.Datum
	Sorter *tuplesort.Sorter
	// N is the number of aggregated input rows, excluding any sentinel.
	N int
	// KeyCols is the number of ORDER BY key columns in each sorted row.
	KeyCols int
	// FlagCol is the sentinel flag column position for hypothetical-set
	// aggregates, -1 otherwise.
	FlagCol int
}

// Definition describes one aggregate.
type Definition struct {
	Name string
	// Strict aggregates skip NULL inputs.
	Strict bool
	// Trans folds one input into the state.
	Trans func(st *State, arg types.Datum) error
	// Final computes the plain aggregate result.
	Final func(st *State) (types.Datum, error)

	// OrderedSet aggregates buffer their ORDER BY input in a sorter and
	// compute the result in FinalSorted.
	OrderedSet bool
	// Hypothetical ordered-set aggregates get their direct arguments
	// inserted as a flagged sentinel row before the sort.
	Hypothetical bool
	FinalSorted  func(fc *FinalContext) (types.Datum, error)
}

var table = map[string]*Definition{}

func register(d *Definition) {
	table[d.Name] = d
}

// Lookup resolves an aggregate by name.
func Lookup(name string) (*Definition, error) {
	d, ok := table[name]
	if !ok {
		return nil, ErrUnknownAggregate.Gen("unknown aggregate function %q", name)
	}
	return d, nil
}

func init() {
	register(&Definition{
		Name: "count",
		Trans: func(st *State, _ types.Datum) error {
			st.Count++
			return nil
		},
		Final: func(st *State) (types.Datum, error) {
			return types.NewIntDatum(st.Count), nil
		},
	})
	register(&Definition{
		Name:   "count_nonnull",
		Strict: true,
		Trans: func(st *State, _ types.Datum) error {
			st.Count++
			return nil
		},
		Final: func(st *State) (types.Datum, error) {
			return types.NewIntDatum(st.Count), nil
		},
	})
	register(&Definition{
		Name:   "sum",
		Strict: true,
		Trans:  transSum,
		Final: func(st *State) (types.Datum, error) {
			if !st.Set {
				return types.Datum{}, nil
			}
			return st.Value, nil
		},
	})
	register(&Definition{
		Name:   "avg",
		Strict: true,
		Trans:  transSum,
		Final: func(st *State) (types.Datum, error) {
			if !st.Set || st.Count == 0 {
				return types.Datum{}, nil
			}
			sum, err := st.Value.AsFloat64()
			if err != nil {
				return types.Datum{}, errors.Trace(err)
			}
			return types.NewFloat64Datum(sum / float64(st.Count)), nil
		},
	})
	register(&Definition{
		Name:   "min",
		Strict: true,
		Trans:  transCompare(-1),
		Final:  finalValue,
	})
	register(&Definition{
		Name:   "max",
		Strict: true,
		Trans:  transCompare(1),
		Final:  finalValue,
	})
	register(&Definition{
		Name:   "bool_and",
		Strict: true,
		Trans: func(st *State, arg types.Datum) error {
			if !st.Set {
				st.Value = arg
				st.Set = true
				return nil
			}
			st.Value = types.NewBoolDatum(st.Value.GetBool() && arg.GetBool())
			return nil
		},
		Final: finalValue,
	})
	register(&Definition{
		Name:   "bool_or",
		Strict: true,
		Trans: func(st *State, arg types.Datum) error {
			if !st.Set {
				st.Value = arg
				st.Set = true
				return nil
			}
			st.Value = types.NewBoolDatum(st.Value.GetBool() || arg.GetBool())
			return nil
		},
		Final: finalValue,
	})
}

// transSum adopts the first non-null input, then adds. Integer inputs stay
// integer; any float makes the sum float.
func transSum(st *State, arg types.Datum) error {
	st.Count++
	if !st.Set {
		st.Value = arg.Clone()
		st.Set = true
		return nil
	}
	if st.Value.Kind() == types.KindFloat64 || arg.Kind() == types.KindFloat64 {
		a, err := st.Value.AsFloat64()
		if err != nil {
			return errors.Trace(err)
		}
		b, err := arg.AsFloat64()
		if err != nil {
			return errors.Trace(err)
		}
		st.Value = types.NewFloat64Datum(a + b)
		return nil
	}
	a, err := st.Value.AsInt64()
	if err != nil {
		return errors.Trace(err)
	}
	b, err := arg.AsInt64()
	if err != nil {
		return errors.Trace(err)
	}
	st.Value = types.NewIntDatum(a + b)
	return nil
}

// transCompare keeps the extreme input: want < 0 keeps the smallest, > 0
// the largest.
func transCompare(want int) func(st *State, arg types.Datum) error {
	return func(st *State, arg types.Datum) error {
		if !st.Set {
			st.Value = arg.Clone()
			st.Set = true
			return nil
		}
		c, err := arg.Compare(st.Value)
		if err != nil {
			return errors.Trace(err)
		}
		if (want < 0 && c < 0) || (want > 0 && c > 0) {
			st.Value = arg.Clone()
		}
		return nil
	}
}

func finalValue(st *State) (types.Datum, error) {
	if !st.Set {
		return types.Datum{}, nil
	}
	return st.Value, nil
}
