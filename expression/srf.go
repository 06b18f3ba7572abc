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
	"fmt"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/types"
)

// GenerateSeries is the generate_series(start, stop [, step]) set-returning
// function.
type GenerateSeries struct {
	Start Expression
	Stop  Expression
	Step  Expression
}

// Eval implements Expression interface. Evaluating an SRF in scalar context
// returns its first row, or NULL for an empty set.
func (g *GenerateSeries) Eval(ctx *ExprContext) (types.Datum, error) {
	set, err := g.EvalSet(ctx)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	d, ok, err := set.Next()
	if err != nil || !ok {
		return types.Datum{}, errors.Trace(err)
	}
	return d, nil
}

// EvalSet implements SetExpression interface.
func (g *GenerateSeries) EvalSet(ctx *ExprContext) (SetResult, error) {
	start, err := evalInt(g.Start, ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stop, err := evalInt(g.Stop, ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	step := int64(1)
	if g.Step != nil {
		step, err = evalInt(g.Step, ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if step == 0 {
			return nil, errors.New("generate_series: step size cannot equal zero")
		}
	}
	return &seriesResult{next: start, stop: stop, step: step}, nil
}

func evalInt(e Expression, ctx *ExprContext) (int64, error) {
	d, err := e.Eval(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if d.IsNull() {
		return 0, errors.New("generate_series: argument is null")
	}
	v, err := d.AsInt64()
	return v, errors.Trace(err)
}

type seriesResult struct {
	next int64
	stop int64
	step int64
}

// Next implements SetResult interface.
func (s *seriesResult) Next() (types.Datum, bool, error) {
	if (s.step > 0 && s.next > s.stop) || (s.step < 0 && s.next < s.stop) {
		return types.Datum{}, false, nil
	}
	v := s.next
	s.next += s.step
	return types.NewIntDatum(v), true, nil
}

// String implements fmt.Stringer interface.
func (g *GenerateSeries) String() string {
	return fmt.Sprintf("generate_series(%s, %s)", g.Start, g.Stop)
}

// ListSet returns a fixed list of values per input tuple, each element
// produced by evaluating one expression. It is the unnest-style SRF used for
// inline value sets.
type ListSet struct {
	Elems []Expression
}

// Eval implements Expression interface.
func (l *ListSet) Eval(ctx *ExprContext) (types.Datum, error) {
	set, err := l.EvalSet(ctx)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	d, ok, err := set.Next()
	if err != nil || !ok {
		return types.Datum{}, errors.Trace(err)
	}
	return d, nil
}

// EvalSet implements SetExpression interface.
func (l *ListSet) EvalSet(ctx *ExprContext) (SetResult, error) {
	vals := make([]types.Datum, len(l.Elems))
	for i, e := range l.Elems {
		d, err := e.Eval(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		vals[i] = d
	}
	return &listResult{vals: vals}, nil
}

type listResult struct {
	vals []types.Datum
	pos  int
}

// Next implements SetResult interface.
func (l *listResult) Next() (types.Datum, bool, error) {
	if l.pos >= len(l.vals) {
		return types.Datum{}, false, nil
	}
	d := l.vals[l.pos]
	l.pos++
	return d, true, nil
}

// String implements fmt.Stringer interface.
func (l *ListSet) String() string {
	return fmt.Sprintf("unnest(%d elems)", len(l.Elems))
}
