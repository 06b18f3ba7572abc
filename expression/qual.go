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
	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/types"
)

// ExprState is a compiled expression ready for repeated evaluation.
type ExprState struct {
	Expr Expression
}

// Init compiles an expression into an ExprState.
func Init(e Expression) *ExprState {
	if e == nil {
		return nil
	}
	return &ExprState{Expr: e}
}

// InitList compiles a list of expressions.
func InitList(exprs []Expression) []*ExprState {
	if exprs == nil {
		return nil
	}
	states := make([]*ExprState, len(exprs))
	for i, e := range exprs {
		states[i] = Init(e)
	}
	return states
}

// Eval evaluates the compiled expression.
func (s *ExprState) Eval(ctx *ExprContext) (types.Datum, error) {
	return s.Expr.Eval(ctx)
}

// ExecQual evaluates a qualification: the conjunction of the compiled
// expressions. An empty qualification is true. NULL results count as false.
func ExecQual(quals []*ExprState, ctx *ExprContext) (bool, error) {
	for _, q := range quals {
		d, err := q.Eval(ctx)
		if err != nil {
			return false, errors.Trace(err)
		}
		if d.IsNull() || !d.GetBool() {
			return false, nil
		}
	}
	return true, nil
}

// EvalBool evaluates a single expression as a boolean, treating NULL as
// false.
func EvalBool(e Expression, ctx *ExprContext) (bool, error) {
	d, err := e.Eval(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	return !d.IsNull() && d.GetBool(), nil
}
