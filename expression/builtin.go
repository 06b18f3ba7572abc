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
	"strings"

	"github.com/pingcap/errors"

	"github.com/cascadedb/cascade/types"
)

// Op enumerates scalar operators.
type Op byte

// Scalar operators.
const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpPlus
	OpMinus
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpNot
	OpIsNull
	OpIsNotNull
)

// String implements fmt.Stringer interface.
func (op Op) String() string {
	switch op {
	case OpEQ:
		return "="
	case OpNE:
		return "<>"
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	}
	return fmt.Sprintf("op(%d)", op)
}

// ScalarFunc applies an operator to argument expressions. Comparison and
// arithmetic operators are strict: a NULL argument yields NULL.
type ScalarFunc struct {
	Op   Op
	Args []Expression
}

// NewFunc creates a ScalarFunc.
func NewFunc(op Op, args ...Expression) *ScalarFunc {
	return &ScalarFunc{Op: op, Args: args}
}

// Eval implements Expression interface.
func (f *ScalarFunc) Eval(ctx *ExprContext) (types.Datum, error) {
	switch f.Op {
	case OpAnd, OpOr:
		return f.evalLogic(ctx)
	case OpNot:
		v, err := f.Args[0].Eval(ctx)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		if v.IsNull() {
			return types.Datum{}, nil
		}
		return types.NewBoolDatum(!v.GetBool()), nil
	case OpIsNull, OpIsNotNull:
		v, err := f.Args[0].Eval(ctx)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		return types.NewBoolDatum(v.IsNull() == (f.Op == OpIsNull)), nil
	}

	a, err := f.Args[0].Eval(ctx)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	b, err := f.Args[1].Eval(ctx)
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	if a.IsNull() || b.IsNull() {
		return types.Datum{}, nil
	}
	switch f.Op {
	case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
		cmp, err := a.Compare(b)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		var v bool
		switch f.Op {
		case OpEQ:
			v = cmp == 0
		case OpNE:
			v = cmp != 0
		case OpLT:
			v = cmp < 0
		case OpLE:
			v = cmp <= 0
		case OpGT:
			v = cmp > 0
		case OpGE:
			v = cmp >= 0
		}
		return types.NewBoolDatum(v), nil
	case OpPlus, OpMinus, OpMul, OpDiv:
		return evalArith(f.Op, a, b)
	}
	return types.Datum{}, ErrUnknownFunction.Gen("unknown operator %s", f.Op)
}

func (f *ScalarFunc) evalLogic(ctx *ExprContext) (types.Datum, error) {
	// Three-valued AND/OR with short circuit.
	shortVal := f.Op == OpOr
	sawNull := false
	for _, arg := range f.Args {
		v, err := arg.Eval(ctx)
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		if v.IsNull() {
			sawNull = true
			continue
		}
		if v.GetBool() == shortVal {
			return types.NewBoolDatum(shortVal), nil
		}
	}
	if sawNull {
		return types.Datum{}, nil
	}
	return types.NewBoolDatum(!shortVal), nil
}

func evalArith(op Op, a, b types.Datum) (types.Datum, error) {
	if a.Kind() == types.KindFloat64 || b.Kind() == types.KindFloat64 || op == OpDiv {
		x, err := a.AsFloat64()
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		y, err := b.AsFloat64()
		if err != nil {
			return types.Datum{}, errors.Trace(err)
		}
		switch op {
		case OpPlus:
			return types.NewFloat64Datum(x + y), nil
		case OpMinus:
			return types.NewFloat64Datum(x - y), nil
		case OpMul:
			return types.NewFloat64Datum(x * y), nil
		case OpDiv:
			if y == 0 {
				return types.Datum{}, ErrDivisionByZero
			}
			return types.NewFloat64Datum(x / y), nil
		}
	}
	x, err := a.AsInt64()
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	y, err := b.AsInt64()
	if err != nil {
		return types.Datum{}, errors.Trace(err)
	}
	switch op {
	case OpPlus:
		return types.NewIntDatum(x + y), nil
	case OpMinus:
		return types.NewIntDatum(x - y), nil
	case OpMul:
		return types.NewIntDatum(x * y), nil
	}
	return types.Datum{}, ErrUnknownFunction.Gen("unknown operator %s", op)
}

// String implements fmt.Stringer interface.
func (f *ScalarFunc) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("(%s %s)", f.Op, strings.Join(parts, " "))
}
