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

	"github.com/cascadedb/cascade/terror"
	"github.com/cascadedb/cascade/types"
)

// Error codes.
const (
	CodeDatatypeMismatch terror.ErrCode = iota + 1
	CodeDivisionByZero
	CodeUnknownFunction
)

// Error instances.
var (
	ErrDatatypeMismatch = terror.ClassExpression.New(CodeDatatypeMismatch, "datatype mismatch")
	ErrDivisionByZero   = terror.ClassExpression.New(CodeDivisionByZero, "division by zero")
	ErrUnknownFunction  = terror.ClassExpression.New(CodeUnknownFunction, "unknown function")
)

// InputKind selects which ExprContext slot a column reference reads.
type InputKind byte

// Column inputs.
const (
	ScanInput InputKind = iota
	InnerInput
	OuterInput
)

// Expression is a scalar expression evaluated against an ExprContext.
type Expression interface {
	Eval(ctx *ExprContext) (types.Datum, error)
	String() string
}

// SetExpression is an expression that may return a set of rows. EvalSet
// yields a restartable sequence; each call starts a fresh iteration for the
// current input tuple.
type SetExpression interface {
	Expression
	EvalSet(ctx *ExprContext) (SetResult, error)
}

// SetResult is a lazy sequence of datums produced by a set-returning
// function for one input tuple.
type SetResult interface {
	// Next returns the next element. ok is false at end of set.
	Next() (d types.Datum, ok bool, err error)
}

// Column references an attribute of one of the three context input slots.
type Column struct {
	Input InputKind
	Index int
	Name  string
}

// Eval implements Expression interface.
func (c *Column) Eval(ctx *ExprContext) (types.Datum, error) {
	slot := ctx.ScanSlot
	switch c.Input {
	case InnerInput:
		slot = ctx.InnerSlot
	case OuterInput:
		slot = ctx.OuterSlot
	}
	if slot == nil || slot.IsEmpty() {
		return types.Datum{}, errors.Errorf("column %s: input slot is empty", c.Name)
	}
	tup := slot.Tuple()
	if c.Index < 0 || c.Index >= len(tup.Values) {
		return types.Datum{}, errors.Errorf("column %s: index %d out of range %d", c.Name, c.Index, len(tup.Values))
	}
	return tup.Values[c.Index], nil
}

// String implements fmt.Stringer interface.
func (c *Column) String() string {
	return c.Name
}

// Constant is a literal value.
type Constant struct {
	Val types.Datum
}

// Eval implements Expression interface.
func (c *Constant) Eval(_ *ExprContext) (types.Datum, error) {
	return c.Val, nil
}

// String implements fmt.Stringer interface.
func (c *Constant) String() string {
	return c.Val.OutputForm()
}

// SelfReference yields the current input tuple's item pointer encoded as a
// 64-bit integer, the source of ctid junk columns.
type SelfReference struct {
	Input InputKind
}

// Eval implements Expression interface.
func (s *SelfReference) Eval(ctx *ExprContext) (types.Datum, error) {
	slot := ctx.ScanSlot
	switch s.Input {
	case InnerInput:
		slot = ctx.InnerSlot
	case OuterInput:
		slot = ctx.OuterSlot
	}
	if slot == nil || slot.IsEmpty() {
		return types.Datum{}, errors.New("ctid: input slot is empty")
	}
	return types.NewIntDatum(int64(slot.Tuple().Self.Encode())), nil
}

// String implements fmt.Stringer interface.
func (s *SelfReference) String() string {
	return "ctid"
}

// Param references a parameter by position, either from the external array
// or the executor-internal one.
type Param struct {
	ID     int
	Extern bool
}

// Eval implements Expression interface.
func (p *Param) Eval(ctx *ExprContext) (types.Datum, error) {
	arr := ctx.ExecParams
	if p.Extern {
		arr = ctx.ExternParams
	}
	if p.ID < 0 || p.ID >= len(arr) {
		return types.Datum{}, errors.Errorf("parameter $%d out of range", p.ID)
	}
	return arr[p.ID], nil
}

// String implements fmt.Stringer interface.
func (p *Param) String() string {
	return fmt.Sprintf("$%d", p.ID)
}
