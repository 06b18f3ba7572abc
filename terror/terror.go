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

package terror

import (
	"fmt"
	"strconv"

	"github.com/pingcap/errors"
)

// ErrClass represents a class of errors.
type ErrClass int

// ErrCode represents a specific error type in an error class.
// Same error code can be used in different error classes.
type ErrCode int

// Error classes.
const (
	ClassTuple ErrClass = iota + 1
	ClassExpression
	ClassExecutor
	ClassStorage
	ClassPortal
)

// String implements fmt.Stringer interface.
func (ec ErrClass) String() string {
	switch ec {
	case ClassTuple:
		return "tuple"
	case ClassExpression:
		return "expression"
	case ClassExecutor:
		return "executor"
	case ClassStorage:
		return "storage"
	case ClassPortal:
		return "portal"
	}
	return strconv.Itoa(int(ec))
}

// Equal returns true if err is *Error with the same class and code.
func (ec ErrClass) Equal(err error, code ErrCode) bool {
	e := errors.Cause(err)
	if e == nil {
		return false
	}
	if te, ok := e.(*Error); ok {
		return te.Class == ec && te.Code == code
	}
	return false
}

// NotEqual returns true if err is not *Error with the same class
// and the same code.
func (ec ErrClass) NotEqual(err error, code ErrCode) bool {
	return !ec.Equal(err, code)
}

// EqualClass returns true if err is *Error with the same class.
func (ec ErrClass) EqualClass(err error) bool {
	e := errors.Cause(err)
	if e == nil {
		return false
	}
	if te, ok := e.(*Error); ok {
		return te.Class == ec
	}
	return false
}

// NotEqualClass returns true if err is not *Error with the same class.
func (ec ErrClass) NotEqualClass(err error) bool {
	return !ec.EqualClass(err)
}

// New creates an *Error with an error code, message format and arguments.
func (ec ErrClass) New(code ErrCode, message string, args ...interface{}) *Error {
	if len(args) != 0 {
		message = fmt.Sprintf(message, args...)
	}
	return &Error{
		Class:   ec,
		Code:    code,
		Message: message,
	}
}

// Error implements error interface and adds integer Class and Code, so
// errors with different message can be compared.
type Error struct {
	Class   ErrClass
	Code    ErrCode
	Message string
}

// Error implements error interface.
func (te *Error) Error() string {
	return fmt.Sprintf("[%s:%d]%s", te.Class, te.Code, te.Message)
}

// Gen creates a new *Error with the same class and code, but a new
// formatted message.
func (te *Error) Gen(format string, args ...interface{}) *Error {
	return &Error{
		Class:   te.Class,
		Code:    te.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Equal checks if err has the same class and code as te.
func (te *Error) Equal(err error) bool {
	e := errors.Cause(err)
	if e == nil {
		return false
	}
	if oe, ok := e.(*Error); ok {
		return oe.Class == te.Class && oe.Code == te.Code
	}
	return false
}
