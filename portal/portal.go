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

// Package portal manages named cursors over planned statements. A portal
// binds a query to its execution state, drives FETCH/MOVE through the
// executor driver and answers WHERE CURRENT OF lookups by cursor name.
package portal

import (
	"context"
	"math"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/cascadedb/cascade/executor"
	"github.com/cascadedb/cascade/plan"
	"github.com/cascadedb/cascade/terror"
	"github.com/cascadedb/cascade/tuple"
	"github.com/cascadedb/cascade/util/logutil"
)

// Error codes.
const (
	CodeUndefinedCursor terror.ErrCode = iota + 1
	CodeInvalidCursorState
	CodeDuplicateCursor
)

// Error instances.
var (
	ErrUndefinedCursor    = terror.ClassPortal.New(CodeUndefinedCursor, "cursor does not exist")
	ErrInvalidCursorState = terror.ClassPortal.New(CodeInvalidCursorState, "invalid cursor state")
	ErrDuplicateCursor    = terror.ClassPortal.New(CodeDuplicateCursor, "cursor already exists")
)

// FetchDirection is the movement direction of a Fetch call.
type FetchDirection int

// Fetch directions.
const (
	FetchForward FetchDirection = iota
	FetchBackward
)

// FetchAll fetches every remaining row.
const FetchAll = int64(math.MaxInt64)

// Portal is a named, long-lived cursor: the query, its plan and the
// execution state driving it, plus the cursor position flags.
type Portal struct {
	Name  string
	Query string
	Stmt  *plan.PlannedStmt
	// Scroll permits backward fetches.
	Scroll bool

	estate  *executor.ExecState
	started bool

	// atStart/atEnd bracket the cursor position; between them the cursor is
	// on a row.
	atStart bool
	atEnd   bool
}

// OnRow reports whether the cursor is positioned on a row.
func (p *Portal) OnRow() bool {
	return p.started && !p.atStart && !p.atEnd
}

// Manager owns the portals of one session.
type Manager struct {
	mu      sync.Mutex
	portals map[string]*Portal
}

// NewManager creates an empty portal manager.
func NewManager() *Manager {
	return &Manager{portals: make(map[string]*Portal)}
}

// Create registers a new portal under name.
func (m *Manager) Create(name string, scroll bool) (*Portal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.portals[name]; ok {
		return nil, ErrDuplicateCursor.Gen("cursor %q already exists", name)
	}
	p := &Portal{Name: name, Scroll: scroll, atStart: true}
	m.portals[name] = p
	return p, nil
}

// Get looks up a portal by name.
func (m *Manager) Get(name string) (*Portal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portals[name]
	if !ok {
		return nil, ErrUndefinedCursor.Gen("cursor %q does not exist", name)
	}
	return p, nil
}

// SetQuery binds a planned statement and its execution state to the portal.
// Only a plain SELECT can back a cursor: no INTO, no row locking.
func (m *Manager) SetQuery(name, query string, stmt *plan.PlannedStmt, estate *executor.ExecState) error {
	p, err := m.Get(name)
	if err != nil {
		return errors.Trace(err)
	}
	if p.started {
		return ErrInvalidCursorState.Gen("cursor %q is already bound", name)
	}
	if stmt == nil {
		return ErrInvalidCursorState.Gen("cursor %q has no query", name)
	}
	if stmt.Cmd != plan.CmdSelect {
		return ErrInvalidCursorState.Gen("cursor %q: %s cannot be declared as a cursor", name, stmt.Cmd)
	}
	if stmt.IntoName != "" {
		return ErrInvalidCursorState.Gen("cursor %q: SELECT INTO is not allowed in a cursor", name)
	}
	if len(stmt.RowMarks) > 0 {
		return ErrInvalidCursorState.Gen("cursor %q: row locking is not allowed in a cursor", name)
	}
	p.Query = query
	p.Stmt = stmt
	p.estate = estate
	return nil
}

// Start opens the portal's execution; DECLARE CURSOR runs it after SetQuery.
func (p *Portal) Start(ctx context.Context) error {
	if p.estate == nil {
		return ErrInvalidCursorState.Gen("cursor %q has no query", p.Name)
	}
	if p.started {
		return ErrInvalidCursorState.Gen("cursor %q is already open", p.Name)
	}
	if err := p.estate.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	p.started = true
	p.atStart, p.atEnd = true, false
	logutil.BgLogger().Debug("portal opened",
		zap.String("portal", p.Name), zap.Bool("scroll", p.Scroll))
	return nil
}

// Drop closes a portal and ends its execution.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	p, ok := m.portals[name]
	delete(m.portals, name)
	m.mu.Unlock()
	if !ok {
		return ErrUndefinedCursor.Gen("cursor %q does not exist", name)
	}
	return errors.Trace(p.end())
}

// DropAll drops every portal, keeping the first teardown error.
func (m *Manager) DropAll() error {
	m.mu.Lock()
	portals := m.portals
	m.portals = make(map[string]*Portal)
	m.mu.Unlock()
	var firstErr error
	for _, p := range portals {
		if err := p.end(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return errors.Trace(firstErr)
}

func (p *Portal) end() error {
	if !p.started {
		return nil
	}
	p.started = false
	return errors.Trace(p.estate.End())
}

// Fetch drives a FETCH or MOVE on the named portal. count FetchAll means
// all remaining rows; count 0 refetches the current row (FETCH) or reports
// whether one exists (MOVE). It returns the number of rows fetched, or for
// MOVE the number of rows moved over.
func (m *Manager) Fetch(ctx context.Context, name string, dir FetchDirection, count int64, dest executor.DestReceiver, isMove bool) (uint64, error) {
	p, err := m.Get(name)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if !p.started {
		return 0, ErrInvalidCursorState.Gen("cursor %q is not open", name)
	}

	// A negative count is the same fetch in the opposite direction.
	if count < 0 {
		if count == math.MinInt64 {
			count = FetchAll
		} else {
			count = -count
		}
		if dir == FetchForward {
			dir = FetchBackward
		} else {
			dir = FetchForward
		}
	}
	if dir == FetchBackward && !p.Scroll {
		return 0, ErrInvalidCursorState.Gen("cursor %q can only scan forward; declare it with SCROLL", name)
	}
	if isMove || dest == nil {
		dest = executor.DiscardDest()
	}

	if count == 0 {
		return p.refetch(ctx, dest, isMove)
	}
	if dir == FetchForward {
		return p.runForward(ctx, count, dest)
	}
	return p.runBackward(ctx, count, dest)
}

// refetch re-reads the row the cursor is on: one row back, one row forward.
// MOVE 0 only reports whether a current row exists.
func (p *Portal) refetch(ctx context.Context, dest executor.DestReceiver, isMove bool) (uint64, error) {
	if !p.OnRow() {
		return 0, nil
	}
	if isMove {
		return 1, nil
	}
	if _, err := p.estate.Run(ctx, executor.RunBack, 1, executor.DiscardDest()); err != nil {
		return 0, errors.Trace(err)
	}
	n, err := p.estate.Run(ctx, executor.RunFor, 1, dest)
	return n, errors.Trace(err)
}

func (p *Portal) runForward(ctx context.Context, count int64, dest executor.DestReceiver) (uint64, error) {
	feature := executor.RunFor
	var want uint64
	if count == FetchAll {
		feature = executor.RunAll
	} else {
		want = uint64(count)
	}
	n, err := p.estate.Run(ctx, feature, want, dest)
	if err != nil {
		return n, errors.Trace(err)
	}
	if n > 0 {
		p.atStart = false
	}
	if feature == executor.RunAll || n < want {
		p.atEnd = true
	}
	return n, nil
}

func (p *Portal) runBackward(ctx context.Context, count int64, dest executor.DestReceiver) (uint64, error) {
	var want uint64
	if count == FetchAll {
		want = math.MaxUint64
	} else {
		want = uint64(count)
	}
	n, err := p.estate.Run(ctx, executor.RunBack, want, dest)
	if err != nil {
		return n, errors.Trace(err)
	}
	if n > 0 {
		p.atEnd = false
	}
	if n < want {
		p.atStart = true
	}
	return n, nil
}

// CurrentOf resolves WHERE CURRENT OF <cursor> against relName: the ctid of
// the row the cursor is positioned on. The cursor must be a plain SELECT.
func (m *Manager) CurrentOf(cursorName, relName string) (tuple.ItemPointer, error) {
	p, err := m.Get(cursorName)
	if err != nil {
		return tuple.ItemPointer{}, errors.Trace(err)
	}
	if !p.started {
		return tuple.ItemPointer{}, ErrInvalidCursorState.Gen("cursor %q is not open", cursorName)
	}
	if p.Stmt == nil || p.Stmt.Cmd != plan.CmdSelect || p.Stmt.IntoName != "" {
		return tuple.ItemPointer{}, ErrInvalidCursorState.Gen("cursor %q is not a SELECT", cursorName)
	}
	tid, err := p.estate.CurrentOf(relName)
	return tid, errors.Trace(err)
}
