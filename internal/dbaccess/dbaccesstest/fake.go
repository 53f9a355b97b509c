// Copyright 2024 The Sync Engine Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package dbaccesstest provides an in-memory types.Access fake for
// exercising the extraction, centralization, integrity, and dispatch
// stages without a real database. It recognizes the exact query and
// statement shapes those stages emit (see internal/extract,
// internal/centralize, internal/integrity, internal/dispatch) rather
// than parsing arbitrary SQL.
package dbaccesstest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Access is an in-memory fake of types.Access, holding a single named
// table ("schema.TABLE" upper-cased) per instance, as each real
// connection pool is scoped to one schema.
type Access struct {
	mu     sync.Mutex
	Schema string
	Table  *types.Table
}

var _ types.Access = (*Access)(nil)

// NewEmpty constructs a fake Access over schema with no rows yet,
// matching an "initial load" starting state.
func NewEmpty(schema string, columns []string) *Access {
	return &Access{Schema: schema, Table: types.NewTable(columns)}
}

// NewWithRows constructs a fake Access pre-populated with rows.
func NewWithRows(schema string, columns []string, rows []types.Row) *Access {
	t := types.NewTable(columns)
	for _, r := range rows {
		t.Append(cloneRow(r))
	}
	return &Access{Schema: schema, Table: t}
}

// Snapshot returns a defensive copy of the fake's current rows, for
// test assertions.
func (a *Access) Snapshot() *types.Table {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := types.NewTable(append([]string(nil), a.Table.Columns...))
	for _, r := range a.Table.Rows {
		out.Append(cloneRow(r))
	}
	return out
}

var insertColsRe = regexp.MustCompile(`(?i)INSERT INTO\s+\S+\s*\(([^)]*)\)\s*VALUES`)

// parseInsertColumns extracts the column list out of an
// "INSERT INTO schema.table (col1, col2, ...) VALUES (...)" statement,
// so the fake can assign each positional argument to the right column
// regardless of the target table's own column order.
func parseInsertColumns(statement string) []string {
	m := insertColsRe.FindStringSubmatch(statement)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.ToUpper(strings.TrimSpace(p)))
	}
	return cols
}

func (a *Access) Select(ctx context.Context, query string, args ...any) (*types.Table, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	upper := strings.ToUpper(query)

	switch {
	case strings.HasPrefix(upper, "SELECT * FROM") && !strings.Contains(upper, "WHERE"):
		return cloneTable(a.Table), nil

	case strings.Contains(upper, "WHERE "+types.ColSyncDate+" >"):
		watermark, _ := args[0].(time.Time)
		out := types.NewTable(append([]string(nil), a.Table.Columns...))
		for _, r := range a.Table.Rows {
			if r.SyncTime().After(watermark) {
				out.Append(cloneRow(r))
			}
		}
		return out, nil

	case strings.HasPrefix(upper, fmt.Sprintf("SELECT %s, %s, %s, %s", types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb)):
		out := types.NewTable([]string{types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb})
		for _, r := range a.Table.Rows {
			if r.Active() {
				out.Append(types.Row{
					types.ColNum:     r[types.ColNum],
					types.ColDossier: r[types.ColDossier],
					types.ColMntReg:  r[types.ColMntReg],
					types.ColMntGlb:  r[types.ColMntGlb],
				})
			}
		}
		return out, nil

	case strings.HasPrefix(upper, fmt.Sprintf("SELECT %s, %s FROM", types.ColNum, types.ColDossier)):
		out := types.NewTable([]string{types.ColNum, types.ColDossier})
		for _, r := range a.Table.Rows {
			out.Append(types.Row{types.ColNum: r[types.ColNum], types.ColDossier: r[types.ColDossier]})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("dbaccesstest: unrecognized select query: %s", query)
	}
}

func (a *Access) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	upper := strings.ToUpper(query)

	switch {
	case strings.HasPrefix(upper, "SELECT COUNT(*)") && strings.Contains(upper, "WHERE "+types.ColDossier+" =") && strings.Contains(upper, types.ColMntReg+" <"):
		dossier, _ := args[0].(string)
		count := int64(0)
		for _, r := range a.Table.Rows {
			if r.Str(types.ColDossier) == dossier && r.Active() {
				count++
			}
		}
		return count, nil

	case strings.HasPrefix(upper, "SELECT COUNT(*)") && strings.Contains(upper, "WHERE "+types.ColDossier+" ="):
		dossier, _ := args[0].(string)
		count := int64(0)
		for _, r := range a.Table.Rows {
			if r.Str(types.ColDossier) == dossier {
				count++
			}
		}
		return count, nil

	case strings.HasPrefix(upper, "SELECT COUNT(*)"):
		return int64(a.Table.Len()), nil

	case strings.HasPrefix(upper, "SELECT MAX("+types.ColSyncDate):
		var max time.Time
		found := false
		for _, r := range a.Table.Rows {
			ts := r.SyncTime()
			if !found || ts.After(max) {
				max = ts
				found = true
			}
		}
		if !found {
			return nil, nil
		}
		return max, nil

	default:
		return nil, fmt.Errorf("dbaccesstest: unrecognized scalar query: %s", query)
	}
}

func (a *Access) BatchExec(ctx context.Context, statement string, rows [][]any, chunkSize int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	upper := strings.ToUpper(statement)

	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		insertCols := parseInsertColumns(statement)
		if len(insertCols) == 0 {
			return fmt.Errorf("dbaccesstest: could not parse insert columns from: %s", statement)
		}
		if len(a.Table.Columns) == 0 {
			a.Table.Columns = insertCols
		}
		for _, args := range rows {
			row := make(types.Row, len(insertCols))
			for i, col := range insertCols {
				if i < len(args) {
					row[col] = args[i]
				}
			}
			a.Table.Append(row)
		}
		return nil

	case strings.HasPrefix(upper, "UPDATE") && strings.Contains(upper, "SET "+types.ColMntReg):
		idx := a.Table.Index()
		for _, args := range rows {
			mntReg, ts, num, dossier := args[0], args[1], args[2].(string), args[3].(string)
			key := types.Key{Num: num, Dossier: dossier}
			if i, ok := idx[key]; ok {
				a.Table.Rows[i][types.ColMntReg] = mntReg
				a.Table.Rows[i][types.ColSyncDate] = ts
			}
		}
		return nil

	default:
		return fmt.Errorf("dbaccesstest: unrecognized batch statement: %s", statement)
	}
}

func (a *Access) Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

func (a *Access) Close() error {
	return nil
}

// FlakyAccess wraps an Access and forces its first failCount calls to
// Select to return err instead of delegating, then lets every call
// after that through. Use a failCount greater than any test's retry
// budget to simulate a source that fails on every attempt.
type FlakyAccess struct {
	*Access

	mu        sync.Mutex
	failCount int
	err       error
	calls     int
}

// NewFlaky constructs a FlakyAccess over access that fails its first
// failCount Select calls with err.
func NewFlaky(access *Access, failCount int, err error) *FlakyAccess {
	return &FlakyAccess{Access: access, failCount: failCount, err: err}
}

// Calls reports how many times Select has been invoked so far.
func (f *FlakyAccess) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FlakyAccess) Select(ctx context.Context, query string, args ...any) (*types.Table, error) {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls <= f.failCount
	f.mu.Unlock()

	if shouldFail {
		return nil, f.err
	}
	return f.Access.Select(ctx, query, args...)
}

func cloneRow(r types.Row) types.Row {
	out := make(types.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func cloneTable(t *types.Table) *types.Table {
	out := types.NewTable(append([]string(nil), t.Columns...))
	for _, r := range t.Rows {
		out.Append(cloneRow(r))
	}
	return out
}
