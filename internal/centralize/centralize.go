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

// Package centralize implements the C4 Centralizer (spec.md §4.2): it
// merges the union of extracted rows into the CRM table, either as an
// initial load or as a three-way delta against the active CRM rows.
package centralize

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// ChunkSize is the batch size for inserts and updates (spec.md §4.2).
const ChunkSize = 1000

// Result summarizes one centralize invocation, used for monitoring
// metrics and for tests asserting the testable properties in
// spec.md §8.
type Result struct {
	Inserts int
	Updates int
}

// Centralizer merges a union-of-extractions Table into the CRM table.
type Centralizer struct {
	Access types.Access
	Schema string
	Sink   types.Sink
}

// New constructs a Centralizer against the CRM schema.
func New(access types.Access, schema string, sink types.Sink) *Centralizer {
	return &Centralizer{Access: access, Schema: schema, Sink: sink}
}

// Centralize runs the mode-selected merge described in spec.md §4.2. An
// error is returned (and re-raised, not swallowed) so the orchestrator
// can apply its retry wrapper, per spec.md §4.2's propagation rule.
func (c *Centralizer) Centralize(ctx context.Context, union *types.Table) (Result, error) {
	start := time.Now()
	now := time.Now()

	if union.Empty() {
		c.Sink.Publish("centralisation", "CRM_GLOBAL", types.StatusSuccess,
			types.Metrics{"duration_seconds": time.Since(start).Seconds()},
			"nothing to centralize: union is empty")
		return Result{}, nil
	}

	if !hasColumn(union.Columns, types.ColSyncDate) {
		union.Columns = append(union.Columns, types.ColSyncDate)
	}
	for _, row := range union.Rows {
		row[types.ColSyncDate] = now
	}

	initial, err := c.isInitialLoad(ctx)
	if err != nil {
		c.publishFailure(start, err)
		return Result{}, err
	}

	var result Result
	if initial {
		result, err = c.centralizeInitial(ctx, union)
	} else {
		result, err = c.centralizeDelta(ctx, union, now)
	}
	if err != nil {
		c.publishFailure(start, err)
		return Result{}, err
	}

	c.Sink.Publish("centralisation", "CRM_GLOBAL", types.StatusSuccess,
		types.Metrics{
			"inserts":          result.Inserts,
			"updates":          result.Updates,
			"duration_seconds": time.Since(start).Seconds(),
		},
		fmt.Sprintf("centralisation complete: inserts=%d updates=%d", result.Inserts, result.Updates))
	return result, nil
}

func (c *Centralizer) publishFailure(start time.Time, err error) {
	log.WithError(err).Error("centralisation failed")
	c.Sink.Publish("centralisation", "CRM_GLOBAL", types.StatusFailure,
		types.Metrics{"duration_seconds": time.Since(start).Seconds()}, err.Error())
}

func (c *Centralizer) isInitialLoad(ctx context.Context) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", c.Schema, types.ConsoTable)
	v, err := c.Access.Scalar(ctx, query)
	if err != nil {
		return false, errors.Wrap(err, "counting CRM rows")
	}
	return asInt64(v) == 0, nil
}

// activeCRMRows fetches the key fields of every active CRM row
// (spec.md §4.2: "SELECT NUM_0, DOSSIER_0, MNTREG_0, MNTGLB_0 FROM CRM
// WHERE MNTREG_0 < MNTGLB_0").
func (c *Centralizer) activeCRMRows(ctx context.Context) (*types.Table, error) {
	query := fmt.Sprintf(
		"SELECT %s, %s, %s, %s FROM %s.%s WHERE %s < %s",
		types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb,
		c.Schema, types.ConsoTable,
		types.ColMntReg, types.ColMntGlb,
	)
	table, err := c.Access.Select(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "selecting active CRM rows")
	}
	return table, nil
}

func (c *Centralizer) centralizeInitial(ctx context.Context, union *types.Table) (Result, error) {
	rows := toInsertArgs(union)
	statement := insertStatement(c.Access, c.Schema, union.Columns)
	if err := c.Access.BatchExec(ctx, statement, rows, ChunkSize); err != nil {
		return Result{}, errors.Wrap(err, "initial load insert")
	}
	return Result{Inserts: len(rows)}, nil
}

// centralizeDelta implements the three-way partition of spec.md §4.2:
// new rows are inserted, strictly-improved partial payments are
// updated, and active CRM rows that disappeared from the union are
// settled to MNTGLB_0.
func (c *Centralizer) centralizeDelta(ctx context.Context, union *types.Table, now time.Time) (Result, error) {
	active, err := c.activeCRMRows(ctx)
	if err != nil {
		return Result{}, err
	}

	sourceKeys := union.Keys()
	crmIndex := active.Index()

	var insertRows []types.Row
	var updateArgs [][]any

	// 1. New: in the union but not an active CRM row.
	for key, idx := range union.Index() {
		if _, ok := crmIndex[key]; !ok {
			insertRows = append(insertRows, union.Rows[idx])
		}
	}

	// 2. Partial payment: active in both, strictly greater MNTREG_0 in
	// the source. Equality is a no-op (spec.md §4.2 rule 2).
	for key := range sourceKeys {
		crmIdx, ok := crmIndex[key]
		if !ok {
			continue
		}
		srcRow := union.Rows[union.Index()[key]]
		crmReg := active.Rows[crmIdx].Float(types.ColMntReg)
		srcReg := srcRow.Float(types.ColMntReg)
		if srcReg > crmReg {
			updateArgs = append(updateArgs, []any{srcReg, now, key.Num, key.Dossier})
		}
	}

	// 3. Settlement by disappearance: active in CRM, absent from the
	// union.
	for key, crmIdx := range crmIndex {
		if _, ok := sourceKeys[key]; ok {
			continue
		}
		mntGlb := active.Rows[crmIdx].Float(types.ColMntGlb)
		updateArgs = append(updateArgs, []any{mntGlb, now, key.Num, key.Dossier})
	}

	if len(insertRows) > 0 {
		insertTable := types.NewTable(union.Columns)
		insertTable.Rows = insertRows
		statement := insertStatement(c.Access, c.Schema, union.Columns)
		if err := c.Access.BatchExec(ctx, statement, toInsertArgs(insertTable), ChunkSize); err != nil {
			return Result{}, errors.Wrap(err, "delta insert")
		}
	}

	if len(updateArgs) > 0 {
		statement := fmt.Sprintf(
			"UPDATE %s.%s SET %s = %s, %s = %s WHERE %s = %s AND %s = %s",
			c.Schema, types.ConsoTable,
			types.ColMntReg, c.Access.Placeholder(1),
			types.ColSyncDate, c.Access.Placeholder(2),
			types.ColNum, c.Access.Placeholder(3),
			types.ColDossier, c.Access.Placeholder(4),
		)
		if err := c.Access.BatchExec(ctx, statement, updateArgs, ChunkSize); err != nil {
			return Result{}, errors.Wrap(err, "delta update")
		}
	}

	return Result{Inserts: len(insertRows), Updates: len(updateArgs)}, nil
}

// insertStatement builds "INSERT INTO schema.XIMPAYE_CONSO (cols...)
// VALUES (placeholders...)" for the given access's placeholder style.
func insertStatement(access types.Access, schema string, columns []string) string {
	cols := ""
	phs := ""
	for i, col := range columns {
		if i > 0 {
			cols += ", "
			phs += ", "
		}
		cols += col
		phs += access.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", schema, types.ConsoTable, cols, phs)
}

// toInsertArgs flattens each row of table, in column order, into the
// []any slice BatchExec expects.
func toInsertArgs(table *types.Table) [][]any {
	out := make([][]any, 0, table.Len())
	for _, row := range table.Rows {
		args := make([]any, len(table.Columns))
		for i, col := range table.Columns {
			args[i] = row[col]
		}
		out = append(out, args)
	}
	return out
}

func hasColumn(columns []string, col string) bool {
	for _, c := range columns {
		if c == col {
			return true
		}
	}
	return false
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
