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

// Package dispatch implements the C6 Dispatcher (spec.md §4.4): it
// redistributes the CRM table back out to every target schema, either
// as an initial bulk copy or as an upsert of the global delta computed
// from the minimum of each target's own high-water mark.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Workers bounds the number of targets dispatched to concurrently
// (spec.md §4.4, §5: "ThreadPoolExecutor(max_workers=5)" in the
// original implementation).
const Workers = 5

// ChunkSize is the batch size for inserts and updates.
const ChunkSize = 1000

// Target identifies one local schema this engine writes to.
type Target struct {
	Access types.Access
	Schema string
}

// Dispatcher redistributes the CRM table to a set of local targets.
type Dispatcher struct {
	CRM       types.Access
	CRMSchema string
	Sink      types.Sink
}

// New constructs a Dispatcher reading from the CRM schema.
func New(crm types.Access, crmSchema string, sink types.Sink) *Dispatcher {
	return &Dispatcher{CRM: crm, CRMSchema: crmSchema, Sink: sink}
}

// Run is the global coordination step of spec.md §4.4: it classifies
// every target as needing an initial copy or a delta upsert, computes
// W = min(MAX(SYNC_DATE)) across the delta targets, fetches the delta
// once, and fans the work out across a bounded worker pool.
func (d *Dispatcher) Run(ctx context.Context, targets []Target) error {
	var initial []Target
	var delta []Target
	var maxDates []time.Time

	for _, t := range targets {
		count, err := d.targetCount(ctx, t)
		if err != nil {
			msg := fmt.Sprintf("could not inspect target schema: %v", err)
			log.WithField("schema", t.Schema).WithError(err).Error("could not inspect target schema")
			d.Sink.Publish("dispatching", t.Schema, types.StatusFailure, types.Metrics{}, msg)
			d.Sink.AddAlert("DISPATCH_TARGET_UNREACHABLE", fmt.Sprintf("%s: %s", t.Schema, msg))
			continue
		}
		if count == 0 {
			initial = append(initial, t)
			continue
		}
		maxDate, err := d.targetMaxSyncDate(ctx, t)
		if err != nil {
			msg := fmt.Sprintf("could not read high-water mark: %v", err)
			log.WithField("schema", t.Schema).WithError(err).Error("could not read target high-water mark")
			d.Sink.Publish("dispatching", t.Schema, types.StatusFailure, types.Metrics{}, msg)
			d.Sink.AddAlert("DISPATCH_TARGET_UNREACHABLE", fmt.Sprintf("%s: %s", t.Schema, msg))
			continue
		}
		if maxDate.IsZero() {
			continue
		}
		delta = append(delta, t)
		maxDates = append(maxDates, maxDate)
	}

	var deltaTable *types.Table
	if len(delta) > 0 && len(maxDates) > 0 {
		watermark := minTime(maxDates)
		log.WithField("watermark", watermark).Info("global dispatch watermark")
		var err error
		deltaTable, err = d.fetchDelta(ctx, watermark)
		if err != nil {
			return errors.Wrap(err, "fetching global delta")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers)

	for _, t := range initial {
		t := t
		g.Go(func() error {
			d.dispatchInitial(gctx, t)
			return nil
		})
	}
	for _, t := range delta {
		t := t
		g.Go(func() error {
			d.dispatchDelta(gctx, t, deltaTable)
			return nil
		})
	}

	return g.Wait()
}

func (d *Dispatcher) targetCount(ctx context.Context, t Target) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", t.Schema, types.ConsoTable)
	v, err := t.Access.Scalar(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, "counting target rows")
	}
	return asInt64(v), nil
}

func (d *Dispatcher) targetMaxSyncDate(ctx context.Context, t Target) (time.Time, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s.%s", types.ColSyncDate, t.Schema, types.ConsoTable)
	v, err := t.Access.Scalar(ctx, query)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading target max sync date")
	}
	ts, _ := v.(time.Time)
	return ts, nil
}

func (d *Dispatcher) fetchDelta(ctx context.Context, watermark time.Time) (*types.Table, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s WHERE %s > %s",
		d.CRMSchema, types.ConsoTable, types.ColSyncDate, d.CRM.Placeholder(1))
	table, err := d.CRM.Select(ctx, query, watermark)
	if err != nil {
		return nil, errors.Wrap(err, "selecting CRM delta")
	}
	return table, nil
}

// dispatchInitial performs a bulk copy of the whole CRM table into an
// empty target schema (spec.md §4.4's "dispatch-initial").
func (d *Dispatcher) dispatchInitial(ctx context.Context, t Target) {
	start := time.Now()
	log.WithField("schema", t.Schema).Info("dispatching initial load")

	query := fmt.Sprintf("SELECT * FROM %s.%s", d.CRMSchema, types.ConsoTable)
	crmTable, err := d.CRM.Select(ctx, query)
	if err != nil {
		d.publishFailure(t.Schema, start, errors.Wrap(err, "reading CRM for initial dispatch"))
		return
	}

	if crmTable.Empty() {
		d.Sink.Publish("dispatching", t.Schema, types.StatusSuccess,
			types.Metrics{"duration_seconds": time.Since(start).Seconds()}, "CRM empty, nothing to insert")
		return
	}

	statement := insertStatement(t.Access, t.Schema, crmTable.Columns)
	rows := toInsertArgs(crmTable)
	if err := t.Access.BatchExec(ctx, statement, rows, ChunkSize); err != nil {
		d.publishFailure(t.Schema, start, errors.Wrap(err, "initial dispatch insert"))
		return
	}

	d.Sink.Publish("dispatching", t.Schema, types.StatusSuccess,
		types.Metrics{"inserts": len(rows), "duration_seconds": time.Since(start).Seconds()},
		"initial dispatch complete")
}

// dispatchDelta upserts the global delta into one target: rows already
// present locally are updated (MNTREG_0, SYNC_DATE only), rows absent
// locally are inserted whole (spec.md §4.4's "dispatch-delta").
func (d *Dispatcher) dispatchDelta(ctx context.Context, t Target, delta *types.Table) {
	start := time.Now()
	if delta == nil || delta.Empty() {
		d.Sink.Publish("dispatching", t.Schema, types.StatusSuccess,
			types.Metrics{"duration_seconds": 0}, "delta empty")
		return
	}

	log.WithField("schema", t.Schema).WithField("rows", delta.Len()).Info("dispatching delta")

	query := fmt.Sprintf("SELECT %s, %s FROM %s.%s", types.ColNum, types.ColDossier, t.Schema, types.ConsoTable)
	localTable, err := t.Access.Select(ctx, query)
	if err != nil {
		d.publishFailure(t.Schema, start, errors.Wrap(err, "reading local keys"))
		return
	}
	localKeys := localTable.Keys()

	var insertRows []types.Row
	var updateArgs [][]any
	for _, row := range delta.Rows {
		key := row.Key()
		if _, ok := localKeys[key]; ok {
			updateArgs = append(updateArgs, []any{row.Float(types.ColMntReg), row.SyncTime(), key.Num, key.Dossier})
		} else {
			insertRows = append(insertRows, row)
		}
	}

	if len(insertRows) > 0 {
		insertTable := types.NewTable(delta.Columns)
		insertTable.Rows = insertRows
		statement := insertStatement(t.Access, t.Schema, delta.Columns)
		if err := t.Access.BatchExec(ctx, statement, toInsertArgs(insertTable), ChunkSize); err != nil {
			d.publishFailure(t.Schema, start, errors.Wrap(err, "delta insert"))
			return
		}
	}

	if len(updateArgs) > 0 {
		statement := fmt.Sprintf(
			"UPDATE %s.%s SET %s = %s, %s = %s WHERE %s = %s AND %s = %s",
			t.Schema, types.ConsoTable,
			types.ColMntReg, t.Access.Placeholder(1),
			types.ColSyncDate, t.Access.Placeholder(2),
			types.ColNum, t.Access.Placeholder(3),
			types.ColDossier, t.Access.Placeholder(4),
		)
		if err := t.Access.BatchExec(ctx, statement, updateArgs, ChunkSize); err != nil {
			d.publishFailure(t.Schema, start, errors.Wrap(err, "delta update"))
			return
		}
	}

	d.Sink.Publish("dispatching", t.Schema, types.StatusSuccess,
		types.Metrics{
			"inserts":          len(insertRows),
			"updates":          len(updateArgs),
			"duration_seconds": time.Since(start).Seconds(),
		},
		"delta upsert complete")
}

func (d *Dispatcher) publishFailure(schema string, start time.Time, err error) {
	log.WithField("schema", schema).WithError(err).Error("dispatch failed")
	d.Sink.Publish("dispatching", schema, types.StatusFailure,
		types.Metrics{"duration_seconds": time.Since(start).Seconds()}, err.Error())
}

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

func minTime(times []time.Time) time.Time {
	min := times[0]
	for _, t := range times[1:] {
		if t.Before(min) {
			min = t
		}
	}
	return min
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
