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

// Package orchestrator implements the C7 Orchestrator (spec.md §4.7):
// the one full synchronization cycle (extract -> centralize -> verify
// -> dispatch) and the engine's run loop around it.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yassirelasry80-ux/syncengine/internal/centralize"
	"github.com/yassirelasry80-ux/syncengine/internal/dispatch"
	"github.com/yassirelasry80-ux/syncengine/internal/extract"
	"github.com/yassirelasry80-ux/syncengine/internal/integrity"
	"github.com/yassirelasry80-ux/syncengine/internal/types"
	"github.com/yassirelasry80-ux/syncengine/internal/util/retry"
)

// extractWorkerCap mirrors the original implementation's
// "min(len(targets), 10)" bound on extraction concurrency.
const extractWorkerCap = 10

// SourceTarget is one configured source schema to extract from.
type SourceTarget struct {
	Access types.Access
	Schema string
}

// Orchestrator runs one synchronization cycle end to end.
type Orchestrator struct {
	Sources         []SourceTarget
	DispatchTargets []dispatch.Target

	Extractor   *extract.Extractor
	Centralizer *centralize.Centralizer
	Checker     *integrity.Checker
	Dispatcher  *dispatch.Dispatcher

	Sink types.Sink

	// RetryBudget governs the extraction, centralization, and dispatch
	// retry loops (spec.md §4.7).
	RetryBudget retry.Budget
}

// RunCycle executes one full cycle, following spec.md §4.7's nine
// steps. It never panics; on a fatal stage failure it records an
// ERROR status and returns, leaving the next cycle to retry from
// scratch.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	cycleID := uuid.New().String()
	logger := log.WithField("cycle_id", cycleID)
	start := time.Now()

	logger.Info("starting sync cycle")
	o.Sink.SetStatus(types.EngineRunning, start)
	o.Sink.ClearAlerts()

	extractions, successCount := o.runExtractions(ctx, logger)
	if successCount == 0 {
		msg := "all extractions failed, cycle aborted"
		logger.Error(msg)
		o.Sink.AddAlert("CRITICAL_FAIL", msg)
		o.Sink.SetStatus(types.EngineError, time.Time{})
		return
	}
	if successCount < len(o.Sources) {
		o.Sink.AddAlert("WARNING",
			fmt.Sprintf("only %d/%d sources extracted successfully", successCount, len(o.Sources)))
	}

	tables := make([]*types.Table, 0, len(extractions))
	for _, t := range extractions {
		tables = append(tables, t)
	}
	union := types.Concat(tables...)

	if err := o.runCentralization(ctx, logger, union); err != nil {
		msg := fmt.Sprintf("centralization failed after retries, dispatch aborted: %v", err)
		logger.Error(msg)
		o.Sink.AddAlert("CENTRALISATION_FAIL", msg)
		o.Sink.SetStatus(types.EngineError, time.Time{})
		return
	}

	logger.Info("running integrity check")
	integrity.CheckAll(ctx, o.Checker, extractions)

	if err := o.runDispatch(ctx, logger); err != nil {
		msg := fmt.Sprintf("dispatch failed after retries: %v", err)
		logger.Error(msg)
		o.Sink.AddAlert("DISPATCH_FAIL", msg)
		o.Sink.SetStatus(types.EngineError, time.Time{})
		return
	}

	logger.WithField("duration_seconds", time.Since(start).Seconds()).Info("sync cycle complete")
	o.Sink.SetStatus(types.EngineIdle, time.Time{})
}

// runExtractions fans out across o.Sources with a worker pool bounded
// to extractWorkerCap, applying the retry budget to each source
// independently (spec.md §4.7 step 1, §5).
func (o *Orchestrator) runExtractions(ctx context.Context, logger *log.Entry) (map[string]*types.Table, int) {
	results := make(map[string]*types.Table, len(o.Sources))

	limit := extractWorkerCap
	if len(o.Sources) < limit {
		limit = len(o.Sources)
	}
	if limit <= 0 {
		return results, 0
	}

	type outcome struct {
		schema string
		table  *types.Table
		ok     bool
	}
	outcomes := make(chan outcome, len(o.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, src := range o.Sources {
		src := src
		g.Go(func() error {
			table, ok := o.extractWithRetry(gctx, logger, src)
			outcomes <- outcome{schema: src.Schema, table: table, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)

	successCount := 0
	for o := range outcomes {
		if o.ok {
			results[o.schema] = o.table
			successCount++
		}
	}
	return results, successCount
}

// extractWithRetry retries a single schema's extraction up to
// RetryBudget.MaxRetries times, matching the original's
// run_extraction_with_retries: an empty result is treated as success
// (nothing new to sync), while a driver error is retried. Only once
// the retry budget is exhausted does it publish a FAILURE status and
// raise EXTRACTION_FAIL (spec.md §8.6) — a retried-then-recovered
// attempt never touches either.
func (o *Orchestrator) extractWithRetry(ctx context.Context, logger *log.Entry, src SourceTarget) (*types.Table, bool) {
	var table *types.Table
	onAttempt := func(attempt int) {
		o.Sink.Publish("extraction", src.Schema, types.StatusInProgress,
			types.Metrics{"retries": attempt}, fmt.Sprintf("attempt %d/%d", attempt+1, o.RetryBudget.MaxRetries+1))
	}

	err := retry.Do(ctx, o.RetryBudget, onAttempt, func(ctx context.Context) error {
		var extractErr error
		table, extractErr = o.Extractor.Extract(ctx, src.Access, src.Schema)
		return extractErr
	})
	if err != nil {
		msg := fmt.Sprintf("extraction for %s failed after %d attempts: %v", src.Schema, o.RetryBudget.MaxRetries+1, err)
		logger.WithField("schema", src.Schema).Error(msg)
		o.Sink.Publish("extraction", src.Schema, types.StatusFailure,
			types.Metrics{"retries": o.RetryBudget.MaxRetries}, msg)
		o.Sink.AddAlert("EXTRACTION_FAIL", msg)
		return types.NewTable(nil), false
	}
	return table, true
}

// runCentralization retries the whole merge up to RetryBudget times,
// since the merge itself is re-raising on failure (spec.md §4.2, §4.7
// step 3).
func (o *Orchestrator) runCentralization(ctx context.Context, logger *log.Entry, union *types.Table) error {
	onAttempt := func(attempt int) {
		o.Sink.Publish("centralisation", "CRM_GLOBAL", types.StatusInProgress,
			types.Metrics{"retries": attempt}, fmt.Sprintf("attempt %d", attempt+1))
	}
	return retry.Do(ctx, o.RetryBudget, onAttempt, func(ctx context.Context) error {
		_, err := o.Centralizer.Centralize(ctx, union)
		return err
	})
}

// runDispatch retries the whole dispatch coordination step up to
// RetryBudget times.
func (o *Orchestrator) runDispatch(ctx context.Context, logger *log.Entry) error {
	onAttempt := func(attempt int) {
		o.Sink.Publish("dispatching", "GLOBAL", types.StatusInProgress,
			types.Metrics{"retries": attempt}, fmt.Sprintf("attempt %d", attempt+1))
	}
	return retry.Do(ctx, o.RetryBudget, onAttempt, func(ctx context.Context) error {
		return o.Dispatcher.Run(ctx, o.DispatchTargets)
	})
}
