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

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets spans sub-second to multi-minute cycle durations.
var latencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

var (
	// StageDuration records how long each (stage, step) publish took
	// to complete, as reported in the step's own metrics bag.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncengine_stage_duration_seconds",
		Help:    "duration of a stage step, as reported by the step itself",
		Buckets: latencyBuckets,
	}, []string{"stage", "step"})

	// StageErrors counts FAILURE publishes per stage/step.
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_stage_errors_total",
		Help: "the number of FAILURE publishes for a stage step",
	}, []string{"stage", "step"})

	// RowsExtracted counts rows extracted per source schema.
	RowsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_rows_extracted_total",
		Help: "the number of rows extracted from a source schema",
	}, []string{"schema"})

	// RowsInserted counts rows inserted per stage/step.
	RowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_rows_inserted_total",
		Help: "the number of rows inserted by a stage step",
	}, []string{"stage", "step"})

	// RowsUpdated counts rows updated per stage/step.
	RowsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_rows_updated_total",
		Help: "the number of rows updated by a stage step",
	}, []string{"stage", "step"})

	// RetryAttempts counts retry attempts made per stage/step.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_retry_attempts_total",
		Help: "the number of retry attempts made for a stage step",
	}, []string{"stage", "step"})

	// CycleDuration is a histogram for the wall-clock duration of a full
	// sync cycle (spec.md §4.7). It is registered, but no code in this
	// module observes it, so it stays empty.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncengine_cycle_duration_seconds",
		Help:    "duration of one full extract-centralize-dispatch cycle",
		Buckets: latencyBuckets,
	})
)

// Observe records metrics reported through a types.Sink.Publish call
// onto the Prometheus collectors above. It is called from an
// instrumented Sink wrapper rather than folded into monitoring.Sink
// itself, so a test or alternate Sink implementation can opt out of
// Prometheus entirely.
func Observe(stage, step string, failed bool, durationSeconds float64, inserts, updates int) {
	StageDuration.WithLabelValues(stage, step).Observe(durationSeconds)
	if failed {
		StageErrors.WithLabelValues(stage, step).Inc()
	}
	if inserts > 0 {
		RowsInserted.WithLabelValues(stage, step).Add(float64(inserts))
	}
	if updates > 0 {
		RowsUpdated.WithLabelValues(stage, step).Add(float64(updates))
	}
}
