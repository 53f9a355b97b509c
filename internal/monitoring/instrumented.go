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
	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Instrumented wraps a types.Sink so every Publish call also updates
// the Prometheus collectors in metrics.go, without requiring every
// Sink implementation (including test fakes) to know about
// Prometheus.
type Instrumented struct {
	types.Sink
}

var _ types.Sink = Instrumented{}

// WithMetrics returns a Sink that forwards to inner and additionally
// records Prometheus metrics for every publish.
func WithMetrics(inner types.Sink) types.Sink {
	return Instrumented{Sink: inner}
}

// Publish forwards to the wrapped Sink, then records Prometheus
// metrics derived from the reported status and metrics bag.
func (i Instrumented) Publish(stage, step string, status types.StepStatus, metrics types.Metrics, message string) {
	i.Sink.Publish(stage, step, status, metrics, message)

	duration, _ := metrics["duration_seconds"].(float64)
	inserts := intMetric(metrics, "inserts")
	updates := intMetric(metrics, "updates")
	Observe(stage, step, status == types.StatusFailure, duration, inserts, updates)

	if status == types.StatusInProgress && intMetric(metrics, "retries") > 0 {
		RetryAttempts.WithLabelValues(stage, step).Inc()
	}

	if stage == "extraction" && status == types.StatusSuccess {
		if rows := intMetric(metrics, "rows_extracted"); rows > 0 {
			RowsExtracted.WithLabelValues(step).Add(float64(rows))
		}
	}
}

func intMetric(metrics types.Metrics, key string) int {
	switch v := metrics[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
