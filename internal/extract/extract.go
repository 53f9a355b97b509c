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

// Package extract implements the C3 Extractor (spec.md §4.1): it pulls
// one source schema's XIMPAYE view into an in-memory Table, normalizes
// its columns, and stamps the row's origin.
package extract

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Extractor pulls a single source schema's invoices into memory.
type Extractor struct {
	Sink types.Sink
}

// New constructs an Extractor publishing to sink.
func New(sink types.Sink) *Extractor {
	return &Extractor{Sink: sink}
}

// Extract runs "SELECT * FROM {schema}.XIMPAYE" against access and
// normalizes the result (upper-cased columns, BRP_0 -> BPR_0,
// DOSSIER_0 stamped to schema).
//
// On driver failure it returns a nil Table and a non-nil error; it
// does not publish a FAILURE status itself, since a single failed
// attempt is not yet a failed extraction while retries remain
// (spec.md §4.1, §4.7) — the orchestrator's retry wrapper is
// responsible for publishing once the retry budget is exhausted. On
// success it publishes extraction/{schema} SUCCESS itself, since
// every attempt that reaches this point is a real, final success.
func (e *Extractor) Extract(ctx context.Context, access types.Access, schema string) (*types.Table, error) {
	start := time.Now()
	query := fmt.Sprintf("SELECT * FROM %s.%s", schema, types.SourceView)

	raw, err := access.Select(ctx, query)
	duration := time.Since(start).Seconds()
	if err != nil {
		log.WithField("schema", schema).WithError(err).Warn("extraction attempt failed")
		return nil, err
	}

	table := types.NormalizeExtraction(raw, schema)

	e.Sink.Publish("extraction", schema, types.StatusSuccess,
		types.Metrics{"rows_extracted": table.Len(), "duration_seconds": duration},
		"extraction complete")
	return table, nil
}
