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

// Package integrity implements the C5 Integrity Checker (spec.md §4.3):
// an advisory, per-dossier row-count comparison between a source
// extraction and the CRM table. It never blocks dispatch; a mismatch
// only raises a monitoring alert.
package integrity

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Checker compares per-dossier row counts between a source extraction
// and the CRM table.
type Checker struct {
	Access types.Access
	Schema string
	Sink   types.Sink
	// IncludeSettled resolves spec.md §9's open question on whether
	// settled (inactive) CRM rows count toward the comparison. The
	// original implementation always included them; this is now a
	// config switch (SPEC_FULL.md §9), defaulting to that behavior.
	IncludeSettled bool
}

// New constructs a Checker against the CRM schema.
func New(access types.Access, schema string, sink types.Sink, includeSettled bool) *Checker {
	return &Checker{Access: access, Schema: schema, Sink: sink, IncludeSettled: includeSettled}
}

// Check compares extraction's row count for dossier against the CRM
// table's row count for the same dossier, publishes a
// centralisation/INTEGRITY_{dossier} status, and raises an alert on
// mismatch. It never returns an error: integrity failures are
// advisory, not fatal, per spec.md §4.3.
func (c *Checker) Check(ctx context.Context, dossier string, extraction *types.Table) bool {
	sourceCount := extraction.Len()

	crmCount, err := c.crmCount(ctx, dossier)
	if err != nil {
		log.WithField("dossier", dossier).WithError(err).Warn("integrity check could not query CRM")
		c.Sink.Publish("centralisation", "INTEGRITY_"+dossier, types.StatusFailure,
			types.Metrics{}, err.Error())
		c.Sink.AddAlert("integrity", fmt.Sprintf("integrity check for dossier %s could not run: %v", dossier, err))
		return false
	}

	ok := sourceCount == crmCount
	metrics := types.Metrics{"source_count": sourceCount, "crm_count": crmCount}
	if ok {
		c.Sink.Publish("centralisation", "INTEGRITY_"+dossier, types.StatusSuccess, metrics,
			fmt.Sprintf("dossier %s counts match: %d", dossier, sourceCount))
		return true
	}

	msg := fmt.Sprintf("dossier %s count mismatch: source=%d crm=%d", dossier, sourceCount, crmCount)
	log.WithField("dossier", dossier).Warn(msg)
	c.Sink.Publish("centralisation", "INTEGRITY_"+dossier, types.StatusFailure, metrics, msg)
	c.Sink.AddAlert("integrity", msg)
	return false
}

func (c *Checker) crmCount(ctx context.Context, dossier string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE %s = %s",
		c.Schema, types.ConsoTable, types.ColDossier, c.Access.Placeholder(1))
	if !c.IncludeSettled {
		query = fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE %s = %s AND %s < %s",
			c.Schema, types.ConsoTable, types.ColDossier, c.Access.Placeholder(1),
			types.ColMntReg, types.ColMntGlb)
	}
	v, err := c.Access.Scalar(ctx, query, dossier)
	if err != nil {
		return 0, errors.Wrap(err, "counting CRM rows for dossier")
	}
	return int(asInt64(v)), nil
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

// CheckAll runs Check for every dossier present in extractions and
// returns true only if every check passed. Per spec.md §4.3, this
// result is advisory and the caller (orchestrator) does not abort the
// cycle on a false return.
func CheckAll(ctx context.Context, c *Checker, extractions map[string]*types.Table) bool {
	allOK := true
	for dossier, extraction := range extractions {
		if !c.Check(ctx, dossier, extraction) {
			allOK = false
		}
	}
	return allOK
}
