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

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassirelasry80-ux/syncengine/internal/centralize"
	"github.com/yassirelasry80-ux/syncengine/internal/dbaccess/dbaccesstest"
	"github.com/yassirelasry80-ux/syncengine/internal/dispatch"
	"github.com/yassirelasry80-ux/syncengine/internal/extract"
	"github.com/yassirelasry80-ux/syncengine/internal/integrity"
	"github.com/yassirelasry80-ux/syncengine/internal/types"
	"github.com/yassirelasry80-ux/syncengine/internal/util/retry"
)

var columns = []string{types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb, types.ColSyncDate}

type trackingSink struct {
	mu       sync.Mutex
	statuses []types.EngineStatus
	alerts   []string
}

func (s *trackingSink) Publish(stage, step string, status types.StepStatus, metrics types.Metrics, message string) {
}
func (s *trackingSink) AddAlert(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, kind+": "+message)
}
func (s *trackingSink) SetStatus(status types.EngineStatus, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}
func (s *trackingSink) ClearAlerts() {}

func (s *trackingSink) lastStatus() types.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func buildOrchestrator(sink types.Sink, crm *dbaccesstest.Access, targets ...*dbaccesstest.Access) *Orchestrator {
	var sources []SourceTarget
	var dispatchTargets []dispatch.Target
	for _, t := range targets {
		sources = append(sources, SourceTarget{Access: t, Schema: t.Schema})
		dispatchTargets = append(dispatchTargets, dispatch.Target{Access: t, Schema: t.Schema})
	}
	return &Orchestrator{
		Sources:         sources,
		DispatchTargets: dispatchTargets,
		Extractor:       extract.New(sink),
		Centralizer:     centralize.New(crm, "CRM", sink),
		Checker:         integrity.New(crm, "CRM", sink, true),
		Dispatcher:      dispatch.New(crm, "CRM", sink),
		Sink:            sink,
		RetryBudget:     retry.Budget{MaxRetries: 1, Delay: time.Millisecond},
	}
}

func TestRunCycleSucceedsEndToEnd(t *testing.T) {
	crm := dbaccesstest.NewEmpty("CRM", columns)
	source := dbaccesstest.NewWithRows("CAS", []string{"num_0", "mntreg_0", "mntglb_0"}, []types.Row{
		{"num_0": "1", "mntreg_0": 0.0, "mntglb_0": 10.0},
	})
	target := dbaccesstest.NewEmpty("CAS", columns)

	sink := &trackingSink{}
	orc := buildOrchestrator(sink, crm, source)
	// the CAS dispatch target is a separate fake from the CAS source view
	orc.DispatchTargets = []dispatch.Target{{Access: target, Schema: "CAS"}}

	orc.RunCycle(context.Background())

	assert.Equal(t, types.EngineIdle, sink.lastStatus())
	assert.Empty(t, sink.alerts)
	assert.Equal(t, 1, crm.Snapshot().Len())
}

func TestRunCycleAbortsWhenAllExtractionsFail(t *testing.T) {
	crm := dbaccesstest.NewEmpty("CRM", columns)
	sink := &trackingSink{}
	orc := &Orchestrator{
		Sources:     nil,
		Extractor:   extract.New(sink),
		Centralizer: centralize.New(crm, "CRM", sink),
		Checker:     integrity.New(crm, "CRM", sink, true),
		Dispatcher:  dispatch.New(crm, "CRM", sink),
		Sink:        sink,
		RetryBudget: retry.Budget{MaxRetries: 0, Delay: time.Millisecond},
	}

	orc.RunCycle(context.Background())

	assert.Equal(t, types.EngineError, sink.lastStatus())
	assert.NotEmpty(t, sink.alerts)
}

func (s *trackingSink) alertsContaining(substr string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.alerts {
		if strings.Contains(a, substr) {
			out = append(out, a)
		}
	}
	return out
}

// TestRunCycleRecordsExtractionFailAfterRetries covers spec.md §8.6
// scenario 6: one source fails on every attempt while another
// succeeds. The cycle still completes (a partial extraction is not a
// total failure), but the exhausted source raises EXTRACTION_FAIL and
// is attempted RetryBudget.MaxRetries+1 times, not once.
func TestRunCycleRecordsExtractionFailAfterRetries(t *testing.T) {
	crm := dbaccesstest.NewEmpty("CRM", columns)
	goodSource := dbaccesstest.NewWithRows("CAS", []string{"num_0", "mntreg_0", "mntglb_0"}, []types.Row{
		{"num_0": "1", "mntreg_0": 0.0, "mntglb_0": 10.0},
	})
	flaky := dbaccesstest.NewFlaky(dbaccesstest.NewEmpty("CMGP", []string{types.ColNum}), 999, assert.AnError)
	target := dbaccesstest.NewEmpty("CAS", columns)

	sink := &trackingSink{}
	orc := &Orchestrator{
		Sources: []SourceTarget{
			{Access: goodSource, Schema: "CAS"},
			{Access: flaky, Schema: "CMGP"},
		},
		DispatchTargets: []dispatch.Target{{Access: target, Schema: "CAS"}},
		Extractor:       extract.New(sink),
		Centralizer:     centralize.New(crm, "CRM", sink),
		Checker:         integrity.New(crm, "CRM", sink, true),
		Dispatcher:      dispatch.New(crm, "CRM", sink),
		Sink:            sink,
		RetryBudget:     retry.Budget{MaxRetries: 2, Delay: time.Millisecond},
	}

	orc.RunCycle(context.Background())

	assert.Equal(t, types.EngineIdle, sink.lastStatus())
	require.NotEmpty(t, sink.alertsContaining("EXTRACTION_FAIL"))
	assert.Equal(t, 3, flaky.Calls()) // MaxRetries+1 attempts, all exhausted
}

// TestRunCycleCriticalFailWhenOnlySourceExhaustsRetries covers the
// CRITICAL_FAIL invariant: a persistently failing source, when it is
// the only configured source, must abort the cycle rather than be
// reported as ok=true.
func TestRunCycleCriticalFailWhenOnlySourceExhaustsRetries(t *testing.T) {
	crm := dbaccesstest.NewEmpty("CRM", columns)
	flaky := dbaccesstest.NewFlaky(dbaccesstest.NewEmpty("CAS", []string{types.ColNum}), 999, assert.AnError)

	sink := &trackingSink{}
	orc := &Orchestrator{
		Sources:     []SourceTarget{{Access: flaky, Schema: "CAS"}},
		Extractor:   extract.New(sink),
		Centralizer: centralize.New(crm, "CRM", sink),
		Checker:     integrity.New(crm, "CRM", sink, true),
		Dispatcher:  dispatch.New(crm, "CRM", sink),
		Sink:        sink,
		RetryBudget: retry.Budget{MaxRetries: 1, Delay: time.Millisecond},
	}

	orc.RunCycle(context.Background())

	assert.Equal(t, types.EngineError, sink.lastStatus())
	assert.NotEmpty(t, sink.alertsContaining("CRITICAL_FAIL"))
	assert.NotEmpty(t, sink.alertsContaining("EXTRACTION_FAIL"))
}
