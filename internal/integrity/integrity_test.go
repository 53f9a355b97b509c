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

package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yassirelasry80-ux/syncengine/internal/dbaccess/dbaccesstest"
	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

var columns = []string{types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb}

type recordingSink struct {
	alerts []string
}

func (s *recordingSink) Publish(stage, step string, status types.StepStatus, metrics types.Metrics, message string) {
}
func (s *recordingSink) AddAlert(kind, message string) {
	s.alerts = append(s.alerts, message)
}
func (s *recordingSink) SetStatus(status types.EngineStatus, lastRun time.Time) {}
func (s *recordingSink) ClearAlerts()                                          {}

func TestCheckPassesOnMatchingCounts(t *testing.T) {
	access := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0},
	})
	sink := &recordingSink{}
	checker := New(access, "CRM", sink, true)

	extraction := types.NewTable(columns)
	extraction.Append(types.Row{types.ColNum: "1", types.ColDossier: "CAS"})

	ok := checker.Check(context.Background(), "CAS", extraction)
	assert.True(t, ok)
	assert.Empty(t, sink.alerts)
}

func TestCheckFlagsMismatchWithoutBlocking(t *testing.T) {
	access := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0},
	})
	sink := &recordingSink{}
	checker := New(access, "CRM", sink, true)

	extraction := types.NewTable(columns) // zero rows extracted, one row in CRM

	ok := checker.Check(context.Background(), "CAS", extraction)
	assert.False(t, ok)
	assert.Len(t, sink.alerts, 1)
}

func TestCheckAllAggregatesPerDossier(t *testing.T) {
	access := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0},
		{types.ColNum: "2", types.ColDossier: "CMGP", types.ColMntReg: 0.0, types.ColMntGlb: 10.0},
	})
	sink := &recordingSink{}
	checker := New(access, "CRM", sink, true)

	casExtraction := types.NewTable(columns)
	casExtraction.Append(types.Row{types.ColNum: "1", types.ColDossier: "CAS"})
	cmgpExtraction := types.NewTable(columns) // missing row: mismatch

	ok := CheckAll(context.Background(), checker, map[string]*types.Table{
		"CAS":  casExtraction,
		"CMGP": cmgpExtraction,
	})
	assert.False(t, ok)
	assert.Len(t, sink.alerts, 1)
}
