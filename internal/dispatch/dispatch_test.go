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

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassirelasry80-ux/syncengine/internal/dbaccess/dbaccesstest"
	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

var columns = []string{types.ColNum, types.ColDossier, types.ColMntReg, types.ColMntGlb, types.ColSyncDate}

type fakeSink struct{}

func (fakeSink) Publish(stage, step string, status types.StepStatus, metrics types.Metrics, message string) {
}
func (fakeSink) AddAlert(kind, message string)                         {}
func (fakeSink) SetStatus(status types.EngineStatus, lastRun time.Time) {}
func (fakeSink) ClearAlerts()                                          {}

type recordingSink struct {
	fakeSink
	alerts []string
}

func (s *recordingSink) AddAlert(kind, message string) {
	s.alerts = append(s.alerts, kind+": "+message)
}

// breakingAccess wraps a fake Access and forces Scalar to fail,
// simulating a target schema that cannot be inspected.
type breakingAccess struct {
	*dbaccesstest.Access
}

func (b *breakingAccess) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	return nil, assert.AnError
}

func TestRunDispatchesInitialToEmptyTarget(t *testing.T) {
	now := time.Now()
	crm := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0, types.ColSyncDate: now},
	})
	target := dbaccesstest.NewEmpty("CAS", columns)

	d := New(crm, "CRM", fakeSink{})
	err := d.Run(context.Background(), []Target{{Access: target, Schema: "CAS"}})
	require.NoError(t, err)

	assert.Equal(t, 1, target.Snapshot().Len())
}

func TestRunDispatchesDeltaAsUpsert(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	crm := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 40.0, types.ColMntGlb: 100.0, types.ColSyncDate: recent},
		{types.ColNum: "2", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0, types.ColSyncDate: recent},
	})
	target := dbaccesstest.NewWithRows("CAS", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 100.0, types.ColSyncDate: old},
	})

	d := New(crm, "CRM", fakeSink{})
	err := d.Run(context.Background(), []Target{{Access: target, Schema: "CAS"}})
	require.NoError(t, err)

	snap := target.Snapshot()
	assert.Equal(t, 2, snap.Len()) // row 1 updated in place, row 2 inserted

	idx := snap.Index()
	row1 := snap.Rows[idx[types.Key{Num: "1", Dossier: "CAS"}]]
	assert.Equal(t, 40.0, row1.Float(types.ColMntReg))
}

func TestRunAlertsAndDropsUnreachableTarget(t *testing.T) {
	crm := dbaccesstest.NewWithRows("CRM", columns, []types.Row{
		{types.ColNum: "1", types.ColDossier: "CAS", types.ColMntReg: 0.0, types.ColMntGlb: 10.0, types.ColSyncDate: time.Now()},
	})
	broken := &breakingAccess{Access: dbaccesstest.NewEmpty("CAS", columns)}
	sink := &recordingSink{}

	d := New(crm, "CRM", sink)
	err := d.Run(context.Background(), []Target{{Access: broken, Schema: "CAS"}})
	require.NoError(t, err)

	require.Len(t, sink.alerts, 1)
	assert.Contains(t, sink.alerts[0], "DISPATCH_TARGET_UNREACHABLE")
	assert.Contains(t, sink.alerts[0], "CAS")
}
