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
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

func TestNewInitializesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_monitoring.json")

	sink, err := New(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, types.EngineIdle, doc.Status)
	_ = sink
}

func TestPublishPersistsStepRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_monitoring.json")
	sink, err := New(path)
	require.NoError(t, err)

	sink.Publish("extraction", "CAS", types.StatusSuccess, types.Metrics{"rows_extracted": 5}, "ok")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(data, &doc))
	record, ok := doc.Extraction["CAS"]
	require.True(t, ok)
	assert.Equal(t, types.StatusSuccess, record.Status)
}

func TestAddAlertCapsAtFiftyNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_monitoring.json")
	sink, err := New(path)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		sink.AddAlert("TEST", strconv.Itoa(i))
	}

	assert.Len(t, sink.doc.Alerts, maxAlerts)
	assert.Equal(t, "59", sink.doc.Alerts[0].Message)
}

func TestClearAlertsEmptiesList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_monitoring.json")
	sink, err := New(path)
	require.NoError(t, err)

	sink.AddAlert("TEST", "alert")
	require.Len(t, sink.doc.Alerts, 1)

	sink.ClearAlerts()
	assert.Empty(t, sink.doc.Alerts)
}
