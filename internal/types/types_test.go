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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowActiveWhenRegisteredBelowGlobal(t *testing.T) {
	r := Row{ColMntReg: 10.0, ColMntGlb: 20.0}
	assert.True(t, r.Active())

	r[ColMntReg] = 20.0
	assert.False(t, r.Active())
}

func TestNormalizeExtractionUppercasesAndRenamesLegacyColumn(t *testing.T) {
	raw := NewTable([]string{"num_0", "brp_0", "dossier_0"})
	raw.Append(Row{"num_0": "1", "brp_0": "X", "dossier_0": "stale"})

	out := NormalizeExtraction(raw, "CAS")

	assert.Len(t, out.Rows, 1)
	row := out.Rows[0]
	assert.Equal(t, "X", row.Str(ColBPR))
	assert.Equal(t, "CAS", row.Str(ColDossier))
	assert.Equal(t, "1", row.Str(ColNum))
}

func TestTableIndexInvalidatedOnAppend(t *testing.T) {
	table := NewTable([]string{ColNum, ColDossier})
	table.Append(Row{ColNum: "1", ColDossier: "CAS"})
	idx := table.Index()
	assert.Len(t, idx, 1)

	table.Append(Row{ColNum: "2", ColDossier: "CAS"})
	idx = table.Index()
	assert.Len(t, idx, 2)
}

func TestConcatUnionsRowsAcrossTables(t *testing.T) {
	a := NewTable([]string{ColNum})
	a.Append(Row{ColNum: "1"})
	b := NewTable([]string{ColNum})
	b.Append(Row{ColNum: "2"})

	out := Concat(a, b, nil)
	assert.Equal(t, 2, out.Len())
}

func TestRowFloatHandlesDriverNumericVariants(t *testing.T) {
	assert.Equal(t, 1.5, Row{"x": 1.5}.Float("x"))
	assert.Equal(t, 2.0, Row{"x": int64(2)}.Float("x"))
	assert.Equal(t, 3.0, Row{"x": int(3)}.Float("x"))
	assert.Equal(t, 4.0, Row{"x": "4"}.Float("x"))
	assert.Equal(t, 0.0, Row{"x": "not-a-number"}.Float("x"))
}
