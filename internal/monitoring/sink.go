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

// Package monitoring implements the C2 Monitoring Sink (spec.md §4.6):
// a JSON dashboard artifact, written atomically, plus the Prometheus
// metrics this engine exposes alongside it.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// maxAlerts bounds the alert list so the dashboard artifact cannot grow
// without bound (spec.md §4.6).
const maxAlerts = 50

// StepRecord is one entry under stage/step in the monitoring document.
type StepRecord struct {
	Status    types.StepStatus `json:"status"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Metrics   types.Metrics    `json:"metrics,omitempty"`
	Retries   int              `json:"retries,omitempty"`
}

// Alert is one entry in the alert list.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// document is the full shape of the JSON artifact.
type document struct {
	LastRun       *time.Time            `json:"last_run"`
	Status        types.EngineStatus    `json:"status"`
	Extraction    map[string]StepRecord `json:"extraction"`
	Centralisation map[string]StepRecord `json:"centralisation"`
	Dispatching   map[string]StepRecord `json:"dispatching"`
	Alerts        []Alert               `json:"alerts"`
}

func newDocument() *document {
	return &document{
		Status:         types.EngineIdle,
		Extraction:     map[string]StepRecord{},
		Centralisation: map[string]StepRecord{},
		Dispatching:    map[string]StepRecord{},
		Alerts:         []Alert{},
	}
}

// Sink is the file-backed types.Sink implementation: the file is read
// once by New, and every call then mutates the in-memory document and
// writes it back atomically (write-to-temp, then rename) so a dashboard
// reader never observes a half-written file.
type Sink struct {
	path string
	mu   sync.Mutex
	doc  *document
}

var _ types.Sink = (*Sink)(nil)

// New constructs a Sink backed by the JSON file at path. If the file
// does not yet exist it is created with an empty document.
func New(path string) (*Sink, error) {
	s := &Sink{path: path, doc: newDocument()}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.load(); err != nil {
		log.WithError(err).Warn("monitoring file unreadable, reinitializing")
		s.doc = newDocument()
		if err := s.flush(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// flush writes the in-memory document to disk atomically: it writes to
// a sibling temp file in the same directory, then renames it into
// place, so readers never see a partially-written file.
func (s *Sink) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".monitoring-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Publish implements types.Sink.
func (s *Sink) Publish(stage, step string, status types.StepStatus, metrics types.Metrics, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := StepRecord{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics:   metrics,
	}
	if metrics != nil {
		if retries, ok := metrics["retries"].(int); ok {
			record.Retries = retries
		}
	}

	switch stage {
	case "extraction":
		s.doc.Extraction[step] = record
	case "centralisation":
		s.doc.Centralisation[step] = record
	case "dispatching":
		s.doc.Dispatching[step] = record
	default:
		log.WithField("stage", stage).Warn("publish to unknown stage")
		return
	}

	logLine := log.WithField("stage", stage).WithField("step", step).WithField("status", status)
	if status == types.StatusFailure {
		logLine.Error(message)
	} else {
		logLine.Info(message)
	}

	if err := s.flush(); err != nil {
		log.WithError(err).Error("failed to persist monitoring file")
	}
}

// AddAlert implements types.Sink.
func (s *Sink) AddAlert(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := Alert{Timestamp: time.Now(), Type: kind, Message: message}
	s.doc.Alerts = append([]Alert{alert}, s.doc.Alerts...)
	if len(s.doc.Alerts) > maxAlerts {
		s.doc.Alerts = s.doc.Alerts[:maxAlerts]
	}

	log.WithField("alert_type", kind).Error(message)

	if err := s.flush(); err != nil {
		log.WithError(err).Error("failed to persist monitoring file")
	}
}

// SetStatus implements types.Sink.
func (s *Sink) SetStatus(status types.EngineStatus, lastRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Status = status
	if !lastRun.IsZero() {
		s.doc.LastRun = &lastRun
	}

	if err := s.flush(); err != nil {
		log.WithError(err).Error("failed to persist monitoring file")
	}
}

// ClearAlerts implements types.Sink.
func (s *Sink) ClearAlerts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Alerts = []Alert{}

	if err := s.flush(); err != nil {
		log.WithError(err).Error("failed to persist monitoring file")
	}
}
