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
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// Loop runs RunCycle forever on interval, watching forceRunFile for an
// early wakeup (spec.md §4.7's force-run trigger). It returns when ctx
// is canceled, after setting the engine status to STOPPED.
//
// The force-run check combines an fsnotify watch on the flag file's
// directory with a one-second poll, so a filesystem that does not
// support inotify-style events (network mounts, some container
// overlays) still wakes up within a second of the flag appearing,
// matching the original implementation's plain polling loop.
func Loop(ctx context.Context, o *Orchestrator, interval time.Duration, forceRunFile string) {
	log.WithField("interval", interval).Info("starting sync engine")
	o.Sink.SetStatus(types.EngineIdle, time.Time{})

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr != nil {
		log.WithError(watchErr).Warn("force-run file watcher unavailable, falling back to polling only")
	} else {
		defer watcher.Close()
		dir := filepath.Dir(forceRunFile)
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).Warn("could not watch force-run directory")
		}
	}

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Error("unexpected error in sync loop")
					o.Sink.AddAlert("CRITICAL", "unexpected error in sync loop")
					o.Sink.SetStatus(types.EngineError, time.Time{})
				}
			}()
			o.RunCycle(ctx)
		}()

		if err := os.Remove(forceRunFile); err == nil {
			log.Info("cleared force-run flag after cycle completion")
		}

		if !waitForNextCycle(ctx, watcher, interval, forceRunFile) {
			o.Sink.SetStatus(types.EngineStopped, time.Time{})
			return
		}
	}
}

// waitForNextCycle blocks until interval elapses, a force-run flag
// appears, or ctx is canceled. It returns false only when ctx was
// canceled, signaling the caller to stop the loop.
func waitForNextCycle(ctx context.Context, watcher *fsnotify.Watcher, interval time.Duration, forceRunFile string) bool {
	deadline := time.NewTimer(interval)
	defer deadline.Stop()
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-poll.C:
			if _, err := os.Stat(forceRunFile); err == nil {
				log.Info("force-run flag detected via poll")
				return true
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == filepath.Base(forceRunFile) && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				log.Info("force-run flag detected via watcher")
				return true
			}
		}
	}
}
