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

// Package stopper provides a minimal cancellation-aware context for
// background goroutines, in the style used throughout the teacher
// package (see stdpool.OpenMySQLAsTarget's `ctx.Go(...)` /
// `<-ctx.Stopping()` idiom): a goroutine is registered with Go, and the
// whole group can be told to stop and waited on with Stop.
package stopper

import (
	"context"
	"sync"
)

// Context wraps a context.Context with bookkeeping for background
// goroutines that should be allowed to finish in-flight work before
// the process exits (spec.md §5: "in-flight DB calls run to
// completion").
type Context struct {
	context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New derives a stopper Context from parent. Calling the returned
// Context's Stop method cancels the derived context and blocks until
// every goroutine started with Go has returned.
func New(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{Context: ctx, cancel: cancel}
}

// Go starts fn in a new goroutine, tracked so that Stop can wait for
// it to finish.
func (c *Context) Go(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Stopping returns a channel that is closed once Stop has been called.
func (c *Context) Stopping() <-chan struct{} {
	return c.Context.Done()
}

// Stop cancels the context and waits for every goroutine started with
// Go to return.
func (c *Context) Stop() {
	c.cancel()
	c.wg.Wait()
}
