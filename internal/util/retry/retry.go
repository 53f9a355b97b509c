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

// Package retry implements the single higher-order retry primitive
// described in spec.md §9: "retry(operation, budget, delay) -> Result
// is a single primitive reused by the orchestrator for extraction,
// centralization, and dispatch stages".
package retry

import (
	"context"
	"time"
)

// Budget bounds one invocation of Do.
type Budget struct {
	MaxRetries int
	Delay      time.Duration
}

// OnAttempt is called before every attempt, including the first, with
// the zero-based retry count (0 on the first attempt). Callers use it
// to publish an IN_PROGRESS step record carrying the current retry
// count, per spec.md §9.
type OnAttempt func(retry int)

// Do runs op, retrying up to budget.MaxRetries additional times with
// budget.Delay between attempts, until op returns a nil error.
//
// Per spec.md §9's resolution of the "empty source semantics" open
// question: Do retries on any non-nil error returned by op and never
// retries merely because op produced an empty result — emptiness is
// the caller's concern, not Do's. A context cancellation aborts
// immediately without consuming the remaining budget.
func Do(ctx context.Context, budget Budget, onAttempt OnAttempt, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= budget.MaxRetries; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < budget.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(budget.Delay):
			}
		}
	}
	return lastErr
}
