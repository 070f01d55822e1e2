// Copyright 2025 Google LLC. All Rights Reserved.
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

// Package poll implements the bounded busy-wait used when waiting on
// hardware status, with a liveness hook for watchdog servicing.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
)

// ErrTimeout is returned when the budget is exhausted before the condition is met.
var ErrTimeout = errors.New("timed out waiting for condition")

// errPending marks an attempt where the condition was not yet met.
var errPending = errors.New("condition pending")

// Budget bounds a wait loop.
type Budget struct {
	// Attempts is the maximum number of times the condition is checked.
	// Zero is treated as a single check.
	Attempts uint64
	// Interval is the delay between checks.
	Interval time.Duration
}

// Wait checks cond until it reports true, returns an error, or the budget
// runs out. If liveness is non-nil it is called before every check, which is
// where callers reset their watchdog.
func Wait(ctx context.Context, b Budget, liveness func(), cond func() (bool, error)) error {
	retries := uint64(0)
	if b.Attempts > 1 {
		retries = b.Attempts - 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(b.Interval), retries), ctx)

	n := 0
	op := func() error {
		n++
		if liveness != nil {
			liveness()
		}
		done, err := cond()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errPending
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		glog.V(3).Infof("poll: attempt %d: %v, next check in %v", n, err, d)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		if errors.Is(err, errPending) {
			return ErrTimeout
		}
		return err
	}
	return nil
}
