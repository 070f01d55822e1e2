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

package poll

import (
	"context"
	"errors"
	"testing"
)

func TestWait(t *testing.T) {
	boom := errors.New("boom")
	for _, test := range []struct {
		name       string
		budget     Budget
		readyAfter int
		failAt     int
		wantErr    error
		wantChecks int
	}{
		{name: "immediately", budget: Budget{Attempts: 5}, readyAfter: 1, wantChecks: 1},
		{name: "within budget", budget: Budget{Attempts: 5}, readyAfter: 5, wantChecks: 5},
		{name: "exhausted", budget: Budget{Attempts: 5}, readyAfter: 6, wantErr: ErrTimeout, wantChecks: 5},
		{name: "zero budget checks once", budget: Budget{}, readyAfter: 2, wantErr: ErrTimeout, wantChecks: 1},
		{name: "hard failure stops", budget: Budget{Attempts: 5}, readyAfter: 10, failAt: 2, wantErr: boom, wantChecks: 2},
	} {
		t.Run(test.name, func(t *testing.T) {
			checks, ticks := 0, 0
			err := Wait(context.Background(), test.budget, func() { ticks++ }, func() (bool, error) {
				checks++
				if checks == test.failAt {
					return false, boom
				}
				return checks >= test.readyAfter, nil
			})
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Wait: %v, want %v", err, test.wantErr)
			}
			if checks != test.wantChecks {
				t.Errorf("got %d checks, want %d", checks, test.wantChecks)
			}
			if ticks != checks {
				t.Errorf("liveness called %d times, want %d", ticks, checks)
			}
		})
	}
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, Budget{Attempts: 100}, nil, func() (bool, error) { return false, nil })
	if err == nil {
		t.Fatal("Wait on cancelled context succeeded")
	}
}
