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

//go:build tamago && arm

package usbarmory

import (
	"fmt"
	"time"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
)

const (
	pulse = 250 * time.Millisecond
	gap   = time.Second
)

// step is one LED state held for a while.
type step struct {
	blue, white bool
	hold        time.Duration
}

// hangPattern shows code as a count of blue pulses with white lit, then a
// pause with both off.
func hangPattern(code int) []step {
	var p []step
	for i := 0; i < code; i++ {
		p = append(p, step{blue: true, white: true, hold: pulse}, step{white: true, hold: pulse})
	}
	return append(p, step{hold: gap})
}

// haltAndCatchFire prints msg and repeats the code's LED pattern forever.
func haltAndCatchFire(msg string, code int) {
	fmt.Printf("### ERROR ### %s (code %d)\n", msg, code)
	p := hangPattern(code)
	for {
		for _, s := range p {
			usbarmory.LED("blue", s.blue)
			usbarmory.LED("white", s.white)
			time.Sleep(s.hold)
		}
	}
}
