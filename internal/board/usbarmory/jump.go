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
	"errors"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/mem"
	"github.com/usbarmory/tamago/arm"
	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"
)

// exec turns the MMU off and jumps to entry with r0-r2 set.
func exec(entry, r0, r1, r2 uint32)

// svc raises a supervisor call, which runs the installed exception handler
// in supervisor mode.
func svc()

// errNotARM is returned for images this CPU cannot run.
var errNotARM = errors.New("only 32-bit ARM payloads can be started")

// jumper starts payloads from supervisor mode with caches flushed.
type jumper struct{}

// Jump implements bootm.Jumper. It does not return on success.
func (jumper) Jump(_ *mem.Memory, a bootm.JumpArgs) error {
	if a.Entry > 0xffffffff {
		return errNotARM
	}
	entry := uint32(a.Entry)
	r0, r1, r2 := uint32(a.Regs[0]), uint32(a.Regs[1]), uint32(a.Regs[2])

	arm.SystemExceptionHandler = func(n int) {
		if n != arm.SUPERVISOR {
			panic("unhandled exception")
		}

		glog.Infof("usbarmory: starting %v@%#x r0=%#x r1=%#x r2=%#x", a.OS, entry, r0, r1, r2)

		usbarmory.LED("blue", false)
		usbarmory.LED("white", false)

		// RNGB driver doesn't play well with previous initializations
		imx6ul.RNGB.Reset()

		imx6ul.ARM.FlushDataCache()
		imx6ul.ARM.DisableCache()

		exec(entry, r0, r1, r2)
	}

	svc()
	return bootm.ErrReturned
}
