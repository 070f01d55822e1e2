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
	"time"

	"github.com/usbarmory/tamago/soc/nxp/uart"
)

// Console is the debug accessory UART.
type Console struct {
	UART    *uart.UART
	pending []byte
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	return c.UART.Write(p)
}

// Tstc reports whether a character is waiting.
func (c *Console) Tstc() bool {
	if len(c.pending) > 0 {
		return true
	}
	if b, ok := c.UART.Rx(); ok {
		c.pending = append(c.pending, b)
		return true
	}
	return false
}

// Getc waits for a character. The UART never reaches end of input.
func (c *Console) Getc() (byte, error) {
	for !c.Tstc() {
		time.Sleep(time.Millisecond)
	}
	b := c.pending[0]
	c.pending = c.pending[1:]
	return b, nil
}
