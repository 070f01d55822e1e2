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
	"github.com/usbarmory/tamago/soc/nxp/usdhc"
)

// maxTransfer bounds a single card transfer to what fits in DMA memory.
const maxTransfer = 32 * 1024

// Card adapts a USDHC controller to the block device interfaces used by
// the loaders and the environment.
type Card struct {
	Label string
	Dev   *usdhc.USDHC
}

// BlockSize returns the card's block size.
func (c *Card) BlockSize() uint {
	return uint(c.Dev.Info().BlockSize)
}

// WriteBlocks writes b from block lba on, zero padding the final block.
func (c *Card) WriteBlocks(lba uint, b []byte) error {
	bs := int(c.BlockSize())
	if r := len(b) % bs; r != 0 {
		b = append(b, make([]byte, bs-r)...)
	}
	for len(b) > 0 {
		n := min(len(b), maxTransfer)
		if err := c.Dev.WriteBlocks(int(lba), b[:n]); err != nil {
			return err
		}
		b = b[n:]
		lba += uint(n / bs)
	}
	return nil
}

// ReadBlocks fills b from block lba on. len(b) must be a multiple of the
// block size.
func (c *Card) ReadBlocks(lba uint, b []byte) error {
	bs := int(c.BlockSize())
	for len(b) > 0 {
		n := min(len(b), maxTransfer)
		if err := c.Dev.ReadBlocks(int(lba), b[:n]); err != nil {
			return err
		}
		b = b[n:]
		lba += uint(n / bs)
	}
	return nil
}
