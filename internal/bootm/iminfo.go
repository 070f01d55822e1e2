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

package bootm

import (
	"fmt"
	"io"

	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
)

// Iminfo prints the image at addr and checks its integrity without
// booting it.
func Iminfo(w io.Writer, m *mem.Memory, addr uint64, ring *crypto.Keyring) error {
	fmt.Fprintf(w, "\n## Checking Image at %08x ...\n", addr)
	buf, err := m.Tail(addr)
	if err != nil {
		return err
	}
	switch image.Probe(buf) {
	case image.FormatLegacy:
		fmt.Fprintf(w, "   Legacy image found\n")
		h, err := image.ParseLegacy(buf)
		if err != nil {
			fmt.Fprintf(w, "   %v\n", err)
			return err
		}
		h.Print(w)
		data, err := h.Data(buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "   Verifying Checksum ... ")
		if err := h.VerifyData(data); err != nil {
			fmt.Fprintf(w, "   Bad Data CRC\n")
			return fmt.Errorf("%w: %w", ErrVerify, err)
		}
		fmt.Fprintf(w, "OK\n")
	case image.FormatFIT:
		fmt.Fprintf(w, "   FIT image found\n")
		f, err := fit.Parse(buf)
		if err != nil {
			fmt.Fprintf(w, "Bad FIT image format!\n")
			return err
		}
		f.Print(w)
		p := fit.Policy{Verify: true}
		for _, img := range f.Images() {
			if err := f.VerifyImage(img, ring, p); err != nil {
				fmt.Fprintf(w, "Bad hash in FIT image!\n")
				return fmt.Errorf("%w: %w", ErrVerify, err)
			}
		}
		for _, c := range f.Configs() {
			if err := f.VerifyConfig(c, ring, p); err != nil {
				fmt.Fprintf(w, "Bad signature in FIT configuration %s!\n", c.Name)
				return fmt.Errorf("%w: %w", ErrVerify, err)
			}
		}
	default:
		fmt.Fprintf(w, "   Unknown image format!\n")
		return image.ErrUnknownFormat
	}
	return nil
}
