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

package impl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/bootcore/internal/image"
)

const boardYAML = `
Name: testboard
Arch: arm
DRAM: {Base: 0x80000000, Size: 0x400000}
Straps: 0x40
StrapTable:
  - {Mask: 0xf0, Value: 0x40, Device: mmc1}
Devices:
  MMC:
    - {Image: sd.img, BlockSize: 512, RawOffset: 0x8000}
Env:
  Medium: file
  Size: 0x400
  Files: [uboot.env]
  Defaults:
    bootdelay: "-1"
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	h := image.LegacyHeader{Load: 0x80100000, Entry: 0x80100000, OS: image.OSUBoot, Arch: image.ArchARM, Type: image.TypeFirmware}
	h.SetName("u-boot")
	sd := make([]byte, 1<<20)
	copy(sd[0x8000:], image.PackLegacy(h, bytes.Repeat([]byte{0xaa}, 4096)))
	for name, b := range map[string][]byte{"sd.img": sd, "board.yaml": []byte(boardYAML)} {
		if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func boot(t *testing.T, dir, input string) string {
	t.Helper()
	var out bytes.Buffer
	err := Main(context.Background(), EmulatorOpts{
		ConfigFile: filepath.Join(dir, "board.yaml"),
		Version:    "test",
		Stdin:      strings.NewReader(input),
		Stdout:     &out,
	})
	if err != nil {
		t.Fatalf("Main: %v\n%s", err, out.String())
	}
	return out.String()
}

func TestBootToPrompt(t *testing.T) {
	dir := setup(t)
	out := boot(t, dir, "setenv greeting hello; saveenv\n")
	for _, want := range []string{
		"U-Boot SPL (testboard)",
		"Trying to boot from MMC1",
		"U-Boot test",
		"Environment not found",
		"=> setenv greeting hello; saveenv",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("first boot console misses %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "uboot.env")); err != nil {
		t.Fatalf("saveenv did not write the environment: %v", err)
	}

	out = boot(t, dir, "printenv greeting bootcount\n")
	for _, want := range []string{"greeting=hello", "bootcount=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("second boot console misses %q:\n%s", want, out)
		}
	}
}

func TestResetExits(t *testing.T) {
	dir := setup(t)
	out := boot(t, dir, "reset\necho unreachable\n")
	if !strings.Contains(out, "resetting ...") {
		t.Errorf("console:\n%s", out)
	}
	if strings.Contains(out, "unreachable") {
		t.Errorf("command after reset ran:\n%s", out)
	}
}

func TestMissingConfig(t *testing.T) {
	for _, test := range []struct {
		desc string
		opts EmulatorOpts
	}{
		{desc: "no flag", opts: EmulatorOpts{}},
		{desc: "no file", opts: EmulatorOpts{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if err := Main(context.Background(), test.opts); err == nil {
				t.Error("Main succeeded")
			}
		})
	}
}
