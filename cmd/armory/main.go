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

// armory is the boot loader for the USB armory Mk II: SPL and U-Boot
// proper in one bare-metal binary.
//
// Build with the tamago toolchain, supplying the runtime's RAM region:
//
//	GOOS=tamago GOARM=7 GOARCH=arm go build -tags linkramstart,linkramsize \
//	  -ldflags "-T 0x90010000 -R 0x1000 -X main.Version=$(git describe) -X main.Keys=$(xxd -p keys.dtb | tr -d '\n')" \
//	  ./cmd/armory
package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/board/usbarmory"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/proper"
	"github.com/google/bootcore/internal/spl"
)

var (
	// Version is printed in the banner.
	Version = "dev"
	// Keys is a hex-encoded control device tree of trusted public keys.
	Keys string
	// RequireSignatures refuses unsigned FIT images when "true".
	RequireSignatures string
)

var defaultEnv = map[string]string{
	"bootdelay": "2",
	"baudrate":  "115200",
	"loadaddr":  "0x80800000",
	"fdtaddr":   "0x87000000",
	"bootargs":  "console=ttymxc1,115200 root=/dev/mmcblk0p1 rootwait rw",
	"bootcmd":   "load mmc 0:1 ${loadaddr} /boot/image.fit; bootm ${loadaddr}",
}

func keyring() (*crypto.Keyring, error) {
	if Keys == "" {
		return crypto.NewKeyring(), nil
	}
	b, err := hex.DecodeString(Keys)
	if err != nil {
		return nil, fmt.Errorf("bad Keys: %w", err)
	}
	tree, err := fdt.Read(b)
	if err != nil {
		return nil, fmt.Errorf("bad Keys: %w", err)
	}
	return crypto.KeyringFromFDT(tree.RootNode)
}

func main() {
	ctx := context.Background()
	b := usbarmory.New()

	ring, err := keyring()
	if err != nil {
		b.Hang(err.Error(), 1)
	}
	policy := fit.Policy{Verify: true, RequireSignatures: RequireSignatures == "true"}
	envOpts := b.EnvOptions(defaultEnv)
	early, err := env.New(envOpts)
	if err != nil {
		b.Hang(err.Error(), 2)
	}
	early.Init(ctx)

	gd := &board.GlobalData{}
	next := func(ctx context.Context, _ *spl.Image) error {
		return proper.New(b, gd, proper.Options{
			Env:     envOpts,
			Console: b.Console,
			Version: Version,
			Arch:    image.ArchARM,
			Keyring: ring,
			Policy:  policy,
			Sources: b.FileSources(),
		}).Run(ctx)
	}
	s := spl.New(b, gd, spl.Options{
		Params: spl.Params{
			CheckDataCRC: true,
			Keyring:      ring,
			Policy:       policy,
			ArgsAddr:     usbarmory.DRAMStart + 0x7000000,
		},
		Loaders: b.Loaders(),
		Order:   []board.BootDevice{board.BootDeviceMMC1, board.BootDeviceMMC2},
		Falcon:  true,
		Env:     early,
		Next:    next,
	})
	chain, err := s.Run(ctx)
	if err != nil {
		b.Hang(err.Error(), 3)
	}
	if err := chain(ctx); err != nil {
		glog.Errorf("boot: %v", err)
		b.Reset()
	}
}
