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

package spl

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
	"github.com/google/bootcore/internal/storage/testonly"
	"github.com/google/go-cmp/cmp"
)

const (
	ramBase  = 0x80000000
	ramSize  = 4 << 20
	ubootTxt = 0x80100000
	kernLoad = 0x80200000
	argsAddr = 0x80300000
)

var (
	payload = bytes.Repeat([]byte("next stage "), 100)
	kernel  = bytes.Repeat([]byte("kernel "), 200)
)

func newParams() *Params {
	return &Params{Mem: mem.New(ramBase, ramSize), ArgsAddr: argsAddr, CheckDataCRC: true}
}

func legacyImage(os image.OS, load uint32, data []byte) []byte {
	h := image.LegacyHeader{Load: load, Entry: load, OS: os, Arch: image.ArchARM, Type: image.TypeFirmware}
	h.SetName("spl test")
	return image.PackLegacy(h, data)
}

func dtb(t *testing.T) []byte {
	t.Helper()
	tree := fdt.New()
	fdt.SetString(tree.RootNode, "model", "spl test board")
	b, err := fdt.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}

func fitImage(t *testing.T, external bool) []byte {
	t.Helper()
	b := &fit.Builder{
		Description: "spl test",
		Images: []fit.ImageSpec{
			{
				Name: "uboot", Type: image.TypeFirmware, OS: image.OSUBoot, Arch: image.ArchARM,
				Load: fit.Addr(ubootTxt), Data: payload, Hashes: []string{"sha256"},
			},
			{
				Name: "kernel", Type: image.TypeKernel, OS: image.OSLinux, Arch: image.ArchARM,
				Load: fit.Addr(kernLoad), Entry: fit.Addr(kernLoad + 0x40), Data: kernel, Hashes: []string{"crc32"},
			},
			{Name: "fdt", Type: image.TypeFlatDT, Arch: image.ArchARM, Data: dtb(t), Hashes: []string{"crc32"}},
		},
		Configs:  []fit.ConfigSpec{{Name: "conf-1", Firmware: "uboot", Kernel: "kernel", FDT: []string{"fdt"}}},
		Default:  "conf-1",
		External: external,
	}
	blob, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return blob
}

func mmcWith(t *testing.T, parts map[int64][]byte) testonly.MemDev {
	t.Helper()
	md := testonly.NewMemDev(t, 2048)
	for off, b := range parts {
		if off%testonly.MemBlockSize != 0 {
			t.Fatalf("offset 0x%x not block aligned", off)
		}
		if err := md.WriteBlocks(uint(off/testonly.MemBlockSize), b); err != nil {
			t.Fatalf("WriteBlocks: %v", err)
		}
	}
	return md
}

func readMem(t *testing.T, p *Params, addr uint64, n int) []byte {
	t.Helper()
	b, err := p.Mem.Read(addr, uint64(n))
	if err != nil {
		t.Fatalf("Read(0x%x): %v", addr, err)
	}
	return b
}

func TestLoadLegacy(t *testing.T) {
	good := legacyImage(image.OSUBoot, ubootTxt, payload)
	badHdr := append([]byte(nil), good...)
	badHdr[10] ^= 1
	badData := append([]byte(nil), good...)
	badData[len(badData)-1] ^= 1

	for _, test := range []struct {
		desc    string
		img     []byte
		wantErr error
	}{
		{desc: "ok", img: good},
		{desc: "header checksum", img: badHdr, wantErr: image.ErrBadHeaderCRC},
		{desc: "data checksum", img: badData, wantErr: image.ErrBadDataCRC},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := newParams()
			l := &MMCRaw{Label: "mmc1", Dev: mmcWith(t, map[int64][]byte{0x8000: test.img}), Offset: 0x8000}
			img, err := l.Load(context.Background(), p, false)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Load: %v, want %v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			want := &Image{Name: "spl test", OS: image.OSUBoot, Arch: image.ArchARM, LoadAddr: ubootTxt, Entry: ubootTxt, Size: uint64(len(payload))}
			if diff := cmp.Diff(want, img); diff != "" {
				t.Errorf("Image diff (-want +got):\n%s", diff)
			}
			if got := readMem(t, p, ubootTxt, len(payload)); !bytes.Equal(got, payload) {
				t.Error("payload not at load address")
			}
		})
	}
}

func TestLoadRaw(t *testing.T) {
	raw := bytes.Repeat([]byte{0xea, 0, 0, 0x14}, 256)
	for _, test := range []struct {
		desc     string
		allowRaw bool
		kernel   bool
		wantErr  error
	}{
		{desc: "allowed", allowRaw: true},
		{desc: "not allowed", wantErr: ErrNoImage},
		{desc: "never for an OS", allowRaw: true, kernel: true, wantErr: ErrNoImage},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := newParams()
			p.AllowRaw, p.RawLoad, p.RawSize = test.allowRaw, ubootTxt, uint64(len(raw))
			img, err := p.LoadFrom(bytes.NewReader(raw), 0, "spi", test.kernel)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("LoadFrom: %v, want %v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if img.OS != image.OSUBoot || img.Entry != ubootTxt {
				t.Errorf("got %+v, want U-Boot at 0x%x", img, ubootTxt)
			}
			if got := readMem(t, p, ubootTxt, len(raw)); !bytes.Equal(got, raw) {
				t.Error("raw image not at load address")
			}
		})
	}
}

func TestLoadFIT(t *testing.T) {
	for _, test := range []struct {
		desc      string
		external  bool
		kernel    bool
		wantName  string
		wantOS    image.OS
		wantEntry uint64
		wantData  []byte
	}{
		{desc: "firmware", wantName: "uboot", wantOS: image.OSUBoot, wantEntry: ubootTxt, wantData: payload},
		{desc: "firmware, external data", external: true, wantName: "uboot", wantOS: image.OSUBoot, wantEntry: ubootTxt, wantData: payload},
		{desc: "kernel", external: true, kernel: true, wantName: "kernel", wantOS: image.OSLinux, wantEntry: kernLoad + 0x40, wantData: kernel},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := newParams()
			p.Policy.Verify = true
			flash := testonly.NewMemFlash(1<<20, 4096)
			copy(flash.Data[0x10000:], fitImage(t, test.external))
			l := &SPIFlash{Label: "spi", Dev: flash, Offset: 0x10000, OSOffset: 0x10000}

			img, err := l.Load(context.Background(), p, test.kernel)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if img.Name != test.wantName || img.OS != test.wantOS || img.Entry != test.wantEntry {
				t.Errorf("got %+v", img)
			}
			if got := readMem(t, p, img.LoadAddr, len(test.wantData)); !bytes.Equal(got, test.wantData) {
				t.Error("payload not at load address")
			}
			if img.Args == 0 {
				t.Fatal("no device tree address")
			}
			if test.kernel && img.Args != argsAddr {
				t.Errorf("kernel device tree at 0x%x, want 0x%x", img.Args, argsAddr)
			}
			tree := dtb(t)
			if got := readMem(t, p, img.Args, len(tree)); !bytes.Equal(got, tree) {
				t.Error("device tree not at its address")
			}
		})
	}
}

func TestLoadFITCorruptHash(t *testing.T) {
	blob := fitImage(t, false)
	i := bytes.Index(blob, payload)
	blob[i] ^= 0xff
	p := newParams()
	p.Policy.Verify = true
	if _, err := p.LoadFrom(bytes.NewReader(blob), 0, "ram", false); err == nil || !fit.IsVerifyError(err) {
		t.Fatalf("LoadFrom: %v, want a verification error", err)
	}
}

func TestLoadOversizedHeader(t *testing.T) {
	ext := fitImage(t, true)
	tree, err := fdt.Read(ext)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	k, ok := fdt.Lookup(tree.RootNode, "/images/kernel")
	if !ok {
		t.Fatal("no kernel node")
	}
	fdt.SetU32(k, "data-size", 0x7fffffff)
	hugeFIT, err := fdt.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for _, test := range []struct {
		desc string
		img  []byte
	}{
		{
			// Only the header is present; its size field is larger than RAM.
			desc: "legacy payload larger than RAM",
			img:  legacyImage(image.OSUBoot, ubootTxt, make([]byte, ramSize+1))[:image.LegacyHeaderSize],
		}, {
			desc: "legacy payload past the end of RAM",
			img:  legacyImage(image.OSUBoot, ramBase+ramSize-16, payload)[:image.LegacyHeaderSize],
		}, {
			desc: "FIT external data larger than RAM",
			img:  hugeFIT,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := newParams()
			if _, err := p.LoadFrom(bytes.NewReader(test.img), 0, "ram", false); !errors.Is(err, ErrTooLarge) {
				t.Fatalf("LoadFrom: %v, want %v", err, ErrTooLarge)
			}
		})
	}
}

func TestFalconOffsets(t *testing.T) {
	tree := dtb(t)
	md := mmcWith(t, map[int64][]byte{
		0x8000:  legacyImage(image.OSUBoot, ubootTxt, payload),
		0x40000: legacyImage(image.OSLinux, kernLoad, kernel),
		0x80000: tree,
	})
	for _, test := range []struct {
		desc     string
		l        *MMCRaw
		wantErr  error
		wantArgs uint64
	}{
		{desc: "kernel and args", l: &MMCRaw{Label: "mmc1", Dev: md, OSOffset: 0x40000, ArgsOffset: 0x80000}, wantArgs: argsAddr},
		{desc: "kernel only", l: &MMCRaw{Label: "mmc1", Dev: md, OSOffset: 0x40000}},
		{desc: "not configured", l: &MMCRaw{Label: "mmc1", Dev: md, Offset: 0x8000}, wantErr: ErrNoFalcon},
		{desc: "args missing", l: &MMCRaw{Label: "mmc1", Dev: md, OSOffset: 0x40000, ArgsOffset: 0x8000}, wantErr: ErrNoFalcon},
	} {
		t.Run(test.desc, func(t *testing.T) {
			p := newParams()
			img, err := test.l.Load(context.Background(), p, true)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("Load: %v, want %v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if img.OS != image.OSLinux || img.Args != test.wantArgs {
				t.Errorf("got %+v, want Linux with args 0x%x", img, test.wantArgs)
			}
			if test.wantArgs != 0 {
				if got := readMem(t, p, argsAddr, len(tree)); !bytes.Equal(got, tree) {
					t.Error("device tree not at args address")
				}
			}
		})
	}
}

func TestRAMLoader(t *testing.T) {
	p := newParams()
	const at = 0x80080000
	if err := p.Mem.Write(at, legacyImage(image.OSUBoot, ubootTxt, payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	img, err := (&RAM{Addr: at}).Load(context.Background(), p, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.LoadAddr != ubootTxt {
		t.Errorf("LoadAddr = 0x%x, want 0x%x", img.LoadAddr, ubootTxt)
	}
	if _, err := (&RAM{Addr: ramBase + ramSize - 16}).Load(context.Background(), p, false); err == nil {
		t.Error("Load at the end of DRAM succeeded")
	}
}

func TestUARTLoader(t *testing.T) {
	img := legacyImage(image.OSUBoot, ubootTxt, payload)
	for _, test := range []struct {
		desc    string
		l       *UART
		kernel  bool
		wantErr bool
	}{
		{desc: "ok", l: &UART{R: bytes.NewReader(img), Max: 1 << 16}},
		{desc: "too big", l: &UART{R: bytes.NewReader(img), Max: 100}, wantErr: true},
		{desc: "no port", l: &UART{}, wantErr: true},
		{desc: "falcon", l: &UART{R: bytes.NewReader(img), Max: 1 << 16}, kernel: true, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			_, err := test.l.Load(context.Background(), newParams(), test.kernel)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Load: %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestNetUnavailable(t *testing.T) {
	if _, err := (Net{}).Load(context.Background(), newParams(), false); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Load: %v, want %v", err, ErrUnavailable)
	}
}
