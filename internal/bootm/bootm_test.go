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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
	"github.com/google/go-cmp/cmp"
)

const (
	ramBase   = 0x80000000
	ramSize   = 0x1000000
	imageAddr = 0x80800000
	kernLoad  = 0x80008000
)

type mapEnv map[string]string

func (e mapEnv) Get(n string) (string, bool) {
	v, ok := e[n]
	return v, ok
}

func (e mapEnv) Set(n, v string) error {
	if v == "" {
		delete(e, n)
		return nil
	}
	e[n] = v
	return nil
}

type recordingJumper struct {
	calls []JumpArgs
	err   error
}

func (j *recordingJumper) Jump(_ *mem.Memory, a JumpArgs) error {
	j.calls = append(j.calls, a)
	return j.err
}

type fixture struct {
	mem    *mem.Memory
	env    mapEnv
	jumper *recordingJumper
	out    *bytes.Buffer
	b      *Bootm
}

func newFixture(t *testing.T, arch image.Arch, mod func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		mem:    mem.New(ramBase, ramSize),
		env:    mapEnv{},
		jumper: &recordingJumper{},
		out:    new(bytes.Buffer),
	}
	cfg := Config{Mem: f.mem, Env: f.env, Arch: arch, Jumper: f.jumper, Console: f.out}
	if mod != nil {
		mod(&cfg)
	}
	f.b = New(cfg)
	return f
}

func (f *fixture) put(t *testing.T, addr uint64, b []byte) {
	t.Helper()
	if err := f.mem.Write(addr, b); err != nil {
		t.Fatalf("Write(%#x): %v", addr, err)
	}
}

func legacy(t *testing.T, data []byte, mod func(*image.LegacyHeader)) []byte {
	t.Helper()
	h := image.LegacyHeader{
		Load:  kernLoad,
		Entry: kernLoad,
		OS:    image.OSLinux,
		Arch:  image.ArchARM,
		Type:  image.TypeKernel,
		Comp:  image.CompNone,
	}
	h.SetName("test kernel")
	if mod != nil {
		mod(&h)
	}
	return image.PackLegacy(h, data)
}

func wantState(t *testing.T, err error, state State, target error) {
	t.Helper()
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("error %v is not a *bootm.Error", err)
	}
	if be.State != state {
		t.Errorf("failed in state %v, want %v (%v)", be.State, state, err)
	}
	if target != nil && !errors.Is(err, target) {
		t.Errorf("error %v is not %v", err, target)
	}
}

var kernel = bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4}, 512)

func TestLegacyBoot(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, legacy(t, kernel, nil))

	err := f.b.Run(StatesBoot, []string{"80800000"})
	wantState(t, err, StateOSGo, ErrReturned)

	if len(f.jumper.calls) != 1 {
		t.Fatalf("Jump called %d times, want 1", len(f.jumper.calls))
	}
	if got := f.jumper.calls[0].Entry; got != kernLoad {
		t.Errorf("entry = %#x, want %#x", got, kernLoad)
	}
	got, _ := f.mem.Read(kernLoad, uint64(len(kernel)))
	if !bytes.Equal(got, kernel) {
		t.Error("kernel not copied to its load address")
	}
	for _, want := range []string{"## Booting kernel from Legacy Image at 80800000", "Verifying Checksum ... OK", "Starting kernel"} {
		if !strings.Contains(f.out.String(), want) {
			t.Errorf("console missing %q:\n%s", want, f.out.String())
		}
	}
}

func TestLoadaddrDefault(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.env["loadaddr"] = "0x80800000"
	f.put(t, imageAddr, legacy(t, kernel, nil))
	if err := f.b.Run(StatesBoot&^StateOSGo|StateOSFakeGo, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.env["loadaddr"] = ""
	err := f.b.Run(StatesBoot, nil)
	wantState(t, err, StateFindImages, ErrNoImage)
}

func TestVerificationIsFatal(t *testing.T) {
	for _, test := range []struct {
		desc      string
		corrupt   func(img []byte)
		verifyEnv string
		wantState State
		wantErr   error
	}{
		{
			desc:      "data CRC",
			corrupt:   func(img []byte) { img[image.LegacyHeaderSize+100] ^= 1 },
			wantState: StateVerify,
			wantErr:   image.ErrBadDataCRC,
		}, {
			desc:      "header CRC",
			corrupt:   func(img []byte) { img[20] ^= 1 },
			wantState: StateFindImages,
			wantErr:   image.ErrBadHeaderCRC,
		}, {
			desc:      "data CRC with verify=n",
			corrupt:   func(img []byte) { img[image.LegacyHeaderSize+100] ^= 1 },
			verifyEnv: "n",
			wantState: StateOSGo,
			wantErr:   ErrReturned,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, image.ArchARM, nil)
			if test.verifyEnv != "" {
				f.env["verify"] = test.verifyEnv
			}
			img := legacy(t, kernel, nil)
			test.corrupt(img)
			f.put(t, imageAddr, img)

			err := f.b.Run(StatesBoot, []string{"80800000"})
			wantState(t, err, test.wantState, test.wantErr)
			if test.wantState != StateOSGo {
				if f.b.Headers().State&StateOSPrep != 0 {
					t.Error("OS_PREP ran after a verification failure")
				}
				if len(f.jumper.calls) != 0 {
					t.Error("jumped after a verification failure")
				}
			}
		})
	}
}

func TestUnknownFormat(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, []byte("#!/bin/sh\necho not an image\n"))
	err := f.b.Run(StatesBoot, []string{"80800000"})
	wantState(t, err, StateFindImages, image.ErrUnknownFormat)
}

func TestWrongArch(t *testing.T) {
	f := newFixture(t, image.ArchARM64, nil)
	f.put(t, imageAddr, legacy(t, kernel, nil))
	err := f.b.Run(StatesBoot, []string{"80800000"})
	wantState(t, err, StateVerify, ErrWrongArch)
}

func TestDecompress(t *testing.T) {
	gz, err := compress.Compress(image.CompGzip, kernel)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	gzImg := legacy(t, gz, func(h *image.LegacyHeader) { h.Comp = image.CompGzip })

	for _, test := range []struct {
		desc      string
		img       []byte
		maxLen    uint64
		load      uint64
		wantErr   error
		wantState State
	}{
		{desc: "gzip", img: gzImg},
		{desc: "too large", img: gzImg, maxLen: 1024, wantErr: ErrTooLarge, wantState: StateDecompress},
		{
			desc: "overlap",
			img: legacy(t, gz, func(h *image.LegacyHeader) {
				h.Comp = image.CompGzip
				h.Load, h.Entry = imageAddr+0x10, imageAddr+0x10
			}),
			wantErr:   ErrOverlap,
			wantState: StateDecompress,
		},
		{
			desc: "xip",
			img: legacy(t, kernel, func(h *image.LegacyHeader) {
				h.Load, h.Entry = imageAddr+image.LegacyHeaderSize, imageAddr+image.LegacyHeaderSize
			}),
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, image.ArchARM, func(c *Config) { c.MaxLen = test.maxLen })
			f.put(t, imageAddr, test.img)
			err := f.b.Run(StateStart|StateFindImages|StateVerify|StateDecompress, []string{"80800000"})
			if test.wantErr != nil {
				wantState(t, err, test.wantState, test.wantErr)
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			h := f.b.Headers()
			got, _ := f.mem.Read(h.Load, uint64(len(kernel)))
			if !bytes.Equal(got, kernel) {
				t.Error("kernel at load address does not match")
			}
			if h.LoadEnd-h.Load != uint64(len(kernel)) {
				t.Errorf("loaded %d bytes, want %d", h.LoadEnd-h.Load, len(kernel))
			}
		})
	}
}

func TestMultiImage(t *testing.T) {
	rd := []byte("initramfs contents, not a multiple of four")
	tree := fdt.New()
	fdt.SetU32(tree.RootNode, "#address-cells", 1)
	fdt.SetU32(tree.RootNode, "#size-cells", 1)
	dtb, err := fdt.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	payload := image.PackMulti([][]byte{kernel, rd, dtb})
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, legacy(t, payload, func(h *image.LegacyHeader) { h.Type = image.TypeMulti }))

	if err := f.b.Run(StatesBoot&^StateOSGo|StateOSFakeGo, []string{"80800000"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h := f.b.Headers()
	got, _ := f.mem.Read(h.InitrdStart, uint64(len(rd)))
	if !bytes.Equal(got, rd) {
		t.Errorf("ramdisk at %#x = %q, want %q", h.InitrdStart, got, rd)
	}
	if h.FDTAddr == 0 {
		t.Fatal("device tree not placed")
	}
	blob, _ := f.mem.Tail(h.FDTAddr)
	placed, err := fdt.Read(blob)
	if err != nil {
		t.Fatalf("placed tree: %v", err)
	}
	chosen, _ := fdt.Child(placed.RootNode, "chosen")
	if start, err := fdt.Cells(chosen, "linux,initrd-start"); err != nil || start != h.InitrdStart {
		t.Errorf("linux,initrd-start = %#x, %v; want %#x", start, err, h.InitrdStart)
	}
}

func TestMultiImageEmptyTable(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, legacy(t, image.PackMulti(nil), func(h *image.LegacyHeader) { h.Type = image.TypeMulti }))

	err := f.b.Run(StatesBoot, []string{"80800000"})
	wantState(t, err, StateFindImages, nil)
	if len(f.jumper.calls) != 0 {
		t.Errorf("Jump called %d times", len(f.jumper.calls))
	}
}

func fitKernel(t *testing.T, signer *crypto.PrivateKey) []byte {
	t.Helper()
	tree := fdt.New()
	fdt.SetU32(tree.RootNode, "#address-cells", 1)
	fdt.SetU32(tree.RootNode, "#size-cells", 1)
	dtb, err := fdt.Marshal(tree)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b := &fit.Builder{
		Description: "bootm test",
		Images: []fit.ImageSpec{
			{
				Name: "kernel", Type: image.TypeKernel, OS: image.OSLinux, Arch: image.ArchARM,
				Load: fit.Addr(kernLoad), Entry: fit.Addr(kernLoad), Data: kernel, Hashes: []string{"sha256"},
			},
			{Name: "fdt", Type: image.TypeFlatDT, Arch: image.ArchARM, Data: dtb, Hashes: []string{"crc32"}},
		},
		Configs: []fit.ConfigSpec{{Name: "conf-1", Kernel: "kernel", FDT: []string{"fdt"}}},
		Default: "conf-1",
	}
	if signer != nil {
		b.Configs[0].Signers = []fit.Signer{{Key: signer, Algo: "sha256,ecdsa256"}}
	}
	blob, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return blob
}

func TestFITBoot(t *testing.T) {
	f := newFixture(t, image.ArchARM, func(c *Config) { c.MachineID = 0xe90 })
	f.env["console"] = "ttymxc1,115200"
	f.env["bootargs"] = "console=${console} root=/dev/mmcblk0p2"
	f.put(t, imageAddr, fitKernel(t, nil))

	err := f.b.Run(StatesBoot, []string{"80800000#conf-1"})
	wantState(t, err, StateOSGo, ErrReturned)
	if len(f.jumper.calls) != 1 {
		t.Fatalf("Jump called %d times", len(f.jumper.calls))
	}
	args := f.jumper.calls[0]
	h := f.b.Headers()
	if diff := cmp.Diff([4]uint64{0, 0xe90, h.FDTAddr, 0}, args.Regs); diff != "" {
		t.Errorf("registers diff (-want +got):\n%s", diff)
	}
	if want := "console=ttymxc1,115200 root=/dev/mmcblk0p2"; args.Cmdline != want {
		t.Errorf("cmdline = %q, want %q", args.Cmdline, want)
	}
	blob, _ := f.mem.Tail(h.FDTAddr)
	placed, err := fdt.Read(blob)
	if err != nil {
		t.Fatalf("placed tree: %v", err)
	}
	chosen, _ := fdt.Child(placed.RootNode, "chosen")
	if got, _ := fdt.String(chosen, "bootargs"); got != args.Cmdline {
		t.Errorf("/chosen/bootargs = %q, want %q", got, args.Cmdline)
	}
	if !strings.Contains(f.out.String(), "Using 'conf-1' configuration") {
		t.Errorf("console missing configuration line:\n%s", f.out.String())
	}
}

func TestFITSignaturePolicy(t *testing.T) {
	a, _ := crypto.ParseAlgo("sha256,ecdsa256")
	key, err := crypto.GenerateKey("dev", a)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	for _, test := range []struct {
		desc     string
		signer   *crypto.PrivateKey
		required string
		wantErr  bool
	}{
		{desc: "unsigned, key optional"},
		{desc: "unsigned, key required", required: crypto.RequiredConf, wantErr: true},
		{desc: "signed, key required", signer: key, required: crypto.RequiredConf},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, image.ArchARM, func(c *Config) {
				c.Keyring = crypto.NewKeyring(key.Public(test.required))
			})
			f.put(t, imageAddr, fitKernel(t, test.signer))
			err := f.b.Run(StatesBoot&^StateOSGo|StateOSFakeGo, []string{"80800000"})
			if !test.wantErr {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				return
			}
			wantState(t, err, StateVerify, ErrVerify)
			if !errors.Is(err, fit.ErrUnsigned) {
				t.Errorf("error %v is not fit.ErrUnsigned", err)
			}
		})
	}
}

func TestSilentLinux(t *testing.T) {
	for _, test := range []struct {
		bootargs, want string
	}{
		{bootargs: "console=ttyS0 quiet", want: "console= quiet"},
		{bootargs: "root=/dev/sda", want: "root=/dev/sda console="},
	} {
		f := newFixture(t, image.ArchARM, nil)
		f.env["bootargs"] = test.bootargs
		f.env["silent_linux"] = "yes"
		if got := f.b.ProcessCmdline(); got != test.want {
			t.Errorf("ProcessCmdline(%q) = %q, want %q", test.bootargs, got, test.want)
		}
	}
}

func TestSubcommandOrder(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, legacy(t, kernel, nil))
	for _, step := range []struct {
		sub     string
		args    []string
		wantErr error
	}{
		{sub: "start", args: []string{"80800000"}},
		{sub: "loados"},
		{sub: "loados", wantErr: ErrOutOfOrder},
		{sub: "prep"},
		{sub: "fake"},
		{sub: "go", wantErr: ErrReturned},
	} {
		err := f.b.Run(Subcommands[step.sub], step.args)
		if step.wantErr == nil && err != nil {
			t.Fatalf("bootm %s: %v", step.sub, err)
		}
		if step.wantErr != nil && !errors.Is(err, step.wantErr) {
			t.Fatalf("bootm %s: %v, want %v", step.sub, err, step.wantErr)
		}
	}
}

func TestSubcommandsStopAfterFailedVerify(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	img := legacy(t, kernel, func(h *image.LegacyHeader) { h.OS = image.OSVxWorks })
	img[len(img)-1] ^= 0xff
	f.put(t, imageAddr, img)
	f.env["bootaddr"] = "0x80000100"
	f.env["bootargs"] = "bootline"

	for _, step := range []struct {
		sub       string
		args      []string
		wantState State
	}{
		{sub: "start", args: []string{"80800000"}, wantState: StateVerify},
		{sub: "loados", wantState: StateDecompress},
		{sub: "prep", wantState: StateOSPrep},
		{sub: "go", wantState: StateOSGo},
	} {
		err := f.b.Run(Subcommands[step.sub], step.args)
		wantState(t, err, step.wantState, ErrVerify)
	}
	if got := f.b.Headers().State; got&(StateDecompress|StateOSPrep) != 0 {
		t.Errorf("states run = %v, want nothing past VERIFY", got)
	}
	got, err := f.mem.Read(kernLoad, uint64(len(kernel)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, len(got))) {
		t.Error("unverified payload was copied to its load address")
	}
	if len(f.jumper.calls) != 0 {
		t.Errorf("jumped %d times, want 0", len(f.jumper.calls))
	}
}

func TestUnsupportedOS(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, legacy(t, kernel, func(h *image.LegacyHeader) { h.OS = image.OSOpenSBI }))
	err := f.b.Run(StatesBoot, []string{"80800000"})
	wantState(t, err, StateOSPrep, ErrUnsupportedOS)
}

func TestStandalone(t *testing.T) {
	for _, autostart := range []string{"", "yes"} {
		t.Run("autostart="+autostart, func(t *testing.T) {
			f := newFixture(t, image.ArchARM, nil)
			f.env["autostart"] = autostart
			f.put(t, imageAddr, legacy(t, kernel, func(h *image.LegacyHeader) {
				h.Type = image.TypeStandalone
				h.OS = image.OSUBoot
			}))
			if err := f.b.Run(StatesBoot, []string{"80800000"}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			wantJumps := 0
			if autostart == "yes" {
				wantJumps = 1
			}
			if len(f.jumper.calls) != wantJumps {
				t.Errorf("Jump called %d times, want %d", len(f.jumper.calls), wantJumps)
			}
			if autostart == "" && f.env["filesize"] != "1000" {
				t.Errorf("filesize = %q, want 1000", f.env["filesize"])
			}
		})
	}
}

func TestVxWorksBootline(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.env["bootargs"] = "gei(0,0)host:vxWorks h=192.168.0.1"
	f.env["bootaddr"] = "80700000"
	f.put(t, imageAddr, legacy(t, kernel, func(h *image.LegacyHeader) { h.OS = image.OSVxWorks }))
	if err := f.b.Run(StatesBoot&^StateOSGo|StateOSFakeGo, []string{"80800000"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := f.mem.Read(0x80700000, uint64(len(f.env["bootargs"])+1))
	if want := f.env["bootargs"] + "\x00"; string(got) != want {
		t.Errorf("bootline = %q, want %q", got, want)
	}
}

// tinyELF builds a 32-bit ARM executable with one loadable segment.
func tinyELF(paddr uint32, payload []byte, bss uint32) []byte {
	var b bytes.Buffer
	hdr := struct {
		Ident                               [16]byte
		Type, Machine                       uint16
		Version, Entry, Phoff, Shoff, Flags uint32
		Ehsize, Phentsize, Phnum, Shentsize uint16
		Shnum, Shstrndx                     uint16
	}{
		Ident:   [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1},
		Type:    2,
		Machine: 40,
		Version: 1, Entry: paddr, Phoff: 52,
		Ehsize: 52, Phentsize: 32, Phnum: 1, Shentsize: 40,
	}
	prog := struct {
		Type, Off, Vaddr, Paddr, Filesz, Memsz, Flags, Align uint32
	}{1, 84, paddr, paddr, uint32(len(payload)), uint32(len(payload)) + bss, 5, 4}
	binary.Write(&b, binary.LittleEndian, hdr)
	binary.Write(&b, binary.LittleEndian, prog)
	b.Write(payload)
	return b.Bytes()
}

func TestELF(t *testing.T) {
	const segAddr = 0x80100000
	payload := []byte("unikernel text and data")
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, segAddr+uint64(len(payload)), bytes.Repeat([]byte{0xff}, 16))
	f.put(t, imageAddr, legacy(t, tinyELF(segAddr, payload, 16), func(h *image.LegacyHeader) {
		h.OS = image.OSELF
		h.Load, h.Entry = 0x80400000, 0x80400000
	}))
	if err := f.b.Run(StatesBoot&^StateOSGo|StateOSFakeGo, []string{"80800000"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.b.Headers().Entry; got != segAddr {
		t.Errorf("entry = %#x, want %#x", got, segAddr)
	}
	got, _ := f.mem.Read(segAddr, uint64(len(payload))+16)
	want := append(append([]byte(nil), payload...), make([]byte, 16)...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("segment diff (-want +got):\n%s", diff)
	}
}

func TestELFMalformedSegment(t *testing.T) {
	const segAddr = 0x80100000
	payload := []byte("unikernel text and data")
	for _, test := range []struct {
		desc  string
		paddr uint32
		memsz uint32
	}{
		{desc: "file size exceeds memory size", paddr: segAddr, memsz: 4},
		{desc: "memory size larger than RAM", paddr: segAddr, memsz: 0xfffffff0},
		{desc: "segment outside RAM", paddr: 0x10000000, memsz: uint32(len(payload))},
	} {
		t.Run(test.desc, func(t *testing.T) {
			elfImg := tinyELF(segAddr, payload, 0)
			// Program header fields: p_paddr at 64, p_memsz at 72.
			binary.LittleEndian.PutUint32(elfImg[64:], test.paddr)
			binary.LittleEndian.PutUint32(elfImg[72:], test.memsz)
			f := newFixture(t, image.ArchARM, nil)
			f.put(t, imageAddr, legacy(t, elfImg, func(h *image.LegacyHeader) {
				h.OS = image.OSELF
				h.Load, h.Entry = 0x80400000, 0x80400000
			}))
			err := f.b.Run(StatesBoot, []string{"80800000"})
			wantState(t, err, StateOSPrep, nil)
			if len(f.jumper.calls) != 0 {
				t.Errorf("Jump called %d times", len(f.jumper.calls))
			}
		})
	}
}

func zImage(size int) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[zImageMagicOff:], zImageMagic)
	binary.LittleEndian.PutUint32(b[0x28:], 0)
	binary.LittleEndian.PutUint32(b[0x2c:], uint32(size))
	return b
}

func TestBootz(t *testing.T) {
	f := newFixture(t, image.ArchARM, nil)
	f.put(t, imageAddr, zImage(0x2000))
	if err := f.b.Bootz([]string{"80800000"}, true); err != nil {
		t.Fatalf("Bootz: %v", err)
	}
	h := f.b.Headers()
	if h.Entry != imageAddr || h.LoadEnd != imageAddr+0x2000 {
		t.Errorf("entry %#x end %#x", h.Entry, h.LoadEnd)
	}

	f.put(t, imageAddr, make([]byte, 0x100))
	err := f.b.Bootz([]string{"80800000"}, true)
	wantState(t, err, StateFindImages, ErrBadKernel)
}

func arm64Image(flags uint64, body []byte) []byte {
	b := make([]byte, arm64HdrSize+len(body))
	binary.LittleEndian.PutUint64(b[0x08:], 0x80000)
	binary.LittleEndian.PutUint64(b[0x10:], 0x100000)
	binary.LittleEndian.PutUint64(b[0x18:], flags)
	binary.LittleEndian.PutUint32(b[arm64MagicOff:], arm64Magic)
	copy(b[arm64HdrSize:], body)
	return b
}

func TestBooti(t *testing.T) {
	img := arm64Image(0, []byte("arm64 kernel body"))
	gz, err := compress.Compress(image.CompGzip, img)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	for _, test := range []struct {
		desc      string
		addr      uint64
		blob      []byte
		wantEntry uint64
	}{
		{desc: "anywhere, already placed", addr: 0x80280000, blob: arm64Image(arm64AnyPlace, []byte("x")), wantEntry: 0x80280000},
		{desc: "relocated to base of RAM", addr: 0x80800000, blob: img, wantEntry: 0x80080000},
		{desc: "gzip", addr: 0x80800000, blob: gz, wantEntry: 0x80080000},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, image.ArchARM64, nil)
			f.put(t, test.addr, test.blob)
			if err := f.b.Booti([]string{fmt.Sprintf("%x", test.addr)}, true); err != nil {
				t.Fatalf("Booti: %v", err)
			}
			if got := f.b.Headers().Entry; got != test.wantEntry {
				t.Errorf("entry = %#x, want %#x", got, test.wantEntry)
			}
			magic, _ := f.mem.Read(test.wantEntry+arm64MagicOff, 4)
			if binary.LittleEndian.Uint32(magic) != arm64Magic {
				t.Error("image not found at entry point")
			}
		})
	}
}

func TestIminfo(t *testing.T) {
	m := mem.New(ramBase, ramSize)
	img := legacy(t, kernel, nil)
	if err := m.Write(imageAddr, img); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := Iminfo(&out, m, imageAddr, nil); err != nil {
		t.Fatalf("Iminfo: %v", err)
	}
	if !strings.Contains(out.String(), "Image Name:   test kernel") {
		t.Errorf("output missing image name:\n%s", out.String())
	}
	img[image.LegacyHeaderSize] ^= 1
	m.Write(imageAddr, img)
	if err := Iminfo(&out, m, imageAddr, nil); !errors.Is(err, ErrVerify) {
		t.Errorf("Iminfo on corrupt image: %v, want ErrVerify", err)
	}
	m.Write(imageAddr+0x100000, fitKernel(t, nil))
	if err := Iminfo(&out, m, imageAddr+0x100000, nil); err != nil {
		t.Errorf("Iminfo(FIT): %v", err)
	}
}

func TestStateString(t *testing.T) {
	if got, want := (StateStart | StateVerify).String(), "START|VERIFY"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
