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

package proper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/bootcore/internal/board"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/cli"
	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/env/media"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/mem"
	"github.com/google/bootcore/internal/storage/testonly"
	"github.com/google/go-cmp/cmp"
)

const envSize = 0x400

type fakeConsole struct {
	out bytes.Buffer
	in  []byte
}

func (c *fakeConsole) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *fakeConsole) Tstc() bool { return len(c.in) > 0 }

func (c *fakeConsole) Getc() (byte, error) {
	if len(c.in) == 0 {
		return 0, io.EOF
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, nil
}

type nopJumper struct{}

func (nopJumper) Jump(*mem.Memory, bootm.JumpArgs) error { return nil }

type fakeBoard struct {
	con     *fakeConsole
	ramSize uint64
	hung    []int
	resets  int
}

func (b *fakeBoard) Name() string { return "fake" }

func (b *fakeBoard) InitF(gd *board.GlobalData) error {
	gd.Console = b.con
	return nil
}

func (b *fakeBoard) DRAMInit(gd *board.GlobalData) error {
	gd.RAMBase, gd.RAMSize = 0x80000000, b.ramSize
	return nil
}

func (b *fakeBoard) InitR(*board.GlobalData) error { return nil }

func (b *fakeBoard) BootDevice(*board.GlobalData) (board.BootDevice, error) {
	return board.BootDeviceMMC1, nil
}

func (b *fakeBoard) Jumper() bootm.Jumper { return nopJumper{} }

func (b *fakeBoard) Watchdog() {}

func (b *fakeBoard) Reset() { b.resets++ }

func (b *fakeBoard) Hang(_ string, code int) { b.hung = append(b.hung, code) }

type fixture struct {
	b   *fakeBoard
	con *fakeConsole
	dev testonly.MemDev
}

func newFixture(t *testing.T, input string) *fixture {
	t.Helper()
	con := &fakeConsole{in: []byte(input)}
	return &fixture{
		b:   &fakeBoard{con: con, ramSize: 0x100000},
		con: con,
		dev: testonly.NewMemDev(t, 8),
	}
}

func (f *fixture) run(t *testing.T, defaults map[string]string) (*Proper, error) {
	t.Helper()
	p := New(f.b, &board.GlobalData{}, Options{
		Env: env.Options{
			Layout:   env.Layout{Size: envSize},
			Defaults: defaults,
			Media:    []env.Medium{&media.Block{Dev: f.dev, Size: envSize, Offsets: []int64{0}}},
		},
		Console: f.con,
		Version: "2025.01-test",
		Arch:    image.ArchARM,
		Tick:    time.Microsecond,
	})
	return p, p.Run(context.Background())
}

func get(p *Proper, name string) string {
	v, _ := p.Env().Get(name)
	return v
}

func TestAutoboot(t *testing.T) {
	for _, test := range []struct {
		desc       string
		delay      string
		input      string
		wantBooted bool
		wantOut    []string
	}{
		{desc: "no delay", delay: "0", wantBooted: true, wantOut: []string{"Hit any key to stop autoboot:  0 \n"}},
		{desc: "countdown", delay: "2", wantBooted: true, wantOut: []string{"autoboot:  2 \b\b\b 1 \b\b\b 0 \n"}},
		{desc: "key before countdown", delay: "2", input: "x", wantOut: []string{"autoboot:  2 \n"}},
		{desc: "disabled", delay: "-1", input: "x"},
		{desc: "no abort check", delay: "-2", input: "x", wantBooted: true},
		{desc: "malformed delay", delay: "soon", wantBooted: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, test.input)
			p, err := f.run(t, map[string]string{"bootdelay": test.delay, "bootcmd": "setenv booted yes"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := get(p, "booted") == "yes"; got != test.wantBooted {
				t.Errorf("booted = %t, want %t", got, test.wantBooted)
			}
			out := f.con.out.String()
			for _, want := range append(test.wantOut, "U-Boot 2025.01-test", "Board: fake", Prompt) {
				if !strings.Contains(out, want) {
					t.Errorf("console misses %q:\n%q", want, out)
				}
			}
		})
	}
}

func TestPrompt(t *testing.T) {
	f := newFixture(t, "setenv a bc\b\bx\nsetenv b 'two words'\r\x03\nfrobnicate\n")
	p, err := f.run(t, map[string]string{"bootdelay": "-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := get(p, "a"); got != "x" {
		t.Errorf("a = %q, want %q", got, "x")
	}
	if got := get(p, "b"); got != "two words" {
		t.Errorf("b = %q", got)
	}
	out := f.con.out.String()
	for _, want := range []string{"=> setenv a bc\b \b\b \bx\n", "<INTERRUPT>", "Unknown command 'frobnicate'"} {
		if !strings.Contains(out, want) {
			t.Errorf("console misses %q:\n%q", want, out)
		}
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, "reset\nsetenv after 1\n")
	p, err := f.run(t, map[string]string{"bootdelay": "-1"})
	if !errors.Is(err, cli.ErrReset) {
		t.Fatalf("Run: %v, want %v", err, cli.ErrReset)
	}
	if f.b.resets != 1 {
		t.Errorf("resets = %d", f.b.resets)
	}
	if _, ok := p.Env().Get("after"); ok {
		t.Error("command after reset ran")
	}
}

func TestBootlimit(t *testing.T) {
	for _, test := range []struct {
		desc      string
		bootcount string
		bootlimit string
		want      string
		wantWarn  bool
	}{
		{desc: "under limit", bootcount: "1", bootlimit: "3", want: "main"},
		{desc: "at limit", bootcount: "2", bootlimit: "3", want: "main"},
		{desc: "over limit", bootcount: "3", bootlimit: "3", want: "alt", wantWarn: true},
		{desc: "no limit", bootcount: "99", want: "main"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, "")
			defaults := map[string]string{
				"bootdelay":  "0",
				"bootcmd":    "setenv which main",
				"altbootcmd": "setenv which alt",
				"bootcount":  test.bootcount,
			}
			if test.bootlimit != "" {
				defaults["bootlimit"] = test.bootlimit
			}
			p, err := f.run(t, defaults)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := get(p, "which"); got != test.want {
				t.Errorf("which = %q, want %q", got, test.want)
			}
			warned := strings.Contains(f.con.out.String(), "Warning: Bootlimit (3) exceeded. Using altbootcmd.")
			if warned != test.wantWarn {
				t.Errorf("warning printed = %t, want %t", warned, test.wantWarn)
			}
		})
	}
}

func TestBootcountPersists(t *testing.T) {
	for _, test := range []struct {
		desc    string
		upgrade string
		want    []string
	}{
		{desc: "upgrade available", upgrade: "1", want: []string{"1", "2", "3"}},
		{desc: "no upgrade", upgrade: "0", want: []string{"1", "1", "1"}},
	} {
		t.Run(test.desc, func(t *testing.T) {
			f := newFixture(t, "")
			var got []string
			for i := 0; i < 3; i++ {
				p, err := f.run(t, map[string]string{"bootdelay": "-1", "upgrade_available": test.upgrade})
				if err != nil {
					t.Fatalf("Run %d: %v", i, err)
				}
				got = append(got, get(p, "bootcount"))
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("bootcount diff (-want +got):\n%s", diff)
			}
		})
	}
}

type memCounter struct{ n uint32 }

func (c *memCounter) Load() (uint32, error) { return c.n, nil }

func (c *memCounter) Store(_ context.Context, n uint32) error {
	c.n = n
	return nil
}

func TestCustomCounter(t *testing.T) {
	f := newFixture(t, "")
	c := &memCounter{n: 41}
	gd := &board.GlobalData{}
	p := New(f.b, gd, Options{
		Env: env.Options{
			Layout:   env.Layout{Size: envSize},
			Defaults: map[string]string{"bootdelay": "-1"},
			Media:    []env.Medium{media.Nowhere{}},
		},
		Console: f.con,
		Counter: c,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.n != 42 || gd.BootCount != 42 || get(p, "bootcount") != "42" {
		t.Errorf("counter %d, gd %d, env %q; want 42", c.n, gd.BootCount, get(p, "bootcount"))
	}
}

func TestNoDRAMHangs(t *testing.T) {
	f := newFixture(t, "")
	f.b.ramSize = 0
	_, err := f.run(t, nil)
	if !errors.Is(err, board.ErrHung) {
		t.Fatalf("Run: %v, want %v", err, board.ErrHung)
	}
	if diff := cmp.Diff([]int{1}, f.b.hung); diff != "" {
		t.Errorf("hang codes diff (-want +got):\n%s", diff)
	}
}

func TestLoadAddr(t *testing.T) {
	f := newFixture(t, "")
	gd := &board.GlobalData{}
	p := New(f.b, gd, Options{
		Env: env.Options{
			Layout:   env.Layout{Size: envSize},
			Defaults: map[string]string{"bootdelay": "-1", "loadaddr": "0x80080000"},
			Media:    []env.Medium{media.Nowhere{}},
		},
		Console: f.con,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gd.LoadAddr != 0x80080000 {
		t.Errorf("LoadAddr = %#x", gd.LoadAddr)
	}
	if gd.Flags&board.FlagEnvReady == 0 {
		t.Error("FlagEnvReady not set")
	}
}
