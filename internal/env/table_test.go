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

package env

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustTable(t *testing.T, vars map[string]string) *Table {
	t.Helper()
	tbl := NewTable()
	for k, v := range vars {
		if err := tbl.Set(k, v); err != nil {
			t.Fatalf("Set(%q, %q): %v", k, v, err)
		}
	}
	return tbl
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, test := range []struct {
		name string
		vars map[string]string
	}{
		{name: "empty", vars: map[string]string{}},
		{name: "simple", vars: map[string]string{"bootdelay": "2", "baudrate": "115200"}},
		{name: "awkward values", vars: map[string]string{
			"bootcmd":  "run a; run b",
			"multi":    "line1\nline2",
			"slash":    `c:\path\`,
			"equals":   "a=b=c",
			"bootargs": "console=ttyS0,115200 root=/dev/mmcblk0p2",
		}},
	} {
		for _, sep := range []byte{0, '\n'} {
			t.Run(test.name, func(t *testing.T) {
				out := NewTable()
				if w := out.Import(mustTable(t, test.vars).Export(sep), sep, ImportOpts{}); len(w) != 0 {
					t.Fatalf("Import warnings: %v", w)
				}
				if diff := cmp.Diff(test.vars, out.Map()); diff != "" {
					t.Errorf("sep %q: round trip diff (-want +got):\n%s", sep, diff)
				}
			})
		}
	}
}

func TestExportFormat(t *testing.T) {
	tbl := mustTable(t, map[string]string{"b": "2", "a": "1"})
	if got, want := string(tbl.Export(0)), "a=1\x00b=2\x00\x00"; got != want {
		t.Errorf("Export(0) = %q, want %q", got, want)
	}
	if got, want := string(tbl.Export('\n')), "a=1\nb=2\n"; got != want {
		t.Errorf("Export('\\n') = %q, want %q", got, want)
	}
	if got, want := string(tbl.Export(0, "b", "missing")), "b=2\x00\x00"; got != want {
		t.Errorf("Export(0, b) = %q, want %q", got, want)
	}
	if got, want := string(NewTable().Export(0)), "\x00\x00"; got != want {
		t.Errorf("empty Export(0) = %q, want %q", got, want)
	}
}

func TestImportMalformed(t *testing.T) {
	tbl := NewTable()
	data := []byte("good=1\x00noequals\x00=novalue\x00other=2\x00\x00ignored=3\x00")
	w := tbl.Import(data, 0, ImportOpts{})
	if len(w) != 2 {
		t.Errorf("got %d warnings (%v), want 2", len(w), w)
	}
	want := map[string]string{"good": "1", "other": "2"}
	if diff := cmp.Diff(want, tbl.Map()); diff != "" {
		t.Errorf("table diff (-want +got):\n%s", diff)
	}
}

func TestImportText(t *testing.T) {
	tbl := mustTable(t, map[string]string{"old": "x"})
	data := []byte("# comment\nbootcmd=run a\r\n\nlong=one\\\ntwo\nkeep=1\n")
	if w := tbl.Import(data, '\n', ImportOpts{Only: []string{"bootcmd", "long"}}); len(w) != 0 {
		t.Fatalf("warnings: %v", w)
	}
	want := map[string]string{"old": "x", "bootcmd": "run a", "long": "one\ntwo"}
	if diff := cmp.Diff(want, tbl.Map()); diff != "" {
		t.Errorf("table diff (-want +got):\n%s", diff)
	}
	tbl.Import([]byte("a=1\n"), '\n', ImportOpts{Replace: true})
	if diff := cmp.Diff(map[string]string{"a": "1"}, tbl.Map()); diff != "" {
		t.Errorf("after replace (-want +got):\n%s", diff)
	}
}

func TestSetDelete(t *testing.T) {
	tbl := mustTable(t, map[string]string{"a": "1"})
	if err := tbl.Set("a", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := tbl.Get("a"); ok {
		t.Error("a still present after delete")
	}
	if err := tbl.Delete("never"); err != nil {
		t.Errorf("deleting absent variable: %v", err)
	}
	for _, name := range []string{"", "a=b"} {
		if err := tbl.Set(name, "v"); err == nil {
			t.Errorf("Set(%q) succeeded", name)
		}
	}
}

func TestFlags(t *testing.T) {
	for _, test := range []struct {
		name     string
		flags    string
		defaults map[string]string
		initial  map[string]string
		set      string
		value    string
		wantErr  bool
	}{
		{name: "decimal ok", flags: "n:d", set: "n", value: "42"},
		{name: "decimal bad", flags: "n:d", set: "n", value: "0x2a", wantErr: true},
		{name: "hex ok", flags: "h:x", set: "h", value: "0x80008000"},
		{name: "hex bad", flags: "h:x", set: "h", value: "zz", wantErr: true},
		{name: "bool ok", flags: "v:b", set: "v", value: "no"},
		{name: "bool bad", flags: "v:b", set: "v", value: "maybe", wantErr: true},
		{name: "ip ok", flags: "ip:i", set: "ip", value: "10.0.0.1"},
		{name: "ip bad", flags: "ip:i", set: "ip", value: "10.0.0", wantErr: true},
		{name: "mac ok", set: "ethaddr", value: "00:11:22:33:44:55"},
		{name: "mac bad", set: "ethaddr", value: "00-11-22-33-44-55", wantErr: true},
		{name: "write once create", set: "serial#", value: "abc"},
		{name: "write once overwrite", initial: map[string]string{"serial#": "abc"}, set: "serial#", value: "def", wantErr: true},
		{name: "write once delete", initial: map[string]string{"serial#": "abc"}, set: "serial#", wantErr: true},
		{name: "read only", flags: "ro:sr", initial: map[string]string{"ro": "1"}, set: "ro", value: "2", wantErr: true},
		{name: "change default from default", flags: "cd:sc", defaults: map[string]string{"cd": "d"}, initial: map[string]string{"cd": "d"}, set: "cd", value: "x"},
		{name: "change default twice", flags: "cd:sc", defaults: map[string]string{"cd": "d"}, initial: map[string]string{"cd": "x"}, set: "cd", value: "y", wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			tbl := NewTable()
			tbl.SetDefaults(test.defaults)
			if err := tbl.ForceSet(FlagsVar, test.flags); err != nil {
				t.Fatalf("set flags: %v", err)
			}
			for k, v := range test.initial {
				if err := tbl.ForceSet(k, v); err != nil {
					t.Fatalf("ForceSet(%q): %v", k, err)
				}
			}
			err := tbl.Set(test.set, test.value)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Set(%q, %q): %v, wantErr %t", test.set, test.value, err, test.wantErr)
			}
		})
	}
}

func TestParseFlagsMalformed(t *testing.T) {
	for _, list := range []string{"a", "a:", "a:q", "a:sz", ":s", "a:sab"} {
		if _, err := ParseFlags(list); err == nil {
			t.Errorf("ParseFlags(%q) succeeded", list)
		}
	}
}

func TestCallbacks(t *testing.T) {
	tbl := NewTable()
	var seen []string
	veto := errors.New("veto")
	tbl.RegisterCallback("loadaddr", func(name, value string, op Op) error {
		seen = append(seen, op.String()+":"+value)
		if value == "bad" {
			return veto
		}
		return nil
	}, "loadaddr:loadaddr")

	for _, v := range []string{"0x1000", "0x2000", "bad", ""} {
		err := tbl.Set("loadaddr", v)
		if wantErr := v == "bad"; (err != nil) != wantErr {
			t.Errorf("Set(loadaddr, %q): %v", v, err)
		}
	}
	want := []string{"create:0x1000", "overwrite:0x2000", "overwrite:bad", "delete:"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("callback calls diff (-want +got):\n%s", diff)
	}

	// Bindings can also come from the environment itself.
	if err := tbl.Set(CallbacksVar, "myaddr:loadaddr"); err != nil {
		t.Fatalf("Set(.callbacks): %v", err)
	}
	if err := tbl.Set("myaddr", "bad"); !errors.Is(err, veto) {
		t.Errorf("Set(myaddr, bad): %v, want veto", err)
	}
	if err := tbl.ForceSet("myaddr", "bad"); err != nil {
		t.Errorf("ForceSet ignored veto? %v", err)
	}
}
