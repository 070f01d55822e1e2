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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
)

func TestLegacy(t *testing.T) {
	for _, test := range []struct {
		desc     string
		opts     MkimageOpts
		wantErr  bool
		wantList []string
	}{
		{
			desc: "kernel",
			opts: MkimageOpts{Arch: "arm", OS: "linux", Type: "kernel", Comp: "none", Load: 0x80008000, Entry: 0x80008000, Name: "test kernel"},
			wantList: []string{
				"Legacy image found",
				"Image Name:   test kernel",
				"Load Address: 80008000",
				"Verifying Checksum ... OK",
			},
		}, {
			desc: "gzip compressed",
			opts: MkimageOpts{Arch: "arm", OS: "linux", Type: "kernel", Comp: "gzip", CompressData: true, Load: 0x80008000, Entry: 0x80008000},
			wantList: []string{
				"(gzip compressed)",
				"Verifying Checksum ... OK",
			},
		}, {
			desc:    "bad arch",
			opts:    MkimageOpts{Arch: "vax", OS: "linux", Type: "kernel", Comp: "none"},
			wantErr: true,
		}, {
			desc:    "64-bit load",
			opts:    MkimageOpts{Arch: "arm", OS: "linux", Type: "kernel", Comp: "none", Load: 1 << 40},
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			dir := t.TempDir()
			payload := filepath.Join(dir, "payload")
			if err := os.WriteFile(payload, []byte("kernel bytes"), 0o644); err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			opts := test.opts
			opts.Data = payload
			opts.Image = filepath.Join(dir, "uImage")
			opts.Out = &out
			err := Main(opts)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Main: %v, wantErr %t", err, test.wantErr)
			}
			if err != nil {
				return
			}
			for _, w := range test.wantList {
				if !strings.Contains(out.String(), w) {
					t.Errorf("listing missing %q:\n%s", w, out.String())
				}
			}
			b, err := os.ReadFile(opts.Image)
			if err != nil {
				t.Fatal(err)
			}
			h, err := image.ParseLegacy(b)
			if err != nil {
				t.Fatalf("ParseLegacy: %v", err)
			}
			data, err := h.Data(b)
			if err != nil {
				t.Fatal(err)
			}
			if data, err = compress.Decompress(h.Comp, data, 0); err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if got, want := string(data), "kernel bytes"; got != want {
				t.Errorf("payload = %q, want %q", got, want)
			}
		})
	}
}

const itsYAML = `
Description: test FIT
Timestamp: 1700000000
Default: conf-1
Images:
  - Name: kernel-1
    Type: kernel
    OS: linux
    Arch: arm
    Load: 0x80008000
    Entry: 0x80008000
    Data: zImage
    Hashes: [sha256]
  - Name: fdt-1
    Type: flat_dt
    Arch: arm
    Data: board.dtb
    Hashes: [sha1]
Configs:
  - Name: conf-1
    Kernel: kernel-1
    FDT: [fdt-1]
    Signatures:
      - Key: dev
        Algo: sha256,ecdsa256
        SignImages: [kernel, fdt]
`

func TestSignedFIT(t *testing.T) {
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")
	if err := os.Mkdir(keyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	a, err := crypto.ParseAlgo("sha256,ecdsa256")
	if err != nil {
		t.Fatal(err)
	}
	k, err := crypto.GenerateKey("dev", a)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pem, err := crypto.MarshalPrivateKeyPEM(k)
	if err != nil {
		t.Fatal(err)
	}
	for name, b := range map[string][]byte{
		filepath.Join(keyDir, "dev.pem"): pem,
		filepath.Join(dir, "image.yaml"): []byte(itsYAML),
		filepath.Join(dir, "zImage"):     []byte("kernel bytes"),
		filepath.Join(dir, "board.dtb"):  []byte("not really a dtb"),
	} {
		if err := os.WriteFile(name, b, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	opts := MkimageOpts{
		FITSource: filepath.Join(dir, "image.yaml"),
		KeyDir:    keyDir,
		KeysDTB:   filepath.Join(dir, "control.dtb"),
		Required:  crypto.RequiredConf,
		Image:     filepath.Join(dir, "image.fit"),
		Out:       &out,
	}
	if err := Main(opts); err != nil {
		t.Fatalf("Main: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "FIT image found") {
		t.Errorf("listing missing FIT header:\n%s", out.String())
	}

	ring, err := readKeyring(opts.KeysDTB)
	if err != nil {
		t.Fatalf("readKeyring: %v", err)
	}
	pub, ok := ring.Lookup("dev")
	if !ok {
		t.Fatal("key dev not in control dtb")
	}
	if pub.Required != crypto.RequiredConf {
		t.Errorf("required = %q, want %q", pub.Required, crypto.RequiredConf)
	}

	b, err := os.ReadFile(opts.Image)
	if err != nil {
		t.Fatal(err)
	}
	f, err := fit.Parse(b)
	if err != nil {
		t.Fatalf("fit.Parse: %v", err)
	}
	c, err := f.Config(f.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.VerifyConfig(c, ring, fit.Policy{Verify: true, RequireSignatures: true}); err != nil {
		t.Errorf("VerifyConfig: %v", err)
	}

	// Rebuilding updates the existing control dtb in place.
	if err := Main(opts); err != nil {
		t.Fatalf("second Main: %v", err)
	}
	ring, err = readKeyring(opts.KeysDTB)
	if err != nil {
		t.Fatalf("readKeyring: %v", err)
	}
	if got := ring.Len(); got != 1 {
		t.Errorf("keyring has %d keys after rebuild, want 1", got)
	}
}

func TestFITMissingKey(t *testing.T) {
	dir := t.TempDir()
	for name, b := range map[string]string{
		"image.yaml": itsYAML,
		"zImage":     "k",
		"board.dtb":  "d",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(b), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	err := Main(MkimageOpts{FITSource: filepath.Join(dir, "image.yaml"), KeyDir: dir, Image: filepath.Join(dir, "out")})
	if err == nil {
		t.Fatal("Main succeeded without a signing key")
	}
}
