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

// Package impl is the implementation of the image builder.
package impl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/compress"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/google/bootcore/internal/image/fit"
	"github.com/google/bootcore/internal/mem"
	"gopkg.in/yaml.v3"
)

// MkimageOpts encapsulates mkimage parameters.
type MkimageOpts struct {
	Arch, OS, Type, Comp string
	Load, Entry          uint64
	Name                 string
	// Data is the legacy image payload file.
	Data string
	// CompressData compresses the payload with Comp instead of labelling
	// already-compressed data.
	CompressData bool
	// FITSource, if set, is a YAML FIT description to build instead.
	FITSource string
	KeyDir    string
	KeysDTB   string
	Required  string
	List      bool
	// Image is the file written, or listed with List.
	Image string
	Out   io.Writer
}

// Main builds or lists an image.
func Main(opts MkimageOpts) error {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.List {
		return List(opts.Out, opts.Image, opts.KeysDTB)
	}
	var blob []byte
	var err error
	if opts.FITSource != "" {
		blob, err = buildFIT(opts)
	} else {
		// Legacy images carry no signatures.
		opts.KeysDTB = ""
		blob, err = buildLegacy(opts)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.Image, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	glog.Infof("Wrote %d byte image to %s", len(blob), opts.Image)
	return List(opts.Out, opts.Image, opts.KeysDTB)
}

func buildLegacy(opts MkimageOpts) ([]byte, error) {
	if opts.Data == "" {
		return nil, errors.New("-d is required for a legacy image")
	}
	data, err := os.ReadFile(opts.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	h := image.LegacyHeader{
		Time:  uint32(time.Now().Unix()),
		Load:  uint32(opts.Load),
		Entry: uint32(opts.Entry),
	}
	if opts.Load > 0xffffffff || opts.Entry > 0xffffffff {
		return nil, fmt.Errorf("legacy images only hold 32-bit addresses")
	}
	if h.Arch, err = image.ParseArch(opts.Arch); err != nil {
		return nil, err
	}
	if h.OS, err = image.ParseOS(opts.OS); err != nil {
		return nil, err
	}
	if h.Type, err = image.ParseType(opts.Type); err != nil {
		return nil, err
	}
	if h.Comp, err = image.ParseComp(opts.Comp); err != nil {
		return nil, err
	}
	h.SetName(opts.Name)
	if opts.CompressData {
		if data, err = compress.Compress(h.Comp, data); err != nil {
			return nil, err
		}
	}
	return image.PackLegacy(h, data), nil
}

// List prints an image file the way the boot loader's iminfo does,
// verifying signatures against the keys in keysDTB if given.
func List(w io.Writer, path, keysDTB string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ring := crypto.NewKeyring()
	if keysDTB != "" {
		if ring, err = readKeyring(keysDTB); err != nil {
			return err
		}
	}
	return bootm.Iminfo(w, mem.Wrap(0, b), 0, ring)
}

func readKeyring(path string) (*crypto.Keyring, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := fdt.Read(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return crypto.KeyringFromFDT(tree.RootNode)
}

// ITS is the YAML description of a FIT.
type ITS struct {
	Description string      `yaml:"Description"`
	Timestamp   uint32      `yaml:"Timestamp"`
	Default     string      `yaml:"Default"`
	External    bool        `yaml:"External"`
	Images      []ITSImage  `yaml:"Images"`
	Configs     []ITSConfig `yaml:"Configs"`
}

// ITSImage describes one image node. Data is a file relative to the
// description.
type ITSImage struct {
	Name        string  `yaml:"Name"`
	Description string  `yaml:"Description"`
	Type        string  `yaml:"Type"`
	OS          string  `yaml:"OS"`
	Arch        string  `yaml:"Arch"`
	Compression string  `yaml:"Compression"`
	Load        *uint64 `yaml:"Load"`
	Entry       *uint64 `yaml:"Entry"`
	Data        string  `yaml:"Data"`
	// CompressData compresses Data with Compression while building.
	CompressData bool           `yaml:"CompressData"`
	Hashes       []string       `yaml:"Hashes"`
	Signatures   []ITSSignature `yaml:"Signatures"`
}

// ITSConfig describes one configuration node.
type ITSConfig struct {
	Name        string         `yaml:"Name"`
	Description string         `yaml:"Description"`
	Kernel      string         `yaml:"Kernel"`
	Firmware    string         `yaml:"Firmware"`
	Ramdisk     string         `yaml:"Ramdisk"`
	FDT         []string       `yaml:"FDT"`
	Loadables   []string       `yaml:"Loadables"`
	Signatures  []ITSSignature `yaml:"Signatures"`
}

// ITSSignature names the key, by its key-name-hint, and algorithm of one
// signature.
type ITSSignature struct {
	Key        string   `yaml:"Key"`
	Algo       string   `yaml:"Algo"`
	Padding    string   `yaml:"Padding"`
	SignImages []string `yaml:"SignImages"`
}

type keyUse struct {
	key  *crypto.PrivateKey
	algo string
}

func buildFIT(opts MkimageOpts) ([]byte, error) {
	src, err := os.ReadFile(opts.FITSource)
	if err != nil {
		return nil, fmt.Errorf("failed to read FIT description: %w", err)
	}
	var its ITS
	if err := yaml.Unmarshal(src, &its); err != nil {
		return nil, fmt.Errorf("failed to unmarshal FIT description: %w", err)
	}
	dir := filepath.Dir(opts.FITSource)

	used := map[string]keyUse{}
	signers := func(sigs []ITSSignature) ([]fit.Signer, error) {
		var r []fit.Signer
		for _, s := range sigs {
			k, err := loadKey(opts.KeyDir, s.Key)
			if err != nil {
				return nil, err
			}
			used[s.Key] = keyUse{key: k, algo: s.Algo}
			r = append(r, fit.Signer{Key: k, Algo: s.Algo, Padding: s.Padding, SignImages: s.SignImages})
		}
		return r, nil
	}

	b := &fit.Builder{
		Description: its.Description,
		Timestamp:   its.Timestamp,
		Default:     its.Default,
		External:    its.External,
	}
	for _, i := range its.Images {
		spec := fit.ImageSpec{
			Name:        i.Name,
			Description: i.Description,
			Load:        i.Load,
			Entry:       i.Entry,
			Hashes:      i.Hashes,
		}
		if spec.Type, err = image.ParseType(i.Type); err != nil {
			return nil, fmt.Errorf("image %q: %w", i.Name, err)
		}
		if i.OS != "" {
			if spec.OS, err = image.ParseOS(i.OS); err != nil {
				return nil, fmt.Errorf("image %q: %w", i.Name, err)
			}
		}
		if i.Arch != "" {
			if spec.Arch, err = image.ParseArch(i.Arch); err != nil {
				return nil, fmt.Errorf("image %q: %w", i.Name, err)
			}
		}
		c := i.Compression
		if c == "" {
			c = "none"
		}
		if spec.Comp, err = image.ParseComp(c); err != nil {
			return nil, fmt.Errorf("image %q: %w", i.Name, err)
		}
		p := i.Data
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if spec.Data, err = os.ReadFile(p); err != nil {
			return nil, fmt.Errorf("image %q: %w", i.Name, err)
		}
		if i.CompressData {
			if spec.Data, err = compress.Compress(spec.Comp, spec.Data); err != nil {
				return nil, fmt.Errorf("image %q: %w", i.Name, err)
			}
		}
		if spec.Signers, err = signers(i.Signatures); err != nil {
			return nil, fmt.Errorf("image %q: %w", i.Name, err)
		}
		b.Images = append(b.Images, spec)
	}
	for _, c := range its.Configs {
		spec := fit.ConfigSpec{
			Name:        c.Name,
			Description: c.Description,
			Kernel:      c.Kernel,
			Firmware:    c.Firmware,
			Ramdisk:     c.Ramdisk,
			FDT:         c.FDT,
			Loadables:   c.Loadables,
		}
		if spec.Signers, err = signers(c.Signatures); err != nil {
			return nil, fmt.Errorf("configuration %q: %w", c.Name, err)
		}
		b.Configs = append(b.Configs, spec)
	}
	blob, err := b.Build()
	if err != nil {
		return nil, err
	}
	if opts.KeysDTB != "" {
		if err := addKeys(opts.KeysDTB, opts.Required, used); err != nil {
			return nil, err
		}
	}
	return blob, nil
}

func loadKey(dir, name string) (*crypto.PrivateKey, error) {
	if dir == "" {
		return nil, fmt.Errorf("key %q: -k is required to sign", name)
	}
	b, err := os.ReadFile(filepath.Join(dir, name+".pem"))
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", name, err)
	}
	return crypto.ParsePrivateKeyPEM(name, b)
}

// addKeys writes the public halves of the signing keys into the control
// device tree at path, creating it if needed.
func addKeys(path, required string, keys map[string]keyUse) error {
	tree := fdt.New()
	if b, err := os.ReadFile(path); err == nil {
		if tree, err = fdt.Read(b); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, k := range keys {
		if err := crypto.AddToFDT(tree.RootNode, k.key.Public(required), k.algo); err != nil {
			return err
		}
	}
	out, err := fdt.Marshal(tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
