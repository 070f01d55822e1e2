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

package fit

import (
	"fmt"

	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/u-root/u-root/pkg/dt"
)

// Signer describes one signature to add to an image or configuration.
type Signer struct {
	Key *crypto.PrivateKey
	// Algo is an algorithm name such as "sha256,rsa2048".
	Algo    string
	Padding string
	// SignImages lists configuration properties whose images are covered.
	// Ignored for image signatures.
	SignImages []string
}

// ImageSpec describes an image for Builder.
type ImageSpec struct {
	Name        string
	Description string
	Type        image.Type
	OS          image.OS
	Arch        image.Arch
	Comp        image.Comp
	Load        *uint64
	Entry       *uint64
	Data        []byte
	// Hashes lists hash algorithms, one hash node each.
	Hashes  []string
	Signers []Signer
}

// ConfigSpec describes a configuration for Builder.
type ConfigSpec struct {
	Name        string
	Description string
	Kernel      string
	Firmware    string
	Ramdisk     string
	FDT         []string
	Loadables   []string
	Signers     []Signer
}

// Builder assembles a FIT blob.
type Builder struct {
	Description string
	Timestamp   uint32
	Images      []ImageSpec
	Configs     []ConfigSpec
	Default     string
	// External places image data after the tree, located by data-offset.
	External bool
}

// Build produces the blob. Hashes and signatures are computed here.
func (b *Builder) Build() ([]byte, error) {
	tree := fdt.New()
	root := tree.RootNode
	fdt.SetString(root, "description", b.Description)
	fdt.SetU32(root, "timestamp", b.Timestamp)
	fdt.SetU32(root, "#address-cells", 1)

	data := make(map[string][]byte)
	nodes := make(map[string]*dt.Node)
	var ext []byte
	images := fdt.Ensure(root, imagesPath)
	for _, spec := range b.Images {
		if _, dup := data[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate image %q", spec.Name)
		}
		data[spec.Name] = spec.Data
		n := &dt.Node{Name: spec.Name}
		nodes[spec.Name] = n
		images.Children = append(images.Children, n)
		if spec.Description != "" {
			fdt.SetString(n, "description", spec.Description)
		}
		if b.External {
			fdt.SetU32(n, "data-offset", uint32(len(ext)))
			fdt.SetU32(n, "data-size", uint32(len(spec.Data)))
			ext = append(ext, spec.Data...)
			for len(ext)%4 != 0 {
				ext = append(ext, 0)
			}
		} else {
			fdt.Set(n, "data", spec.Data)
		}
		fdt.SetString(n, "type", spec.Type.String())
		if spec.Arch != image.ArchInvalid {
			fdt.SetString(n, "arch", spec.Arch.String())
		}
		if spec.OS != image.OSInvalid {
			fdt.SetString(n, "os", spec.OS.String())
		}
		fdt.SetString(n, "compression", spec.Comp.String())
		if spec.Load != nil {
			fdt.SetCells(n, "load", cellsFor(*spec.Load), *spec.Load)
		}
		if spec.Entry != nil {
			fdt.SetCells(n, "entry", cellsFor(*spec.Entry), *spec.Entry)
		}
		for idx, algo := range spec.Hashes {
			v, err := HashValue(algo, spec.Data)
			if err != nil {
				return nil, fmt.Errorf("image %q: %w", spec.Name, err)
			}
			h := &dt.Node{Name: fmt.Sprintf("%s-%d", hashPrefix, idx+1)}
			fdt.SetString(h, "algo", algo)
			fdt.Set(h, "value", v)
			n.Children = append(n.Children, h)
		}
		// Hash nodes are covered by image signatures, so they come first.
		for idx, s := range spec.Signers {
			sig, err := signNode(idx, s, imageRegions(n, spec.Data))
			if err != nil {
				return nil, fmt.Errorf("image %q: %w", spec.Name, err)
			}
			n.Children = append(n.Children, sig)
		}
	}

	if len(b.Configs) > 0 {
		confs := fdt.Ensure(root, confsPath)
		if b.Default != "" {
			fdt.SetString(confs, defaultProp, b.Default)
		}
		for _, spec := range b.Configs {
			n := &dt.Node{Name: spec.Name}
			confs.Children = append(confs.Children, n)
			if spec.Description != "" {
				fdt.SetString(n, "description", spec.Description)
			}
			if spec.Kernel != "" {
				fdt.SetString(n, "kernel", spec.Kernel)
			}
			if spec.Firmware != "" {
				fdt.SetString(n, "firmware", spec.Firmware)
			}
			if spec.Ramdisk != "" {
				fdt.SetString(n, "ramdisk", spec.Ramdisk)
			}
			if len(spec.FDT) > 0 {
				fdt.SetStrings(n, "fdt", spec.FDT...)
			}
			if len(spec.Loadables) > 0 {
				fdt.SetStrings(n, "loadables", spec.Loadables...)
			}
			// Signature nodes are children, so the properties above are final.
			for idx, s := range spec.Signers {
				props := s.SignImages
				if len(props) == 0 {
					props = defaultSignImages
				}
				rs, err := configRegions(n, props, func(name string) ([][]byte, error) {
					img, ok := nodes[name]
					if !ok {
						return nil, fmt.Errorf("%w %q", ErrNoImage, name)
					}
					return imageRegions(img, data[name]), nil
				})
				if err != nil {
					return nil, fmt.Errorf("configuration %q: %w", spec.Name, err)
				}
				sig, err := signNode(idx, s, rs)
				if err != nil {
					return nil, fmt.Errorf("configuration %q: %w", spec.Name, err)
				}
				if len(s.SignImages) > 0 {
					fdt.SetStrings(sig, "sign-images", s.SignImages...)
				}
				n.Children = append(n.Children, sig)
			}
		}
	}

	blob, err := fdt.Marshal(tree)
	if err != nil {
		return nil, err
	}
	if len(ext) == 0 {
		return blob, nil
	}
	for len(blob)%4 != 0 {
		blob = append(blob, 0)
	}
	return append(blob, ext...), nil
}

func signNode(idx int, s Signer, regions [][]byte) (*dt.Node, error) {
	algo, err := crypto.ParseAlgo(s.Algo)
	if err != nil {
		return nil, err
	}
	value, err := s.Key.Sign(algo, s.Padding, regions...)
	if err != nil {
		return nil, err
	}
	n := &dt.Node{Name: fmt.Sprintf("%s-%d", sigPrefix, idx+1)}
	fdt.SetString(n, "algo", algo.Name)
	fdt.SetString(n, "key-name-hint", s.Key.Name)
	if s.Padding != "" {
		fdt.SetString(n, "padding", s.Padding)
	}
	fdt.Set(n, "value", value)
	return n, nil
}

func cellsFor(v uint64) int {
	if v > 0xffffffff {
		return 2
	}
	return 1
}

// Addr is a helper for the optional address fields of ImageSpec.
func Addr(v uint64) *uint64 { return &v }
