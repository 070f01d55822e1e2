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

// Package fit reads and writes Flattened Image Trees: device tree blobs
// holding one or more images and the configurations that combine them.
package fit

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/fdt"
	"github.com/google/bootcore/internal/image"
	"github.com/u-root/u-root/pkg/dt"
)

const (
	imagesPath  = "/images"
	confsPath   = "/configurations"
	hashPrefix  = "hash"
	sigPrefix   = "signature"
	defaultProp = "default"
)

var (
	// ErrNoImages is returned when the tree has no /images node.
	ErrNoImages = errors.New("no /images node")
	// ErrNoConfig is returned when the requested configuration is missing.
	ErrNoConfig = errors.New("no such configuration")
	// ErrNoImage is returned when a referenced image is missing.
	ErrNoImage = errors.New("no such image")
	// ErrBadHash is returned when an image fails a hash check.
	ErrBadHash = errors.New("bad hash value")
	// ErrUnsigned is returned when a mandatory signature is absent.
	ErrUnsigned = errors.New("required signature missing")
)

// FIT is a parsed image tree. Its blob must stay unmodified while in use,
// since external image data is sliced from it.
type FIT struct {
	Description string
	Timestamp   uint32

	blob   []byte
	tree   *dt.FDT
	images *dt.Node
	confs  *dt.Node
}

// Parse checks the tree's structure. A missing description is only a
// warning.
func Parse(blob []byte) (*FIT, error) {
	tree, err := fdt.Read(blob)
	if err != nil {
		return nil, err
	}
	f := &FIT{blob: blob, tree: tree}
	var ok bool
	if f.images, ok = fdt.Lookup(tree.RootNode, imagesPath); !ok {
		return nil, ErrNoImages
	}
	f.confs, _ = fdt.Lookup(tree.RootNode, confsPath)
	if f.Description, ok = fdt.String(tree.RootNode, "description"); !ok {
		glog.Warning("FIT has no description")
	}
	if ts, err := fdt.U32(tree.RootNode, "timestamp"); err == nil {
		f.Timestamp = ts
	}
	return f, nil
}

// Size returns the length of the blob including external data.
func (f *FIT) Size() int { return len(f.blob) }

// Images returns every image in tree order.
func (f *FIT) Images() []*Image {
	var r []*Image
	for _, n := range f.images.Children {
		r = append(r, &Image{Name: n.Name, fit: f, node: n})
	}
	return r
}

// Image returns the named image.
func (f *FIT) Image(name string) (*Image, error) {
	n, ok := fdt.Child(f.images, name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoImage, name)
	}
	return &Image{Name: name, fit: f, node: n}, nil
}

// Configs returns every configuration in tree order.
func (f *FIT) Configs() []*Config {
	if f.confs == nil {
		return nil
	}
	var r []*Config
	for _, n := range f.confs.Children {
		r = append(r, newConfig(n))
	}
	return r
}

// DefaultConfig names the configuration used when none is requested.
func (f *FIT) DefaultConfig() string {
	if f.confs == nil {
		return ""
	}
	s, _ := fdt.String(f.confs, defaultProp)
	return s
}

// Config returns the named configuration, or the default when name is empty.
func (f *FIT) Config(name string) (*Config, error) {
	if f.confs == nil {
		return nil, fmt.Errorf("%w: no %s node", ErrNoConfig, confsPath)
	}
	if name == "" {
		name = f.DefaultConfig()
		if name == "" {
			return nil, fmt.Errorf("%w: no default configuration", ErrNoConfig)
		}
	}
	n, ok := fdt.Child(f.confs, name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoConfig, name)
	}
	return newConfig(n), nil
}

// SplitSpec splits an image argument of the form "addr#conf" or
// "addr:image" into its parts.
func SplitSpec(arg string) (addr, conf, img string) {
	if i := strings.IndexByte(arg, '#'); i >= 0 {
		return arg[:i], arg[i+1:], ""
	}
	if i := strings.IndexByte(arg, ':'); i >= 0 {
		return arg[:i], "", arg[i+1:]
	}
	return arg, "", ""
}

// Config is a configuration: a named combination of images.
type Config struct {
	Name        string
	Description string
	Kernel      string
	Firmware    string
	Ramdisk     string
	FDT         []string
	Loadables   []string

	node *dt.Node
}

func newConfig(n *dt.Node) *Config {
	c := &Config{Name: n.Name, node: n}
	c.Description, _ = fdt.String(n, "description")
	c.Kernel, _ = fdt.String(n, "kernel")
	c.Firmware, _ = fdt.String(n, "firmware")
	c.Ramdisk, _ = fdt.String(n, "ramdisk")
	c.FDT = fdt.Strings(n, "fdt")
	c.Loadables = fdt.Strings(n, "loadables")
	return c
}

// Image is one image node.
type Image struct {
	Name string

	fit  *FIT
	node *dt.Node
}

// Description returns the image's description, if any.
func (i *Image) Description() string {
	s, _ := fdt.String(i.node, "description")
	return s
}

// Type returns the image type.
func (i *Image) Type() (image.Type, error) {
	s, ok := fdt.String(i.node, "type")
	if !ok {
		return image.TypeInvalid, fmt.Errorf("image %q has no type", i.Name)
	}
	return image.ParseType(s)
}

// OS returns the image OS, or OSInvalid when absent.
func (i *Image) OS() (image.OS, error) {
	s, ok := fdt.String(i.node, "os")
	if !ok {
		return image.OSInvalid, nil
	}
	return image.ParseOS(s)
}

// Arch returns the image architecture, or ArchInvalid when absent.
func (i *Image) Arch() (image.Arch, error) {
	s, ok := fdt.String(i.node, "arch")
	if !ok {
		return image.ArchInvalid, nil
	}
	return image.ParseArch(s)
}

// Comp returns the compression. An absent property means none.
func (i *Image) Comp() (image.Comp, error) {
	s, ok := fdt.String(i.node, "compression")
	if !ok {
		return image.CompNone, nil
	}
	return image.ParseComp(s)
}

// Load returns the load address, if present.
func (i *Image) Load() (uint64, bool) {
	v, err := fdt.Cells(i.node, "load")
	return v, err == nil
}

// Entry returns the entry point, if present.
func (i *Image) Entry() (uint64, bool) {
	v, err := fdt.Cells(i.node, "entry")
	return v, err == nil
}

// External reports whether the data lives outside the tree structure.
func (i *Image) External() bool {
	_, ok := fdt.Bytes(i.node, "data")
	return !ok
}

// Data returns the image payload, embedded or external. External data is
// located by data-position (from the start of the blob) or data-offset
// (from the end of the tree, rounded up to 4 bytes).
func (i *Image) Data() ([]byte, error) {
	if d, ok := fdt.Bytes(i.node, "data"); ok {
		return d, nil
	}
	start, end, err := i.dataRange()
	if err != nil {
		return nil, err
	}
	if end > uint64(len(i.fit.blob)) {
		return nil, fmt.Errorf("image %q: external data %#x-%#x beyond end of FIT (%#x)", i.Name, start, end, len(i.fit.blob))
	}
	return i.fit.blob[start:end], nil
}

// dataRange locates external data relative to the start of the FIT.
func (i *Image) dataRange() (start, end uint64, err error) {
	size, err := fdt.U32(i.node, "data-size")
	if err != nil {
		return 0, 0, fmt.Errorf("image %q: no data and no data-size", i.Name)
	}
	if pos, err := fdt.U32(i.node, "data-position"); err == nil {
		start = uint64(pos)
	} else if off, err := fdt.U32(i.node, "data-offset"); err == nil {
		total, err := fdt.TotalSize(i.fit.blob)
		if err != nil {
			return 0, 0, err
		}
		start = uint64((total+3)&^3) + uint64(off)
	} else {
		return 0, 0, fmt.Errorf("image %q: data-size without data-offset or data-position", i.Name)
	}
	return start, start + uint64(size), nil
}

// Extent returns how many bytes from the start of the FIT are needed to
// reach the end of all external data. A loader that has read only the
// tree uses it to find out how much more to read.
func (f *FIT) Extent() (uint64, error) {
	total, err := fdt.TotalSize(f.blob)
	if err != nil {
		return 0, err
	}
	n := uint64(total)
	for _, i := range f.Images() {
		if !i.External() {
			continue
		}
		_, end, err := i.dataRange()
		if err != nil {
			return 0, err
		}
		if end > n {
			n = end
		}
	}
	return n, nil
}

// DataOffset returns where the payload starts, relative to the start of
// the blob.
func (i *Image) DataOffset() (int, error) {
	d, err := i.Data()
	if err != nil {
		return 0, err
	}
	if i.External() {
		return cap(i.fit.blob) - cap(d), nil
	}
	// Embedded values are stored verbatim in the structure block, which
	// comes before anything else that could hold the same bytes.
	total, err := fdt.TotalSize(i.fit.blob)
	if err != nil {
		return 0, err
	}
	off := bytes.Index(i.fit.blob[:total], d)
	if off < 0 {
		return 0, fmt.Errorf("image %q: data not found in blob", i.Name)
	}
	return off, nil
}

func childrenWithPrefix(n *dt.Node, prefix string) []*dt.Node {
	var r []*dt.Node
	for _, c := range n.Children {
		if strings.HasPrefix(c.Name, prefix) {
			r = append(r, c)
		}
	}
	return r
}
