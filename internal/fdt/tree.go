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

// Package fdt holds helpers for reading, editing and writing flattened
// device trees, and the fixups applied to a kernel's tree before boot.
package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/u-root/u-root/pkg/dt"
)

// Magic is the big-endian magic at the start of every FDT blob.
const Magic = 0xd00dfeed

// ErrNotFound is returned when a node or property is missing.
var ErrNotFound = errors.New("not found")

// New returns an empty tree with a header ready for Marshal.
func New() *dt.FDT {
	return &dt.FDT{
		Header: dt.Header{
			Magic:           Magic,
			Version:         17,
			LastCompVersion: 16,
		},
		RootNode: &dt.Node{Name: ""},
	}
}

// Read parses a blob. Bytes after the header's total size are ignored.
func Read(b []byte) (*dt.FDT, error) {
	if len(b) < 40 || binary.BigEndian.Uint32(b) != Magic {
		return nil, fmt.Errorf("bad FDT magic")
	}
	f, err := dt.ReadFDT(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to parse FDT: %w", err)
	}
	return f, nil
}

// TotalSize returns the total size recorded in a blob's header.
func TotalSize(b []byte) (uint32, error) {
	if len(b) < 8 || binary.BigEndian.Uint32(b) != Magic {
		return 0, fmt.Errorf("bad FDT magic")
	}
	return binary.BigEndian.Uint32(b[4:]), nil
}

// Marshal serialises the tree.
func Marshal(f *dt.FDT) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write FDT: %w", err)
	}
	return buf.Bytes(), nil
}

// Child returns the direct child of n with the given name.
func Child(n *dt.Node, name string) (*dt.Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Lookup resolves an absolute path such as "/images/kernel".
func Lookup(root *dt.Node, path string) (*dt.Node, bool) {
	n := root
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p == "" {
			continue
		}
		c, ok := Child(n, p)
		if !ok {
			return nil, false
		}
		n = c
	}
	return n, true
}

// Ensure resolves path, creating any missing nodes along it.
func Ensure(root *dt.Node, path string) *dt.Node {
	n := root
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p == "" {
			continue
		}
		c, ok := Child(n, p)
		if !ok {
			c = &dt.Node{Name: p}
			n.Children = append(n.Children, c)
		}
		n = c
	}
	return n
}

// Bytes returns the raw value of a property.
func Bytes(n *dt.Node, name string) ([]byte, bool) {
	p, ok := n.LookProperty(name)
	if !ok {
		return nil, false
	}
	return p.Value, true
}

// String returns a NUL-terminated string property.
func String(n *dt.Node, name string) (string, bool) {
	v, ok := Bytes(n, name)
	if !ok {
		return "", false
	}
	if i := bytes.IndexByte(v, 0); i >= 0 {
		v = v[:i]
	}
	return string(v), true
}

// Strings returns a string-list property.
func Strings(n *dt.Node, name string) []string {
	v, ok := Bytes(n, name)
	if !ok {
		return nil
	}
	var r []string
	for _, s := range bytes.Split(bytes.TrimRight(v, "\x00"), []byte{0}) {
		if len(s) > 0 {
			r = append(r, string(s))
		}
	}
	return r
}

// U32 returns a single-cell property.
func U32(n *dt.Node, name string) (uint32, error) {
	v, ok := Bytes(n, name)
	if !ok {
		return 0, fmt.Errorf("property %q: %w", name, ErrNotFound)
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("property %q is %d bytes, want 4", name, len(v))
	}
	return binary.BigEndian.Uint32(v), nil
}

// Cells decodes a one or two cell number property.
func Cells(n *dt.Node, name string) (uint64, error) {
	v, ok := Bytes(n, name)
	if !ok {
		return 0, fmt.Errorf("property %q: %w", name, ErrNotFound)
	}
	switch len(v) {
	case 4:
		return uint64(binary.BigEndian.Uint32(v)), nil
	case 8:
		return binary.BigEndian.Uint64(v), nil
	}
	return 0, fmt.Errorf("property %q is %d bytes, want 4 or 8", name, len(v))
}

// Set replaces or adds a property.
func Set(n *dt.Node, name string, value []byte) {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			n.Properties[i].Value = value
			return
		}
	}
	n.Properties = append(n.Properties, dt.Property{Name: name, Value: value})
}

// SetString stores s with its NUL terminator.
func SetString(n *dt.Node, name, s string) {
	Set(n, name, append([]byte(s), 0))
}

// SetStrings stores a string list.
func SetStrings(n *dt.Node, name string, ss ...string) {
	var b []byte
	for _, s := range ss {
		b = append(b, s...)
		b = append(b, 0)
	}
	Set(n, name, b)
}

// SetU32 stores a single cell.
func SetU32(n *dt.Node, name string, v uint32) {
	Set(n, name, binary.BigEndian.AppendUint32(nil, v))
}

// SetCells stores v using the given number of 32-bit cells.
func SetCells(n *dt.Node, name string, cells int, vs ...uint64) {
	var b []byte
	for _, v := range vs {
		b = appendCells(b, cells, v)
	}
	Set(n, name, b)
}

func appendCells(b []byte, cells int, v uint64) []byte {
	if cells == 2 {
		return binary.BigEndian.AppendUint64(b, v)
	}
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

// Delete removes a property, reporting whether it existed.
func Delete(n *dt.Node, name string) bool {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			n.Properties = append(n.Properties[:i], n.Properties[i+1:]...)
			return true
		}
	}
	return false
}
