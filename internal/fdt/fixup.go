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

package fdt

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/u-root/u-root/pkg/dt"
)

// Bank is one contiguous region of DRAM.
type Bank struct {
	Start uint64
	Size  uint64
}

// Fixup describes what the boot loader writes into the kernel's tree.
type Fixup struct {
	// Bootargs is stored in /chosen/bootargs when non-empty.
	Bootargs string
	// InitrdStart and InitrdEnd are stored in /chosen when InitrdEnd > InitrdStart.
	InitrdStart, InitrdEnd uint64
	// Memory replaces the reg property of /memory when non-empty.
	Memory []Bank
}

// Apply parses blob, applies fx and returns the rewritten tree.
func Apply(blob []byte, fx Fixup) ([]byte, error) {
	f, err := Read(blob)
	if err != nil {
		return nil, err
	}
	if err := ApplyTree(f.RootNode, fx); err != nil {
		return nil, err
	}
	return Marshal(f)
}

// ApplyTree applies fx to an already parsed tree.
func ApplyTree(root *dt.Node, fx Fixup) error {
	addrCells, sizeCells := cellSizes(root)
	if addrCells < 1 || addrCells > 2 || sizeCells < 1 || sizeCells > 2 {
		return fmt.Errorf("unsupported #address-cells %d / #size-cells %d", addrCells, sizeCells)
	}

	chosen := Ensure(root, "/chosen")
	if fx.Bootargs != "" {
		SetString(chosen, "bootargs", fx.Bootargs)
		glog.V(1).Infof("fdt: bootargs %q", fx.Bootargs)
	}
	if fx.InitrdEnd > fx.InitrdStart {
		SetCells(chosen, "linux,initrd-start", addrCells, fx.InitrdStart)
		SetCells(chosen, "linux,initrd-end", addrCells, fx.InitrdEnd)
		glog.V(1).Infof("fdt: initrd %#x-%#x", fx.InitrdStart, fx.InitrdEnd)
	}

	if len(fx.Memory) > 0 {
		mem := Ensure(root, "/memory")
		SetString(mem, "device_type", "memory")
		var reg []byte
		for _, b := range fx.Memory {
			reg = appendCells(reg, addrCells, b.Start)
			reg = appendCells(reg, sizeCells, b.Size)
		}
		Set(mem, "reg", reg)
	} else if mem, ok := Child(root, "memory"); ok {
		// Older trees ship a memory node without its type.
		if _, ok := mem.LookProperty("device_type"); !ok {
			SetString(mem, "device_type", "memory")
		}
	}
	return nil
}

func cellSizes(root *dt.Node) (int, int) {
	a, s := 2, 1
	if v, err := U32(root, "#address-cells"); err == nil {
		a = int(v)
	}
	if v, err := U32(root, "#size-cells"); err == nil {
		s = int(v)
	}
	return a, s
}
