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
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/bootcore/internal/fdt"
	"github.com/u-root/u-root/pkg/dt"
)

// Print lists the tree's images and configurations in the iminfo layout.
func (f *FIT) Print(w io.Writer) {
	fmt.Fprintf(w, "   FIT description: %s\n", f.Description)
	if f.Timestamp != 0 {
		fmt.Fprintf(w, "   Created:         %s\n", time.Unix(int64(f.Timestamp), 0).UTC().Format("2006-01-02  15:04:05 UTC"))
	}
	for idx, img := range f.Images() {
		fmt.Fprintf(w, "    Image %d (%s)\n", idx, img.Name)
		img.print(w, "     ")
	}
	if def := f.DefaultConfig(); def != "" {
		fmt.Fprintf(w, "    Default Configuration: '%s'\n", def)
	}
	for idx, c := range f.Configs() {
		fmt.Fprintf(w, "    Configuration %d (%s)\n", idx, c.Name)
		fmt.Fprintf(w, "     Description:  %s\n", orUnavailable(c.Description))
		if c.Kernel != "" {
			fmt.Fprintf(w, "     Kernel:       %s\n", c.Kernel)
		}
		if c.Firmware != "" {
			fmt.Fprintf(w, "     Firmware:     %s\n", c.Firmware)
		}
		if c.Ramdisk != "" {
			fmt.Fprintf(w, "     Init Ramdisk: %s\n", c.Ramdisk)
		}
		if len(c.FDT) > 0 {
			fmt.Fprintf(w, "     FDT:          %s\n", strings.Join(c.FDT, ", "))
		}
		if len(c.Loadables) > 0 {
			fmt.Fprintf(w, "     Loadables:    %s\n", strings.Join(c.Loadables, ", "))
		}
		for _, s := range childrenWithPrefix(c.node, sigPrefix) {
			printSig(w, "     ", s)
		}
	}
}

func (i *Image) print(w io.Writer, p string) {
	fmt.Fprintf(w, "%sDescription:  %s\n", p, orUnavailable(i.Description()))
	if t, err := i.Type(); err == nil {
		fmt.Fprintf(w, "%sType:         %s\n", p, t.Description())
	}
	if c, err := i.Comp(); err == nil {
		fmt.Fprintf(w, "%sCompression:  %s\n", p, c.Description())
	}
	if d, err := i.Data(); err == nil {
		where := ""
		if i.External() {
			where = " (external)"
		}
		fmt.Fprintf(w, "%sData Size:    %d Bytes%s\n", p, len(d), where)
	}
	if a, err := i.Arch(); err == nil && a != 0 {
		fmt.Fprintf(w, "%sArchitecture: %s\n", p, a.Description())
	}
	if o, err := i.OS(); err == nil && o != 0 {
		fmt.Fprintf(w, "%sOS:           %s\n", p, o.Description())
	}
	if v, ok := i.Load(); ok {
		fmt.Fprintf(w, "%sLoad Address: 0x%08x\n", p, v)
	}
	if v, ok := i.Entry(); ok {
		fmt.Fprintf(w, "%sEntry Point:  0x%08x\n", p, v)
	}
	for _, h := range childrenWithPrefix(i.node, hashPrefix) {
		algo, _ := fdt.String(h, "algo")
		v, _ := fdt.Bytes(h, "value")
		fmt.Fprintf(w, "%sHash algo:    %s\n", p, algo)
		fmt.Fprintf(w, "%sHash value:   %s\n", p, hex.EncodeToString(v))
	}
	for _, s := range childrenWithPrefix(i.node, sigPrefix) {
		printSig(w, p, s)
	}
}

func printSig(w io.Writer, p string, n *dt.Node) {
	algo, _ := fdt.String(n, "algo")
	hint, _ := fdt.String(n, "key-name-hint")
	fmt.Fprintf(w, "%sSign algo:    %s:%s\n", p, algo, hint)
}

func orUnavailable(s string) string {
	if s == "" {
		return "unavailable"
	}
	return s
}
