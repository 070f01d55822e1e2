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

// mkenvimage builds a binary environment blob from a text file of
// name=value lines, ready to be written to a boot medium.
//
// Usage:
//
//	go run ./cmd/mkenvimage --size=0x2000 --redundant --output=uboot.env env.txt
package main

import (
	"flag"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/bootcore/cmd/mkenvimage/impl"
)

var (
	size      = flag.String("size", "", "Size of the environment blob, e.g. 0x2000")
	redundant = flag.Bool("redundant", false, "Include the generation flags byte of a redundant environment")
	bigEndian = flag.Bool("big_endian", false, "Store the CRC big-endian")
	pad       = flag.String("pad", "0xff", "Byte used to pad the data region")
	output    = flag.String("output", "", "File to write the blob to, '-' for stdout")
)

func main() {
	flag.Parse()

	n, err := strconv.ParseUint(*size, 0, 31)
	if err != nil {
		glog.Exitf("Invalid --size %q: %v", *size, err)
	}
	p, err := strconv.ParseUint(*pad, 0, 8)
	if err != nil {
		glog.Exitf("Invalid --pad %q: %v", *pad, err)
	}
	input := "-"
	if flag.NArg() > 0 {
		input = flag.Arg(0)
	}
	if err := impl.Main(impl.MkenvimageOpts{
		Size:      int(n),
		Redundant: *redundant,
		BigEndian: *bigEndian,
		Pad:       byte(p),
		Input:     input,
		Output:    *output,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
