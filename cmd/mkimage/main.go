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

// mkimage builds boot images: a legacy image from a payload and header
// fields, or a FIT from a YAML description, optionally signed.
//
// Usage:
//
//	go run ./cmd/mkimage -A arm -O linux -T kernel -C none -a 0x80008000 -e 0x80008000 -n linux -d zImage uImage
//	go run ./cmd/mkimage -f image.yaml -k keys -K control.dtb image.fit
//	go run ./cmd/mkimage -l image.fit
package main

import (
	goflag "flag"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/bootcore/cmd/mkimage/impl"
	flag "github.com/spf13/pflag"
)

var (
	arch     = flag.StringP("architecture", "A", "arm", "Architecture of the payload")
	osName   = flag.StringP("os", "O", "linux", "Operating system of the payload")
	typ      = flag.StringP("type", "T", "kernel", "Image type")
	comp     = flag.StringP("compression", "C", "none", "Compression of the payload")
	zip      = flag.BoolP("compress", "z", false, "Compress the payload with -C rather than only labelling it")
	load     = flag.StringP("load-address", "a", "0", "Load address")
	entry    = flag.StringP("entry-point", "e", "", "Entry point, defaults to the load address")
	name     = flag.StringP("name", "n", "", "Image name")
	data     = flag.StringP("image", "d", "", "Payload file")
	its      = flag.StringP("fit", "f", "", "FIT description in YAML; replaces the legacy flags")
	keyDir   = flag.StringP("key-dir", "k", "", "Directory of <key-name-hint>.pem signing keys")
	keysDTB  = flag.StringP("key-dest", "K", "", "Control device tree to add the public keys to")
	required = flag.StringP("required", "r", "", "Mark keys added with -K as required for 'image' or 'conf'")
	list     = flag.BoolP("list", "l", false, "List the contents of an image instead of building one")
)

func parseAddr(flagName, s string) uint64 {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		glog.Exitf("Invalid -%s %q: %v", flagName, s, err)
	}
	return v
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	// Keep glog from complaining that flags were not parsed.
	_ = goflag.CommandLine.Parse(nil)
	if flag.NArg() != 1 {
		glog.Exit("Expected exactly one image file argument")
	}

	opts := impl.MkimageOpts{
		Arch:         *arch,
		OS:           *osName,
		Type:         *typ,
		Comp:         *comp,
		Load:         parseAddr("a", *load),
		Name:         *name,
		Data:         *data,
		CompressData: *zip,
		FITSource:    *its,
		KeyDir:       *keyDir,
		KeysDTB:      *keysDTB,
		Required:     *required,
		List:         *list,
		Image:        flag.Arg(0),
		Out:          os.Stdout,
	}
	opts.Entry = opts.Load
	if *entry != "" {
		opts.Entry = parseAddr("e", *entry)
	}
	if err := impl.Main(opts); err != nil {
		glog.Exit(err.Error())
	}
}
