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

// emulator boots a simulated board described by a YAML file: SPL picks a
// boot device, loads U-Boot proper from it, and proper autoboots or serves
// the command line on stdin/stdout.
//
// Usage:
//
//	go run ./cmd/emulator --logtostderr --config=internal/config/example_board.yaml
package main

import (
	"context"
	"flag"

	"github.com/golang/glog"
	"github.com/google/bootcore/cmd/emulator/impl"
)

var (
	configFile = flag.String("config", "", "Board configuration file")
	dir        = flag.String("dir", "", "Directory holding the board's image files, defaults to that of --config")
	version    = flag.String("version", "2025.01-bootcore", "Version string printed in the banner")
	reboot     = flag.Bool("reboot", false, "Power cycle the board when a command resets it")
)

func main() {
	flag.Parse()

	if err := impl.Main(context.Background(), impl.EmulatorOpts{
		ConfigFile: *configFile,
		Dir:        *dir,
		Version:    *version,
		Reboot:     *reboot,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
