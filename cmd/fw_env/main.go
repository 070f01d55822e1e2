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

// fw_env reads and changes a board's stored environment from the host,
// through the same media drivers the boot loader uses.
//
// Usage:
//
//	go run ./cmd/fw_env --config=board.yaml print [-n] [name ...]
//	go run ./cmd/fw_env --config=board.yaml set name [value ...]
package main

import (
	"context"
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/google/bootcore/cmd/fw_env/impl"
)

var (
	configFile = flag.String("config", "", "Board configuration YAML file")
	dir        = flag.String("dir", "", "Directory image paths are relative to; defaults to the config file's")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	if err := impl.Main(ctx, impl.FwEnvOpts{
		ConfigFile: *configFile,
		Dir:        *dir,
		Args:       flag.Args(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
