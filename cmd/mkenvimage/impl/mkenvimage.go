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

// Package impl is the implementation of the environment image builder.
package impl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/env"
)

// MkenvimageOpts encapsulates mkenvimage parameters.
type MkenvimageOpts struct {
	Size      int
	Redundant bool
	BigEndian bool
	Pad       byte
	// Input and Output are file names; "-" is stdin or stdout.
	Input  string
	Output string
}

// Main reads the text environment and writes the blob.
func Main(opts MkenvimageOpts) error {
	if opts.Output == "" {
		return errors.New("--output is required")
	}
	text, err := readInput(opts.Input)
	if err != nil {
		return fmt.Errorf("failed to read environment text: %w", err)
	}
	blob, err := Build(opts, text)
	if err != nil {
		return err
	}
	if opts.Output == "-" {
		_, err = os.Stdout.Write(blob)
		return err
	}
	return os.WriteFile(opts.Output, blob, 0o644)
}

// Build encodes text as an environment blob. The first copy of a redundant
// environment carries generation 1.
func Build(opts MkenvimageOpts, text []byte) ([]byte, error) {
	l := env.Layout{Size: opts.Size, Redundant: opts.Redundant, Fill: opts.Pad}
	if opts.BigEndian {
		l.Order = binary.BigEndian
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	t := env.NewTable()
	for _, w := range t.Import(text, '\n', env.ImportOpts{Force: true}) {
		glog.Warningf("Skipping entry: %v", w)
	}
	return env.Encode(l, 1, t.Export(0))
}

func readInput(name string) ([]byte, error) {
	if name == "-" || name == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
