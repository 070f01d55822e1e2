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

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/bootcore/internal/bootm"
	"github.com/google/bootcore/internal/mem"
)

func bootmCmd(_ context.Context, s *Shell, args []string) error {
	if len(args) > 1 {
		if states, ok := bootm.Subcommands[args[1]]; ok {
			return s.m.Bootm.Run(states, args[2:])
		}
	}
	return s.m.Bootm.Run(bootm.StatesBoot, args[1:])
}

func bootzCmd(_ context.Context, s *Shell, args []string) error {
	return s.m.Bootm.Bootz(args[1:], false)
}

func bootiCmd(_ context.Context, s *Shell, args []string) error {
	return s.m.Bootm.Booti(args[1:], false)
}

func boot(ctx context.Context, s *Shell, _ []string) error {
	return run(ctx, s, []string{"run", "bootcmd"})
}

func iminfo(_ context.Context, s *Shell, args []string) error {
	addrs := args[1:]
	if len(addrs) == 0 {
		a, ok := s.m.Env.Get("loadaddr")
		if !ok {
			return ErrUsage
		}
		addrs = []string{a}
	}
	var err error
	for _, a := range addrs {
		addr, perr := mem.ParseAddr(a)
		if perr != nil {
			return perr
		}
		if e := bootm.Iminfo(s.m.Console, s.m.Mem, addr, s.m.Keyring); e != nil {
			err = silent
		}
	}
	return err
}

func load(_ context.Context, s *Shell, args []string) error {
	src, ok := s.m.Sources[args[1]]
	if !ok {
		s.printf("** Bad device specification %s **\n", strings.Join(args[1:min(3, len(args))], " "))
		return silent
	}
	devPart := "0"
	if len(args) > 2 {
		devPart = args[2]
	}
	addrArg, _ := s.m.Env.Get("loadaddr")
	if len(args) > 3 {
		addrArg = args[3]
	}
	if addrArg == "" {
		return ErrUsage
	}
	addr, err := mem.ParseAddr(addrArg)
	if err != nil {
		return err
	}
	name, _ := s.m.Env.Get("bootfile")
	if len(args) > 4 {
		name = args[4]
	}
	if name == "" {
		return ErrUsage
	}
	b, err := src.ReadFile(devPart, name)
	if err != nil {
		s.printf("** Unable to read file %s **\n", name)
		return silent
	}
	if err := s.m.Mem.Write(addr, b); err != nil {
		return err
	}
	s.printf("%d bytes read\n", len(b))
	if err := s.m.Env.Set("fileaddr", fmt.Sprintf("%x", addr)); err != nil {
		return err
	}
	return s.m.Env.Set("filesize", fmt.Sprintf("%x", len(b)))
}
