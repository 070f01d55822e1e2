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
	"strings"
)

func commands() []*Command {
	return []*Command{
		{Name: "boot", Help: "boot default, i.e., run 'bootcmd'", MaxArgs: 1, Run: boot},
		{Name: "booti", Usage: "[addr [initrd[:size]] [fdt]]", Help: "boot Linux kernel 'Image' format from memory", MaxArgs: 4, Run: bootiCmd},
		{Name: "bootm", Usage: "[addr [arg ...]]\n    - boot application image stored in memory\nSub-commands to do part of the bootm sequence:\n\tstart [addr [arg ...]]\n\tloados, ramdisk, fdt, prep, fake, go", Help: "boot application image from memory", Run: bootmCmd},
		{Name: "bootz", Usage: "[addr [initrd[:size]] [fdt]]", Help: "boot Linux zImage image from memory", MaxArgs: 4, Run: bootzCmd},
		{Name: "echo", Usage: "[-n] [args ...]", Help: "echo args to console", Run: echo},
		{Name: "env", Usage: "default|delete|exists|export|grep|import|info|print|run|save|erase|select|set ...", Help: "environment handling commands", MinArgs: 2, Run: envCmd},
		{Name: "help", Usage: "[command ...]", Help: "print command description/usage", Run: help},
		{Name: "iminfo", Usage: "[addr ...]", Help: "print header information for application image", Run: iminfo},
		{Name: "load", Usage: "<interface> [<dev[:part]> [<addr> [<filename>]]]", Help: "load binary file from a filesystem", MinArgs: 2, MaxArgs: 5, Run: load},
		{Name: "printenv", Usage: "[-a]\n    - print [all] values of all environment variables\nprintenv name ...", Help: "print environment variables", Run: printenv},
		{Name: "reset", Help: "Perform RESET of the CPU", MaxArgs: 1, Run: reset},
		{Name: "run", Usage: "var [...]", Help: "run commands in an environment variable", MinArgs: 2, Run: run},
		{Name: "saveenv", Help: "save environment variables to persistent storage", MaxArgs: 1, Run: saveenv},
		{Name: "setenv", Usage: "[-f] name value ...\n    - set environment variable 'name' to 'value ...'\nsetenv [-f] name\n    - delete environment variable 'name'", Help: "set environment variables", MinArgs: 2, Run: setenv},
		{Name: "version", Help: "print monitor, compiler and linker version", MaxArgs: 1, Run: version},
	}
}

func echo(_ context.Context, s *Shell, args []string) error {
	nl := "\n"
	if len(args) > 1 && args[1] == "-n" {
		nl, args = "", args[1:]
	}
	s.printf("%s%s", strings.Join(args[1:], " "), nl)
	return nil
}

func reset(_ context.Context, s *Shell, _ []string) error {
	s.printf("resetting ...\n")
	if s.m.Reset != nil {
		s.m.Reset()
	}
	return ErrReset
}

func version(_ context.Context, s *Shell, _ []string) error {
	s.printf("U-Boot %s\n", s.m.Version)
	return nil
}

func help(_ context.Context, s *Shell, args []string) error {
	if len(args) == 1 {
		for _, n := range s.names() {
			s.printf("%-10s- %s\n", n, s.cmds[n].Help)
		}
		return nil
	}
	var err error
	for _, n := range args[1:] {
		c, ok := s.find(n)
		if !ok {
			s.printf("Unknown command '%s' - try 'help' without arguments for list of all known commands\n\n", n)
			err = silent
			continue
		}
		s.usage(c)
	}
	return err
}
