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

package proper

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Prompt is printed before each command line.
const Prompt = "=> "

// maxLine bounds one command line.
const maxLine = 1024

func (p *Proper) printf(format string, args ...interface{}) {
	if p.opts.Console != nil {
		fmt.Fprintf(p.opts.Console, format, args...)
	}
}

// prompt reads and runs command lines until input ends or a command resets
// the board.
func (p *Proper) prompt(ctx context.Context) error {
	if p.opts.Console == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.printf("%s", Prompt)
		line, err := p.readLine()
		if errors.Is(err, io.EOF) {
			p.printf("\n")
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		p.shell.Run(ctx, line)
		if p.shell.ResetRequested() {
			return errReset
		}
	}
}

// readLine collects one line with echo, backspace and Ctrl-C handling.
func (p *Proper) readLine() (string, error) {
	con := p.opts.Console
	var buf []byte
	for {
		c, err := con.Getc()
		if err != nil {
			if len(buf) > 0 && errors.Is(err, io.EOF) {
				p.printf("\n")
				return string(buf), nil
			}
			return "", err
		}
		p.b.Watchdog()
		switch c {
		case '\r', '\n':
			p.printf("\n")
			return string(buf), nil
		case 0x03:
			p.printf("<INTERRUPT>\n")
			return "", nil
		case 0x08, 0x7f:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				p.printf("\b \b")
			}
		default:
			if c < ' ' || len(buf) >= maxLine {
				continue
			}
			buf = append(buf, c)
			p.printf("%c", c)
		}
	}
}
