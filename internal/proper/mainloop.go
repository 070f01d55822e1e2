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
	"strconv"

	"github.com/google/bootcore/internal/env"
	"github.com/google/bootcore/internal/poll"
)

// BootCounter persists the number of boots since the last successful one.
type BootCounter interface {
	Load() (uint32, error)
	Store(ctx context.Context, n uint32) error
}

// EnvCounter keeps the boot count in the "bootcount" variable. The
// environment is only saved while "upgrade_available" is set, so an
// ordinary boot does not wear the medium.
type EnvCounter struct {
	Env *env.Store
}

// Load implements BootCounter.
func (c EnvCounter) Load() (uint32, error) {
	v, ok := c.Env.Get("bootcount")
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bootcount %q: %w", v, err)
	}
	return uint32(n), nil
}

// Store implements BootCounter.
func (c EnvCounter) Store(ctx context.Context, n uint32) error {
	if err := c.Env.Set("bootcount", strconv.FormatUint(uint64(n), 10)); err != nil {
		return err
	}
	if up, _ := c.Env.Get("upgrade_available"); up == "" || up == "0" {
		return nil
	}
	return c.Env.Save(ctx)
}

func (p *Proper) counter() BootCounter {
	if p.opts.Counter != nil {
		return p.opts.Counter
	}
	return EnvCounter{Env: p.env}
}

// bootCount increments the boot counter and mirrors it into the
// environment.
func (p *Proper) bootCount(ctx context.Context) uint32 {
	c := p.counter()
	n, err := c.Load()
	if err != nil {
		p.printf("bootcount: %v\n", err)
	}
	n++
	if err := c.Store(ctx, n); err != nil {
		p.printf("bootcount: %v\n", err)
	}
	if err := p.env.Set("bootcount", strconv.FormatUint(uint64(n), 10)); err != nil {
		p.printf("bootcount: %v\n", err)
	}
	p.gd.BootCount = n
	return n
}

// bootCommand picks the autoboot command, falling back to "altbootcmd"
// once the boot count passes "bootlimit".
func (p *Proper) bootCommand(count uint32) string {
	if v, ok := p.env.Get("bootlimit"); ok {
		if limit, err := strconv.ParseUint(v, 0, 32); err == nil && limit > 0 && uint64(count) > limit {
			p.printf("Warning: Bootlimit (%d) exceeded. Using altbootcmd.\n", limit)
			alt, _ := p.env.Get("altbootcmd")
			return alt
		}
	}
	cmd, _ := p.env.Get("bootcmd")
	return cmd
}

func (p *Proper) bootDelay() int {
	v, ok := p.env.Get("bootdelay")
	if !ok {
		return DefaultBootDelay
	}
	d, err := strconv.Atoi(v)
	if err != nil {
		return DefaultBootDelay
	}
	return d
}

// abortBoot counts the delay down and reports whether a key stopped it.
// Any key pressed before the countdown also stops it.
func (p *Proper) abortBoot(ctx context.Context, delay int) bool {
	con := p.opts.Console
	if con == nil {
		return false
	}
	p.printf("Hit any key to stop autoboot: %2d ", delay)
	abort := false
	if con.Tstc() {
		_, _ = con.Getc()
		abort = true
	}
	for delay > 0 && !abort {
		delay--
		err := poll.Wait(ctx, poll.Budget{Attempts: 100, Interval: p.opts.Tick}, p.b.Watchdog, func() (bool, error) {
			return con.Tstc(), nil
		})
		if err == nil {
			_, _ = con.Getc()
			abort = true
		} else if !errors.Is(err, poll.ErrTimeout) {
			break
		}
		p.printf("\b\b\b%2d ", delay)
	}
	p.printf("\n")
	return abort
}

// mainLoop autoboots unless stopped and then serves the prompt.
func (p *Proper) mainLoop(ctx context.Context) error {
	count := p.bootCount(ctx)
	cmd := p.bootCommand(count)
	delay := p.bootDelay()
	if cmd != "" && (delay == -2 || delay >= 0 && !p.abortBoot(ctx, delay)) {
		p.shell.Run(ctx, cmd)
		if p.shell.ResetRequested() {
			return errReset
		}
	}
	return p.prompt(ctx)
}
