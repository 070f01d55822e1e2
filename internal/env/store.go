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

// Package env implements the persistent environment: a CRC-protected
// key/value blob kept on one of several storage media, optionally as two
// copies updated alternately so that an interrupted save never loses the
// previous environment.
package env

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
)

// ErrNoMedium is returned when a named medium is not configured.
var ErrNoMedium = errors.New("no such environment medium")

// Medium is persistent storage holding one or two copies of the environment blob.
type Medium interface {
	// Name identifies the medium in messages, e.g. "MMC" or "SPIFlash".
	Name() string
	// Copies returns 2 for media holding a redundant copy, otherwise 1.
	Copies() int
	// Read returns the raw blob stored in copy idx.
	Read(ctx context.Context, idx int) ([]byte, error)
	// Write stores a blob in copy idx.
	Write(ctx context.Context, idx int, blob []byte) error
	// Erase invalidates copy idx.
	Erase(ctx context.Context, idx int) error
}

// Filler is implemented by media whose erased state is not zero.
type Filler interface {
	Fill() byte
}

// Validity records which stored copy, if any, the environment came from.
type Validity int

// Environment validity states.
const (
	// Invalid means no stored copy was usable and defaults are in use.
	Invalid Validity = iota
	// Valid means the primary copy is current.
	Valid
	// Redund means the redundant copy is current.
	Redund
)

func (v Validity) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	case Redund:
		return "redundant"
	}
	return fmt.Sprintf("validity(%d)", int(v))
}

// Info summarises the state of the store.
type Info struct {
	Medium    string
	Valid     Validity
	Ready     bool
	Default   bool
	Redundant bool
	Flags     uint8
}

// Options configure a Store.
type Options struct {
	// Layout is the blob layout. Redundant is forced to match the medium.
	Layout Layout
	// Defaults is the compiled-in environment.
	Defaults map[string]string
	// Console receives user-visible diagnostics. May be nil.
	Console io.Writer
	// Media lists the configured media; the first is selected initially.
	Media []Medium
}

// Store ties the in-memory table to its persistent media.
//
// The store, like the table it owns, is a per-boot singleton driven only
// by the boot thread.
type Store struct {
	layout  Layout
	media   []Medium
	cur     int
	tbl     *Table
	console io.Writer

	valid        Validity
	flags        uint8
	early        []byte
	ready        bool
	usingDefault bool
}

// New creates a store. Nothing is read until Init or Load.
func New(opts Options) (*Store, error) {
	if len(opts.Media) == 0 {
		return nil, errors.New("no environment media configured")
	}
	s := &Store{
		layout:  opts.Layout,
		media:   opts.Media,
		tbl:     NewTable(),
		console: opts.Console,
	}
	if s.console == nil {
		s.console = io.Discard
	}
	s.tbl.SetDefaults(opts.Defaults)
	if err := s.selectMedium(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) selectMedium(i int) error {
	m := s.media[i]
	l := s.layout
	l.Redundant = m.Copies() == 2
	if f, ok := m.(Filler); ok {
		l.Fill = f.Fill()
	}
	if err := l.Validate(); err != nil {
		return err
	}
	s.cur, s.layout = i, l
	return nil
}

// Medium returns the selected medium.
func (s *Store) Medium() Medium {
	return s.media[s.cur]
}

// Layout returns the blob layout of the selected medium.
func (s *Store) Layout() Layout {
	return s.layout
}

// Table returns the in-memory environment.
func (s *Store) Table() *Table {
	return s.tbl
}

// Init locates a usable environment before relocation. It checks the stored
// copies but imports nothing; until Load runs, Get reads directly from the
// located copy or the defaults. Init never fails: the outcome is recorded as
// the store's validity.
func (s *Store) Init(ctx context.Context) {
	imgs, _ := s.readCopies(ctx)
	i := pickCopy(imgs)
	if i < 0 {
		s.valid = Invalid
		s.early = s.defaultData()
		glog.V(1).Infof("env: no valid copy on %s before relocation", s.Medium().Name())
		return
	}
	s.valid = Validity(i + 1)
	s.early = imgs[i].Data
}

func (s *Store) defaultData() []byte {
	t := NewTable()
	for k, v := range s.tbl.defaults {
		t.vars[k] = v
	}
	return t.Export(0)
}

// Relocate loads the environment once RAM is available. Problems are
// reported on the console and defaults are used instead.
func (s *Store) Relocate(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		glog.Warningf("env: using default environment: %v", err)
	}
}

// Load reads, checks and imports the stored environment. If no copy is
// usable it imports the defaults, marks the environment invalid and returns
// the reason; the table is usable either way.
func (s *Store) Load(ctx context.Context) error {
	imgs, errs := s.readCopies(ctx)
	i := pickCopy(imgs)
	if i < 0 {
		err := errors.Join(errs...)
		reason := "bad CRC"
		if !errors.Is(err, ErrBadCRC) {
			reason = "Environment not found"
		}
		s.useDefaults(reason)
		return err
	}
	if s.layout.Redundant && imgs[1-i] == nil {
		fmt.Fprintf(s.console, "*** Warning - some problems detected reading environment; recovered successfully\n")
	}
	for _, w := range s.tbl.Import(imgs[i].Data, 0, ImportOpts{Replace: true, Force: true}) {
		glog.Warningf("env: import: %v", w)
	}
	s.valid = Validity(i + 1)
	s.flags = imgs[i].Flags
	s.ready, s.usingDefault = true, false
	s.early = nil
	glog.V(1).Infof("env: loaded copy %d (flags %d) from %s", i, s.flags, s.Medium().Name())
	return nil
}

func (s *Store) readCopies(ctx context.Context) ([2]*Image, []error) {
	var imgs [2]*Image
	var errs []error
	m := s.Medium()
	for c := 0; c < m.Copies() && c < 2; c++ {
		b, err := m.Read(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s copy %d: %w", m.Name(), c, err))
			continue
		}
		img, err := Decode(s.layout, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s copy %d: %w", m.Name(), c, err))
			continue
		}
		imgs[c] = &img
	}
	return imgs, errs
}

func (s *Store) useDefaults(reason string) {
	fmt.Fprintf(s.console, "*** Warning - %s, using default environment\n\n", reason)
	s.tbl.Clear()
	for k, v := range s.tbl.defaults {
		if err := s.tbl.ForceSet(k, v); err != nil {
			glog.Warningf("env: default %q: %v", k, err)
		}
	}
	s.valid, s.flags = Invalid, 0
	s.ready, s.usingDefault = true, true
	s.early = nil
}

// Get returns a variable's value. It never touches storage.
func (s *Store) Get(name string) (string, bool) {
	if !s.ready {
		return lookupData(s.early, name)
	}
	return s.tbl.Get(name)
}

// lookupData finds a variable in an unimported data region.
func lookupData(data []byte, name string) (string, bool) {
	for len(data) > 0 {
		var e []byte
		e, data = nextEntry(data, 0)
		if len(e) == 0 {
			break
		}
		if k, v, ok := bytes.Cut(e, []byte("=")); ok && string(k) == name {
			return string(v), true
		}
	}
	return "", false
}

// Set changes a variable in memory only; an empty value deletes it.
func (s *Store) Set(name, value string) error {
	return s.tbl.Set(name, value)
}

// Save writes the table to the selected medium. With two copies the
// inactive copy is written with the next generation, read back, and only
// then becomes current; the current copy is never touched.
func (s *Store) Save(ctx context.Context) error {
	m := s.Medium()
	target, flags := 0, uint8(0)
	if s.layout.Redundant {
		if s.valid == Valid {
			target = 1
		}
		flags = s.flags + 1
	}
	blob, err := Encode(s.layout, flags, s.tbl.Export(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.console, "Saving Environment to %s... ", m.Name())
	if err := m.Write(ctx, target, blob); err != nil {
		fmt.Fprintln(s.console, "failed")
		return fmt.Errorf("write %s copy %d: %w", m.Name(), target, err)
	}
	got, err := m.Read(ctx, target)
	if err != nil || len(got) < len(blob) || !bytes.Equal(got[:len(blob)], blob) {
		fmt.Fprintln(s.console, "failed")
		return fmt.Errorf("verify %s copy %d: read back mismatch (%v)", m.Name(), target, err)
	}
	fmt.Fprintln(s.console, "OK")
	s.valid = Validity(target + 1)
	s.flags = flags
	s.usingDefault = false
	return nil
}

// Erase invalidates every stored copy so that the next boot uses defaults.
// The in-memory table is left alone.
func (s *Store) Erase(ctx context.Context) error {
	m := s.Medium()
	fmt.Fprintf(s.console, "Erasing Environment on %s... ", m.Name())
	var errs []error
	for c := 0; c < m.Copies(); c++ {
		if err := m.Erase(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("erase %s copy %d: %w", m.Name(), c, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintln(s.console, "failed")
		return err
	}
	fmt.Fprintln(s.console, "OK")
	s.valid, s.flags = Invalid, 0
	return nil
}

// Info reports the store's state.
func (s *Store) Info() Info {
	return Info{
		Medium:    s.Medium().Name(),
		Valid:     s.valid,
		Ready:     s.ready,
		Default:   s.usingDefault,
		Redundant: s.layout.Redundant,
		Flags:     s.flags,
	}
}

// Select makes the named medium the target of later Load, Save and Erase calls.
func (s *Store) Select(name string) error {
	for i, m := range s.media {
		if m.Name() == name {
			if err := s.selectMedium(i); err != nil {
				return err
			}
			s.valid, s.flags = Invalid, 0
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNoMedium, name)
}

// MediaNames lists the configured media.
func (s *Store) MediaNames() []string {
	r := make([]string, len(s.media))
	for i, m := range s.media {
		r[i] = m.Name()
	}
	return r
}

// ResetDefaults restores defaults. With no names the whole table is replaced;
// otherwise each named variable is reset, or deleted if it has no default.
func (s *Store) ResetDefaults(force bool, names ...string) error {
	if len(names) == 0 {
		s.tbl.Clear()
		for k, v := range s.tbl.defaults {
			if err := s.tbl.ForceSet(k, v); err != nil {
				return err
			}
		}
		s.usingDefault = true
		return nil
	}
	var errs []error
	for _, n := range names {
		v := s.tbl.defaults[n]
		if err := s.tbl.set(n, v, force); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Format selects the encoding used by Export and Import.
type Format int

// Export/import encodings.
const (
	// FormatText is newline separated "key=value" lines.
	FormatText Format = iota
	// FormatBinary is NUL separated entries ending in a double NUL.
	FormatBinary
	// FormatChecksummed is a complete blob with CRC header.
	FormatChecksummed
)

// Export encodes the named variables, or all of them. size applies to
// FormatChecksummed and defaults to the store's blob size.
func (s *Store) Export(f Format, size int, names ...string) ([]byte, error) {
	switch f {
	case FormatText:
		return s.tbl.Export('\n', names...), nil
	case FormatBinary:
		return s.tbl.Export(0, names...), nil
	case FormatChecksummed:
		l := Layout{Size: s.layout.Size, Order: s.layout.Order}
		if size > 0 {
			l.Size = size
		}
		return Encode(l, 0, s.tbl.Export(0, names...))
	}
	return nil, fmt.Errorf("unknown export format %d", f)
}

// Import merges encoded variables into the table. Warnings about individual
// entries are returned separately from a failure to decode the input.
func (s *Store) Import(f Format, data []byte, opts ImportOpts) ([]error, error) {
	switch f {
	case FormatText:
		return s.tbl.Import(data, '\n', opts), nil
	case FormatBinary:
		return s.tbl.Import(data, 0, opts), nil
	case FormatChecksummed:
		l := Layout{Size: len(data), Order: s.layout.Order}
		img, err := Decode(l, data)
		if err != nil {
			return nil, err
		}
		return s.tbl.Import(img.Data, 0, opts), nil
	}
	return nil, fmt.Errorf("unknown import format %d", f)
}
