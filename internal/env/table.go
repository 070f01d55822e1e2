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

package env

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
)

// CallbacksVar is the variable binding variables to named callbacks.
const CallbacksVar = ".callbacks"

// Callback is invoked before a bound variable changes. Returning an error
// vetoes the change unless it is forced.
type Callback func(name, value string, op Op) error

// Table is the in-memory environment.
//
// There is exactly one Table per boot and it is only touched from the boot
// thread, so it carries no lock.
type Table struct {
	vars     map[string]string
	defaults map[string]string

	flags     map[string]Flag
	callbacks map[string]Callback
	bindings  map[string]string
	static    string
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{
		vars:      make(map[string]string),
		defaults:  make(map[string]string),
		callbacks: make(map[string]Callback),
	}
	t.reparse()
	return t
}

// SetDefaults records the compiled-in default values, used by change-default
// variables and by Store's fallback.
func (t *Table) SetDefaults(d map[string]string) {
	t.defaults = make(map[string]string, len(d))
	for k, v := range d {
		t.defaults[k] = v
	}
}

// Defaults returns a copy of the compiled-in defaults.
func (t *Table) Defaults() map[string]string {
	r := make(map[string]string, len(t.defaults))
	for k, v := range t.defaults {
		r[k] = v
	}
	return r
}

// RegisterCallback makes cb available for binding under name. A static
// binding list ("var:callback,...") may be supplied along with it.
func (t *Table) RegisterCallback(name string, cb Callback, staticBindings ...string) {
	t.callbacks[name] = cb
	for _, b := range staticBindings {
		if t.static != "" {
			t.static += ","
		}
		t.static += b
	}
	t.reparse()
}

// reparse rebuilds flags and callback bindings from the static lists and
// the .flags / .callbacks variables.
func (t *Table) reparse() {
	flags, err := ParseFlags(StaticFlags + "," + t.vars[FlagsVar])
	if err != nil {
		glog.Warningf("env: ignoring %s: %v", FlagsVar, err)
		flags, _ = ParseFlags(StaticFlags)
	}
	t.flags = flags
	t.bindings = make(map[string]string)
	for _, e := range strings.Split(t.static+","+t.vars[CallbacksVar], ",") {
		name, cb, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || name == "" {
			continue
		}
		t.bindings[name] = cb
	}
}

// Flag returns the declared flags of a variable.
func (t *Table) Flag(name string) (Flag, bool) {
	f, ok := t.flags[name]
	return f, ok
}

// Get returns the value of a variable.
func (t *Table) Get(name string) (string, bool) {
	v, ok := t.vars[name]
	return v, ok
}

// Set sets a variable, or deletes it if value is empty, subject to its
// flags and callback.
func (t *Table) Set(name, value string) error {
	return t.set(name, value, false)
}

// ForceSet behaves like Set but bypasses access flags and callback vetoes.
func (t *Table) ForceSet(name, value string) error {
	return t.set(name, value, true)
}

// Delete removes a variable.
func (t *Table) Delete(name string) error {
	return t.set(name, "", false)
}

func (t *Table) set(name, value string, force bool) error {
	if name == "" || strings.ContainsAny(name, "=\x00") {
		return fmt.Errorf("invalid variable name %q", name)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("value of %q contains NUL", name)
	}
	cur, exists := t.vars[name]
	op := OpOverwrite
	switch {
	case value == "" && !exists:
		return nil
	case value == "":
		op = OpDelete
	case !exists:
		op = OpCreate
	}
	if f, ok := t.flags[name]; ok && !force {
		if op != OpDelete {
			if err := f.checkValue(value); err != nil {
				return fmt.Errorf("## Error: flags type check failure for %q: %v", name, err)
			}
		}
		def, hasDef := t.defaults[name]
		if err := f.checkAccess(op, cur, def, hasDef); err != nil {
			return fmt.Errorf("## Error: Can't %s \"%s\": %w", op, name, err)
		}
	}
	if cbName, ok := t.bindings[name]; ok {
		if cb, ok := t.callbacks[cbName]; ok {
			if err := cb(name, value, op); err != nil && !force {
				return fmt.Errorf("callback %q rejected %q: %w", cbName, name, err)
			}
		}
	}
	if op == OpDelete {
		delete(t.vars, name)
	} else {
		t.vars[name] = value
	}
	if name == FlagsVar || name == CallbacksVar {
		t.reparse()
	}
	return nil
}

// Names returns the variable names in sorted order.
func (t *Table) Names() []string {
	r := make([]string, 0, len(t.vars))
	for k := range t.vars {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// Len returns the number of variables.
func (t *Table) Len() int {
	return len(t.vars)
}

// Map returns a copy of the variables.
func (t *Table) Map() map[string]string {
	r := make(map[string]string, len(t.vars))
	for k, v := range t.vars {
		r[k] = v
	}
	return r
}

// Clear removes every variable without consulting flags or callbacks.
func (t *Table) Clear() {
	t.vars = make(map[string]string)
	t.reparse()
}

// Export serialises the named variables, or all of them, sorted by name.
// Each entry is terminated by sep; the binary form (sep == 0) ends with an
// extra NUL. In text form newlines and backslashes in values are escaped.
func (t *Table) Export(sep byte, names ...string) []byte {
	if len(names) == 0 {
		names = t.Names()
	} else {
		names = append([]string(nil), names...)
		sort.Strings(names)
	}
	var b bytes.Buffer
	for _, k := range names {
		v, ok := t.vars[k]
		if !ok {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		if sep != 0 {
			for i := 0; i < len(v); i++ {
				if v[i] == sep || v[i] == '\\' {
					b.WriteByte('\\')
				}
				b.WriteByte(v[i])
			}
		} else {
			b.WriteString(v)
		}
		b.WriteByte(sep)
	}
	if sep == 0 {
		if b.Len() == 0 {
			b.WriteByte(0)
		}
		b.WriteByte(0)
	}
	return b.Bytes()
}

// ImportOpts control Import.
type ImportOpts struct {
	// Replace clears the table before importing.
	Replace bool
	// Force bypasses access flags and callback vetoes.
	Force bool
	// Only, if set, restricts the import to these names.
	Only []string
}

// Import parses entries separated by sep, stopping at an empty entry
// (a double separator) or the end of data. Lines starting with '#' are
// comments. Malformed entries, and entries refused by flags or callbacks,
// are skipped and returned as warnings.
func (t *Table) Import(data []byte, sep byte, opts ImportOpts) []error {
	var only map[string]bool
	if len(opts.Only) > 0 {
		only = make(map[string]bool)
		for _, n := range opts.Only {
			only[n] = true
		}
	}
	if opts.Replace {
		if only == nil {
			t.Clear()
		} else {
			for n := range only {
				delete(t.vars, n)
			}
			t.reparse()
		}
	}
	var warnings []error
	for len(data) > 0 {
		var e []byte
		e, data = nextEntry(data, sep)
		if len(e) == 0 {
			if sep == 0 {
				break
			}
			continue
		}
		if e[0] == '#' {
			continue
		}
		name, value, ok := bytes.Cut(e, []byte("="))
		if !ok || len(name) == 0 {
			warnings = append(warnings, fmt.Errorf("malformed entry %q", e))
			continue
		}
		if only != nil && !only[string(name)] {
			continue
		}
		if err := t.set(string(name), string(value), opts.Force); err != nil {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// nextEntry splits off the first sep-terminated entry, undoing backslash
// escapes when sep is not NUL.
func nextEntry(data []byte, sep byte) ([]byte, []byte) {
	if sep == 0 {
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			return data, nil
		}
		return data[:i], data[i+1:]
	}
	var e []byte
	for i := 0; i < len(data); i++ {
		switch c := data[i]; {
		case c == '\\' && i+1 < len(data):
			i++
			e = append(e, data[i])
		case c == sep:
			return trimCR(e), data[i+1:]
		default:
			e = append(e, c)
		}
	}
	return trimCR(e), nil
}

func trimCR(b []byte) []byte {
	return bytes.TrimSuffix(b, []byte("\r"))
}
