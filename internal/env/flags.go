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
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrDenied is returned when a variable's access flags forbid an operation.
var ErrDenied = errors.New("operation not permitted")

// FlagsVar is the variable holding per-variable type and access flags.
const FlagsVar = ".flags"

// StaticFlags are always in force, ahead of anything in FlagsVar.
const StaticFlags = "ethaddr:mo,serial#:so"

// VarType is the declared type of a variable's value.
type VarType byte

// Variable types, as spelled in a flags list.
const (
	TypeString  VarType = 's'
	TypeDecimal VarType = 'd'
	TypeHex     VarType = 'x'
	TypeBool    VarType = 'b'
	TypeIP      VarType = 'i'
	TypeMAC     VarType = 'm'
)

// Access restricts how a variable may change once set.
type Access byte

// Access modes, as spelled in a flags list.
const (
	AccessAny           Access = 'a'
	AccessReadOnly      Access = 'r'
	AccessWriteOnce     Access = 'o'
	AccessChangeDefault Access = 'c'
)

// Flag holds the declared type and access of one variable.
type Flag struct {
	Type   VarType
	Access Access
}

// Op is the kind of change being made to a variable.
type Op int

// Variable operations.
const (
	OpCreate Op = iota
	OpOverwrite
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpOverwrite:
		return "overwrite"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseFlags parses a list of the form "name:ta,name2:t".
func ParseFlags(list string) (map[string]Flag, error) {
	r := make(map[string]Flag)
	for _, e := range strings.Split(list, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, attr, ok := strings.Cut(e, ":")
		if !ok || name == "" || len(attr) == 0 || len(attr) > 2 {
			return nil, fmt.Errorf("malformed flags entry %q", e)
		}
		f := Flag{Type: TypeString, Access: AccessAny}
		switch t := VarType(attr[0]); t {
		case TypeString, TypeDecimal, TypeHex, TypeBool, TypeIP, TypeMAC:
			f.Type = t
		default:
			return nil, fmt.Errorf("unknown type %q in flags entry %q", attr[0], e)
		}
		if len(attr) == 2 {
			switch a := Access(attr[1]); a {
			case AccessAny, AccessReadOnly, AccessWriteOnce, AccessChangeDefault:
				f.Access = a
			default:
				return nil, fmt.Errorf("unknown access %q in flags entry %q", attr[1], e)
			}
		}
		r[name] = f
	}
	return r, nil
}

// checkValue validates value against the declared type.
func (f Flag) checkValue(value string) error {
	switch f.Type {
	case TypeDecimal:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("%q is not a decimal number", value)
		}
	case TypeHex:
		v := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
		if _, err := strconv.ParseUint(v, 16, 64); err != nil {
			return fmt.Errorf("%q is not a hexadecimal number", value)
		}
	case TypeBool:
		if _, err := ParseBool(value); err != nil {
			return err
		}
	case TypeIP:
		if ip := net.ParseIP(value); ip == nil || ip.To4() == nil {
			return fmt.Errorf("%q is not an IPv4 address", value)
		}
	case TypeMAC:
		if hw, err := net.ParseMAC(value); err != nil || len(hw) != 6 || strings.Count(value, ":") != 5 {
			return fmt.Errorf("%q is not a MAC address", value)
		}
	}
	return nil
}

// checkAccess applies the access mode to an operation. def is the variable's
// default value, if it has one.
func (f Flag) checkAccess(op Op, cur, def string, hasDef bool) error {
	switch f.Access {
	case AccessReadOnly:
		return ErrDenied
	case AccessWriteOnce:
		if op != OpCreate {
			return ErrDenied
		}
	case AccessChangeDefault:
		if op == OpDelete {
			return ErrDenied
		}
		if op == OpOverwrite && (!hasDef || cur != def) {
			return ErrDenied
		}
	}
	return nil
}

// ParseBool interprets the first character of s the way boolean variables
// such as "verify" are read.
func ParseBool(s string) (bool, error) {
	if s != "" {
		switch s[0] {
		case '1', 'y', 'Y', 't', 'T':
			return true, nil
		case '0', 'n', 'N', 'f', 'F':
			return false, nil
		}
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}
