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

import "strings"

// Lookup resolves a variable name.
type Lookup func(name string) (string, bool)

// Expand substitutes ${name} and $name references using get. Unknown
// variables expand to nothing. A backslash escapes the next character, and
// text inside single quotes is left alone.
func Expand(s string, get Lookup) string {
	var b strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case quoted:
			b.WriteByte(c)
		case c == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == '$':
			name, n, ok := Ref(s[i:])
			if !ok {
				b.WriteByte(c)
				continue
			}
			v, _ := get(name)
			b.WriteString(v)
			i += n - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Ref parses the ${name} or $name reference at the start of s and returns
// the name and the length of the reference.
func Ref(s string) (name string, n int, ok bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", 0, false
	}
	if s[1] == '{' {
		end := strings.IndexByte(s[2:], '}')
		if end < 0 {
			return "", 0, false
		}
		return s[2 : 2+end], end + 3, true
	}
	j := 1
	for j < len(s) && isNameByte(s[j]) {
		j++
	}
	if j == 1 {
		return "", 0, false
	}
	return s[1:j], j, true
}

func isNameByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
