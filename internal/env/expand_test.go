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

import "testing"

func TestExpand(t *testing.T) {
	vars := map[string]string{
		"console":  "ttymxc1,115200",
		"root":     "/dev/mmcblk0p2",
		"loadaddr": "0x82000000",
	}
	get := func(n string) (string, bool) {
		v, ok := vars[n]
		return v, ok
	}
	for _, test := range []struct {
		in, want string
	}{
		{in: "console=${console} root=${root}", want: "console=ttymxc1,115200 root=/dev/mmcblk0p2"},
		{in: "bootm $loadaddr", want: "bootm 0x82000000"},
		{in: "echo ${missing}x", want: "echo x"},
		{in: `echo \$loadaddr`, want: "echo $loadaddr"},
		{in: "echo '$loadaddr'", want: "echo '$loadaddr'"},
		{in: "echo ${unterminated", want: "echo ${unterminated"},
		{in: "cost $", want: "cost $"},
	} {
		t.Run(test.in, func(t *testing.T) {
			if got := Expand(test.in, get); got != test.want {
				t.Errorf("Expand(%q) = %q, want %q", test.in, got, test.want)
			}
		})
	}
}
