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

package board

import "fmt"

// StrapRule matches boot mode register bits to a device.
type StrapRule struct {
	Mask, Value uint32
	Device      BootDevice
}

// StrapTable classifies a boot mode register value. Rules are tried in
// order and the first match wins.
type StrapTable []StrapRule

// Classify returns the boot device selected by straps.
func (t StrapTable) Classify(straps uint32) (BootDevice, error) {
	for _, r := range t {
		if straps&r.Mask == r.Value {
			return r.Device, nil
		}
	}
	return BootDeviceNone, fmt.Errorf("%w: %#08x", ErrUnknownStraps, straps)
}
