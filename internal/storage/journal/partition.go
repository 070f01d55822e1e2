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

package journal

import "fmt"

// Geometry describes how a region of a device is split into volumes.
type Geometry struct {
	// Start is the first block of the region.
	Start uint
	// Length is the number of blocks in the region.
	Length uint
	// VolumeLengths lists, in order, the size in blocks of each volume.
	// Changing these once volumes hold data will corrupt them.
	VolumeLengths []uint
}

// Validate checks that the volumes fit in the region.
func (g Geometry) Validate() error {
	t := uint(0)
	for _, l := range g.VolumeLengths {
		t += l
	}
	if t > g.Length {
		return fmt.Errorf("invalid geometry: volumes need %d blocks, region has %d", t, g.Length)
	}
	return nil
}

// Partition is a region of a device holding one or more journal volumes.
type Partition struct {
	volumes []*Journal
}

// OpenPartition opens every volume described by geo.
func OpenPartition(dev BlockDevice, geo Geometry) (*Partition, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	p := &Partition{}
	b := geo.Start
	for i, l := range geo.VolumeLengths {
		j, err := Open(dev, b, l)
		if err != nil {
			return nil, fmt.Errorf("open volume %d: %w", i, err)
		}
		p.volumes = append(p.volumes, j)
		b += l
	}
	return p, nil
}

// Volume returns the i'th volume.
func (p *Partition) Volume(i int) (*Journal, error) {
	if i < 0 || i >= len(p.volumes) {
		return nil, fmt.Errorf("invalid volume %d (partition has %d)", i, len(p.volumes))
	}
	return p.volumes[i], nil
}

// NumVolumes returns the number of volumes in the partition.
func (p *Partition) NumVolumes() int {
	return len(p.volumes)
}
