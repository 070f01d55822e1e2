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

package fit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/crypto"
	"github.com/google/bootcore/internal/fdt"
	"github.com/u-root/u-root/pkg/dt"
)

// Policy controls how much of a FIT is checked before booting.
type Policy struct {
	// Verify enables hash checks. It follows the "verify" variable.
	Verify bool
	// RequireSignatures makes an unsigned configuration fatal.
	RequireSignatures bool
	// RequiredKeys must each have signed the configuration, in addition to
	// keys marked required in the keyring.
	RequiredKeys []string
}

// defaultSignImages are hashed by a configuration signature without a
// sign-images property.
var defaultSignImages = []string{"kernel", "fdt", "ramdisk"}

// HashValue computes the value stored in a hash node for algo.
func HashValue(algo string, data []byte) ([]byte, error) {
	if algo == "crc32" {
		return binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(data)), nil
	}
	h, err := crypto.NewHash(algo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// VerifyHashes checks every hash node of the image against its data.
func (i *Image) VerifyHashes() error {
	data, err := i.Data()
	if err != nil {
		return err
	}
	nodes := childrenWithPrefix(i.node, hashPrefix)
	if len(nodes) == 0 {
		glog.Warningf("image %q has no hash nodes", i.Name)
	}
	for _, n := range nodes {
		algo, ok := fdt.String(n, "algo")
		if !ok {
			return fmt.Errorf("image %q %s: no algo", i.Name, n.Name)
		}
		want, ok := fdt.Bytes(n, "value")
		if !ok {
			return fmt.Errorf("image %q %s: no value", i.Name, n.Name)
		}
		got, err := HashValue(algo, data)
		if err != nil {
			return fmt.Errorf("image %q %s: %w", i.Name, n.Name, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("image %q %s (%s): %w: got %s want %s", i.Name, n.Name, algo, ErrBadHash,
				hex.EncodeToString(got), hex.EncodeToString(want))
		}
		glog.V(1).Infof("image %q: %s %s ok", i.Name, n.Name, algo)
	}
	return nil
}

// VerifyImage checks hashes when p.Verify is set, then any image
// signatures, then that every key required at image level has signed.
func (f *FIT) VerifyImage(i *Image, ring *crypto.Keyring, p Policy) error {
	if p.Verify {
		if err := i.VerifyHashes(); err != nil {
			return err
		}
	}
	signed, err := verifySignatures(i.node, ring, p, func(*dt.Node) ([][]byte, error) {
		d, err := i.Data()
		return imageRegions(i.node, d), err
	})
	if err != nil {
		return fmt.Errorf("image %q: %w", i.Name, err)
	}
	for _, k := range ring.Required(crypto.RequiredImage) {
		if !slices.Contains(signed, k.Name) {
			return fmt.Errorf("image %q: key %q: %w", i.Name, k.Name, ErrUnsigned)
		}
	}
	return nil
}

// VerifyConfig checks a configuration's signatures and that every key
// required at configuration level has signed it.
func (f *FIT) VerifyConfig(c *Config, ring *crypto.Keyring, p Policy) error {
	signed, err := verifySignatures(c.node, ring, p, func(sig *dt.Node) ([][]byte, error) {
		return configRegions(c.node, signImages(sig), func(name string) ([][]byte, error) {
			img, err := f.Image(name)
			if err != nil {
				return nil, err
			}
			d, err := img.Data()
			if err != nil {
				return nil, err
			}
			return imageRegions(img.node, d), nil
		})
	})
	if err != nil {
		return fmt.Errorf("configuration %q: %w", c.Name, err)
	}
	var required []string
	for _, k := range ring.Required(crypto.RequiredConf) {
		required = append(required, k.Name)
	}
	required = append(required, p.RequiredKeys...)
	for _, name := range required {
		if !slices.Contains(signed, name) {
			return fmt.Errorf("configuration %q: key %q: %w", c.Name, name, ErrUnsigned)
		}
	}
	if p.RequireSignatures && len(signed) == 0 {
		return fmt.Errorf("configuration %q: %w", c.Name, ErrUnsigned)
	}
	return nil
}

// verifySignatures checks every signature node under n and returns the
// names of keys whose signatures verified. A signature naming an unknown
// key is skipped unless signatures are mandatory; one that fails to verify
// is always an error.
func verifySignatures(n *dt.Node, ring *crypto.Keyring, p Policy, regions func(*dt.Node) ([][]byte, error)) ([]string, error) {
	var signed []string
	for _, s := range childrenWithPrefix(n, sigPrefix) {
		algoName, _ := fdt.String(s, "algo")
		hint, _ := fdt.String(s, "key-name-hint")
		value, ok := fdt.Bytes(s, "value")
		if !ok {
			return nil, fmt.Errorf("%s: no value", s.Name)
		}
		key, ok := ring.Lookup(hint)
		if !ok {
			if p.RequireSignatures || slices.Contains(p.RequiredKeys, hint) {
				return nil, fmt.Errorf("%s: key %q: %w", s.Name, hint, crypto.ErrUnknownKey)
			}
			glog.Warningf("%s: no trusted key %q, signature not checked", s.Name, hint)
			continue
		}
		algo, err := crypto.ParseAlgo(algoName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		padding, _ := fdt.String(s, "padding")
		rs, err := regions(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		if err := key.Verify(algo, padding, value, rs...); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		glog.Infof("%s: %s:%s+ ok", s.Name, algo.Name, hint)
		signed = append(signed, hint)
	}
	return signed, nil
}

func signImages(sig *dt.Node) []string {
	if s := fdt.Strings(sig, "sign-images"); len(s) > 0 {
		return s
	}
	return defaultSignImages
}

// configRegions returns what a configuration signature covers: the
// configuration's own properties, then the regions of every image named by
// the listed properties.
func configRegions(conf *dt.Node, props []string, image func(string) ([][]byte, error)) ([][]byte, error) {
	rs := [][]byte{nodeRegion(conf)}
	for _, prop := range props {
		for _, name := range fdt.Strings(conf, prop) {
			r, err := image(name)
			if err != nil {
				return nil, fmt.Errorf("sign-images %s: %w", prop, err)
			}
			rs = append(rs, r...)
		}
	}
	return rs, nil
}

// imageRegions returns what a signature over an image covers: its
// metadata, then its data.
func imageRegions(n *dt.Node, data []byte) [][]byte {
	return [][]byte{nodeRegion(n), data}
}

// nodeRegion serialises n's properties other than data, followed by every
// child that is not a signature. Each property is its name, a NUL, a
// big-endian length and the value. Each child is its name, a NUL, a length
// and its own region.
func nodeRegion(n *dt.Node) []byte {
	var r []byte
	for _, p := range n.Properties {
		if p.Name == "data" {
			continue
		}
		r = append(r, p.Name...)
		r = append(r, 0)
		r = binary.BigEndian.AppendUint32(r, uint32(len(p.Value)))
		r = append(r, p.Value...)
	}
	for _, c := range n.Children {
		if strings.HasPrefix(c.Name, sigPrefix) {
			continue
		}
		sub := nodeRegion(c)
		r = append(r, c.Name...)
		r = append(r, 0)
		r = binary.BigEndian.AppendUint32(r, uint32(len(sub)))
		r = append(r, sub...)
	}
	return r
}

// IsVerifyError reports whether err came from a failed check rather than
// a malformed tree.
func IsVerifyError(err error) bool {
	return errors.Is(err, ErrBadHash) || errors.Is(err, ErrUnsigned) ||
		errors.Is(err, crypto.ErrBadSignature) || errors.Is(err, crypto.ErrUnknownKey)
}
