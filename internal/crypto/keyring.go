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

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/google/bootcore/internal/fdt"
	"github.com/u-root/u-root/pkg/dt"
)

// SignatureNode is the control FDT node holding trusted keys.
const SignatureNode = "/signature"

const keyPrefix = "key-"

// Keyring is the set of keys trusted for image verification.
type Keyring struct {
	keys map[string]*PublicKey
}

// NewKeyring returns a keyring holding keys.
func NewKeyring(keys ...*PublicKey) *Keyring {
	r := &Keyring{keys: make(map[string]*PublicKey)}
	for _, k := range keys {
		r.Add(k)
	}
	return r
}

// Add trusts k, replacing any key of the same name.
func (r *Keyring) Add(k *PublicKey) {
	r.keys[k.Name] = k
}

// Lookup returns the key with the given name hint.
func (r *Keyring) Lookup(name string) (*PublicKey, bool) {
	if r == nil {
		return nil, false
	}
	k, ok := r.keys[name]
	return k, ok
}

// Keys returns all keys ordered by name.
func (r *Keyring) Keys() []*PublicKey {
	if r == nil {
		return nil
	}
	ks := make([]*PublicKey, 0, len(r.keys))
	for _, k := range r.keys {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].Name < ks[j].Name })
	return ks
}

// Required returns the keys that must have signed at the given level.
func (r *Keyring) Required(level string) []*PublicKey {
	var ks []*PublicKey
	for _, k := range r.Keys() {
		if k.Required == level {
			ks = append(ks, k)
		}
	}
	return ks
}

// Len returns the number of keys.
func (r *Keyring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// KeyringFromFDT loads the keys stored under /signature in a control FDT.
// A tree without that node yields an empty keyring.
func KeyringFromFDT(root *dt.Node) (*Keyring, error) {
	r := NewKeyring()
	sig, ok := fdt.Lookup(root, SignatureNode)
	if !ok {
		return r, nil
	}
	for _, n := range sig.Children {
		if !strings.HasPrefix(n.Name, keyPrefix) {
			continue
		}
		k, err := keyFromNode(n)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", SignatureNode, n.Name, err)
		}
		glog.V(1).Infof("keyring: loaded %v key %q required=%q", k.Type(), k.Name, k.Required)
		r.Add(k)
	}
	return r, nil
}

func keyFromNode(n *dt.Node) (*PublicKey, error) {
	name, ok := fdt.String(n, "key-name-hint")
	if !ok {
		name = strings.TrimPrefix(n.Name, keyPrefix)
	}
	required, _ := fdt.String(n, "required")
	k := &PublicKey{Name: name, Required: required}

	if mod, ok := fdt.Bytes(n, "rsa,modulus"); ok {
		bits, err := fdt.U32(n, "rsa,num-bits")
		if err != nil {
			return nil, err
		}
		exp := uint64(65537)
		if e, err := fdt.Cells(n, "rsa,exponent"); err == nil {
			exp = e
		}
		pub := &rsa.PublicKey{N: new(big.Int).SetBytes(mod), E: int(exp)}
		if pub.N.BitLen() != int(bits) {
			return nil, fmt.Errorf("modulus is %d bits, rsa,num-bits says %d", pub.N.BitLen(), bits)
		}
		k.Key = pub
		return k, nil
	}

	curveName, ok := fdt.String(n, "ecdsa,curve")
	if !ok {
		return nil, fmt.Errorf("neither rsa,modulus nor ecdsa,curve present")
	}
	var curve elliptic.Curve
	switch curveName {
	case "prime256v1":
		curve = elliptic.P256()
	case "secp384r1":
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve %q", curveName)
	}
	x, okX := fdt.Bytes(n, "ecdsa,x-point")
	y, okY := fdt.Bytes(n, "ecdsa,y-point")
	if !okX || !okY {
		return nil, fmt.Errorf("missing ecdsa point")
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
	if !curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("ecdsa point is not on %s", curveName)
	}
	k.Key = pub
	return k, nil
}

// AddToFDT stores k under /signature so that a boot loader built with the
// tree will trust it.
func AddToFDT(root *dt.Node, k *PublicKey, algo string) error {
	n := fdt.Ensure(root, SignatureNode+"/"+keyPrefix+k.Name)
	n.Properties = nil
	fdt.SetString(n, "key-name-hint", k.Name)
	fdt.SetString(n, "algo", algo)
	if k.Required != "" {
		fdt.SetString(n, "required", k.Required)
	}
	switch p := k.Key.(type) {
	case *rsa.PublicKey:
		bits := p.N.BitLen()
		fdt.SetU32(n, "rsa,num-bits", uint32(bits))
		fdt.SetU32(n, "rsa,n0-inverse", n0Inverse(p.N))
		fdt.SetCells(n, "rsa,exponent", 2, uint64(p.E))
		fdt.Set(n, "rsa,modulus", p.N.FillBytes(make([]byte, (bits+7)/8)))
		fdt.Set(n, "rsa,r-squared", rSquared(p.N).FillBytes(make([]byte, (bits+7)/8)))
	case *ecdsa.PublicKey:
		size := (p.Curve.Params().BitSize + 7) / 8
		curve := "prime256v1"
		if p.Curve == elliptic.P384() {
			curve = "secp384r1"
		}
		fdt.SetString(n, "ecdsa,curve", curve)
		fdt.Set(n, "ecdsa,x-point", p.X.FillBytes(make([]byte, size)))
		fdt.Set(n, "ecdsa,y-point", p.Y.FillBytes(make([]byte, size)))
	default:
		return fmt.Errorf("unsupported key type %T", k.Key)
	}
	return nil
}

// n0Inverse is -1/n mod 2^32, used by Montgomery verifiers in early boot code.
func n0Inverse(n *big.Int) uint32 {
	b := new(big.Int).Lsh(big.NewInt(1), 32)
	inv := new(big.Int).ModInverse(new(big.Int).Mod(n, b), b)
	if inv == nil {
		return 0
	}
	return uint32(new(big.Int).Sub(b, inv).Uint64())
}

// rSquared is (2^bits)^2 mod n.
func rSquared(n *big.Int) *big.Int {
	r := new(big.Int).Lsh(big.NewInt(1), uint(2*n.BitLen()))
	return r.Mod(r, n)
}
