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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Key requirement levels stored in the control FDT.
const (
	RequiredImage = "image"
	RequiredConf  = "conf"
)

// PublicKey is a trusted verification key.
type PublicKey struct {
	// Name matches the key-name-hint of signature nodes.
	Name string
	// Required is "", RequiredImage or RequiredConf.
	Required string
	Key      crypto.PublicKey
}

// Type reports the key scheme.
func (k *PublicKey) Type() KeyType {
	if _, ok := k.Key.(*ecdsa.PublicKey); ok {
		return ECDSA
	}
	return RSA
}

// Bits reports the key size.
func (k *PublicKey) Bits() int {
	switch p := k.Key.(type) {
	case *rsa.PublicKey:
		return p.N.BitLen()
	case *ecdsa.PublicKey:
		return p.Curve.Params().BitSize
	}
	return 0
}

// Verify checks sig over the concatenation of regions.
func (k *PublicKey) Verify(a Algo, padding string, sig []byte, regions ...[]byte) error {
	if a.Type != k.Type() {
		return fmt.Errorf("key %q is %v, algorithm %s wants %v", k.Name, k.Type(), a.Name, a.Type)
	}
	digest := Digest(a.Hash, regions...)
	switch p := k.Key.(type) {
	case *rsa.PublicKey:
		var err error
		if padding == PaddingPSS {
			err = rsa.VerifyPSS(p, a.Hash, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		} else {
			err = rsa.VerifyPKCS1v15(p, a.Hash, digest, sig)
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", k.Name, ErrBadSignature)
		}
	case *ecdsa.PublicKey:
		size := (p.Curve.Params().BitSize + 7) / 8
		if len(sig) != 2*size {
			return fmt.Errorf("key %q: signature is %d bytes, want %d: %w", k.Name, len(sig), 2*size, ErrBadSignature)
		}
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if !ecdsa.Verify(p, digest, r, s) {
			return fmt.Errorf("key %q: %w", k.Name, ErrBadSignature)
		}
	default:
		return fmt.Errorf("key %q has unsupported type %T", k.Name, k.Key)
	}
	return nil
}

// PrivateKey signs images.
type PrivateKey struct {
	Name   string
	Signer crypto.Signer
}

// GenerateKey creates a fresh key for the given algorithm.
func GenerateKey(name string, a Algo) (*PrivateKey, error) {
	var s crypto.Signer
	var err error
	switch a.Type {
	case RSA:
		s, err = rsa.GenerateKey(rand.Reader, a.Bits)
	case ECDSA:
		var c elliptic.Curve
		if c, err = curveForBits(a.Bits); err == nil {
			s, err = ecdsa.GenerateKey(c, rand.Reader)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", a.Name, err)
	}
	return &PrivateKey{Name: name, Signer: s}, nil
}

// Public returns the verification half with the given requirement level.
func (k *PrivateKey) Public(required string) *PublicKey {
	return &PublicKey{Name: k.Name, Required: required, Key: k.Signer.Public()}
}

// Sign signs the concatenation of regions. ECDSA signatures are returned as
// fixed-width r||s rather than ASN.1.
func (k *PrivateKey) Sign(a Algo, padding string, regions ...[]byte) ([]byte, error) {
	digest := Digest(a.Hash, regions...)
	var opts crypto.SignerOpts = a.Hash
	if _, ok := k.Signer.Public().(*rsa.PublicKey); ok && padding == PaddingPSS {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: a.Hash}
	}
	sig, err := k.Signer.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, fmt.Errorf("key %q: failed to sign: %w", k.Name, err)
	}
	if p, ok := k.Signer.Public().(*ecdsa.PublicKey); ok {
		return rawECDSA(sig, (p.Curve.Params().BitSize+7)/8)
	}
	return sig, nil
}

func rawECDSA(der []byte, size int) ([]byte, error) {
	var r, s big.Int
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(&r) || !inner.ReadASN1Integer(&s) || !inner.Empty() {
		return nil, fmt.Errorf("malformed ECDSA signature")
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

func curveForBits(bits int) (elliptic.Curve, error) {
	switch bits {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	}
	return nil, fmt.Errorf("no curve of %d bits", bits)
}

// ParsePrivateKeyPEM reads a PKCS#1, SEC1 or PKCS#8 private key.
func ParsePrivateKeyPEM(name string, b []byte) (*PrivateKey, error) {
	block, rest := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("pem decoded to nil")
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("extraneous data: %v", rest)
	}
	var key any
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("private key is of the wrong type %s", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return &PrivateKey{Name: name, Signer: s}, nil
}

// MarshalPrivateKeyPEM writes a key in PKCS#8 form.
func MarshalPrivateKeyPEM(k *PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key %q: %w", k.Name, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePublicKeyPEM reads a PKCS#1 RSA or PKIX public key.
func ParsePublicKeyPEM(name string, b []byte) (*PublicKey, error) {
	block, rest := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("pem decoded to nil")
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("extraneous data: %v", rest)
	}
	var key any
	var err error
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("public key is of the wrong type %s", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse public key: %w", err)
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("unsupported public key type %T", key)
	}
	return &PublicKey{Name: name, Key: key}, nil
}
