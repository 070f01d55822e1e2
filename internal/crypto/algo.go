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

// Package crypto signs and verifies boot images, and holds the public keys
// the boot loader trusts.
package crypto

import (
	"crypto"
	"errors"
	"fmt"
	"hash"
	"strings"

	// Register the digests used by hash and signature nodes.
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

var (
	// ErrBadSignature is returned when a signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrUnknownAlgo is returned for unsupported algorithm names.
	ErrUnknownAlgo = errors.New("unknown signature algorithm")
	// ErrUnknownKey is returned when no trusted key matches a hint.
	ErrUnknownKey = errors.New("no matching key")
)

// KeyType is the public key scheme of an algorithm.
type KeyType int

const (
	RSA KeyType = iota
	ECDSA
)

// Padding names used in image signature nodes.
const (
	PaddingPKCS15 = "pkcs-1.5"
	PaddingPSS    = "pss"
)

// Algo is a checksum and key combination such as "sha256,rsa2048".
type Algo struct {
	Name     string
	Checksum string
	Hash     crypto.Hash
	Type     KeyType
	Bits     int
}

var algos = []Algo{
	{"sha1,rsa2048", "sha1", crypto.SHA1, RSA, 2048},
	{"sha256,rsa2048", "sha256", crypto.SHA256, RSA, 2048},
	{"sha256,rsa3072", "sha256", crypto.SHA256, RSA, 3072},
	{"sha256,rsa4096", "sha256", crypto.SHA256, RSA, 4096},
	{"sha384,rsa4096", "sha384", crypto.SHA384, RSA, 4096},
	{"sha512,rsa4096", "sha512", crypto.SHA512, RSA, 4096},
	{"sha256,ecdsa256", "sha256", crypto.SHA256, ECDSA, 256},
	{"sha384,ecdsa384", "sha384", crypto.SHA384, ECDSA, 384},
}

// ParseAlgo looks up an algorithm by its image-node name.
func ParseAlgo(name string) (Algo, error) {
	for _, a := range algos {
		if a.Name == name {
			return a, nil
		}
	}
	return Algo{}, fmt.Errorf("%w %q", ErrUnknownAlgo, name)
}

// AlgoFor returns the algorithm matching a checksum and key.
func AlgoFor(checksum string, k *PublicKey) (Algo, error) {
	name := fmt.Sprintf("%s,%s%d", checksum, strings.ToLower(k.Type().String()), k.Bits())
	return ParseAlgo(name)
}

func (t KeyType) String() string {
	if t == ECDSA {
		return "ECDSA"
	}
	return "RSA"
}

// Digest hashes the concatenation of regions.
func Digest(h crypto.Hash, regions ...[]byte) []byte {
	d := h.New()
	for _, r := range regions {
		d.Write(r)
	}
	return d.Sum(nil)
}

// NewHash returns a hash for an image hash node algo name. crc32 is handled
// by the caller since it is not a crypto.Hash.
func NewHash(name string) (hash.Hash, error) {
	switch name {
	case "md5":
		return crypto.MD5.New(), nil
	case "sha1":
		return crypto.SHA1.New(), nil
	case "sha256":
		return crypto.SHA256.New(), nil
	case "sha384":
		return crypto.SHA384.New(), nil
	case "sha512":
		return crypto.SHA512.New(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAlgo, name)
}
