// Copyright 2024 The CFS Authors.
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

package block

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrSignatureInvalid is returned by Verify when a signature does not
// match, and wraps into the capsule/middleware error taxonomy as
// Unauthenticated or PermissionDenied depending on which record failed.
var ErrSignatureInvalid = errors.New("block: signature verification failed")

// Signable is satisfied by every record type that carries a Signature
// field cleared before hashing/signing.
type Signable interface {
	Marshal() []byte
	clearedCopy() Signable
}

func (id Id) clearedCopy() Signable {
	id.Signature = nil
	return id
}

func (fb FsBlock) clearedCopy() Signable {
	fb.Signature = nil
	return fb
}

func (cb CapsuleBlock) clearedCopy() Signable {
	cb.Signature = nil
	return cb
}

// digest returns the SHA-256 digest of s with its signature field cleared.
func digest(s Signable) [32]byte {
	cleared := s.clearedCopy()
	return sha256.Sum256(cleared.Marshal())
}

// Hash returns the lowercase-hex SHA-256 digest of the canonical encoding
// of s, including s's current Signature field. This is used for content
// addressing: the hash of a CapsuleBlock (with its signature already set)
// is its address in the capsule.
func Hash(s Signable) string {
	sum := sha256.Sum256(s.Marshal())
	return hex.EncodeToString(sum[:])
}

// HashId, HashFsBlock, HashCapsuleBlock are typed convenience wrappers
// around Hash for the three signable record types.
func HashId(id *Id) string             { return Hash(*id) }
func HashFsBlock(fb *FsBlock) string    { return Hash(*fb) }
func HashCapsuleBlock(cb *CapsuleBlock) string { return Hash(*cb) }

// SignId clears id.Signature, computes a PKCS#1 v1.5 RSA/SHA-256 signature
// over the cleared encoding with key, and assigns it to id.Signature.
func SignId(id *Id, key *rsa.PrivateKey) error {
	id.Signature = nil
	sum := digest(*id)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		return fmt.Errorf("block: sign Id: %w", err)
	}
	id.Signature = sig
	return nil
}

// SignFsBlock signs fb with the client key that authored the write.
func SignFsBlock(fb *FsBlock, key *rsa.PrivateKey) error {
	fb.Signature = nil
	sum := digest(*fb)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		return fmt.Errorf("block: sign FsBlock: %w", err)
	}
	fb.Signature = sig
	return nil
}

// SignCapsuleBlock signs cb with the capsule server's key.
func SignCapsuleBlock(cb *CapsuleBlock, key *rsa.PrivateKey) error {
	cb.Signature = nil
	sum := digest(*cb)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		return fmt.Errorf("block: sign CapsuleBlock: %w", err)
	}
	cb.Signature = sig
	return nil
}

// VerifyId verifies id's self-signature against pub.
func VerifyId(id *Id, pub *rsa.PublicKey) error {
	sum := digest(*id)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], id.Signature); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyFsBlock verifies fb's signature against pub (the verifying key
// belonging to fb.UpdatedBy).
func VerifyFsBlock(fb *FsBlock, pub *rsa.PublicKey) error {
	sum := digest(*fb)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], fb.Signature); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyCapsuleBlock verifies cb's signature against pub (the capsule
// server's pinned verifying key).
func VerifyCapsuleBlock(cb *CapsuleBlock, pub *rsa.PublicKey) error {
	sum := digest(*cb)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], cb.Signature); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// ParsePublicKey parses a PKCS8-encoded SPKI PEM block (as embedded in
// Id.PubKey) into an RSA public key.
func ParsePublicKey(pemOrDER []byte) (*rsa.PublicKey, error) {
	der := pemOrDER
	if block, _ := pem.Decode(pemOrDER); block != nil {
		der = block.Bytes
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("block: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("block: parse public key: not an RSA key")
	}
	return rsaKey, nil
}
