/*
Copyright 2017 Mosaic Networks Ltd

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pki provides the keypair, signing and address-derivation
// primitives peers use to sign Orders and verify Beliefs (spec.md
// section 4.7).
package pki

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/consilium/cell"
)

// AccountKeySize is the length of a compressed secp256k1 public key.
const AccountKeySize = 33

// AccountKey identifies a peer by its public key directly, per spec.md
// section 6 ("accountKey(keyPair) -> publicKey"): Belief and PeerStatus
// maps are keyed by this value, and it doubles as the key Verify needs.
type AccountKey [AccountKeySize]byte

func (a AccountKey) Bytes() []byte {
	b := make([]byte, AccountKeySize)
	copy(b, a[:])
	return b
}

// AccountKeyFromBytes parses a compressed public key encoding into an
// AccountKey.
func AccountKeyFromBytes(b []byte) (AccountKey, error) {
	var a AccountKey
	if len(b) != AccountKeySize {
		return a, cell.BadFormatf("expected %d byte account key, got %d", AccountKeySize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// KeyPair is a peer's identity: a secp256k1 private key and its derived
// public key and AccountKey.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  *btcec.PublicKey
}

// GenerateKeyPair creates a fresh random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, cell.Internalf("generate keypair: %v", err)
	}
	return &KeyPair{priv: priv, pub: priv.PubKey()}, nil
}

// KeyPairFromPrivateKeyBytes reconstructs a KeyPair from a raw 32-byte
// secp256k1 scalar, as read from a keyfile.
func KeyPairFromPrivateKeyBytes(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, cell.BadFormatf("expected 32 byte private key, got %d", len(b))
	}
	priv, pub := btcec.PrivKeyFromBytes(btcec.S256(), b)
	return &KeyPair{priv: priv, pub: pub}, nil
}

// PrivateKeyBytes returns the raw 32-byte scalar, for persisting to a
// keyfile.
func (k *KeyPair) PrivateKeyBytes() []byte {
	return k.priv.Serialize()
}

// PublicKeyBytes returns the compressed public key encoding.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.pub.SerializeCompressed()
}

// AccountKey returns this keypair's AccountKey (its own public key).
func (k *KeyPair) AccountKey() AccountKey {
	var a AccountKey
	copy(a[:], k.PublicKeyBytes())
	return a
}

// Sign produces a detached DER signature over hash, typically a cell's
// identity hash (spec.md section 4.7: peers sign Order hashes).
func (k *KeyPair) Sign(hash cell.Hash) []byte {
	sig, err := k.priv.Sign(hash[:])
	if err != nil {
		// Only fails on malformed input; hash is always 32 bytes here.
		panic(err)
	}
	return sig.Serialize()
}

// Verify checks a detached DER signature over hash against a compressed
// public key encoding.
func Verify(pub []byte, hash cell.Hash, sig []byte) bool {
	pk, err := btcec.ParsePubKey(pub, btcec.S256())
	if err != nil {
		return false
	}
	parsed, err := btcec.ParseSignature(sig, btcec.S256())
	if err != nil {
		return false
	}
	return parsed.Verify(hash[:], pk)
}

// RandomBytes returns n cryptographically random bytes, used by the
// challenge-response handshake (spec.md section 4.7.1) for its ≥120-byte
// challenge tokens.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, cell.Internalf("read random bytes: %v", err)
	}
	return b, nil
}
