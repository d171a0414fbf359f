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
package pki

import (
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

const (
	keyFileName = "priv_key.pem"
	pemBlockType = "SECP256K1 PRIVATE KEY"
)

// KeyFile reads and writes a peer's keypair to a PEM file on disk. This
// is embedder territory only: the core server never loads keys itself,
// per spec.md's scoping of keystore management out of the protocol.
type KeyFile struct {
	l    sync.Mutex
	path string
}

// NewKeyFile locates the keyfile under base, babble's NewPemKey layout.
func NewKeyFile(base string) *KeyFile {
	return &KeyFile{path: filepath.Join(base, keyFileName)}
}

// ReadKeyPair loads the keypair from disk, returning (nil, nil) if no
// keyfile exists yet.
func (f *KeyFile) ReadKeyPair() (*KeyPair, error) {
	f.l.Lock()
	defer f.l.Unlock()

	buf, err := ioutil.ReadFile(f.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, fmt.Errorf("pki: failed to decode PEM block from %s", f.path)
	}
	return KeyPairFromPrivateKeyBytes(block.Bytes)
}

// SaveKeyPair writes kp to disk, creating base if necessary.
func (f *KeyFile) SaveKeyPair(kp *KeyPair) error {
	f.l.Lock()
	defer f.l.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	block := &pem.Block{Type: pemBlockType, Bytes: kp.PrivateKeyBytes()}
	out, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()
	return pem.Encode(out, block)
}
