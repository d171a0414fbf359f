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

// Package genesis is embedder-side tooling that turns an opaque JSON
// genesis description into an initial consensus.State cell. The core
// treats the result as just another State (spec.md non-goals exclude
// bootstrapping logic itself, not its input contract), so nothing under
// server/ imports this package.
package genesis

import (
	"bytes"
	"encoding/hex"
	"math/big"

	"github.com/ugorji/go/codec"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/pki"
)

// PeerEntry is one validator in the genesis description: its account
// key (hex-encoded compressed public key), advertised URL, and initial
// stake.
type PeerEntry struct {
	AccountKeyHex string `json:"accountKey"`
	URL           string `json:"url"`
	Stake         string `json:"stake"` // decimal, parsed into *big.Int
}

// Description is the embedder-supplied genesis document: the initial
// peer roster plus an opaque data blob the VM is free to interpret
// (account balances, contract code, whatever the application needs).
type Description struct {
	Peers []PeerEntry `json:"peers"`
	Data  []byte      `json:"data"`
}

// Decode parses a canonical JSON genesis description, grounded on
// hashgraph/root.go's use of ugorji/go/codec's JsonHandle in Canonical
// mode for deterministic decoding of a document containing maps.
func Decode(data []byte) (*Description, error) {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bytes.NewReader(data), jh)

	var desc Description
	if err := dec.Decode(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// BuildState turns a decoded Description into the initial
// consensus.State: one PeerStatus per roster entry, keyed by AccountKey,
// plus an opaque Data blob cell the VM is responsible for interpreting.
func BuildState(desc *Description) (*consensus.State, error) {
	peers := cell.EmptyMap()
	for _, pe := range desc.Peers {
		key, err := accountKeyFromHex(pe.AccountKeyHex)
		if err != nil {
			return nil, err
		}
		stake, ok := new(big.Int).SetString(pe.Stake, 10)
		if !ok {
			return nil, cell.BadFormatf("genesis: invalid stake %q for peer %s", pe.Stake, pe.AccountKeyHex)
		}
		status := consensus.NewPeerStatus(stake, pe.URL)
		peers = peers.Assoc(cell.RefOf(cell.NewBlob(key.Bytes())), cell.RefOf(status.Cell()))
	}

	data := cell.EmptyMap().
		Assoc(cell.RefOf(cell.NewBlob([]byte("genesis"))), cell.RefOf(cell.NewBlob(desc.Data)))

	return consensus.NewState(peers, data), nil
}

func accountKeyFromHex(hexStr string) (pki.AccountKey, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return pki.AccountKey{}, err
	}
	return pki.AccountKeyFromBytes(b)
}
