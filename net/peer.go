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
package net

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/mosaicnetworks/consilium/pki"
)

const bootstrapPeersFile = "bootstrap-peers.json"

// BootstrapPeer is one seed address a freshly starting peer dials before
// it has learned any roster from a consensus State (spec.md section 4.6,
// "beyond the peers advertised by the current consensus state" is out of
// scope, but an operator-supplied seed list to reach the *first* known
// peer is not). PubKeyHex is the seed's expected pki.AccountKey, checked
// by the challenge handshake in Connection.AcceptResponse.
type BootstrapPeer struct {
	NetAddr   string
	PubKeyHex string
}

// AccountKey decodes the seed's expected public key.
func (p *BootstrapPeer) AccountKey() (pki.AccountKey, error) {
	b, err := hex.DecodeString(p.PubKeyHex)
	if err != nil {
		return pki.AccountKey{}, err
	}
	return pki.AccountKeyFromBytes(b)
}

// BootstrapPeerStore provides persistent storage and retrieval of the
// seed address list a peer dials on startup.
type BootstrapPeerStore interface {
	Peers() ([]BootstrapPeer, error)
	SetPeers([]BootstrapPeer) error
}

// StaticBootstrapPeers is an in-memory BootstrapPeerStore, used by tests
// that don't want to touch disk.
type StaticBootstrapPeers struct {
	Peers_ []BootstrapPeer
	l      sync.Mutex
}

func (s *StaticBootstrapPeers) Peers() ([]BootstrapPeer, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return s.Peers_, nil
}

func (s *StaticBootstrapPeers) SetPeers(p []BootstrapPeer) error {
	s.l.Lock()
	defer s.l.Unlock()
	s.Peers_ = p
	return nil
}

// JSONBootstrapPeers persists the seed address list on disk as JSON, so
// an operator can edit it directly before a peer's first start.
type JSONBootstrapPeers struct {
	l    sync.Mutex
	path string
}

// NewJSONBootstrapPeers returns a store reading/writing
// bootstrap-peers.json under base.
func NewJSONBootstrapPeers(base string) *JSONBootstrapPeers {
	return &JSONBootstrapPeers{path: filepath.Join(base, bootstrapPeersFile)}
}

func (j *JSONBootstrapPeers) Peers() ([]BootstrapPeer, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}

	var peers []BootstrapPeer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (j *JSONBootstrapPeers) SetPeers(peers []BootstrapPeer) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peers); err != nil {
		return err
	}
	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}

// ExcludePeer removes addr from peers, returning its prior index (-1 if
// absent) and the filtered list.
func ExcludePeer(peers []BootstrapPeer, addr string) (int, []BootstrapPeer) {
	index := -1
	rest := make([]BootstrapPeer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != addr {
			rest = append(rest, p)
		} else {
			index = i
		}
	}
	return index, rest
}

// ByPubKey sorts []BootstrapPeer by PubKeyHex, giving every peer a
// deterministic dial order.
type ByPubKey []BootstrapPeer

func (a ByPubKey) Len() int           { return len(a) }
func (a ByPubKey) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByPubKey) Less(i, j int) bool { return a[i].PubKeyHex < a[j].PubKeyHex }
