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
package genesis

import (
	"encoding/hex"
	"testing"

	"github.com/mosaicnetworks/consilium/pki"
)

func TestDecodeAndBuildState(t *testing.T) {
	kp, err := pki.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	keyHex := hex.EncodeToString(kp.PublicKeyBytes())

	doc := []byte(`{"peers":[{"accountKey":"` + keyHex + `","url":"127.0.0.1:1337","stake":"100"}],"data":"aGVsbG8="}`)

	desc, err := Decode(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(desc.Peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(desc.Peers))
	}

	state, err := BuildState(desc)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}

	peers, err := state.Peers(nil)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if peers.Count() != 1 {
		t.Fatalf("peer count = %d, want 1", peers.Count())
	}

	status, found, err := state.PeerStatusOf(kp.AccountKey(), nil)
	if err != nil {
		t.Fatalf("peer status of: %v", err)
	}
	if !found {
		t.Fatal("expected genesis peer to be found")
	}
	stake, err := status.Stake(nil)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if stake.Int64() != 100 {
		t.Fatalf("stake = %v, want 100", stake)
	}
}
