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
package server

import (
	"math/big"
	"testing"
	"time"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/config"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/store"
)

// echoVM mirrors consensus' own test double: it returns the submitted
// form as the result value and never mutates state.
type echoVM struct{}

func (echoVM) Execute(form cell.Cell, _ pki.AccountKey, state *consensus.State) (*consensus.State, consensus.Result) {
	return state, consensus.Result{Value: form}
}

func genesisWith(kps ...*pki.KeyPair) *consensus.State {
	peers := cell.EmptyMap()
	for _, kp := range kps {
		peers = peers.Assoc(
			cell.RefOf(cell.NewBlob(kp.AccountKey().Bytes())),
			cell.RefOf(consensus.NewPeerStatus(big.NewInt(1), "local").Cell()),
		)
	}
	return consensus.NewState(peers, cell.EmptyMap())
}

// newTestServer builds a Server around an in-memory store, returning it
// along with the client-side half of an in-memory wire connected to it.
func newTestServer(t *testing.T, kp *pki.KeyPair, genesis *consensus.State) (*Server, *net.Connection) {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.KeyPair = kp
	cfg.Store = store.NewMemStore()
	cfg.Genesis = genesis
	cfg.VM = echoVM{}

	localAddr, localTransport := net.NewInmemTransport("")
	remoteAddr, remoteTransport := net.NewInmemTransport("")
	localTransport.Connect(remoteAddr, remoteTransport)
	remoteTransport.Connect(localAddr, localTransport)

	s, err := NewServer(cfg, localTransport)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	conn, err := remoteTransport.Dial(localAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return s, conn
}

// txVector builds a TRANSACT payload: [hash-of-tx, signed-tx, address],
// address being the account key the submitter claims signed the
// transaction (spec.md section 4.5's dispatch rule verifies the
// transaction's own signature against its claimed sender, independent
// of the connection's handshake state).
func txVector(t *testing.T, signed *cell.Signed, address pki.AccountKey) cell.Vector {
	t.Helper()
	v := cell.EmptyVector()
	v, err := cell.Append(v, cell.NewEmbedded(cell.NewBlob(signed.Value().Hash().Bytes())), nil)
	if err != nil {
		t.Fatalf("append id: %v", err)
	}
	v, err = cell.Append(v, cell.RefOf(signed), nil)
	if err != nil {
		t.Fatalf("append tx: %v", err)
	}
	v, err = cell.Append(v, cell.NewEmbedded(cell.NewBlob(address.Bytes())), nil)
	if err != nil {
		t.Fatalf("append address: %v", err)
	}
	return v
}

func TestHandleTransactAdmitsSignedTransaction(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	client, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp, client)
	s, conn := newTestServer(t, kp, genesis)
	// conn is left Untrusted: TRANSACT admission gates on the
	// transaction's own signature, not on connection handshake state.

	tx := consensus.NewTransaction([]byte("(+ 1 2)"), client)
	msg := net.Message{Type: net.TypeTransact, ID: cell.NewLong(1), Payload: txVector(t, tx, client.AccountKey())}

	if err := s.dispatch(conn, msg); err != nil {
		t.Fatalf("dispatch transact: %v", err)
	}

	pending := s.takeTransactions()
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued transaction, got %d", len(pending))
	}
	if s.interests.Len() != 1 {
		t.Fatalf("expected 1 interest registered, got %d", s.interests.Len())
	}
}

func TestHandleTransactRejectsMismatchedSigner(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	client, _ := pki.GenerateKeyPair()
	impostor, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp, client, impostor)
	s, conn := newTestServer(t, kp, genesis)

	tx := consensus.NewTransaction([]byte("(+ 1 2)"), client)
	// Claim the transaction was signed by impostor instead of client: the
	// signature was produced by client's key, so it will not verify
	// against impostor's.
	msg := net.Message{Type: net.TypeTransact, ID: cell.NewLong(1), Payload: txVector(t, tx, impostor.AccountKey())}

	if err := s.dispatch(conn, msg); err != nil {
		t.Fatalf("dispatch transact: %v", err)
	}
	if len(s.takeTransactions()) != 0 {
		t.Fatal("expected transaction to be rejected, not queued")
	}
}

func TestTickProposesMergesAndReportsResult(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	client, _ := pki.GenerateKeyPair()
	// Only kp holds stake, so its own Order is a majority on its own and
	// the proposed block reaches consensus within one tick; client only
	// signs the transaction.
	genesis := genesisWith(kp)
	s, conn := newTestServer(t, kp, genesis)

	tx := consensus.NewTransaction([]byte("(+ 1 2)"), client)
	msg := net.Message{Type: net.TypeTransact, ID: cell.NewLong(7), Payload: txVector(t, tx, client.AccountKey())}
	if err := s.dispatch(conn, msg); err != nil {
		t.Fatalf("dispatch transact: %v", err)
	}

	s.tick()

	if s.interests.Len() != 0 {
		t.Fatalf("expected interest to be resolved after tick, got %d remaining", s.interests.Len())
	}
}

func TestHandleQueryReturnsResultWithoutMutatingState(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp)
	s, conn := newTestServer(t, kp, genesis)

	v := cell.EmptyVector()
	v, _ = cell.Append(v, cell.NewEmbedded(cell.NewLong(1)), nil)
	v, _ = cell.Append(v, cell.NewEmbedded(cell.NewBlob([]byte("(balance)"))), nil)
	v, _ = cell.Append(v, cell.NewEmbedded(cell.NewBlob(kp.AccountKey().Bytes())), nil)

	before := s.Peer().State
	if err := s.dispatch(conn, net.Message{Type: net.TypeQuery, ID: cell.NewLong(2), Payload: v}); err != nil {
		t.Fatalf("dispatch query: %v", err)
	}
	if s.Peer().State != before {
		t.Fatal("query must not mutate Peer state")
	}
}

func TestHandleStatusRepliesWithEmbeddedHashes(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp)
	s, conn := newTestServer(t, kp, genesis)

	if err := s.dispatch(conn, net.Message{Type: net.TypeStatus, ID: cell.NewLong(3)}); err != nil {
		t.Fatalf("dispatch status: %v", err)
	}

	// Build the same shape handleStatus would, directly, and check every
	// value ref embeds regardless of its encoded size: these maps are
	// never persisted, so a RefResolved child would be unresolvable on
	// the wire.
	p := s.Peer()
	status := cell.EmptyMap().
		Assoc(keyRef("beliefHash"), embeddedRef(cell.NewBlob(p.Belief.Hash().Bytes()))).
		Assoc(keyRef("stateHash"), embeddedRef(cell.NewBlob(p.State.Hash().Bytes())))

	ref, ok := status.Get(cell.NewBlob([]byte("beliefHash")))
	if !ok {
		t.Fatal("expected beliefHash entry")
	}
	if !ref.Embedded() {
		t.Fatal("expected beliefHash value to be embedded regardless of size")
	}
}

func TestEncodeResultEmbedsValueRegardlessOfSize(t *testing.T) {
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	m := encodeResult(consensus.Result{Value: cell.NewBlob(payload)})
	ref, ok := m.Get(cell.NewBlob([]byte("value")))
	if !ok {
		t.Fatal("expected a value entry")
	}
	if !ref.Embedded() {
		t.Fatal("expected RESULT value ref to be embedded regardless of size")
	}
}

func TestEncodeErrorResultEmbedsMessage(t *testing.T) {
	m := encodeErrorResult("bad signature")
	ref, ok := m.Get(cell.NewBlob([]byte("error")))
	if !ok {
		t.Fatal("expected an error entry")
	}
	if !ref.Embedded() {
		t.Fatal("expected RESULT error ref to be embedded")
	}
}

func TestParkAndRequestParksThenReplaysOnData(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	client, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp, client)
	s, conn := newTestServer(t, kp, genesis)

	tx := consensus.NewTransaction([]byte("(+ 1 2)"), client)
	msg := net.Message{Type: net.TypeTransact, ID: cell.NewLong(11), Payload: txVector(t, tx, client.AccountKey())}

	missing := cell.MissingData(cell.HashOfCell(tx))
	if err := s.parkAndRequest(conn, msg, missing); err != nil {
		t.Fatalf("park and request: %v", err)
	}
	if s.partialMessages.Len() != 1 {
		t.Fatalf("expected 1 parked message, got %d", s.partialMessages.Len())
	}

	// Persisting the transaction and re-dispatching the parked message
	// should now clear partialMessages and admit the transaction.
	if _, err := s.ctx.Persist(tx, store.Deep); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s.handleData(conn, net.Message{Type: net.TypeData, Payload: tx}); err != nil {
		t.Fatalf("handle data: %v", err)
	}
	if s.partialMessages.Len() != 0 {
		t.Fatalf("expected parked message to be cleared, got %d remaining", s.partialMessages.Len())
	}
	if len(s.takeTransactions()) != 1 {
		t.Fatal("expected replayed TRANSACT to be admitted")
	}
}

func TestBoundedMapEvictsOldestOnOverflow(t *testing.T) {
	bm := NewBoundedMap(2)
	var h1, h2, h3 cell.Hash
	h1[0], h2[0], h3[0] = 1, 2, 3
	bm.Set(h1, "a")
	bm.Set(h2, "b")
	bm.Set(h3, "c")
	if bm.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", bm.Len())
	}
	if _, ok := bm.Get(h1); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
}

func TestHandleBeliefQueuesForMerge(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	remote, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp, remote)
	s, conn := newTestServer(t, kp, genesis)

	remotePeer, err := consensus.NewGenesisPeer(remote, genesis, time.Now().Unix())
	if err != nil {
		t.Fatalf("remote genesis peer: %v", err)
	}

	if err := s.dispatch(conn, net.Message{
		Type:    net.TypeBelief,
		ID:      cell.NewLong(5),
		Payload: remotePeer.SignedBelief,
	}); err != nil {
		t.Fatalf("dispatch belief: %v", err)
	}

	beliefs := s.takeBeliefs()
	if len(beliefs) != 1 {
		t.Fatalf("expected 1 queued belief, got %d", len(beliefs))
	}
}
