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
	"testing"
	"time"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := Message{
		Type:    TypeTransact,
		ID:      cell.NewLong(42),
		Payload: cell.NewBlob([]byte("hello")),
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Type != TypeTransact {
		t.Fatalf("type = %v, want TRANSACT", got.Type)
	}
	id, ok := got.ID.(*cell.Long)
	if !ok || id.Value() != 42 {
		t.Fatalf("id = %#v, want Long(42)", got.ID)
	}
	payload, ok := got.Payload.(*cell.Blob)
	if !ok || !bytes.Equal(payload.Bytes(), []byte("hello")) {
		t.Fatalf("payload = %#v, want Blob(hello)", got.Payload)
	}
}

func TestInmemTransportDialDelivers(t *testing.T) {
	addrA, a := NewInmemTransport("a")
	addrB, b := NewInmemTransport("b")
	a.Connect(addrB, b)
	b.Connect(addrA, a)

	conn, err := a.Dial(addrB)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	msg := Message{
		Type:    TypeStatus,
		ID:      cell.NewLong(1),
		Payload: cell.NewBlob([]byte("ping")),
	}
	if err := conn.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case in := <-b.Consumer():
		if in.Msg.Type != TypeStatus {
			t.Fatalf("got type %v, want STATUS", in.Msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	a.Close()
	b.Close()
}

func TestConnectionChallengeHandshake(t *testing.T) {
	conn := NewConnection("peer", &pipeRWC{})
	if conn.TrustState() != Untrusted {
		t.Fatalf("initial state = %v, want Untrusted", conn.TrustState())
	}

	token := []byte("token-1")
	expectedKey := []byte("pubkey-1")
	conn.MarkChallengeSent(token, expectedKey)
	if conn.TrustState() != ChallengeSent {
		t.Fatalf("state after challenge = %v, want ChallengeSent", conn.TrustState())
	}

	if conn.AcceptResponse([]byte("wrong-token"), expectedKey) {
		t.Fatal("accepted response with wrong token")
	}
	if conn.TrustState() != ChallengeSent {
		t.Fatal("state changed after rejected response")
	}

	if !conn.AcceptResponse(token, expectedKey) {
		t.Fatal("rejected valid response")
	}
	if conn.TrustState() != Trusted {
		t.Fatalf("state after accepted response = %v, want Trusted", conn.TrustState())
	}
}

func TestIssueChallengeAndRespond(t *testing.T) {
	kpLocal, err := pki.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate local keypair: %v", err)
	}
	kpRemote, err := pki.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate remote keypair: %v", err)
	}

	var buf bytes.Buffer
	conn := NewConnection("remote", &loopbackRWC{buf: &buf})

	if err := IssueChallenge(conn, kpLocal, kpRemote.AccountKey(), cell.NewLong(1)); err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	sent, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read challenge frame: %v", err)
	}
	if sent.Type != TypeChallenge {
		t.Fatalf("type = %v, want CHALLENGE", sent.Type)
	}
	signed, ok := sent.Payload.(*cell.Signed)
	if !ok {
		t.Fatalf("payload = %#v, want *cell.Signed", sent.Payload)
	}
	tokenCell, err := signed.Value().Value(nil)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}

	// Remote signs the same token and responds.
	tokenBlob := tokenCell.(*cell.Blob)
	resp := RespondToChallenge(tokenBlob.Bytes(), kpRemote, cell.NewLong(1))
	respSigned := resp.Payload.(*cell.Signed)
	sig := respSigned.Signature()

	if !conn.AcceptResponse(tokenBlob.Bytes(), kpRemote.PublicKeyBytes()) {
		t.Fatal("expected response to be accepted")
	}
	if !pki.Verify(kpRemote.PublicKeyBytes(), cell.HashOf(tokenBlob.Bytes()), sig) {
		t.Fatal("expected signature to verify")
	}
}

// loopbackRWC is a bare io.Writer-backed stub used where a Connection
// needs something to Send into but the test only inspects what was
// written.
type loopbackRWC struct {
	buf *bytes.Buffer
}

func (l *loopbackRWC) Read(p []byte) (int, error)  { return l.buf.Read(p) }
func (l *loopbackRWC) Write(p []byte) (int, error) { return l.buf.Write(p) }
func (l *loopbackRWC) Close() error                { return nil }
