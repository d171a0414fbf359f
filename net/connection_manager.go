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
	"sync"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// challengeTokenSize is the random token length spec.md section 4.7
// requires ("a >= 120-byte random token").
const challengeTokenSize = 120

// ConnectionManager owns the live connection set and the outbound
// challenge handshake, grounded on node.Node's peer-connection map plus
// net/peer.go's roster bookkeeping, adapted to this domain's framed
// protocol and challenge state machine (spec.md section 4.7).
type ConnectionManager struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewConnectionManager returns an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{conns: make(map[string]*Connection)}
}

// Track registers c under its address, replacing (and returning) any
// prior connection at that address.
func (cm *ConnectionManager) Track(c *Connection) (previous *Connection, replaced bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	previous, replaced = cm.conns[c.Addr()]
	cm.conns[c.Addr()] = c
	return previous, replaced
}

// Remove drops the tracked connection at addr, if any.
func (cm *ConnectionManager) Remove(addr string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.conns, addr)
}

// Get returns the tracked connection at addr, if any.
func (cm *ConnectionManager) Get(addr string) (*Connection, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.conns[addr]
	return c, ok
}

// All returns a snapshot of every tracked connection.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*Connection, 0, len(cm.conns))
	for _, c := range cm.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg on every tracked connection (spec.md section 4.5,
// "the new signed Belief is pushed to every connection"), skipping and
// dropping connections whose Send fails rather than aborting the whole
// broadcast.
func (cm *ConnectionManager) Broadcast(msg Message) {
	for _, c := range cm.All() {
		if err := c.Send(msg); err != nil {
			cm.Remove(c.Addr())
		}
	}
}

// IssueChallenge generates a fresh random token, signs its hash with kp,
// records the outstanding challenge on c, and sends CHALLENGE(signed
// token) — the initiating half of spec.md section 4.7's handshake. The
// token is wrapped with cell.NewEmbedded rather than cell.RefOf so it
// always travels inline in the frame regardless of its size: a challenge
// token is a transient protocol value, never deep-stored, so there is
// nothing for a hash-only reference to resolve against.
func IssueChallenge(c *Connection, kp *pki.KeyPair, expectedPeer pki.AccountKey, msgID cell.Cell) error {
	token, err := pki.RandomBytes(challengeTokenSize)
	if err != nil {
		return err
	}
	signed := signToken(token, kp)

	c.MarkChallengeSent(token, expectedPeer.Bytes())
	return c.Send(Message{Type: TypeChallenge, ID: msgID, Payload: signed})
}

// RespondToChallenge signs the challenge token from a received CHALLENGE
// payload with kp and returns the RESPONSE message to send back.
func RespondToChallenge(token []byte, kp *pki.KeyPair, msgID cell.Cell) Message {
	return Message{Type: TypeResponse, ID: msgID, Payload: signToken(token, kp)}
}

func signToken(token []byte, kp *pki.KeyPair) *cell.Signed {
	hash := cell.HashOf(token)
	sig := kp.Sign(hash)
	return cell.NewSigned(cell.NewEmbedded(cell.NewBlob(token)), sig)
}
