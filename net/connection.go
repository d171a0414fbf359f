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
	"io"
	"sync"
)

// Connection wraps one peer link: a frame writer/closer plus the trust
// handshake state spec.md section 4.7 attaches to every outbound
// connection.
type Connection struct {
	mu sync.Mutex

	addr string
	rwc  io.ReadWriteCloser

	trust          TrustState
	expectedPeer   []byte // public key we expect CHALLENGE's RESPONSE to be signed by
	challengeToken []byte
}

// NewConnection wraps rwc as a Connection to addr.
func NewConnection(addr string, rwc io.ReadWriteCloser) *Connection {
	return &Connection{addr: addr, rwc: rwc, trust: Untrusted}
}

// Addr returns the remote address this connection was dialed or
// accepted on.
func (c *Connection) Addr() string { return c.addr }

// Send writes one frame, serializing concurrent writers.
func (c *Connection) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.rwc, m)
}

// Close closes the underlying link.
func (c *Connection) Close() error {
	return c.rwc.Close()
}

// ExpectedPeer returns the public key a pending challenge expects the
// RESPONSE to be signed by, recorded by MarkChallengeSent.
func (c *Connection) ExpectedPeer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expectedPeer
}

// TrustState returns the connection's current handshake state.
func (c *Connection) TrustState() TrustState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trust
}

// MarkChallengeSent records the token we expect echoed back, signed by
// expectedPeer's key, and advances the state to CHALLENGE_SENT.
func (c *Connection) MarkChallengeSent(token, expectedPeer []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challengeToken = token
	c.expectedPeer = expectedPeer
	c.trust = ChallengeSent
}

// AcceptResponse checks a RESPONSE's token and signer against what was
// recorded by MarkChallengeSent, per spec.md section 4.7: acceptance
// requires the token to match the outstanding challenge and the signer
// key to equal the expected peer key. On acceptance the connection is
// marked TRUSTED and the token cleared; otherwise state is unchanged.
func (c *Connection) AcceptResponse(token, signerPub []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trust != ChallengeSent {
		return false
	}
	if !bytes.Equal(token, c.challengeToken) || !bytes.Equal(signerPub, c.expectedPeer) {
		return false
	}
	c.trust = Trusted
	c.challengeToken = nil
	return true
}
