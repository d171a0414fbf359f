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
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/mosaicnetworks/consilium/cell"
)

// NewInmemAddr returns a random address for use with InmemTransport,
// for tests that don't care what the address looks like.
func NewInmemAddr() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
}

// InmemTransport is a process-local Transport used by tests, grounded on
// net.InmemTransport's routing-by-address-through-a-shared-registry
// pattern: rather than real sockets, connected transports exchange
// frames over in-process io.Pipe pairs.
type InmemTransport struct {
	localAddr string
	consumer  chan Inbound

	mu    sync.Mutex
	peers map[string]*InmemTransport
	conns map[string]*Connection

	shutdownWg sync.WaitGroup
}

// NewInmemTransport creates a transport bound to addr, generating a
// random address if addr is empty.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	t := &InmemTransport{
		localAddr: addr,
		consumer:  make(chan Inbound, 1024),
		peers:     make(map[string]*InmemTransport),
		conns:     make(map[string]*Connection),
	}
	return addr, t
}

// Connect registers two transports as mutually reachable, allowing
// either to Dial the other's address.
func (t *InmemTransport) Connect(peerAddr string, peer *InmemTransport) {
	t.mu.Lock()
	t.peers[peerAddr] = peer
	t.mu.Unlock()
}

// Disconnect removes the route to peerAddr, closing any connection
// dialed to it.
func (t *InmemTransport) Disconnect(peerAddr string) {
	t.mu.Lock()
	delete(t.peers, peerAddr)
	c, ok := t.conns[peerAddr]
	delete(t.conns, peerAddr)
	t.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (t *InmemTransport) Consumer() <-chan Inbound { return t.consumer }
func (t *InmemTransport) LocalAddr() string        { return t.localAddr }

// pipeRWC joins a separately owned reader and writer into a single
// io.ReadWriteCloser, the shape Connection expects.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	p.r.Close()
	return p.w.Close()
}

// Dial connects to addr, creating a fresh pair of io.Pipes if this is
// the first dial between the two transports, and starts a read loop on
// each end feeding the owning transport's Consumer channel.
func (t *InmemTransport) Dial(addr string) (*Connection, error) {
	t.mu.Lock()
	if c, ok := t.conns[addr]; ok {
		t.mu.Unlock()
		return c, nil
	}
	peer, ok := t.peers[addr]
	t.mu.Unlock()
	if !ok {
		return nil, cell.Internalf("inmem transport: unknown peer %s", addr)
	}

	aToBR, aToBW := io.Pipe()
	bToAR, bToAW := io.Pipe()

	local := NewConnection(addr, &pipeRWC{r: bToAR, w: aToBW})
	remote := NewConnection(t.localAddr, &pipeRWC{r: aToBR, w: bToAW})

	t.mu.Lock()
	t.conns[addr] = local
	t.mu.Unlock()
	peer.mu.Lock()
	peer.conns[t.localAddr] = remote
	peer.mu.Unlock()

	t.shutdownWg.Add(1)
	go t.readLoop(local)
	peer.shutdownWg.Add(1)
	go peer.readLoop(remote)

	return local, nil
}

func (t *InmemTransport) readLoop(c *Connection) {
	defer t.shutdownWg.Done()
	for {
		msg, err := ReadFrame(c.rwc)
		if err != nil {
			c.Close()
			return
		}
		t.consumer <- Inbound{Conn: c, Msg: msg}
	}
}

// Close closes every connection dialed or accepted by this transport.
func (t *InmemTransport) Close() error {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.peers = make(map[string]*InmemTransport)
	t.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return nil
}
