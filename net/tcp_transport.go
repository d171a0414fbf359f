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
	gonet "net"
	"sync"
)

// TCPTransport is the real network Transport: a TCP listener accepting
// inbound connections plus a pool of outbound ones, framing every
// message with WriteFrame/ReadFrame. Grounded on NetworkTransport's
// listener-plus-connection-pool shape in net/tls_transport.go, minus
// TLS: spec.md section 6 notes framing is independent of TLS/
// authentication, trust being established by the challenge handshake
// instead.
type TCPTransport struct {
	localAddr string
	listener  gonet.Listener
	consumer  chan Inbound

	mu    sync.Mutex
	conns map[string]*Connection

	shutdown   chan struct{}
	shutdownWg sync.WaitGroup
}

// NewTCPTransport starts listening on bindAddr and returns the resulting
// transport.
func NewTCPTransport(bindAddr string) (*TCPTransport, error) {
	ln, err := gonet.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	t := &TCPTransport{
		localAddr: ln.Addr().String(),
		listener:  ln,
		consumer:  make(chan Inbound, 1024),
		conns:     make(map[string]*Connection),
		shutdown:  make(chan struct{}),
	}
	t.shutdownWg.Add(1)
	go t.acceptLoop()
	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.shutdownWg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				continue
			}
		}
		c := NewConnection(conn.RemoteAddr().String(), conn)
		t.trackConn(c)
		t.shutdownWg.Add(1)
		go t.readLoop(c)
	}
}

func (t *TCPTransport) trackConn(c *Connection) {
	t.mu.Lock()
	t.conns[c.Addr()] = c
	t.mu.Unlock()
}

func (t *TCPTransport) readLoop(c *Connection) {
	defer t.shutdownWg.Done()
	for {
		msg, err := ReadFrame(c.rwc)
		if err != nil {
			c.Close()
			return
		}
		select {
		case t.consumer <- Inbound{Conn: c, Msg: msg}:
		case <-t.shutdown:
			return
		}
	}
}

func (t *TCPTransport) Consumer() <-chan Inbound { return t.consumer }

func (t *TCPTransport) LocalAddr() string { return t.localAddr }

// Dial opens an outbound connection to addr, reusing an existing one if
// already present.
func (t *TCPTransport) Dial(addr string) (*Connection, error) {
	t.mu.Lock()
	if c, ok := t.conns[addr]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	conn, err := gonet.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := NewConnection(addr, conn)
	t.trackConn(c)
	t.shutdownWg.Add(1)
	go t.readLoop(c)
	return c, nil
}

func (t *TCPTransport) Close() error {
	close(t.shutdown)
	err := t.listener.Close()
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	t.shutdownWg.Wait()
	return err
}
