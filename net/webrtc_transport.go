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
	"fmt"
	"sync"
	"time"

	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// WebRTCTransport is a second Transport implementation, proving
// Transport is genuinely pluggable the way store.LevelStore does for
// Store: connections are WebRTC data channels negotiated through an
// external signal rather than dialed sockets, so two peers behind NAT
// can still exchange frames. Grounded on
// src/net/webrtc_stream_layer.go's PeerConnection/DataChannel handling,
// collapsed directly onto this module's Connection/Transport shape
// instead of the teacher's separate StreamLayer/net.Conn/net.Listener
// abstractions.
type WebRTCTransport struct {
	signal sdpSignal
	logger *logrus.Entry

	consumer chan Inbound

	mu              sync.Mutex
	peerConnections map[string]*webrtc.PeerConnection
	conns           map[string]*Connection

	dialTimeout time.Duration
	shutdownWg  sync.WaitGroup
	closed      chan struct{}
}

// NewWebRTCTransport starts listening for signaled offers through
// signal and returns the resulting transport.
func NewWebRTCTransport(signal sdpSignal, logger *logrus.Entry) *WebRTCTransport {
	t := &WebRTCTransport{
		signal:          signal,
		logger:          logger,
		consumer:        make(chan Inbound, 1024),
		peerConnections: make(map[string]*webrtc.PeerConnection),
		conns:           make(map[string]*Connection),
		dialTimeout:     30 * time.Second,
		closed:          make(chan struct{}),
	}
	t.shutdownWg.Add(1)
	go t.listen()
	return t
}

func (t *WebRTCTransport) listen() {
	defer t.shutdownWg.Done()
	go t.signal.Listen()
	consumer := t.signal.Consumer()
	for {
		select {
		case offer, ok := <-consumer:
			if !ok {
				return
			}
			go t.handleOffer(offer)
		case <-t.closed:
			return
		}
	}
}

func (t *WebRTCTransport) handleOffer(p offerPromise) {
	connCh := make(chan datachannel.ReadWriteCloser, 1)
	pc, err := t.newPeerConnection(connCh, false)
	if err != nil {
		p.RespChan <- offerPromiseResponse{Error: err}
		return
	}
	if err := pc.SetRemoteDescription(p.Offer); err != nil {
		p.RespChan <- offerPromiseResponse{Error: err}
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		p.RespChan <- offerPromiseResponse{Error: err}
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		p.RespChan <- offerPromiseResponse{Error: err}
		return
	}

	t.mu.Lock()
	t.peerConnections[p.From] = pc
	t.mu.Unlock()
	p.RespChan <- offerPromiseResponse{Answer: &answer}

	select {
	case dc := <-connCh:
		t.acceptDataChannel(p.From, dc)
	case <-time.After(t.dialTimeout):
		t.logger.WithField("peer", p.From).Error("data channel never opened after answering offer")
	}
}

// newPeerConnection creates a PeerConnection with detached data
// channels piped into connCh: one of our own making when
// createDataChannel is set (we are the dialer), or whatever the remote
// opens otherwise (we are answering).
func (t *WebRTCTransport) newPeerConnection(connCh chan datachannel.ReadWriteCloser, createDataChannel bool) (*webrtc.PeerConnection, error) {
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.WithField("state", state.String()).Debug("ICE connection state changed")
	})

	if createDataChannel {
		dc, err := pc.CreateDataChannel("consilium", nil)
		if err != nil {
			return nil, err
		}
		t.pipeDataChannel(dc, connCh)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.pipeDataChannel(dc, connCh)
		})
	}
	return pc, nil
}

func (t *WebRTCTransport) pipeDataChannel(dc *webrtc.DataChannel, connCh chan datachannel.ReadWriteCloser) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			t.logger.WithError(err).Error("detach data channel")
			return
		}
		connCh <- raw
	})
}

func (t *WebRTCTransport) acceptDataChannel(addr string, dc datachannel.ReadWriteCloser) {
	c := NewConnection(addr, dc)
	t.mu.Lock()
	t.conns[addr] = c
	t.mu.Unlock()
	t.shutdownWg.Add(1)
	go t.readLoop(c)
}

func (t *WebRTCTransport) readLoop(c *Connection) {
	defer t.shutdownWg.Done()
	for {
		msg, err := ReadFrame(c.rwc)
		if err != nil {
			c.Close()
			return
		}
		select {
		case t.consumer <- Inbound{Conn: c, Msg: msg}:
		case <-t.closed:
			return
		}
	}
}

func (t *WebRTCTransport) Consumer() <-chan Inbound { return t.consumer }

func (t *WebRTCTransport) LocalAddr() string { return t.signal.Addr() }

// Dial negotiates a new PeerConnection with addr through the signal,
// reusing an already-open data channel if one exists.
func (t *WebRTCTransport) Dial(addr string) (*Connection, error) {
	t.mu.Lock()
	if c, ok := t.conns[addr]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	connCh := make(chan datachannel.ReadWriteCloser, 1)
	pc, err := t.newPeerConnection(connCh, true)
	if err != nil {
		return nil, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	answer, err := t.signal.Offer(addr, offer)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, fmt.Errorf("webrtc: no answer from %s", addr)
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.peerConnections[addr] = pc
	t.mu.Unlock()

	select {
	case dc := <-connCh:
		c := NewConnection(addr, dc)
		t.mu.Lock()
		t.conns[addr] = c
		t.mu.Unlock()
		t.shutdownWg.Add(1)
		go t.readLoop(c)
		return c, nil
	case <-time.After(t.dialTimeout):
		return nil, fmt.Errorf("webrtc: dial timeout to %s", addr)
	}
}

func (t *WebRTCTransport) Close() error {
	close(t.closed)
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	for _, pc := range t.peerConnections {
		pc.Close()
	}
	t.mu.Unlock()
	err := t.signal.Close()
	t.shutdownWg.Wait()
	return err
}
