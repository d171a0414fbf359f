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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

const errSignalProcessing = "consilium.signal.processing_offer"

// offerPromise carries one inbound SDP offer to WebRTCTransport's listen
// loop together with a channel to deliver the answer back through,
// grounded on the teacher's signal.OfferPromise.
type offerPromise struct {
	From     string
	Offer    webrtc.SessionDescription
	RespChan chan<- offerPromiseResponse
}

type offerPromiseResponse struct {
	Answer *webrtc.SessionDescription
	Error  error
}

// sdpSignal exchanges SDP offers and answers out of band so that peers
// behind NAT can negotiate a WebRTC PeerConnection without a reachable
// listening socket, grounded on the teacher's signal.Signal interface
// (src/net/signal/signal.go).
type sdpSignal interface {
	Addr() string
	Listen() error
	Consumer() <-chan offerPromise
	Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	Close() error
}

// WAMPSignal implements sdpSignal over a WAMP router: each peer
// registers a procedure named after its own address, and an offer is
// delivered by calling the target's procedure directly, grounded on
// src/net/signal/wamp/client.go. TLS trust-pinning is left to the
// router's own certificate, unlike the teacher's caFile handling, since
// spec.md has no certificate-distribution story of its own.
type WAMPSignal struct {
	addr            string
	responseTimeout time.Duration
	client          *client.Client
	consumer        chan offerPromise
	logger          *logrus.Entry
}

// NewWAMPSignal connects to the WAMP router at routerURL and returns a
// Signal registered under addr within realm.
func NewWAMPSignal(routerURL, realm, addr string, responseTimeout time.Duration, logger *logrus.Entry) (*WAMPSignal, error) {
	cfg := client.Config{Realm: realm, ResponseTimeout: responseTimeout, Logger: logger}
	cli, err := client.ConnectNet(context.Background(), routerURL, cfg)
	if err != nil {
		return nil, err
	}
	return &WAMPSignal{
		addr:            addr,
		responseTimeout: responseTimeout,
		client:          cli,
		consumer:        make(chan offerPromise),
		logger:          logger,
	}, nil
}

func (s *WAMPSignal) Addr() string { return s.addr }

func (s *WAMPSignal) Listen() error {
	return s.client.Register(s.addr, s.callHandler, nil)
}

func (s *WAMPSignal) Consumer() <-chan offerPromise { return s.consumer }

// Offer marshals offer as JSON and calls target's registered procedure
// directly, waiting up to responseTimeout for the answer.
func (s *WAMPSignal) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	raw, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.responseTimeout)
	defer cancel()

	result, err := s.client.Call(ctx, target, nil, wamp.List{s.addr, string(raw)}, nil, nil)
	if err != nil {
		return nil, err
	}
	sdp, ok := wamp.AsString(result.Arguments[0])
	if !ok {
		return nil, fmt.Errorf("webrtc signal: malformed answer from %s", target)
	}
	answer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (s *WAMPSignal) Close() error {
	s.client.Unregister(s.addr)
	return s.client.Close()
}

// callHandler is invoked by the router when a remote peer calls our
// registered procedure to deliver an offer. It blocks on the consumer's
// reader (WebRTCTransport.listen) to produce the answer.
func (s *WAMPSignal) callHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return client.InvokeResult{Err: errSignalProcessing}
	}
	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return client.InvokeResult{Err: errSignalProcessing}
	}
	sdp, ok := wamp.AsString(inv.Arguments[1])
	if !ok {
		return client.InvokeResult{Err: errSignalProcessing}
	}
	offer := webrtc.SessionDescription{}
	if err := json.Unmarshal([]byte(sdp), &offer); err != nil {
		s.logger.WithError(err).Error("unmarshal signaled offer")
		return client.InvokeResult{Err: errSignalProcessing}
	}

	respCh := make(chan offerPromiseResponse, 1)
	s.consumer <- offerPromise{From: from, Offer: offer, RespChan: respCh}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return client.InvokeResult{Err: errSignalProcessing}
		}
		raw, err := json.Marshal(resp.Answer)
		if err != nil {
			return client.InvokeResult{Err: errSignalProcessing}
		}
		return client.InvokeResult{Args: wamp.List{string(raw)}}
	case <-time.After(s.responseTimeout):
		return client.InvokeResult{Err: errSignalProcessing}
	}
}
