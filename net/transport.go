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

// TrustState is a connection's position in the challenge handshake state
// machine (spec.md section 4.7): UNTRUSTED -> CHALLENGE_SENT -> TRUSTED.
type TrustState int

const (
	Untrusted TrustState = iota
	ChallengeSent
	Trusted
)

// Inbound is one received frame together with the connection it arrived
// on, the unit the receiver loop consumes (spec.md section 5, "Receiver").
type Inbound struct {
	Conn *Connection
	Msg  Message
}

// Transport provides framed, connection-oriented messaging between
// peers. Grounded on net.Transport's Consumer()/LocalAddr()/Close()
// shape from the teacher repo, with Sync/EagerSync replaced by Dial: the
// wire protocol here is this module's own framed cell encoding rather
// than a request/response RPC pair.
type Transport interface {
	// Consumer returns the channel the receiver loop drains inbound
	// frames from.
	Consumer() <-chan Inbound
	// LocalAddr returns this transport's own advertised address.
	LocalAddr() string
	// Dial opens (or reuses) an outbound connection to addr.
	Dial(addr string) (*Connection, error)
	// Close shuts down the transport and every connection it holds.
	Close() error
}
