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
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/store"
)

// WSBridge exposes QUERY and TRANSACT over a websocket with JSON
// framing, a second front door onto the same query execution and
// transaction admission (executeQuery/admitTransaction) the TCP QUERY
// and TRANSACT handlers use (spec.md section 6's websocket addition).
// Grounded on api.HandleWebSocket's upgrade-then-read-loop shape: one
// goroutine per connection, a type-tagged request decoded into a typed
// payload, errors written back as a JSON object rather than closing the
// socket.
type WSBridge struct {
	srv      *Server
	upgrader websocket.Upgrader
}

// NewWSBridge returns a WSBridge serving queries and transactions
// against srv.
func NewWSBridge(srv *Server) *WSBridge {
	return &WSBridge{
		srv: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsRequest is one inbound JSON frame.
type wsRequest struct {
	// Type is "query" or "transact".
	Type string `json:"type"`
	// ID echoes back in the matching wsResponse, for callers multiplexing
	// several in-flight requests over one socket.
	ID string `json:"id"`
	// Form is the Lisp-ish program text to evaluate (query) or that was
	// signed into Tx (transact, informational only).
	Form string `json:"form"`
	// Address is the hex-encoded account key the form runs as (query) or
	// that signed Tx (transact).
	Address string `json:"address"`
	// Tx is the base64 encoding of a canonically-encoded *cell.Signed
	// transaction cell, built and signed client-side the same way
	// consensus.NewTransaction does.
	Tx string `json:"tx"`
}

// wsResponse is one outbound JSON frame.
type wsResponse struct {
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeHTTP upgrades the connection and services requests until the
// client disconnects or sends a malformed frame.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.srv.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sink := wsSink{conn: conn, mu: &writeMu}

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Type {
		case "query":
			b.handleQuery(sink, req)
		case "transact":
			b.handleTransact(sink, req)
		default:
			sink.writeResponse(wsResponse{ID: req.ID, Error: "unknown request type"})
		}
	}
}

func (b *WSBridge) handleQuery(sink wsSink, req wsRequest) {
	addrBytes, err := hex.DecodeString(req.Address)
	if err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: "invalid address"})
		return
	}
	address, err := pki.AccountKeyFromBytes(addrBytes)
	if err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: err.Error()})
		return
	}
	result := b.srv.executeQuery(cell.NewBlob([]byte(req.Form)), address)
	sink.writeResponse(resultResponse(req.ID, result))
}

func (b *WSBridge) handleTransact(sink wsSink, req wsRequest) {
	addrBytes, err := hex.DecodeString(req.Address)
	if err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: "invalid address"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Tx)
	if err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: "invalid tx encoding"})
		return
	}
	txCell, err := cell.Decode(raw)
	if err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: err.Error()})
		return
	}
	signed, ok := txCell.(*cell.Signed)
	if !ok {
		sink.writeResponse(wsResponse{ID: req.ID, Error: "tx is not a signed cell"})
		return
	}
	if !consensus.VerifyTransaction(signed, addrBytes) {
		sink.writeResponse(wsResponse{ID: req.ID, Error: "bad signature"})
		return
	}

	hash := signed.Value().Hash()
	if _, err := b.srv.ctx.Persist(signed, store.Deep); err != nil {
		sink.writeResponse(wsResponse{ID: req.ID, Error: err.Error()})
		return
	}
	b.srv.admitTransaction(signed, hash, sink, cell.NewBlob([]byte(req.ID)))
}

// resultResponse translates a consensus.Result into its JSON wire shape.
func resultResponse(id string, r consensus.Result) wsResponse {
	if r.Err != nil {
		return wsResponse{ID: id, Error: r.Err.Error()}
	}
	if b, ok := r.Value.(*cell.Blob); ok {
		return wsResponse{ID: id, Value: string(b.Bytes())}
	}
	return wsResponse{ID: id, Value: string(cell.Encode(r.Value))}
}

// wsSink adapts a *websocket.Conn into a resultSink, serializing the
// RESULT it eventually receives (from reportResults, on the updater's
// goroutine) against whatever the read loop might concurrently write.
type wsSink struct {
	conn *websocket.Conn
	mu   *sync.Mutex
}

func (s wsSink) Send(msg net.Message) error {
	m, ok := msg.Payload.(*cell.Map)
	if !ok {
		return s.writeResponse(wsResponse{Error: "unexpected result payload"})
	}
	id := ""
	if idc, ok := msg.ID.(*cell.Blob); ok {
		id = string(idc.Bytes())
	}
	resp := wsResponse{ID: id}
	if ref, ok := m.Get(cell.NewBlob([]byte("error"))); ok {
		c, err := ref.Value(nil)
		if err != nil {
			return err
		}
		if b, ok := c.(*cell.Blob); ok {
			resp.Error = string(b.Bytes())
		}
	} else if ref, ok := m.Get(cell.NewBlob([]byte("value"))); ok {
		c, err := ref.Value(nil)
		if err != nil {
			return err
		}
		if b, ok := c.(*cell.Blob); ok {
			resp.Value = string(b.Bytes())
		} else {
			resp.Value = string(cell.Encode(c))
		}
	}
	return s.writeResponse(resp)
}

func (s wsSink) writeResponse(resp wsResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(resp); err != nil {
		return err
	}
	return nil
}
