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
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/store"
)

// keyRef and embeddedRef build ad-hoc wire structures (RESULT/STATUS
// payloads) that are never persisted to the store: every child must
// travel inline via cell.NewEmbedded, since a hash-marker ref would be
// unresolvable on the other end with nothing backing it.
func keyRef(key string) *cell.Ref       { return cell.NewEmbedded(cell.NewBlob([]byte(key))) }
func embeddedRef(c cell.Cell) *cell.Ref { return cell.NewEmbedded(c) }

func asVector(c cell.Cell) (cell.Vector, error) {
	v, ok := c.(cell.Vector)
	if !ok {
		return nil, cell.InvalidDataf("expected vector, got tag 0x%02x", c.Tag())
	}
	return v, nil
}

func asBlob(c cell.Cell) ([]byte, error) {
	b, ok := c.(*cell.Blob)
	if !ok {
		return nil, cell.InvalidDataf("expected blob, got tag 0x%02x", c.Tag())
	}
	return b.Bytes(), nil
}

func asSigned(c cell.Cell) (*cell.Signed, error) {
	s, ok := c.(*cell.Signed)
	if !ok {
		return nil, cell.InvalidDataf("expected signed cell, got tag 0x%02x", c.Tag())
	}
	return s, nil
}

// encodeResult builds the wire Map a RESULT message carries: {"value":
// v} on success, {"error": message} on failure.
func encodeResult(r consensus.Result) *cell.Map {
	if r.Err != nil {
		return cell.EmptyMap().Assoc(keyRef("error"), embeddedRef(cell.NewBlob([]byte(r.Err.Error()))))
	}
	return cell.EmptyMap().Assoc(keyRef("value"), embeddedRef(r.Value))
}

func encodeErrorResult(msg string) *cell.Map {
	return cell.EmptyMap().Assoc(keyRef("error"), embeddedRef(cell.NewBlob([]byte(msg))))
}

// dispatch runs the action for one inbound message, per spec.md section
// 4.5's dispatch table. A returned KindMissingData error means the
// caller should park msg and request the missing hash; any other error
// is the caller's to log (and, for malformed frames, to act on by
// closing the connection).
func (s *Server) dispatch(conn *net.Connection, msg net.Message) error {
	switch msg.Type {
	case net.TypeBelief:
		return s.handleBelief(conn, msg)
	case net.TypeTransact:
		return s.handleTransact(conn, msg)
	case net.TypeQuery:
		return s.handleQuery(conn, msg)
	case net.TypeStatus:
		return s.handleStatus(conn, msg)
	case net.TypeChallenge:
		return s.handleChallenge(conn, msg)
	case net.TypeResponse:
		return s.handleResponse(conn, msg)
	case net.TypeData:
		return s.handleData(conn, msg)
	case net.TypeMissingData:
		return s.handleMissingData(conn, msg)
	case net.TypeGoodbye:
		return conn.Close()
	case net.TypeResult:
		return nil // servers never await their own RESULT; clients do
	case net.TypeCommand:
		return nil // left unimplemented per spec.md section 9
	default:
		return cell.BadFormatf("unknown message type %d", msg.Type)
	}
}

func (s *Server) handleBelief(conn *net.Connection, msg net.Message) error {
	signed, err := asSigned(msg.Payload)
	if err != nil {
		return err
	}
	beliefCell, err := signed.Value().Value(s.ctx)
	if err != nil {
		return err
	}
	belief, err := consensus.BeliefFromCell(beliefCell)
	if err != nil {
		return err
	}

	// Determine the sender's own account key: a Belief carries exactly
	// one entry whose peer hasn't been merged into ours yet in the
	// common case of a fresh remote Order, but in general the sender may
	// echo others' entries too, so senderEntry scans every entry for the
	// key that verifies the envelope signature, and the merge step's own
	// tie-break decides what is actually newer.
	peer, err := senderEntry(belief, signed, s.ctx)
	if err != nil {
		return err
	}

	// The envelope is signed by the broadcasting peer over the whole
	// Belief map (consensus.signBelief); verify that signature before
	// queuing rather than relying solely on the per-entry Order
	// signatures consensus.MergeBeliefs checks later (spec.md section
	// 4.5's BELIEF dispatch action: "verify signature").
	if !pki.Verify(peer.Bytes(), signed.Value().Hash(), signed.Signature()) {
		return cell.BadSignaturef("belief envelope signature verification failed")
	}

	s.beliefMu.Lock()
	s.newBeliefs[peer] = belief
	s.beliefMu.Unlock()
	s.markNewMessages()
	return nil
}

// senderEntry returns the peer key in belief whose public key verifies
// signed's envelope signature, or the first key when none does (the
// caller's own check then rejects the envelope). The key is used to
// verify the envelope and to key newBeliefs; the merge step itself
// re-derives correctness from the full set of entries.
func senderEntry(belief *consensus.Belief, signed *cell.Signed, res cell.Resolver) (pki.AccountKey, error) {
	var found pki.AccountKey
	var seen, ok bool
	err := belief.Cell().Each(func(k, _ *cell.Ref) error {
		if ok {
			return nil
		}
		kc, err := k.Value(res)
		if err != nil {
			return err
		}
		kb, err := asBlob(kc)
		if err != nil {
			return err
		}
		ak, err := pki.AccountKeyFromBytes(kb)
		if err != nil {
			return err
		}
		ok = pki.Verify(ak.Bytes(), signed.Value().Hash(), signed.Signature())
		if ok || !seen {
			found = ak
			seen = true
		}
		return nil
	})
	if err != nil {
		return pki.AccountKey{}, err
	}
	if !seen {
		return pki.AccountKey{}, cell.InvalidDataf("belief message has no entries")
	}
	return found, nil
}

func (s *Server) handleTransact(conn *net.Connection, msg net.Message) error {
	vec, err := asVector(msg.Payload)
	if err != nil {
		return err
	}
	idRef, err := cell.Get(vec, 0, s.ctx)
	if err != nil {
		return err
	}
	idCell, err := idRef.Value(s.ctx)
	if err != nil {
		return err
	}
	idBytes, err := asBlob(idCell)
	if err != nil {
		return err
	}
	hash, err := cell.HashFromBytes(idBytes)
	if err != nil {
		return err
	}

	txRef, err := cell.Get(vec, 1, s.ctx)
	if err != nil {
		return err
	}
	txCell, err := txRef.Value(s.ctx)
	if err != nil {
		return err
	}
	signed, err := asSigned(txCell)
	if err != nil {
		return err
	}

	addrRef, err := cell.Get(vec, 2, s.ctx)
	if err != nil {
		return err
	}
	addrCell, err := addrRef.Value(s.ctx)
	if err != nil {
		return err
	}
	addrBytes, err := asBlob(addrCell)
	if err != nil {
		return err
	}

	if _, err := s.ctx.Persist(signed, store.Deep); err != nil {
		return err
	}

	// TRANSACT admits any correctly signed transaction regardless of
	// connection handshake state: spec.md section 4.5's dispatch rule is
	// "persist; verify signature; on success append", with no connection
	// trust gate at all, so the claimed signer travels on the message
	// itself, the same way QUERY's vector already names its acting
	// address (cell.Get(vec, 2, ...) above) and the way WSBridge's
	// self-verifying consensus.VerifyTransaction(signed, addrBytes) check
	// works for its own front door.
	if !consensus.VerifyTransaction(signed, addrBytes) {
		return conn.Send(net.Message{Type: net.TypeResult, ID: msg.ID, Payload: encodeErrorResult("bad signature")})
	}

	s.admitTransaction(signed, hash, conn, msg.ID)
	return nil
}

// admitTransaction queues signed for the next ProposeBlock and registers
// sink to receive the eventual RESULT under hash, used after whichever
// front door (TCP TRANSACT or WSBridge) has already verified the
// transaction's signature.
func (s *Server) admitTransaction(signed *cell.Signed, hash cell.Hash, sink resultSink, id cell.Cell) {
	s.txMu.Lock()
	s.newTransactions = append(s.newTransactions, cell.RefOf(signed))
	s.txMu.Unlock()

	s.interests.Set(hash, interestEntry{conn: sink, id: id})
	s.markNewMessages()
}

func (s *Server) handleQuery(conn *net.Connection, msg net.Message) error {
	vec, err := asVector(msg.Payload)
	if err != nil {
		return err
	}
	formRef, err := cell.Get(vec, 1, s.ctx)
	if err != nil {
		return err
	}
	form, err := formRef.Value(s.ctx)
	if err != nil {
		return err
	}
	addrRef, err := cell.Get(vec, 2, s.ctx)
	if err != nil {
		return err
	}
	addrCell, err := addrRef.Value(s.ctx)
	if err != nil {
		return err
	}
	addrBytes, err := asBlob(addrCell)
	if err != nil {
		return err
	}
	address, err := pki.AccountKeyFromBytes(addrBytes)
	if err != nil {
		return err
	}

	return conn.Send(net.Message{Type: net.TypeResult, ID: msg.ID, Payload: encodeResult(s.executeQuery(form, address))})
}

// executeQuery runs form read-only against the current State, shared by
// the TCP QUERY handler and server.WSBridge. The State returned by VM is
// discarded: a QUERY never advances consensus.
func (s *Server) executeQuery(form cell.Cell, address pki.AccountKey) consensus.Result {
	if s.cfg.VM == nil {
		return consensus.Result{Err: cell.Internalf("no VM configured")}
	}
	_, result := s.cfg.VM.Execute(form, address, s.Peer().State)
	return result
}

func (s *Server) handleStatus(conn *net.Connection, msg net.Message) error {
	p := s.Peer()
	peers, err := p.State.Peers(s.ctx)
	if err != nil {
		return err
	}
	peerMap := cell.EmptyMap()
	if err := peers.Each(func(k, v *cell.Ref) error {
		kc, err := k.Value(s.ctx)
		if err != nil {
			return err
		}
		kb, err := asBlob(kc)
		if err != nil {
			return err
		}
		psCell, err := v.Value(s.ctx)
		if err != nil {
			return err
		}
		ps, err := consensus.PeerStatusFromCell(psCell)
		if err != nil {
			return err
		}
		url, err := ps.URL(s.ctx)
		if err != nil {
			return err
		}
		peerMap = peerMap.Assoc(embeddedRef(cell.NewBlob(kb)), embeddedRef(cell.NewBlob([]byte(url))))
		return nil
	}); err != nil {
		return err
	}

	status := cell.EmptyMap().
		Assoc(keyRef("beliefHash"), embeddedRef(cell.NewBlob(p.Belief.Hash().Bytes()))).
		Assoc(keyRef("stateHash"), embeddedRef(cell.NewBlob(p.State.Hash().Bytes()))).
		Assoc(keyRef("genesisStateHash"), embeddedRef(cell.NewBlob(s.genesisHash.Bytes()))).
		Assoc(keyRef("peers"), embeddedRef(peerMap))
	return conn.Send(net.Message{Type: net.TypeStatus, ID: msg.ID, Payload: status})
}

func (s *Server) handleChallenge(conn *net.Connection, msg net.Message) error {
	signed, err := asSigned(msg.Payload)
	if err != nil {
		return err
	}
	tokenCell, err := signed.Value().Value(s.ctx)
	if err != nil {
		return err
	}
	token, err := asBlob(tokenCell)
	if err != nil {
		return err
	}
	return conn.Send(net.RespondToChallenge(token, s.cfg.KeyPair, msg.ID))
}

func (s *Server) handleResponse(conn *net.Connection, msg net.Message) error {
	signed, err := asSigned(msg.Payload)
	if err != nil {
		return err
	}
	tokenCell, err := signed.Value().Value(s.ctx)
	if err != nil {
		return err
	}
	token, err := asBlob(tokenCell)
	if err != nil {
		return err
	}
	// The signer's public key is not carried on the wire by RESPONSE; the
	// only candidate is the one recorded by MarkChallengeSent when we
	// issued the CHALLENGE, so the signature, made over the token's hash
	// (net.RespondToChallenge), must actually verify against that key
	// before we accept it as proof the expected peer answered.
	expectedPeer := conn.ExpectedPeer()
	if !pki.Verify(expectedPeer, cell.HashOf(token), signed.Signature()) {
		return cell.BadSignaturef("response signature verification failed")
	}
	conn.AcceptResponse(token, expectedPeer)
	return nil
}

func (s *Server) handleData(conn *net.Connection, msg net.Message) error {
	h, err := s.ctx.Persist(msg.Payload, store.Shallow)
	if err != nil {
		return err
	}
	if v, ok := s.partialMessages.Delete(h); ok {
		parked := v.(parkedMessage)
		if err := s.dispatch(parked.conn, parked.msg); err != nil {
			if _, isMissing := cell.MissingHash(err); isMissing {
				return s.parkAndRequest(parked.conn, parked.msg, err)
			}
			s.logger.WithError(err).Warn("re-dispatch of unparked message failed")
		}
	}
	return nil
}

func (s *Server) handleMissingData(conn *net.Connection, msg net.Message) error {
	hashBytes, err := asBlob(msg.Payload)
	if err != nil {
		return err
	}
	h, err := cell.HashFromBytes(hashBytes)
	if err != nil {
		return err
	}
	c, found, err := s.cfg.Store.Get(h)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return conn.Send(net.Message{Type: net.TypeData, ID: msg.ID, Payload: c})
}

// parkAndRequest parks msg under the hash named by missingErr and asks
// conn for it, per spec.md section 4.5's partial-message protocol.
func (s *Server) parkAndRequest(conn *net.Connection, msg net.Message, missingErr error) error {
	h, ok := cell.MissingHash(missingErr)
	if !ok {
		return missingErr
	}
	s.partialMessages.Set(h, parkedMessage{conn: conn, msg: msg})
	return conn.Send(net.Message{
		Type:    net.TypeMissingData,
		ID:      s.nextMessageID(),
		Payload: cell.NewBlob(h.Bytes()),
	})
}
