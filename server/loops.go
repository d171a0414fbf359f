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
	"encoding/hex"
	"time"

	"golang.org/x/time/rate"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
)

// receiveLoop drains the transport's consumer channel and dispatches
// each frame, parking it on a MissingData fault (spec.md section 5,
// "Receiver").
func (s *Server) receiveLoop() {
	defer s.shutdownWg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case in, ok := <-s.transport.Consumer():
			if !ok {
				return
			}
			s.handleInbound(in.Conn, in.Msg)
		}
	}
}

func (s *Server) handleInbound(conn *net.Connection, msg net.Message) {
	err := s.dispatch(conn, msg)
	if err == nil {
		return
	}
	if cell.KindOf(err) == cell.KindMissingData {
		if perr := s.parkAndRequest(conn, msg, err); perr != nil {
			s.logger.WithError(perr).Warn("failed to request missing data")
		}
		return
	}
	s.logger.WithError(err).WithField("type", msg.Type.String()).Warn("dispatch failed")
	if k := cell.KindOf(err); k == cell.KindBadFormat || k == cell.KindInvalidData {
		conn.Close()
	}
}

// updateLoop owns the Peer value exclusively: each tick it refreshes the
// timestamp, proposes a block from pending transactions, merges pending
// Beliefs, executes newly-consensus blocks, reports results to waiting
// clients, and broadcasts (spec.md section 5, "Updater").
func (s *Server) updateLoop() {
	defer s.shutdownWg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		s.tick()

		if !s.takeNewMessages() {
			select {
			case <-s.shutdown:
				return
			case <-time.After(s.cfg.UpdatePause):
			}
		}
	}
}

func (s *Server) tick() {
	now := time.Now().Unix()
	p := s.Peer()

	pending := s.takeTransactions()
	if len(pending) > 0 {
		next, block, err := p.ProposeBlock(pending, now, s.ctx)
		if err != nil {
			s.logger.WithError(err).Error("propose block failed")
		} else if block != nil {
			p = next
		}
	}

	remote := s.takeBeliefs()
	next, results, err := p.Merge(remote, s.cfg.VM, s.ctx, s.onInvalidSignature)
	if err != nil {
		s.logger.WithError(err).Error("merge beliefs failed")
		s.setPeer(p)
		return
	}
	p = next
	s.setPeer(p)

	s.reportResults(results)
	s.broadcastBelief(p)
}

func (s *Server) takeTransactions() []*cell.Ref {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if len(s.newTransactions) == 0 {
		return nil
	}
	out := s.newTransactions
	s.newTransactions = nil
	return out
}

func (s *Server) takeBeliefs() []*consensus.Belief {
	s.beliefMu.Lock()
	defer s.beliefMu.Unlock()
	if len(s.newBeliefs) == 0 {
		return nil
	}
	out := make([]*consensus.Belief, 0, len(s.newBeliefs))
	for _, b := range s.newBeliefs {
		out = append(out, b)
	}
	s.newBeliefs = make(map[pki.AccountKey]*consensus.Belief)
	return out
}

func (s *Server) onInvalidSignature(peer pki.AccountKey) {
	s.logger.WithField("peer", peer.Bytes()).Warn("belief entry failed signature verification")
}

// reportResults delivers each executed transaction's Result to whichever
// connection is still waiting on it, per spec.md section 4.6.
func (s *Server) reportResults(results []*consensus.BlockResult) {
	for _, br := range results {
		for i, h := range br.TxHashes {
			v, ok := s.interests.Delete(h)
			if !ok {
				continue
			}
			entry := v.(interestEntry)
			msg := net.Message{Type: net.TypeResult, ID: entry.id, Payload: encodeResult(br.TxResults[i])}
			if err := entry.conn.Send(msg); err != nil {
				s.logger.WithError(err).Debug("result delivery failed, client connection gone")
			}
		}
	}
}

// broadcastBelief pushes the new signed Belief to every connection, per
// spec.md section 4.5's broadcast rule.
func (s *Server) broadcastBelief(p *consensus.Peer) {
	s.connMgr.Broadcast(net.Message{
		Type:    net.TypeBelief,
		ID:      s.nextMessageID(),
		Payload: p.SignedBelief,
	})
}

// connectLoop reconciles the live connection set against the peer list
// published in the current consensus State, dialing and challenging any
// advertised peer not yet connected (spec.md section 5, "Connector").
func (s *Server) connectLoop() {
	defer s.shutdownWg.Done()
	limiter := rate.NewLimiter(rate.Every(s.cfg.ConnectPause), 1)
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if err := limiter.Wait(s.shutdownContext()); err != nil {
			return
		}
		s.reconcileConnections()
	}
}

func (s *Server) reconcileConnections() {
	s.dialBootstrapPeers()

	p := s.Peer()
	peers, err := p.State.Peers(s.ctx)
	if err != nil {
		s.logger.WithError(err).Warn("connector: failed to read peer roster")
		return
	}

	self := s.cfg.KeyPair.AccountKey()
	err = peers.Each(func(k, v *cell.Ref) error {
		kc, err := k.Value(s.ctx)
		if err != nil {
			return err
		}
		keyBytes, err := asBlob(kc)
		if err != nil {
			return err
		}
		peerKey, err := pki.AccountKeyFromBytes(keyBytes)
		if err != nil {
			return err
		}
		if peerKey == self {
			return nil
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
		s.ensureConnected(url, peerKey)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("connector: roster scan failed")
	}
}

// dialBootstrapPeers ensures every operator-configured seed address is
// connected, for the case where a freshly started peer has not yet
// learned a roster from consensus State at all (spec.md section 4.6's
// note on bootstrapping being the one thing outside the core protocol
// that still needs a concrete seed list to get off the ground).
func (s *Server) dialBootstrapPeers() {
	for _, bp := range s.cfg.BootstrapPeers {
		keyBytes, err := hex.DecodeString(bp.PubKeyHex)
		if err != nil {
			s.logger.WithError(err).WithField("peer", bp.PubKeyHex).Warn("bootstrap: invalid peer key")
			continue
		}
		peerKey, err := pki.AccountKeyFromBytes(keyBytes)
		if err != nil {
			s.logger.WithError(err).WithField("peer", bp.PubKeyHex).Warn("bootstrap: invalid peer key")
			continue
		}
		s.ensureConnected(bp.NetAddr, peerKey)
	}
}

func (s *Server) ensureConnected(addr string, peerKey pki.AccountKey) {
	if _, ok := s.connMgr.Get(addr); ok {
		return
	}
	s.challengeMu.Lock()
	if s.outstandingChallenges[addr] {
		s.challengeMu.Unlock()
		return
	}
	s.outstandingChallenges[addr] = true
	s.challengeMu.Unlock()

	conn, err := s.transport.Dial(addr)
	if err != nil {
		s.logger.WithError(err).WithField("addr", addr).Debug("dial failed")
		s.clearOutstanding(addr)
		return
	}
	s.connMgr.Track(conn)
	if err := net.IssueChallenge(conn, s.cfg.KeyPair, peerKey, s.nextMessageID()); err != nil {
		s.logger.WithError(err).WithField("addr", addr).Warn("challenge issue failed")
	}
	s.clearOutstanding(addr)
}

func (s *Server) clearOutstanding(addr string) {
	s.challengeMu.Lock()
	delete(s.outstandingChallenges, addr)
	s.challengeMu.Unlock()
}
