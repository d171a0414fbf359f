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

// Package server ties together the net, consensus and store packages
// into the three-worker peer loop spec.md section 5 describes: a
// receiver dispatching framed messages, an updater owning the Peer
// value, and a connector reconciling live connections with the current
// consensus State's roster.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/config"
	"github.com/mosaicnetworks/consilium/consensus"
	"github.com/mosaicnetworks/consilium/net"
	"github.com/mosaicnetworks/consilium/pki"
	"github.com/mosaicnetworks/consilium/store"
)

// resultSink is anything a RESULT can be delivered to: a live TCP
// net.Connection, or a WSBridge request's websocket writer. Abstracting
// over it lets admitTransaction/handleQuery's result-delivery path be
// shared by both front doors spec.md section 6 and its websocket
// addition describe.
type resultSink interface {
	Send(net.Message) error
}

// interestEntry records who is waiting for a transaction's result
// (spec.md section 4.6).
type interestEntry struct {
	conn resultSink
	id   cell.Cell
}

// parkedMessage is an inbound frame that triggered MissingData(h) and is
// waiting for h to arrive as DATA (spec.md section 4.5, "partial-message
// protocol").
type parkedMessage struct {
	conn *net.Connection
	msg  net.Message
	at   time.Time
}

// Server is one running peer: the Peer value, its connection set, its
// pending work queues, and the three goroutines that drive it.
type Server struct {
	cfg    *config.Config
	logger *logrus.Entry

	transport net.Transport
	connMgr   *net.ConnectionManager
	ctx       *store.Context

	peerMu sync.RWMutex
	peer   *consensus.Peer

	genesisHash cell.Hash

	txMu            sync.Mutex
	newTransactions []*cell.Ref

	beliefMu   sync.Mutex
	newBeliefs map[pki.AccountKey]*consensus.Belief

	partialMessages *BoundedMap // hash -> parkedMessage
	interests       *BoundedMap // tx hash -> interestEntry

	hasNewMessages sync.Mutex // held briefly; guards newMsgFlag
	newMsgFlag     bool

	challengeMu sync.Mutex
	// outstandingChallenges marks addresses the connector is dialing and
	// challenging, so overlapping reconcile passes do not dial one twice;
	// the mark is cleared once the CHALLENGE is sent, after which the
	// connection tracked in connMgr prevents a re-dial. The token awaiting
	// a RESPONSE is tracked per Connection by net.Connection itself.
	outstandingChallenges map[string]bool

	nextMsgID int64 // atomic

	shutdown    chan struct{}
	shutdownCtx context.Context
	cancelCtx   context.CancelFunc
	shutdownWg  sync.WaitGroup
	closeOnce   sync.Once
}

// NewServer builds a Server from cfg. If cfg.RestoreFromRoot is set and
// the store holds a root whose cell is present, the last persisted Peer
// is loaded from it; otherwise a fresh genesis Peer is built from
// cfg.Genesis, and NewServer fails if cfg.Genesis is nil.
func NewServer(cfg *config.Config, transport net.Transport) (*Server, error) {
	ctx := store.NewContext(cfg.Store)

	p, err := loadOrCreatePeer(cfg, ctx)
	if err != nil {
		return nil, err
	}

	var genesisHash cell.Hash
	if cfg.Genesis != nil {
		genesisHash = cfg.Genesis.Hash()
	}

	ctx2, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:                   cfg,
		logger:                cfg.Logger().Entry(),
		transport:             transport,
		connMgr:                net.NewConnectionManager(),
		ctx:                   ctx,
		peer:                  p,
		genesisHash:           genesisHash,
		newBeliefs:            make(map[pki.AccountKey]*consensus.Belief),
		partialMessages:       NewBoundedMap(cfg.PartialWindow),
		interests:             NewBoundedMap(cfg.InterestWindow),
		outstandingChallenges: make(map[string]bool),
		shutdown:              make(chan struct{}),
		shutdownCtx:           ctx2,
		cancelCtx:             cancel,
	}
	return s, nil
}

func loadOrCreatePeer(cfg *config.Config, ctx *store.Context) (*consensus.Peer, error) {
	if cfg.RestoreFromRoot {
		root, ok, err := cfg.Store.GetRoot()
		if err != nil {
			return nil, err
		}
		if ok {
			c, found, err := cfg.Store.Get(root)
			if err != nil {
				return nil, err
			}
			if found {
				return peerFromCell(cfg, ctx, c)
			}
		}
	}
	if cfg.Genesis == nil {
		return nil, cell.Internalf("server: no genesis State and nothing to restore")
	}
	return consensus.NewGenesisPeer(cfg.KeyPair, cfg.Genesis, time.Now().Unix())
}

// peerFromCell rebuilds a Peer from a persisted snapshot map
// (state/belief/signedBelief, see snapshotCell); the key pair itself is
// never persisted and is taken from cfg.
func peerFromCell(cfg *config.Config, ctx *store.Context, c cell.Cell) (*consensus.Peer, error) {
	m, ok := c.(*cell.Map)
	if !ok {
		return nil, cell.InvalidDataf("persisted peer root is not a map")
	}
	stateRef, ok := m.Get(cell.NewBlob([]byte("state")))
	if !ok {
		return nil, cell.InvalidDataf("persisted peer missing state")
	}
	beliefRef, ok := m.Get(cell.NewBlob([]byte("belief")))
	if !ok {
		return nil, cell.InvalidDataf("persisted peer missing belief")
	}
	signedRef, ok := m.Get(cell.NewBlob([]byte("signedBelief")))
	if !ok {
		return nil, cell.InvalidDataf("persisted peer missing signedBelief")
	}

	stateCell, err := stateRef.Value(ctx)
	if err != nil {
		return nil, err
	}
	state, err := consensus.StateFromCell(stateCell)
	if err != nil {
		return nil, err
	}
	beliefCell, err := beliefRef.Value(ctx)
	if err != nil {
		return nil, err
	}
	belief, err := consensus.BeliefFromCell(beliefCell)
	if err != nil {
		return nil, err
	}
	signedCell, err := signedRef.Value(ctx)
	if err != nil {
		return nil, err
	}
	signed, ok := signedCell.(*cell.Signed)
	if !ok {
		return nil, cell.InvalidDataf("persisted signedBelief is not a Signed cell")
	}

	return &consensus.Peer{
		KeyPair:      cfg.KeyPair,
		State:        state,
		Belief:       belief,
		SignedBelief: signed,
	}, nil
}

// snapshotCell builds the persisted-root cell for p, the inverse of
// peerFromCell.
func snapshotCell(p *consensus.Peer) *cell.Map {
	return cell.EmptyMap().
		Assoc(cell.RefOf(cell.NewBlob([]byte("state"))), cell.RefOf(p.State.Cell())).
		Assoc(cell.RefOf(cell.NewBlob([]byte("belief"))), cell.RefOf(p.Belief.Cell())).
		Assoc(cell.RefOf(cell.NewBlob([]byte("signedBelief"))), cell.RefOf(p.SignedBelief))
}

// Peer returns a consistent snapshot of the current Peer value. Safe for
// concurrent use; the updater is the only writer.
func (s *Server) Peer() *consensus.Peer {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return s.peer
}

func (s *Server) setPeer(p *consensus.Peer) {
	s.peerMu.Lock()
	s.peer = p
	s.peerMu.Unlock()
}

// markNewMessages flags the updater to skip its idle sleep next tick.
func (s *Server) markNewMessages() {
	s.hasNewMessages.Lock()
	s.newMsgFlag = true
	s.hasNewMessages.Unlock()
}

func (s *Server) takeNewMessages() bool {
	s.hasNewMessages.Lock()
	defer s.hasNewMessages.Unlock()
	had := s.newMsgFlag
	s.newMsgFlag = false
	return had
}

// nextMessageID returns a fresh, process-local message id for frames
// this peer originates.
func (s *Server) nextMessageID() cell.Cell {
	return cell.NewLong(atomic.AddInt64(&s.nextMsgID, 1))
}

// shutdownContext returns a context.Context cancelled when Close runs,
// for components (the connector's rate limiter) that need one.
func (s *Server) shutdownContext() context.Context {
	return s.shutdownCtx
}

// Run starts the receiver, updater and connector goroutines.
func (s *Server) Run() {
	s.shutdownWg.Add(3)
	go s.receiveLoop()
	go s.updateLoop()
	go s.connectLoop()
}

// Close shuts down all three loops and the transport, optionally
// persisting the final Peer value first.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		s.cancelCtx()
		s.shutdownWg.Wait()
		if s.cfg.PersistOnClose {
			p := s.Peer()
			h, perr := s.ctx.Persist(snapshotCell(p), store.Deep)
			if perr == nil {
				perr = s.cfg.Store.SetRoot(h)
			}
			err = perr
		}
		if cerr := s.transport.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
