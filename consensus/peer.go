package consensus

import (
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// Peer is the composite value {keyPair, state chain, current belief,
// current signed belief} (spec.md section 3, "Peer"). It is the one
// mutable value in the system: the updater replaces it atomically
// (copy-on-write) at each update tick (spec.md section 5).
type Peer struct {
	KeyPair      *pki.KeyPair
	State        *State
	Belief       *Belief
	SignedBelief *cell.Signed
}

// NewGenesisPeer builds the initial Peer for kp over genesis, with an
// empty Order of its own already present in its Belief.
func NewGenesisPeer(kp *pki.KeyPair, genesis *State, now int64) (*Peer, error) {
	belief := EmptyBelief()
	order := NewOrder()
	signed := signOrder(kp, order, now)
	belief = belief.WithOrder(kp.AccountKey(), signed)
	return &Peer{
		KeyPair:      kp,
		State:        genesis,
		Belief:       belief,
		SignedBelief: signBelief(kp, belief),
	}, nil
}

func signOrder(kp *pki.KeyPair, order *Order, now int64) *cell.Signed {
	ref := orderEnvelopeRef(order, now)
	return cell.NewSigned(ref, kp.Sign(ref.Hash()))
}

func signBelief(kp *pki.KeyPair, belief *Belief) *cell.Signed {
	h := belief.Hash()
	return cell.NewSigned(cell.RefOf(belief.m), kp.Sign(h))
}

// ProposeBlock drains pending transactions into a new Block, appends it
// to the local peer's Order, bumps proposalPoint and re-signs the
// Belief, per spec.md section 4.4. A nil return with no error means
// there was nothing to propose.
func (p *Peer) ProposeBlock(pending []*cell.Ref, now int64, res cell.Resolver) (*Peer, *Block, error) {
	if len(pending) == 0 {
		return p, nil, nil
	}
	block := NewBlock(now, p.KeyPair.AccountKey(), pending)

	signed, ok := p.Belief.OrderOf(p.KeyPair.AccountKey())
	var order *Order
	if ok {
		var err error
		order, _, err = envelopeFromSigned(signed, res)
		if err != nil {
			return nil, nil, err
		}
	} else {
		order = NewOrder()
	}
	newOrder, err := order.WithAppendedBlock(block, res)
	if err != nil {
		return nil, nil, err
	}
	newSigned := signOrder(p.KeyPair, newOrder, now)
	newBelief := p.Belief.WithOrder(p.KeyPair.AccountKey(), newSigned)
	next := &Peer{
		KeyPair:      p.KeyPair,
		State:        p.State,
		Belief:       newBelief,
		SignedBelief: signBelief(p.KeyPair, newBelief),
	}
	return next, block, nil
}

// Merge folds remote beliefs into p's belief, advances p's own
// consensusPoint, and executes any newly-consensus blocks against p's
// State via vm, per spec.md section 4.3. Returns the updated Peer and
// the BlockResults for every block executed this call, in order.
func (p *Peer) Merge(remote []*Belief, vm VM, res cell.Resolver, onInvalid func(pki.AccountKey)) (*Peer, []*BlockResult, error) {
	merged, newConsensus, err := MergeBeliefs(p.Belief, p.KeyPair.AccountKey(), remote, p.State, res, onInvalid)
	if err != nil {
		return nil, nil, err
	}

	signed, ok := merged.OrderOf(p.KeyPair.AccountKey())
	if !ok {
		return p, nil, nil
	}
	order, ts, err := envelopeFromSigned(signed, res)
	if err != nil {
		return nil, nil, err
	}
	oldConsensus, err := order.ConsensusPoint(res)
	if err != nil {
		return nil, nil, err
	}

	state := p.State
	var results []*BlockResult
	if newConsensus > oldConsensus {
		blocks, err := order.Blocks(res)
		if err != nil {
			return nil, nil, err
		}
		for i := oldConsensus; i < newConsensus; i++ {
			ref, err := cell.Get(blocks, i, res)
			if err != nil {
				return nil, nil, err
			}
			bc, err := ref.Value(res)
			if err != nil {
				return nil, nil, err
			}
			block, err := BlockFromCell(bc)
			if err != nil {
				return nil, nil, err
			}
			br, err := ExecuteBlock(vm, block, state, res)
			if err != nil {
				return nil, nil, err
			}
			state = br.PostState
			results = append(results, br)
		}
		order = order.WithConsensusPoint(newConsensus)
		ref := orderEnvelopeRef(order, ts)
		finalSigned := cell.NewSigned(ref, p.KeyPair.Sign(ref.Hash()))
		merged = merged.WithOrder(p.KeyPair.AccountKey(), finalSigned)
	}

	next := &Peer{
		KeyPair:      p.KeyPair,
		State:        state,
		Belief:       merged,
		SignedBelief: signBelief(p.KeyPair, merged),
	}
	return next, results, nil
}
