package consensus

import (
	"math/big"
	"sort"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// Belief is a mapping peerKey -> signed Order envelope, the local view
// of every known peer's Order (spec.md section 3, "Belief"). It is,
// structurally, nothing more than a cell.Map keyed by AccountKey bytes.
type Belief struct{ m *cell.Map }

// EmptyBelief returns a Belief with no entries.
func EmptyBelief() *Belief { return &Belief{m: cell.EmptyMap()} }

func BeliefFromCell(c cell.Cell) (*Belief, error) {
	m, err := asMap(c)
	if err != nil {
		return nil, err
	}
	return &Belief{m: m}, nil
}

func (b *Belief) Cell() *cell.Map { return b.m }
func (b *Belief) Hash() cell.Hash { return cell.HashOfCell(b.m) }

// OrderOf returns the signed order envelope Belief currently holds for
// peer, if any.
func (b *Belief) OrderOf(peer pki.AccountKey) (*cell.Signed, bool) {
	ref, ok := b.m.Get(cell.NewBlob(peer.Bytes()))
	if !ok {
		return nil, false
	}
	c, err := ref.Value(nil)
	if err != nil {
		return nil, false
	}
	signed, ok := c.(*cell.Signed)
	return signed, ok
}

// WithOrder returns a new Belief with peer's entry set to signed.
func (b *Belief) WithOrder(peer pki.AccountKey, signed *cell.Signed) *Belief {
	return &Belief{m: b.m.Assoc(cell.RefOf(cell.NewBlob(peer.Bytes())), cell.RefOf(signed))}
}

// acceptedOrder is one peer's retained Order after tie-breaking,
// resolved from its signed envelope.
type acceptedOrder struct {
	peer  pki.AccountKey
	order *Order
	ts    int64
}

// MergeBeliefs implements spec.md section 4.3 steps 1-3: verify
// signatures, retain each peer's best Order by tie-break, and compute
// the consensus prefix. Invalid signatures are reported back via
// onInvalid (the policy hook for slashing, left unimplemented per
// spec.md's deferral) and otherwise simply dropped, never causing the
// merge to fail. Returns the merged Belief and the new consensusPoint
// for localPeer's own Order (never less than its current one).
func MergeBeliefs(
	local *Belief,
	localPeer pki.AccountKey,
	remote []*Belief,
	state *State,
	res cell.Resolver,
	onInvalid func(peer pki.AccountKey),
) (*Belief, int64, error) {
	best := map[pki.AccountKey]acceptedOrder{}

	consider := func(peer pki.AccountKey, signed *cell.Signed) error {
		pubBytes := peer.Bytes()
		if !pki.Verify(pubBytes, signed.Value().Hash(), signed.Signature()) {
			if onInvalid != nil {
				onInvalid(peer)
			}
			return nil
		}
		order, ts, err := envelopeFromSigned(signed, res)
		if err != nil {
			return err
		}
		cur, exists := best[peer]
		if !exists {
			best[peer] = acceptedOrder{peer: peer, order: order, ts: ts}
			return nil
		}
		c, err := compareOrders(order, ts, cur.order, cur.ts, res)
		if err != nil {
			return err
		}
		if c > 0 {
			best[peer] = acceptedOrder{peer: peer, order: order, ts: ts}
		}
		return nil
	}

	if err := local.m.Each(func(key, val *cell.Ref) error {
		kc, err := key.Value(res)
		if err != nil {
			return err
		}
		kb, err := asBlob(kc)
		if err != nil {
			return err
		}
		peer, err := pki.AccountKeyFromBytes(kb)
		if err != nil {
			return err
		}
		vc, err := val.Value(res)
		if err != nil {
			return err
		}
		signed, ok := vc.(*cell.Signed)
		if !ok {
			return cell.InvalidDataf("belief entry is not a signed order")
		}
		return consider(peer, signed)
	}); err != nil {
		return nil, 0, err
	}

	for _, rb := range remote {
		if err := rb.m.Each(func(key, val *cell.Ref) error {
			kc, err := key.Value(res)
			if err != nil {
				return err
			}
			kb, err := asBlob(kc)
			if err != nil {
				return err
			}
			peer, err := pki.AccountKeyFromBytes(kb)
			if err != nil {
				return err
			}
			vc, err := val.Value(res)
			if err != nil {
				return err
			}
			signed, ok := vc.(*cell.Signed)
			if !ok {
				return cell.InvalidDataf("belief entry is not a signed order")
			}
			return consider(peer, signed)
		}); err != nil {
			return nil, 0, err
		}
	}

	merged := EmptyBelief()
	peers := make([]pki.AccountKey, 0, len(best))
	for p := range best {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return string(peers[i][:]) < string(peers[j][:]) })
	// best only tracked each peer's decoded Order; recover the original
	// signed envelope now that ties are resolved.
	for _, p := range peers {
		signed, ok := findBestSigned(local, remote, p, best[p], res)
		if !ok {
			continue
		}
		merged = merged.WithOrder(p, signed)
	}

	myOrder, ok := merged.OrderOf(localPeer)
	localConsensus := int64(0)
	if le, ok2 := local.OrderOf(localPeer); ok2 {
		if o, _, err := envelopeFromSigned(le, res); err == nil {
			localConsensus, _ = o.ConsensusPoint(res)
		}
	}
	if !ok {
		return merged, localConsensus, nil
	}
	order, _, err := envelopeFromSigned(myOrder, res)
	if err != nil {
		return nil, 0, err
	}

	newConsensus, err := ConsensusPrefix(merged, state, res)
	if err != nil {
		return nil, 0, err
	}
	if newConsensus < localConsensus {
		newConsensus = localConsensus
	}
	localLen, err := order.Blocks(res)
	if err != nil {
		return nil, 0, err
	}
	if newConsensus > localLen.Length() {
		newConsensus = localLen.Length()
	}
	return merged, newConsensus, nil
}

// findBestSigned recovers the winning signed envelope for peer among
// local's and remote's entries, matching the Order already chosen as
// best by hash equality.
func findBestSigned(local *Belief, remote []*Belief, peer pki.AccountKey, want acceptedOrder, res cell.Resolver) (*cell.Signed, bool) {
	check := func(b *Belief) (*cell.Signed, bool) {
		signed, ok := b.OrderOf(peer)
		if !ok {
			return nil, false
		}
		order, ts, err := envelopeFromSigned(signed, res)
		if err != nil {
			return nil, false
		}
		if ts == want.ts && order.Hash() == want.order.Hash() {
			return signed, true
		}
		return nil, false
	}
	if s, ok := check(local); ok {
		return s, true
	}
	for _, rb := range remote {
		if s, ok := check(rb); ok {
			return s, true
		}
	}
	return nil, false
}

// ConsensusPrefix computes the longest block-vector prefix that is a
// common prefix of a stake-weighted majority of belief's retained
// Orders (spec.md section 4.3, step 3). Majority threshold is strictly
// more than half of the total stake in state.
func ConsensusPrefix(belief *Belief, state *State, res cell.Resolver) (int64, error) {
	type entry struct {
		blocks cell.Vector
		stake  *big.Int
	}
	var entries []entry

	err := belief.m.Each(func(key, val *cell.Ref) error {
		kc, err := key.Value(res)
		if err != nil {
			return err
		}
		kb, err := asBlob(kc)
		if err != nil {
			return err
		}
		peer, err := pki.AccountKeyFromBytes(kb)
		if err != nil {
			return err
		}
		ps, ok, err := state.PeerStatusOf(peer, res)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		stake, err := ps.Stake(res)
		if err != nil {
			return err
		}
		vc, err := val.Value(res)
		if err != nil {
			return err
		}
		signed, ok := vc.(*cell.Signed)
		if !ok {
			return cell.InvalidDataf("belief entry is not a signed order")
		}
		order, _, err := envelopeFromSigned(signed, res)
		if err != nil {
			return err
		}
		blocks, err := order.Blocks(res)
		if err != nil {
			return err
		}
		entries = append(entries, entry{blocks: blocks, stake: stake})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	total, err := state.TotalStake(res)
	if err != nil {
		return 0, err
	}

	// Scan the longest k such that a majority of stake agrees on
	// a common block vector prefix of length k. Agreement at length k is
	// evaluated by grouping orders whose first k blocks share a hash.
	maxLen := int64(0)
	for _, e := range entries {
		if e.blocks.Length() > maxLen {
			maxLen = e.blocks.Length()
		}
	}

	var best int64
	for k := int64(1); k <= maxLen; k++ {
		groups := map[cell.Hash]*big.Int{}
		for _, e := range entries {
			if e.blocks.Length() < k {
				continue
			}
			sub, err := cell.SubVector(e.blocks, 0, k, res)
			if err != nil {
				return 0, err
			}
			h := cell.HashOfCell(sub)
			if groups[h] == nil {
				groups[h] = big.NewInt(0)
			}
			groups[h].Add(groups[h], e.stake)
		}
		ok := false
		for _, sum := range groups {
			// Strict majority: more than half of total stake agrees.
			twice := new(big.Int).Mul(sum, big.NewInt(2))
			if twice.Cmp(total) > 0 {
				ok = true
				break
			}
		}
		if ok {
			best = k
		}
	}
	return best, nil
}
