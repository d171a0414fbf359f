// Package consensus implements the peer state model and the Belief merge
// algorithm from spec.md sections 3 and 4.3: State, Block, Order, Belief
// and PeerStatus, built out of the closed vocabulary of leaf cells
// (cell.Blob, cell.Long, cell.Map) rather than bespoke wire types, so
// every composite value here is, structurally, still just a cell.
package consensus

import (
	"math/big"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// record is the shared "typed map" pattern every composite value in this
// package is built on: a cell.Map with a fixed, known set of string keys.
type record struct {
	m *cell.Map
}

func newRecord() record { return record{m: cell.EmptyMap()} }

func recordOf(m *cell.Map) record { return record{m: m} }

func (r record) set(key string, val *cell.Ref) record {
	return record{m: r.m.Assoc(keyRef(key), val)}
}

func (r record) get(key string, res cell.Resolver) (cell.Cell, error) {
	ref, ok := r.m.Get(keyBlob(key))
	if !ok {
		return nil, cell.InvalidDataf("missing record field %q", key)
	}
	return ref.Value(res)
}

func (r record) getRef(key string) (*cell.Ref, bool) {
	return r.m.Get(keyBlob(key))
}

func keyBlob(key string) *cell.Blob { return cell.NewBlob([]byte(key)) }
func keyRef(key string) *cell.Ref   { return cell.RefOf(keyBlob(key)) }

func asLong(c cell.Cell) (int64, error) {
	l, ok := c.(*cell.Long)
	if !ok {
		return 0, cell.InvalidDataf("expected long, got tag 0x%02x", c.Tag())
	}
	return l.Value(), nil
}

func asBlob(c cell.Cell) ([]byte, error) {
	b, ok := c.(*cell.Blob)
	if !ok {
		return nil, cell.InvalidDataf("expected blob, got tag 0x%02x", c.Tag())
	}
	return b.Bytes(), nil
}

func asMap(c cell.Cell) (*cell.Map, error) {
	m, ok := c.(*cell.Map)
	if !ok {
		return nil, cell.InvalidDataf("expected map, got tag 0x%02x", c.Tag())
	}
	return m, nil
}

func asVector(c cell.Cell) (cell.Vector, error) {
	v, ok := c.(cell.Vector)
	if !ok {
		return nil, cell.InvalidDataf("expected vector, got tag 0x%02x", c.Tag())
	}
	return v, nil
}

// PeerStatus is per-peer network metadata kept within State: stake and
// advertised URL (spec.md section 3, "PeerStatus").
type PeerStatus struct{ record }

// NewPeerStatus builds a PeerStatus for a peer with the given stake and
// advertised connection URL.
func NewPeerStatus(stake *big.Int, url string) *PeerStatus {
	r := newRecord().
		set("stake", cell.RefOf(cell.NewBlob(stake.Bytes()))).
		set("url", cell.RefOf(cell.NewBlob([]byte(url))))
	return &PeerStatus{r}
}

// PeerStatusFromCell decodes a PeerStatus from its cell representation,
// used by the server package when reporting the roster over STATUS.
func PeerStatusFromCell(c cell.Cell) (*PeerStatus, error) {
	m, err := asMap(c)
	if err != nil {
		return nil, err
	}
	return &PeerStatus{recordOf(m)}, nil
}

func peerStatusFromCell(c cell.Cell) (*PeerStatus, error) {
	return PeerStatusFromCell(c)
}

func (p *PeerStatus) Cell() *cell.Map { return p.m }

// Stake returns this peer's voting weight.
func (p *PeerStatus) Stake(res cell.Resolver) (*big.Int, error) {
	c, err := p.get("stake", res)
	if err != nil {
		return nil, err
	}
	b, err := asBlob(c)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// URL returns this peer's advertised connection address.
func (p *PeerStatus) URL(res cell.Resolver) (string, error) {
	c, err := p.get("url", res)
	if err != nil {
		return "", err
	}
	b, err := asBlob(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// State is an immutable snapshot of all peers and the VM-owned account
// data (spec.md section 3, "State").
type State struct{ record }

// NewState builds a State from a peer-status map (keyed by AccountKey
// bytes) and an opaque VM-owned data map.
func NewState(peers, data *cell.Map) *State {
	r := newRecord().
		set("peers", cell.RefOf(peers)).
		set("data", cell.RefOf(data))
	return &State{r}
}

func StateFromCell(c cell.Cell) (*State, error) {
	m, err := asMap(c)
	if err != nil {
		return nil, err
	}
	return &State{recordOf(m)}, nil
}

func (s *State) Cell() *cell.Map { return s.m }

func (s *State) Hash() cell.Hash { return cell.HashOfCell(s.m) }

// Peers returns the peer-status map keyed by AccountKey bytes.
func (s *State) Peers(res cell.Resolver) (*cell.Map, error) {
	c, err := s.get("peers", res)
	if err != nil {
		return nil, err
	}
	return asMap(c)
}

// Data returns the opaque VM-owned account data map.
func (s *State) Data(res cell.Resolver) (*cell.Map, error) {
	c, err := s.get("data", res)
	if err != nil {
		return nil, err
	}
	return asMap(c)
}

// WithData returns a copy of s with its data map replaced, used by the VM
// boundary to publish post-execution state without touching peer status.
func (s *State) WithData(data *cell.Map) *State {
	return &State{s.record.set("data", cell.RefOf(data))}
}

// WithPeers returns a copy of s with its peer-status map replaced.
func (s *State) WithPeers(peers *cell.Map) *State {
	return &State{s.record.set("peers", cell.RefOf(peers))}
}

// PeerStatusOf looks up a single peer's status by AccountKey.
func (s *State) PeerStatusOf(key pki.AccountKey, res cell.Resolver) (*PeerStatus, bool, error) {
	peers, err := s.Peers(res)
	if err != nil {
		return nil, false, err
	}
	ref, ok := peers.Get(cell.NewBlob(key.Bytes()))
	if !ok {
		return nil, false, nil
	}
	c, err := ref.Value(res)
	if err != nil {
		return nil, false, err
	}
	ps, err := peerStatusFromCell(c)
	return ps, true, err
}

// TotalStake sums the stake of every peer in State.
func (s *State) TotalStake(res cell.Resolver) (*big.Int, error) {
	peers, err := s.Peers(res)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	err = peers.Each(func(_, val *cell.Ref) error {
		c, err := val.Value(res)
		if err != nil {
			return err
		}
		ps, err := peerStatusFromCell(c)
		if err != nil {
			return err
		}
		stake, err := ps.Stake(res)
		if err != nil {
			return err
		}
		total.Add(total, stake)
		return nil
	})
	return total, err
}
