package consensus

import (
	"math/big"
	"testing"

	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// echoVM is a deterministic test VM: it returns the transaction payload
// itself as the result, and never mutates state.
type echoVM struct{}

func (echoVM) Execute(form cell.Cell, _ pki.AccountKey, state *State) (*State, Result) {
	return state, Result{Value: form}
}

func genesisWith(kp *pki.KeyPair, stake int64) *State {
	peers := cell.EmptyMap()
	peers = peers.Assoc(
		cell.RefOf(cell.NewBlob(kp.AccountKey().Bytes())),
		cell.RefOf(NewPeerStatus(big.NewInt(stake), "local").Cell()),
	)
	return NewState(peers, cell.EmptyMap())
}

func TestSinglePeerProposeAndConsensus(t *testing.T) {
	kp, err := pki.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	genesis := genesisWith(kp, 100)
	peer, err := NewGenesisPeer(kp, genesis, 1000)
	if err != nil {
		t.Fatalf("genesis peer: %v", err)
	}

	tx := NewTransaction([]byte("(+ 1 2)"), kp)
	peer, block, err := peer.ProposeBlock([]*cell.Ref{cell.RefOf(tx)}, 1001, nil)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if block == nil {
		t.Fatal("expected a block to be proposed")
	}

	next, results, err := peer.Merge(nil, echoVM{}, nil, nil)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 block executed, got %d", len(results))
	}
	if len(results[0].TxResults) != 1 {
		t.Fatalf("expected 1 tx result, got %d", len(results[0].TxResults))
	}
	got, ok := results[0].TxResults[0].Value.(*cell.Blob)
	if !ok || string(got.Bytes()) != "(+ 1 2)" {
		t.Fatalf("unexpected tx result: %#v", results[0].TxResults[0].Value)
	}

	signed, ok := next.Belief.OrderOf(kp.AccountKey())
	if !ok {
		t.Fatal("expected local order present in merged belief")
	}
	order, _, err := envelopeFromSigned(signed, nil)
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	cp, err := order.ConsensusPoint(nil)
	if err != nil {
		t.Fatalf("consensus point: %v", err)
	}
	if cp != 1 {
		t.Fatalf("expected consensusPoint 1, got %d", cp)
	}
}

func TestProposeBlockNoopOnEmptyQueue(t *testing.T) {
	kp, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp, 100)
	peer, _ := NewGenesisPeer(kp, genesis, 1000)
	next, block, err := peer.ProposeBlock(nil, 1001, nil)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if block != nil {
		t.Fatal("expected no block for an empty transaction queue")
	}
	if next != peer {
		t.Fatal("expected same peer value returned unchanged")
	}
}

func TestBeliefSignatureVerificationDropsBadSignature(t *testing.T) {
	kp1, _ := pki.GenerateKeyPair()
	kp2, _ := pki.GenerateKeyPair()
	genesis := genesisWith(kp1, 100)
	peer, _ := NewGenesisPeer(kp1, genesis, 1000)

	// Forge a belief entry claiming to be kp2 but signed by kp1.
	order := NewOrder()
	ref := orderEnvelopeRef(order, 1)
	forged := cell.NewSigned(ref, kp1.Sign(ref.Hash()))
	badBelief := EmptyBelief().WithOrder(kp2.AccountKey(), forged)

	var flagged []pki.AccountKey
	_, _, err := peer.Merge([]*Belief{badBelief}, echoVM{}, nil, func(p pki.AccountKey) {
		flagged = append(flagged, p)
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(flagged) != 1 || flagged[0] != kp2.AccountKey() {
		t.Fatalf("expected kp2 flagged for bad signature, got %v", flagged)
	}
}

func TestConsensusPrefixMajority(t *testing.T) {
	kp1, _ := pki.GenerateKeyPair()
	kp2, _ := pki.GenerateKeyPair()
	kp3, _ := pki.GenerateKeyPair()

	peers := cell.EmptyMap()
	for _, kp := range []*pki.KeyPair{kp1, kp2, kp3} {
		peers = peers.Assoc(
			cell.RefOf(cell.NewBlob(kp.AccountKey().Bytes())),
			cell.RefOf(NewPeerStatus(big.NewInt(1), "local").Cell()),
		)
	}
	state := NewState(peers, cell.EmptyMap())

	block := NewBlock(1, kp1.AccountKey(), []*cell.Ref{cell.RefOf(NewTransaction([]byte("a"), kp1))})
	order1 := NewOrder()
	order1, _ = order1.WithAppendedBlock(block, nil)
	order2 := NewOrder()
	order2, _ = order2.WithAppendedBlock(block, nil)
	order3 := NewOrder() // kp3 has not seen the block yet

	belief := EmptyBelief()
	belief = belief.WithOrder(kp1.AccountKey(), signOrder(kp1, order1, 1))
	belief = belief.WithOrder(kp2.AccountKey(), signOrder(kp2, order2, 1))
	belief = belief.WithOrder(kp3.AccountKey(), signOrder(kp3, order3, 1))

	prefix, err := ConsensusPrefix(belief, state, nil)
	if err != nil {
		t.Fatalf("consensus prefix: %v", err)
	}
	if prefix != 1 {
		t.Fatalf("expected consensus prefix 1 (2/3 stake agrees), got %d", prefix)
	}
}
