package consensus

import (
	"bytes"

	"github.com/mosaicnetworks/consilium/cell"
)

// Order is one peer's proposed total order of blocks with proposal and
// consensus indices (spec.md section 3, "Order"). Invariant:
// 0 <= consensusPoint <= proposalPoint <= blocks.length.
type Order struct{ record }

// NewOrder builds an empty Order with no proposed or consensus blocks.
func NewOrder() *Order {
	r := newRecord().
		set("blocks", cell.RefOf(cell.EmptyVector())).
		set("proposalPoint", cell.RefOf(cell.NewLong(0))).
		set("consensusPoint", cell.RefOf(cell.NewLong(0)))
	return &Order{r}
}

func OrderFromCell(c cell.Cell) (*Order, error) {
	m, err := asMap(c)
	if err != nil {
		return nil, err
	}
	return &Order{recordOf(m)}, nil
}

func (o *Order) Cell() *cell.Map { return o.m }
func (o *Order) Hash() cell.Hash { return cell.HashOfCell(o.m) }

func (o *Order) Blocks(res cell.Resolver) (cell.Vector, error) {
	c, err := o.get("blocks", res)
	if err != nil {
		return nil, err
	}
	return asVector(c)
}

func (o *Order) ProposalPoint(res cell.Resolver) (int64, error) {
	c, err := o.get("proposalPoint", res)
	if err != nil {
		return 0, err
	}
	return asLong(c)
}

func (o *Order) ConsensusPoint(res cell.Resolver) (int64, error) {
	c, err := o.get("consensusPoint", res)
	if err != nil {
		return 0, err
	}
	return asLong(c)
}

// WithAppendedBlock returns a new Order with block appended and
// proposalPoint advanced, per spec.md section 4.4.
func (o *Order) WithAppendedBlock(block *Block, res cell.Resolver) (*Order, error) {
	blocks, err := o.Blocks(res)
	if err != nil {
		return nil, err
	}
	newBlocks, err := cell.Append(blocks, cell.RefOf(block.Cell()), res)
	if err != nil {
		return nil, err
	}
	pp, err := o.ProposalPoint(res)
	if err != nil {
		return nil, err
	}
	r := o.record.
		set("blocks", cell.RefOf(newBlocks)).
		set("proposalPoint", cell.RefOf(cell.NewLong(pp+1)))
	return &Order{r}, nil
}

// WithConsensusPoint returns a new Order with consensusPoint advanced to
// newPoint. Callers must ensure newPoint never decreases (spec.md section
// 4.3 invariant).
func (o *Order) WithConsensusPoint(newPoint int64) *Order {
	return &Order{o.record.set("consensusPoint", cell.RefOf(cell.NewLong(newPoint)))}
}

// orderEnvelopeRef builds the unsigned {order, timestamp} envelope ref
// that gets wrapped in a cell.Signed once its hash has been signed.
func orderEnvelopeRef(order *Order, timestamp int64) *cell.Ref {
	env := newRecord().
		set("order", cell.RefOf(order.Cell())).
		set("timestamp", cell.RefOf(cell.NewLong(timestamp)))
	return cell.RefOf(env.m)
}

// envelopeFromSigned extracts the Order and timestamp from a signed
// envelope cell, without checking the signature (callers verify first).
func envelopeFromSigned(signed *cell.Signed, res cell.Resolver) (*Order, int64, error) {
	c, err := signed.Value().Value(res)
	if err != nil {
		return nil, 0, err
	}
	m, err := asMap(c)
	if err != nil {
		return nil, 0, err
	}
	r := recordOf(m)
	orderCell, err := r.get("order", res)
	if err != nil {
		return nil, 0, err
	}
	order, err := OrderFromCell(orderCell)
	if err != nil {
		return nil, 0, err
	}
	tsCell, err := r.get("timestamp", res)
	if err != nil {
		return nil, 0, err
	}
	ts, err := asLong(tsCell)
	if err != nil {
		return nil, 0, err
	}
	return order, ts, nil
}

// compareOrders implements the tie-break rule spec.md adopts in section
// 9 (Open Questions): greatest timestamp, then greatest proposalPoint,
// then greatest consensusPoint, then lexicographically greatest hash.
// Returns >0 if a should be preferred over b.
func compareOrders(aOrder *Order, aTS int64, bOrder *Order, bTS int64, res cell.Resolver) (int, error) {
	if aTS != bTS {
		if aTS > bTS {
			return 1, nil
		}
		return -1, nil
	}
	aPP, err := aOrder.ProposalPoint(res)
	if err != nil {
		return 0, err
	}
	bPP, err := bOrder.ProposalPoint(res)
	if err != nil {
		return 0, err
	}
	if aPP != bPP {
		if aPP > bPP {
			return 1, nil
		}
		return -1, nil
	}
	aCP, err := aOrder.ConsensusPoint(res)
	if err != nil {
		return 0, err
	}
	bCP, err := bOrder.ConsensusPoint(res)
	if err != nil {
		return 0, err
	}
	if aCP != bCP {
		if aCP > bCP {
			return 1, nil
		}
		return -1, nil
	}
	ah, bh := aOrder.Hash(), bOrder.Hash()
	return bytes.Compare(ah[:], bh[:]), nil
}
