package consensus

import (
	"github.com/mosaicnetworks/consilium/cell"
	"github.com/mosaicnetworks/consilium/pki"
)

// Block is a timestamp, a proposing peer key and an ordered list of
// signed transactions (spec.md section 3, "Block").
type Block struct{ record }

// NewTransaction signs payload with kp, producing the signed-transaction
// cell a TRANSACT message carries and a Block stores.
func NewTransaction(payload []byte, kp *pki.KeyPair) *cell.Signed {
	blob := cell.NewBlob(payload)
	h := cell.HashOfCell(blob)
	return cell.NewSigned(cell.RefOf(blob), kp.Sign(h))
}

// VerifyTransaction checks a signed transaction's signature against the
// claimed signer's public key.
func VerifyTransaction(tx *cell.Signed, signerPub []byte) bool {
	return pki.Verify(signerPub, tx.Value().Hash(), tx.Signature())
}

// NewBlock builds a Block proposed by proposer at ts, carrying txs (each
// a *cell.Signed transaction ref, already deep-stored by the caller).
func NewBlock(ts int64, proposer pki.AccountKey, txs []*cell.Ref) *Block {
	v := cell.EmptyVector()
	for _, tx := range txs {
		v, _ = cell.Append(v, tx, nil)
	}
	r := newRecord().
		set("timestamp", cell.RefOf(cell.NewLong(ts))).
		set("proposer", cell.RefOf(cell.NewBlob(proposer.Bytes()))).
		set("txs", cell.RefOf(v))
	return &Block{r}
}

func BlockFromCell(c cell.Cell) (*Block, error) {
	m, err := asMap(c)
	if err != nil {
		return nil, err
	}
	return &Block{recordOf(m)}, nil
}

func (b *Block) Cell() *cell.Map { return b.m }
func (b *Block) Hash() cell.Hash { return cell.HashOfCell(b.m) }

func (b *Block) Timestamp(res cell.Resolver) (int64, error) {
	c, err := b.get("timestamp", res)
	if err != nil {
		return 0, err
	}
	return asLong(c)
}

func (b *Block) Proposer(res cell.Resolver) (pki.AccountKey, error) {
	c, err := b.get("proposer", res)
	if err != nil {
		return pki.AccountKey{}, err
	}
	raw, err := asBlob(c)
	if err != nil {
		return pki.AccountKey{}, err
	}
	var key pki.AccountKey
	if len(raw) != pki.AccountKeySize {
		return key, cell.InvalidDataf("proposer key wrong size: %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Transactions returns the vector of signed transactions in this block.
func (b *Block) Transactions(res cell.Resolver) (cell.Vector, error) {
	c, err := b.get("txs", res)
	if err != nil {
		return nil, err
	}
	return asVector(c)
}

// TransactionAt resolves a single transaction by index, as a *cell.Signed.
func (b *Block) TransactionAt(i int64, res cell.Resolver) (*cell.Signed, error) {
	v, err := b.Transactions(res)
	if err != nil {
		return nil, err
	}
	ref, err := cell.Get(v, i, res)
	if err != nil {
		return nil, err
	}
	c, err := ref.Value(res)
	if err != nil {
		return nil, err
	}
	signed, ok := c.(*cell.Signed)
	if !ok {
		return nil, cell.InvalidDataf("transaction %d is not a signed cell", i)
	}
	return signed, nil
}
