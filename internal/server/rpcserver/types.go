package rpcserver

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/yndnr/dagnode/internal/core/domain"
)

// Transaction is the RPC form of a signed transaction.
type Transaction struct {
	Hash      string `json:"hash,omitempty"`
	Nonce     uint64 `json:"nonce"`
	GasPrice  uint64 `json:"gasPrice"`
	Gas       uint64 `json:"gas"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Data      string `json:"data,omitempty"`
	ChainID   uint32 `json:"chainId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Block is the RPC form of a block. Recorded chains for replay are JSON
// arrays of this type.
type Block struct {
	Hash         string         `json:"hash"`
	ParentHash   string         `json:"parentHash"`
	Height       uint64         `json:"height"`
	Timestamp    int64          `json:"timestamp"`
	Author       string         `json:"author"`
	Difficulty   uint64         `json:"difficulty"`
	GasLimit     uint64         `json:"gasLimit"`
	TxRoot       string         `json:"txRoot"`
	Referees     []string       `json:"referees"`
	Nonce        uint64         `json:"nonce"`
	Transactions []*Transaction `json:"transactions"`
}

// NewTransaction converts a domain transaction.
func NewTransaction(tx *domain.Transaction) *Transaction {
	out := &Transaction{
		Hash:      tx.Hash().Hex(),
		Nonce:     tx.Nonce,
		GasPrice:  tx.GasPrice,
		Gas:       tx.Gas,
		To:        tx.To.Hex(),
		Value:     "0",
		ChainID:   tx.ChainID,
		PublicKey: encodeBytes(tx.PublicKey),
		Signature: encodeBytes(tx.Signature),
	}
	if tx.Value != nil {
		out.Value = tx.Value.String()
	}
	if len(tx.Data) > 0 {
		out.Data = encodeBytes(tx.Data)
	}
	return out
}

// ToDomain converts back to a domain transaction. The hash field is not
// trusted; it is recomputed from content.
func (t *Transaction) ToDomain() (*domain.Transaction, error) {
	to, err := domain.ParseAddress(t.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	value, ok := new(big.Int).SetString(t.Value, 0)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("value %q", t.Value)
	}
	data, err := decodeBytes(t.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	pub, err := decodeBytes(t.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("publicKey: %w", err)
	}
	sig, err := decodeBytes(t.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return &domain.Transaction{
		Nonce:     t.Nonce,
		GasPrice:  t.GasPrice,
		Gas:       t.Gas,
		To:        to,
		Value:     value,
		Data:      data,
		ChainID:   t.ChainID,
		PublicKey: pub,
		Signature: sig,
	}, nil
}

// NewBlock converts a domain block.
func NewBlock(blk *domain.Block) *Block {
	h := &blk.Header
	out := &Block{
		Hash:         blk.Hash().Hex(),
		ParentHash:   h.ParentHash.Hex(),
		Height:       h.Height,
		Timestamp:    h.Timestamp,
		Author:       h.Author.Hex(),
		Difficulty:   h.Difficulty,
		GasLimit:     h.GasLimit,
		TxRoot:       h.TxRoot.Hex(),
		Referees:     make([]string, len(h.Referees)),
		Nonce:        h.Nonce,
		Transactions: make([]*Transaction, len(blk.Transactions)),
	}
	for i, r := range h.Referees {
		out.Referees[i] = r.Hex()
	}
	for i, tx := range blk.Transactions {
		out.Transactions[i] = NewTransaction(tx)
	}
	return out
}

// ToDomain converts back to a domain block. The hash field is not trusted.
func (b *Block) ToDomain() (*domain.Block, error) {
	parent, err := domain.ParseHash(b.ParentHash)
	if err != nil {
		return nil, fmt.Errorf("parentHash: %w", err)
	}
	author, err := domain.ParseAddress(b.Author)
	if err != nil {
		return nil, fmt.Errorf("author: %w", err)
	}
	txRoot, err := domain.ParseHash(b.TxRoot)
	if err != nil {
		return nil, fmt.Errorf("txRoot: %w", err)
	}

	blk := &domain.Block{
		Header: domain.BlockHeader{
			ParentHash: parent,
			Height:     b.Height,
			Timestamp:  b.Timestamp,
			Author:     author,
			Difficulty: b.Difficulty,
			GasLimit:   b.GasLimit,
			TxRoot:     txRoot,
			Nonce:      b.Nonce,
		},
	}
	for i, r := range b.Referees {
		h, err := domain.ParseHash(r)
		if err != nil {
			return nil, fmt.Errorf("referee %d: %w", i, err)
		}
		blk.Header.Referees = append(blk.Header.Referees, h)
	}
	for i, t := range b.Transactions {
		tx, err := t.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		blk.Transactions = append(blk.Transactions, tx)
	}
	return blk, nil
}

func encodeBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
