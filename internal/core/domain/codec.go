package domain

import (
	"fmt"
	"math/big"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary encoding of chain objects uses the protobuf wire format with fixed
// field numbers. Every field is always written, so encodings are canonical and
// safe to hash.

const (
	txNonce protowire.Number = iota + 1
	txGasPrice
	txGas
	txTo
	txValue
	txData
	txChainID
	txPublicKey
	txSignature
)

const (
	hdrParent protowire.Number = iota + 1
	hdrHeight
	hdrTimestamp
	hdrAuthor
	hdrDifficulty
	hdrGasLimit
	hdrTxRoot
	hdrReferee
	hdrNonce
)

const (
	blkHeader protowire.Number = iota + 1
	blkTx
)

const (
	accBalance protowire.Number = iota + 1
	accNonce
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func bigBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

// EncodeTransaction returns the canonical binary form of tx.
func EncodeTransaction(tx *Transaction) []byte {
	var b []byte
	b = appendVarint(b, txNonce, tx.Nonce)
	b = appendVarint(b, txGasPrice, tx.GasPrice)
	b = appendVarint(b, txGas, tx.Gas)
	b = appendBytes(b, txTo, tx.To[:])
	b = appendBytes(b, txValue, bigBytes(tx.Value))
	b = appendBytes(b, txData, tx.Data)
	b = appendVarint(b, txChainID, uint64(tx.ChainID))
	b = appendBytes(b, txPublicKey, tx.PublicKey)
	b = appendBytes(b, txSignature, tx.Signature)
	return b
}

// DecodeTransaction parses the output of EncodeTransaction.
func DecodeTransaction(b []byte) (*Transaction, error) {
	tx := &Transaction{Value: new(big.Int)}
	err := walkFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case txNonce:
			tx.Nonce = v
		case txGasPrice:
			tx.GasPrice = v
		case txGas:
			tx.Gas = v
		case txTo:
			return copyFixed(tx.To[:], raw, "to")
		case txValue:
			tx.Value.SetBytes(raw)
		case txData:
			tx.Data = cloneBytes(raw)
		case txChainID:
			tx.ChainID = uint32(v)
		case txPublicKey:
			tx.PublicKey = cloneBytes(raw)
		case txSignature:
			tx.Signature = cloneBytes(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeHeader returns the canonical binary form of h.
func EncodeHeader(h *BlockHeader) []byte {
	var b []byte
	b = appendBytes(b, hdrParent, h.ParentHash[:])
	b = appendVarint(b, hdrHeight, h.Height)
	b = appendVarint(b, hdrTimestamp, uint64(h.Timestamp))
	b = appendBytes(b, hdrAuthor, h.Author[:])
	b = appendVarint(b, hdrDifficulty, h.Difficulty)
	b = appendVarint(b, hdrGasLimit, h.GasLimit)
	b = appendBytes(b, hdrTxRoot, h.TxRoot[:])
	for _, r := range h.Referees {
		b = appendBytes(b, hdrReferee, r[:])
	}
	b = appendVarint(b, hdrNonce, h.Nonce)
	return b
}

// DecodeHeader parses the output of EncodeHeader.
func DecodeHeader(b []byte) (*BlockHeader, error) {
	h := &BlockHeader{}
	err := walkFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case hdrParent:
			return copyFixed(h.ParentHash[:], raw, "parent")
		case hdrHeight:
			h.Height = v
		case hdrTimestamp:
			h.Timestamp = int64(v)
		case hdrAuthor:
			return copyFixed(h.Author[:], raw, "author")
		case hdrDifficulty:
			h.Difficulty = v
		case hdrGasLimit:
			h.GasLimit = v
		case hdrTxRoot:
			return copyFixed(h.TxRoot[:], raw, "tx root")
		case hdrReferee:
			var r Hash
			if err := copyFixed(r[:], raw, "referee"); err != nil {
				return err
			}
			h.Referees = append(h.Referees, r)
		case hdrNonce:
			h.Nonce = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// EncodeBlock returns the binary form of blk.
func EncodeBlock(blk *Block) []byte {
	var b []byte
	b = appendBytes(b, blkHeader, EncodeHeader(&blk.Header))
	for _, tx := range blk.Transactions {
		b = appendBytes(b, blkTx, EncodeTransaction(tx))
	}
	return b
}

// DecodeBlock parses the output of EncodeBlock.
func DecodeBlock(b []byte) (*Block, error) {
	blk := &Block{}
	err := walkFields(b, func(num protowire.Number, _ uint64, raw []byte) error {
		switch num {
		case blkHeader:
			h, err := DecodeHeader(raw)
			if err != nil {
				return err
			}
			blk.Header = *h
		case blkTx:
			tx, err := DecodeTransaction(raw)
			if err != nil {
				return err
			}
			blk.Transactions = append(blk.Transactions, tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return blk, nil
}

// EncodeAccount returns the binary form of the balance and nonce of acc.
func EncodeAccount(acc *Account) []byte {
	var b []byte
	b = appendBytes(b, accBalance, bigBytes(acc.Balance))
	b = appendVarint(b, accNonce, acc.Nonce)
	return b
}

// DecodeAccount parses the output of EncodeAccount for addr.
func DecodeAccount(addr Address, b []byte) (*Account, error) {
	acc := &Account{Address: addr, Balance: new(big.Int)}
	err := walkFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case accBalance:
			acc.Balance.SetBytes(raw)
		case accNonce:
			acc.Nonce = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return acc, nil
}

// walkFields calls fn for each varint or bytes field; other wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func copyFixed(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%s: want %d bytes, got %d", field, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
