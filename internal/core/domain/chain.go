package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashLength and AddressLength are the byte sizes of Hash and Address.
const (
	HashLength    = 32
	AddressLength = 20
)

// Hash is a 32-byte Keccak-256 digest.
type Hash [HashLength]byte

// Hex returns the 0x-prefixed hex encoding.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Big interprets h as a big-endian unsigned integer.
func (h Hash) Big() *big.Int { return new(big.Int).SetBytes(h[:]) }

// ParseHash decodes a hex hash with optional 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex(s, HashLength)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Address identifies an account.
type Address [AddressLength]byte

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ParseAddress decodes a 40-hex-digit address with optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decodeHex(s, AddressLength)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

func decodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != size*2 {
		return nil, fmt.Errorf("want %d hex digits, got %d", size*2, len(s))
	}
	return hex.DecodeString(s)
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	var h Hash
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// PubkeyToAddress derives the account address of an ed25519 public key.
func PubkeyToAddress(pub ed25519.PublicKey) Address {
	var a Address
	h := Keccak256(pub)
	copy(a[:], h[HashLength-AddressLength:])
	return a
}

// Account is the persisted state of an address.
type Account struct {
	Address Address
	Balance *big.Int
	Nonce   uint64
}

// Transaction transfers value between accounts.
type Transaction struct {
	Nonce     uint64
	GasPrice  uint64
	Gas       uint64
	To        Address
	Value     *big.Int
	Data      []byte
	ChainID   uint32
	PublicKey []byte // ed25519 public key of the sender
	Signature []byte
}

// Hash identifies the signed transaction.
func (tx *Transaction) Hash() Hash {
	return Keccak256(EncodeTransaction(tx))
}

// SigningHash is the digest covered by the signature.
func (tx *Transaction) SigningHash() Hash {
	unsigned := *tx
	unsigned.Signature = nil
	return Keccak256(EncodeTransaction(&unsigned))
}

// Sender returns the address derived from the sender public key.
func (tx *Transaction) Sender() Address {
	return PubkeyToAddress(tx.PublicKey)
}

// Sign sets the public key and signature from key.
func (tx *Transaction) Sign(key ed25519.PrivateKey) {
	tx.PublicKey = key.Public().(ed25519.PublicKey)
	h := tx.SigningHash()
	tx.Signature = ed25519.Sign(key, h[:])
}

// VerifySignature checks the sender signature.
func (tx *Transaction) VerifySignature() error {
	if len(tx.PublicKey) != ed25519.PublicKeySize {
		return errors.New("missing public key")
	}
	h := tx.SigningHash()
	if !ed25519.Verify(tx.PublicKey, h[:], tx.Signature) {
		return errors.New("bad signature")
	}
	return nil
}

// Cost is value plus the maximum fee.
func (tx *Transaction) Cost() *big.Int {
	fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.GasPrice), new(big.Int).SetUint64(tx.Gas))
	if tx.Value == nil {
		return fee
	}
	return fee.Add(fee, tx.Value)
}

// BlockHeader is the proof-of-work protected part of a block.
type BlockHeader struct {
	ParentHash Hash
	Height     uint64
	Timestamp  int64
	Author     Address
	Difficulty uint64
	GasLimit   uint64
	TxRoot     Hash
	Referees   []Hash
	Nonce      uint64
}

// Hash identifies the header.
func (h *BlockHeader) Hash() Hash {
	return Keccak256(EncodeHeader(h))
}

// Block is a header plus its transactions.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Hash identifies the block.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// ComputeTxRoot hashes the transaction hashes in order.
func ComputeTxRoot(txs []*Transaction) Hash {
	parts := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		h := tx.Hash()
		parts = append(parts, h[:])
	}
	return Keccak256(parts...)
}

// MeetsDifficulty reports whether hash satisfies difficulty.
// A difficulty of zero or one accepts every hash.
func MeetsDifficulty(hash Hash, difficulty uint64) bool {
	if difficulty <= 1 {
		return true
	}
	target := new(big.Int).Lsh(big.NewInt(1), 256)
	target.Div(target, new(big.Int).SetUint64(difficulty))
	return hash.Big().Cmp(target) <= 0
}
