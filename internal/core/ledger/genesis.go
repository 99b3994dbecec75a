package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/storage"
)

// DefaultGenesisBalance funds each default genesis account.
var DefaultGenesisBalance = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000_000_000_000_000))

// GenesisAccounts maps an address to its initial balance.
type GenesisAccounts map[domain.Address]*big.Int

// LoadGenesisFile reads a JSON object of address to balance.
// Balances are decimal or 0x-prefixed hex strings.
func LoadGenesisFile(path string) (GenesisAccounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	accounts := make(GenesisAccounts, len(raw))
	for k, v := range raw {
		addr, err := domain.ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("genesis address %q: %w", k, err)
		}
		bal, ok := new(big.Int).SetString(v, 0)
		if !ok || bal.Sign() < 0 {
			return nil, fmt.Errorf("genesis balance %q for %s", v, k)
		}
		accounts[addr] = bal
	}
	return accounts, nil
}

// DefaultGenesisAccounts funds every address with balance.
func DefaultGenesisAccounts(addrs []domain.Address, balance *big.Int) GenesisAccounts {
	accounts := make(GenesisAccounts, len(addrs))
	for _, a := range addrs {
		accounts[a] = new(big.Int).Set(balance)
	}
	return accounts
}

// Sorted returns the accounts in address order.
func (g GenesisAccounts) Sorted() []*domain.Account {
	out := make([]*domain.Account, 0, len(g))
	for addr, bal := range g {
		out = append(out, &domain.Account{Address: addr, Balance: new(big.Int).Set(bal)})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

// GenesisParams are the chain parameters fixed at genesis.
type GenesisParams struct {
	GasLimit   uint64
	ChainID    uint32
	Difficulty uint64
}

// GenesisBlock builds the deterministic genesis block for accounts.
// The account set is committed through the header's tx root slot.
func GenesisBlock(accounts GenesisAccounts, p GenesisParams) *domain.Block {
	parts := make([][]byte, 0, 2*len(accounts))
	for _, acc := range accounts.Sorted() {
		parts = append(parts, acc.Address[:], acc.Balance.Bytes())
	}
	return &domain.Block{
		Header: domain.BlockHeader{
			Height:     0,
			Difficulty: p.Difficulty,
			GasLimit:   p.GasLimit,
			TxRoot:     domain.Keccak256(parts...),
		},
	}
}

// InitializeGenesis writes genesis state on first start and returns the
// genesis block. On later starts the stored genesis is returned unchanged
// after checking it matches the configured one.
func (m *StorageManager) InitializeGenesis(ctx context.Context, accounts GenesisAccounts, p GenesisParams) (*domain.Block, error) {
	genesis := GenesisBlock(accounts, p)
	hash := genesis.Hash()

	stored, err := m.get(ctx, keyGenesis)
	switch {
	case err == nil:
		if string(stored) != string(hash[:]) {
			return nil, fmt.Errorf("database holds a different genesis block")
		}
		m.logger.Debug("genesis already initialized", "hash", hash.Hex())
		return genesis, nil
	case !errors.Is(err, storage.ErrKeyNotFound):
		return nil, err
	}

	pairs := make([]storage.KV, 0, len(accounts)+4)
	for _, acc := range accounts.Sorted() {
		pairs = append(pairs, storage.KV{Key: accountKey(acc.Address), Value: domain.EncodeAccount(acc)})
	}
	pairs = append(pairs,
		storage.KV{Key: blockKey(hash), Value: domain.EncodeBlock(genesis)},
		storage.KV{Key: pivotKey(0), Value: hash[:]},
		storage.KV{Key: keyChainID, Value: binary.BigEndian.AppendUint32(nil, p.ChainID)},
		storage.KV{Key: keyGenesis, Value: hash[:]},
	)
	if err := m.batch(ctx, pairs); err != nil {
		return nil, fmt.Errorf("write genesis: %w", err)
	}

	m.logger.Info("genesis initialized", "hash", hash.Hex(), "accounts", len(accounts), "chain_id", p.ChainID)
	return genesis, nil
}
