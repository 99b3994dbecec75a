package consensus

import (
	"fmt"
	"math/big"

	"github.com/yndnr/dagnode/internal/core/domain"
)

// DefaultStackLimit bounds call data in 32-byte words.
const DefaultStackLimit = 1024

// VMFactory builds transaction executors.
type VMFactory struct {
	stackLimit int
}

// NewVMFactory returns a factory whose VMs accept at most stackLimit words
// of call data. Zero selects DefaultStackLimit.
func NewVMFactory(stackLimit int) *VMFactory {
	if stackLimit <= 0 {
		stackLimit = DefaultStackLimit
	}
	return &VMFactory{stackLimit: stackLimit}
}

// StackLimit returns the configured limit.
func (f *VMFactory) StackLimit() int {
	return f.stackLimit
}

// NewVM returns an executor bound to one block author.
func (f *VMFactory) NewVM(author domain.Address) *VM {
	return &VM{stackLimit: f.stackLimit, author: author}
}

// VM executes value transfers against an account view.
type VM struct {
	stackLimit int
	author     domain.Address
}

// Receipt is the outcome of one transaction.
type Receipt struct {
	TxHash  domain.Hash
	GasUsed uint64
	Err     error
}

// Execute applies tx to the accounts held in state, loading missing ones
// through get. A failed transaction leaves state untouched.
func (vm *VM) Execute(state map[domain.Address]*domain.Account, get func(domain.Address) (*domain.Account, error), tx *domain.Transaction) Receipt {
	r := Receipt{TxHash: tx.Hash()}

	if words := (len(tx.Data) + 31) / 32; words > vm.stackLimit {
		r.Err = domain.ErrInvalidTransaction.WithDetails(fmt.Sprintf("call data exceeds stack limit (%d words)", vm.stackLimit))
		return r
	}

	load := func(a domain.Address) (*domain.Account, error) {
		if acc, ok := state[a]; ok {
			return acc, nil
		}
		acc, err := get(a)
		if err != nil {
			return nil, err
		}
		state[a] = acc
		return acc, nil
	}

	sender, err := load(tx.Sender())
	if err != nil {
		r.Err = err
		return r
	}
	if tx.Nonce != sender.Nonce {
		r.Err = domain.ErrNonceMismatch.WithDetails(fmt.Sprintf("have %d, want %d", tx.Nonce, sender.Nonce))
		return r
	}
	cost := tx.Cost()
	if sender.Balance.Cmp(cost) < 0 {
		r.Err = domain.ErrInsufficientBalance
		return r
	}

	to, err := load(tx.To)
	if err != nil {
		r.Err = err
		return r
	}
	author, err := load(vm.author)
	if err != nil {
		r.Err = err
		return r
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.GasPrice), new(big.Int).SetUint64(tx.Gas))
	sender.Balance.Sub(sender.Balance, cost)
	sender.Nonce++
	if tx.Value != nil {
		to.Balance.Add(to.Balance, tx.Value)
	}
	author.Balance.Add(author.Balance, fee)

	r.GasUsed = tx.Gas
	return r
}
