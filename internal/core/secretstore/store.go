// Package secretstore holds the node's signing keys.
//
// All account keys derive from one 32-byte seed through HKDF-SHA256, so a
// store is fully described by its seed. Without a key file the seed is a
// fixed development value, which makes the default genesis accounts and the
// generated transactions reproducible across runs. With a key file the seed
// is random on first start and persisted sealed under a passphrase.
package secretstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/pkg/crypto/adaptive"
)

const (
	seedSize = 32

	// DefaultAccounts is the number of keys derived when Config.Accounts is zero.
	DefaultAccounts = 10
)

var devSeed = []byte("dagnode development seed v1.....")

var ErrClosed = errors.New("secretstore: closed")

// Config configures a Store.
type Config struct {
	// KeyFile is the path of the sealed seed. Empty selects the development seed.
	KeyFile string

	// Passphrase unlocks KeyFile.
	Passphrase string

	// Accounts is the number of keys to derive.
	Accounts int
}

// Store derives and holds account keys.
type Store struct {
	mu     sync.RWMutex
	keys   []ed25519.PrivateKey
	index  map[domain.Address]int
	closed bool
}

// New builds a store from cfg.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Accounts <= 0 {
		cfg.Accounts = DefaultAccounts
	}

	seed := devSeed
	if cfg.KeyFile != "" {
		var err error
		seed, err = loadOrCreateSeed(cfg.KeyFile, []byte(cfg.Passphrase), logger)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{
		keys:  make([]ed25519.PrivateKey, 0, cfg.Accounts),
		index: make(map[domain.Address]int, cfg.Accounts),
	}
	for i := 0; i < cfg.Accounts; i++ {
		key, err := deriveKey(seed, i)
		if err != nil {
			return nil, err
		}
		s.index[domain.PubkeyToAddress(key.Public().(ed25519.PublicKey))] = i
		s.keys = append(s.keys, key)
	}

	logger.Debug("secret store ready", "accounts", len(s.keys), "key_file", cfg.KeyFile != "")
	return s, nil
}

func deriveKey(seed []byte, i int) (ed25519.PrivateKey, error) {
	r := hkdf.New(sha256.New, seed, nil, []byte("dagnode/account/"+strconv.Itoa(i)))
	sub := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("derive key %d: %w", i, err)
	}
	return ed25519.NewKeyFromSeed(sub), nil
}

func loadOrCreateSeed(path string, passphrase []byte, logger *slog.Logger) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := adaptive.Open(passphrase, data)
		if err != nil {
			return nil, fmt.Errorf("unseal key file %s: %w", path, err)
		}
		if len(seed) != seedSize {
			return nil, fmt.Errorf("key file %s: seed is %d bytes", path, len(seed))
		}
		return seed, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	sealed, err := adaptive.Seal(passphrase, seed)
	if err != nil {
		return nil, fmt.Errorf("seal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}

	logger.Info("generated new key file", "path", path)
	return seed, nil
}

// Count returns the number of held keys.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Key returns the i-th key.
func (s *Store) Key(i int) (ed25519.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(s.keys) {
		return nil, fmt.Errorf("secretstore: no key at index %d", i)
	}
	return s.keys[i], nil
}

// KeyFor returns the key controlling addr.
func (s *Store) KeyFor(addr domain.Address) (ed25519.PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[addr]
	if !ok || s.closed {
		return nil, false
	}
	return s.keys[i], true
}

// Addresses returns the account addresses in derivation order.
func (s *Store) Addresses() []domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Address, len(s.keys))
	for i, k := range s.keys {
		out[i] = domain.PubkeyToAddress(k.Public().(ed25519.PublicKey))
	}
	return out
}

// Close wipes key material. Later lookups fail.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		clear(k)
	}
	s.closed = true
}
