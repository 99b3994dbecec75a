// Package cmap provides a sharded concurrent map.
//
// Each shard has its own RWMutex, so writers to different keys rarely
// contend. Keys are distributed with hash/maphash over the comparable key.
// The transaction pool keys its pending set by transaction hash here.
//
// Usage:
//
//	m := cmap.New[domain.Hash, *domain.Transaction]()
//	m.SetIfAbsent(tx.Hash(), tx)
//	tx, ok := m.Get(hash)
package cmap
