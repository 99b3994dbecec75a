// Package storage provides the durable key-value store of dagnode.
//
// A single Badger database holds every persisted object (genesis state,
// account state, block bodies). The database handle is shared by several
// owners through pkg/refcount; it is closed only after the last owner
// releases it, so the LSM tree and value log are never closed underneath a
// live writer.
package storage
