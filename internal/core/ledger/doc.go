// Package ledger persists and caches chain state.
//
// StorageManager maps accounts, blocks and the pivot chain onto keys of the
// Badger store and owns one reference to the storage handle. DataManager
// sits in front of it with LRU caches and a bounded pool of block writers,
// and owns one reference to the storage manager. Closing the data manager
// therefore cascades down to the storage handle once no other owner remains.
package ledger
