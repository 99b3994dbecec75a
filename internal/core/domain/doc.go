// Package domain defines the core chain models of dagnode.
//
// Domain models are plain values without IO dependencies:
//
//   - Hash, Address: fixed-size identifiers with hex helpers
//   - Transaction, BlockHeader, Block, Account: chain objects
//   - codec.go: canonical protobuf-wire binary encoding
//   - errors.go: stage-tagged NodeError values
package domain
