// Package chainsync moves blocks between the network and consensus.
//
// Graph verifies headers and holds blocks whose parent or referees are not
// yet known, inserting them once their dependencies arrive. Service speaks
// the "sync" protocol: it announces new blocks, answers block requests, and
// requests missing ancestors from the peer that sent a block.
package chainsync
