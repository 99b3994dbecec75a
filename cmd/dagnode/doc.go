// Package main provides the entry point for dagnode.
//
// dagnode runs a DAG ledger full node: durable storage, the consensus
// graph, block sync over the gossip network, optional mining and
// transaction generation, and the JSON-RPC front ends.
//
// Usage:
//
//	dagnode [global flags] [run]
//	dagnode --config /etc/dagnode.yaml run
//	dagnode -c node.yaml config check -o yaml
//	dagnode version
//
// Configuration is layered: defaults, then the YAML file, then DAGNODE_
// environment variables (DAGNODE_NETWORK__BIND_PORT=4000), then flags.
// SIGINT or SIGTERM starts a graceful shutdown.
package main
