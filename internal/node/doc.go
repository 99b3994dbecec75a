// Package node supervises the lifecycle of a dagnode process.
//
// Start builds the subsystems leaf first: storage, storage manager, genesis,
// data manager, transaction pool, consensus, network, sync, generators and
// finally the RPC front ends. Ownership between them is explicit through
// refcount references; the storage handle is closed only after its last
// owner lets go.
//
// Close stops block production, releases every reference the Handle holds,
// joins background tasks with a bound, and then waits for the storage
// release acknowledgment:
//
//	poll every shutdown.release_poll_interval (1s)
//	warn once after shutdown.release_warn_after (10s)
//	give up after shutdown.release_timeout (60s)
//
// RunUntilClosed ties both ends to the exit signal:
//
//	exit := shutdown.NewSignal()
//	h, err := node.Start(cfg, exit, node.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	node.RunUntilClosed(exit, h)
package node
