// Package shutdown provides the shutdown primitives of dagnode.
//
// This package covers:
//
//   - Signal: a one-shot, broadcast exit flag shared by every component
//   - Interrupt: SIGINT/SIGTERM forwarding into a Signal
//   - Stack: reverse-order teardown guards for partially started components
//
// Usage:
//
//	exit := shutdown.NewSignal()
//	var intr shutdown.Interrupt
//	intr.Install(exit, logger)
//	exit.Wait() // blocks until the first interrupt
package shutdown
