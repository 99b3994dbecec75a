package node

import (
	"github.com/yndnr/dagnode/internal/infra/shutdown"
)

// RunUntilClosed forwards SIGINT and SIGTERM to exit, blocks until exit
// fires, then closes the node.
func RunUntilClosed(exit *shutdown.Signal, h *Handle) ReleaseOutcome {
	var intr shutdown.Interrupt
	intr.Install(exit, h.logger)
	defer intr.Uninstall()

	exit.Wait()
	h.logger.Info("exit requested", "reason", exit.Reason())
	return Close(h)
}
