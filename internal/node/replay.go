package node

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/server/rpcserver"
)

// blockSink accepts locally produced blocks. *chainsync.Service implements it.
type blockSink interface {
	OnMinedBlock(ctx context.Context, blk *domain.Block) error
}

// replayChain submits a recorded block sequence to sink in file order.
// The file is a JSON array of RPC blocks. The first record is the recorded
// genesis and is skipped; a hash different from the local genesis is only
// logged. Blocks the sink rejects are logged and skipped.
// Returns the number of blocks accepted.
func replayChain(ctx context.Context, path string, sink blockSink, genesis domain.Hash, logger *slog.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, domain.ErrReplay.Wrap(err, "read %s", path)
	}

	var records []rpcserver.Block
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, domain.ErrReplay.Wrap(err, "parse %s", path)
	}
	if len(records) == 0 {
		return 0, domain.ErrReplay.WithDetails(path + " holds no blocks")
	}

	if recorded, err := domain.ParseHash(records[0].Hash); err != nil || recorded != genesis {
		logger.Warn("recorded genesis differs from local genesis",
			"recorded", records[0].Hash,
			"local", genesis.Hex())
	}

	accepted := 0
	for i, rec := range records[1:] {
		blk, err := rec.ToDomain()
		if err != nil {
			return accepted, domain.ErrReplay.Wrap(err, "record %d", i+1)
		}
		if err := sink.OnMinedBlock(ctx, blk); err != nil {
			logger.Warn("replayed block rejected", "record", i+1, "hash", rec.Hash, "error", err)
			continue
		}
		accepted++
	}

	logger.Info("test chain replayed", "path", path, "records", len(records), "accepted", accepted)
	return accepted, nil
}
