package transmit

import (
	"context"

	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"go.uber.org/zap"
)

// Transmitter delivers a finalized ledger entry to the tax authority
// endpoint. Implementations must be safe for repeated delivery of the
// same entry; the worker only flips send_status after a nil return.
type Transmitter interface {
	Transmit(ctx context.Context, entry ledgerdomain.LedgerEntry) error
}

// LogTransmitter records the outgoing entry and reports success. It is
// the default sink when no upstream endpoint is configured.
type LogTransmitter struct {
	log *zap.Logger
}

func NewLogTransmitter(log *zap.Logger) *LogTransmitter {
	return &LogTransmitter{log: log.Named("transmit.sink")}
}

func (t *LogTransmitter) Transmit(ctx context.Context, entry ledgerdomain.LedgerEntry) error {
	t.log.Info("entry transmitted",
		zap.Int64("org_id", int64(entry.OrgID)),
		zap.String("series", entry.Series),
		zap.Int64("number", entry.Number),
		zap.String("chained_hash", entry.ChainedHash),
	)
	return nil
}
