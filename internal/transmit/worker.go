package transmit

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Ledger      ledgerdomain.Service
	Transmitter Transmitter
	Config      Config `optional:"true"`
}

// Worker drains entries with a pending send_status and hands them to
// the configured Transmitter. Chain content is never touched; only the
// transmission markers change, through the ledger service.
type Worker struct {
	db          *gorm.DB
	log         *zap.Logger
	ledger      ledgerdomain.Service
	transmitter Transmitter
	cfg         Config
}

func NewWorker(p Params) *Worker {
	cfg := p.Config.withDefaults()
	return &Worker{
		db:          p.DB,
		log:         p.Log.Named("transmit.worker"),
		ledger:      p.Ledger,
		transmitter: p.Transmitter,
		cfg:         cfg,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("transmit run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes at most one batch of pending entries and reports
// how many were marked sent.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return w.processBatch(runCtx, w.cfg.BatchSize)
}

func (w *Worker) processBatch(ctx context.Context, limit int) (int, error) {
	if w.db == nil || w.ledger == nil || w.transmitter == nil {
		return 0, errors.New("transmit_worker_unavailable")
	}
	if limit <= 0 {
		limit = w.cfg.BatchSize
	}

	var pending []ledgerdomain.LedgerEntry
	err := w.db.WithContext(ctx).
		Where("send_status = ?", ledgerdomain.SendStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, entry := range pending {
		if err := w.transmitter.Transmit(ctx, entry); err != nil {
			// Leave the entry pending; the next tick retries it.
			w.log.Warn("transmission failed",
				zap.Int64("entry_id", int64(entry.ID)),
				zap.Error(err),
			)
			continue
		}

		entryCtx := orgcontext.WithOrgID(ctx, int64(entry.OrgID))
		err := w.ledger.MarkSent(entryCtx, entry.ID)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ledgerdomain.ErrAlreadySent):
			// Another instance won the race; nothing to do.
		default:
			return sent, err
		}
	}
	return sent, nil
}
