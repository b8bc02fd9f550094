package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/events"
	invoicedomain "github.com/smallbiznis/fiscalia/internal/invoice/domain"
	"github.com/smallbiznis/fiscalia/internal/ledger/canonical"
	"github.com/smallbiznis/fiscalia/internal/ledger/chain"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"github.com/smallbiznis/fiscalia/internal/ledger/sequence"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Drafts invoicedomain.Repository
	Outbox *events.Outbox
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	drafts invoicedomain.Repository
	outbox *events.Outbox
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("ledger.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		drafts: p.Drafts,
		outbox: p.Outbox,
	}
}

func (s *Service) CreateSeries(ctx context.Context, req ledgerdomain.CreateSeriesRequest) (*ledgerdomain.Series, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, ledgerdomain.ErrInvalidSeries
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}

	series := &ledgerdomain.Series{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Code:      code,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(series).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ledgerdomain.ErrSeriesExists
		}
		return nil, err
	}
	return series, nil
}

// Finalize freezes a draft into the next entry of its (org, series)
// chain. Number allocation, chain linkage and the insert commit or roll
// back as one unit.
func (s *Service) Finalize(ctx context.Context, req ledgerdomain.FinalizeRequest) (*ledgerdomain.LedgerEntry, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	seriesCode := strings.TrimSpace(req.Series)
	if seriesCode == "" {
		return nil, ledgerdomain.ErrInvalidSeries
	}

	var entry *ledgerdomain.LedgerEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := s.drafts.FindByID(ctx, tx, orgID, req.DraftID)
		if err != nil {
			return err
		}
		if draft == nil {
			return ledgerdomain.ErrDraftNotFound
		}
		if draft.Status != invoicedomain.DraftStatusDraft {
			return ledgerdomain.ErrAlreadyFinalized
		}

		if err := s.seriesExists(ctx, tx, orgID, seriesCode); err != nil {
			return err
		}

		// The counter increment takes the per-key lock; the tail read
		// below is stable for the rest of the transaction.
		number, err := sequence.Next(ctx, tx, orgID, seriesCode)
		if err != nil {
			return err
		}

		prevHash, tailNumber, err := s.chainTail(ctx, tx, orgID, seriesCode)
		if err != nil {
			return err
		}
		if tailNumber != number-1 {
			return ledgerdomain.ErrConcurrentConflict
		}

		now := s.clock.Now().UTC().Truncate(time.Second)
		draftID := draft.ID
		e := &ledgerdomain.LedgerEntry{
			ID:           s.genID.Generate(),
			OrgID:        orgID,
			Series:       seriesCode,
			Number:       number,
			State:        ledgerdomain.EntryStateIssued,
			IssueTime:    now,
			CustomerRef:  draft.CustomerRef,
			TaxBase:      draft.TaxBase,
			TaxAmount:    draft.TaxAmount,
			GrossTotal:   draft.GrossTotal,
			Currency:     draft.Currency,
			PreviousHash: prevHash,
			DraftID:      &draftID,
			SendStatus:   ledgerdomain.SendStatusPending,
			CreatedAt:    now,
		}
		e.ChainedHash = chain.Compute(prevHash, canonical.Encode(*e))

		if err := tx.Create(e).Error; err != nil {
			if isUniqueViolation(err) {
				return ledgerdomain.ErrConcurrentConflict
			}
			return err
		}

		linked, err := s.drafts.MarkFinalized(ctx, tx, orgID, draft.ID, e.ID, now)
		if err != nil {
			return err
		}
		if !linked {
			return ledgerdomain.ErrAlreadyFinalized
		}

		payload := map[string]any{
			"entry_id":     e.ID.String(),
			"series":       e.Series,
			"number":       e.Number,
			"chained_hash": e.ChainedHash,
		}
		if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
			payload["device_id"] = deviceID
		}
		if softwareCode := strings.TrimSpace(req.SoftwareCode); softwareCode != "" {
			payload["software_code"] = softwareCode
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID:   orgID,
			Type:    events.EventEntryFinalized,
			Payload: payload,
			DedupeKey: "finalize:" + e.ID.String(),
		}); err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("entry finalized",
		zap.String("org_id", orgID.String()),
		zap.String("series", entry.Series),
		zap.Int64("number", entry.Number),
		zap.String("chained_hash", entry.ChainedHash),
	)
	return entry, nil
}

// Cancel appends a cancellation entry superseding an issued one. The
// original row is never touched.
func (s *Service) Cancel(ctx context.Context, req ledgerdomain.CancelRequest) (*ledgerdomain.LedgerEntry, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ledgerdomain.ErrInvalidReason
	}

	var entry *ledgerdomain.LedgerEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target ledgerdomain.LedgerEntry
		err := tx.WithContext(ctx).
			Where("org_id = ? AND id = ?", orgID, req.EntryID).
			First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		if target.State != ledgerdomain.EntryStateIssued {
			return ledgerdomain.ErrNotIssued
		}

		number, err := sequence.Next(ctx, tx, orgID, target.Series)
		if err != nil {
			return err
		}

		// Checked after the counter increment: a cancellation entry
		// lives in the target's series, so a competing Cancel holds the
		// same counter-row lock and its void is visible here once we
		// acquire it. A pre-lock count could read a stale snapshot.
		var existing int64
		if err := tx.WithContext(ctx).
			Model(&ledgerdomain.LedgerEntry{}).
			Where("org_id = ? AND cancels_entry_id = ?", orgID, target.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ledgerdomain.ErrAlreadyCancelled
		}
		prevHash, tailNumber, err := s.chainTail(ctx, tx, orgID, target.Series)
		if err != nil {
			return err
		}
		if tailNumber != number-1 {
			return ledgerdomain.ErrConcurrentConflict
		}

		now := s.clock.Now().UTC().Truncate(time.Second)
		targetID := target.ID
		e := &ledgerdomain.LedgerEntry{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			Series:         target.Series,
			Number:         number,
			State:          ledgerdomain.EntryStateCancelled,
			IssueTime:      now,
			CustomerRef:    target.CustomerRef,
			TaxBase:        target.TaxBase,
			TaxAmount:      target.TaxAmount,
			GrossTotal:     target.GrossTotal,
			Currency:       target.Currency,
			PreviousHash:   prevHash,
			CancelsEntryID: &targetID,
			CancelReason:   &reason,
			SendStatus:     ledgerdomain.SendStatusPending,
			CreatedAt:      now,
		}
		e.ChainedHash = chain.Compute(prevHash, canonical.Encode(*e))

		if err := tx.Create(e).Error; err != nil {
			if isUniqueViolation(err) {
				return ledgerdomain.ErrConcurrentConflict
			}
			return err
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID: orgID,
			Type:  events.EventEntryCancelled,
			Payload: map[string]any{
				"entry_id":         e.ID.String(),
				"cancels_entry_id": target.ID.String(),
				"series":           e.Series,
				"number":           e.Number,
			},
			DedupeKey: "cancel:" + target.ID.String(),
		}); err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		// A unique violation on insert can also mean another void for
		// the same entry won the race via the one-void-per-entry index;
		// that caller-visible outcome is "already cancelled", not a
		// retryable slot conflict.
		if errors.Is(err, ledgerdomain.ErrConcurrentConflict) {
			var count int64
			if countErr := s.db.WithContext(ctx).
				Model(&ledgerdomain.LedgerEntry{}).
				Where("org_id = ? AND cancels_entry_id = ?", orgID, req.EntryID).
				Count(&count).Error; countErr == nil && count > 0 {
				return nil, ledgerdomain.ErrAlreadyCancelled
			}
		}
		return nil, err
	}

	s.log.Info("entry cancelled",
		zap.String("org_id", orgID.String()),
		zap.String("series", entry.Series),
		zap.Int64("number", entry.Number),
		zap.String("cancels_entry_id", entry.CancelsEntryID.String()),
	)
	return entry, nil
}

// Export returns the chain window ordered by (series, number). When
// verification is requested its outcome is attached as a flag; a failed
// check never blocks the export, auditors need to see what is on
// record.
func (s *Service) Export(ctx context.Context, req ledgerdomain.ExportRequest) (ledgerdomain.ExportResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return ledgerdomain.ExportResponse{}, err
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return ledgerdomain.ExportResponse{}, ledgerdomain.ErrInvalidExportRange
	}

	query := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("series ASC").
		Order("number ASC")
	if req.From != nil {
		query = query.Where("issue_time >= ?", req.From.UTC())
	}
	if req.To != nil {
		query = query.Where("issue_time <= ?", req.To.UTC())
	}

	var entries []ledgerdomain.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return ledgerdomain.ExportResponse{}, err
	}

	resp := ledgerdomain.ExportResponse{Entries: entries}
	if req.Verify {
		resp.Verification = s.verifyWindow(entries)
	}
	return resp, nil
}

// MarkSent flips the transmission status of an entry. This is the only
// permitted mutation of a persisted entry; chain content is untouched.
func (s *Service) MarkSent(ctx context.Context, entryID snowflake.ID) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE ledger_entries
		 SET send_status = ?, sent_at = ?
		 WHERE org_id = ? AND id = ? AND send_status = ?`,
		ledgerdomain.SendStatusSent, now,
		orgID, entryID, ledgerdomain.SendStatusPending,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var existing int64
		if err := s.db.WithContext(ctx).
			Model(&ledgerdomain.LedgerEntry{}).
			Where("org_id = ? AND id = ?", orgID, entryID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			return ledgerdomain.ErrEntryNotFound
		}
		return ledgerdomain.ErrAlreadySent
	}
	return nil
}

func (s *Service) verifyWindow(entries []ledgerdomain.LedgerEntry) *ledgerdomain.Verification {
	// Entries arrive ordered by (series, number); verify each series
	// window independently, chains never cross series.
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i < len(entries) && entries[i].Series == entries[start].Series {
			continue
		}
		window := entries[start:i]
		if ok, idx := chain.VerifyWindow(window); !ok {
			s.log.Warn("chain verification failed",
				zap.String("org_id", window[idx].OrgID.String()),
				zap.String("series", window[idx].Series),
				zap.Int64("number", window[idx].Number),
			)
			return &ledgerdomain.Verification{
				OK: false,
				Divergence: &ledgerdomain.Divergence{
					Series: window[idx].Series,
					Number: window[idx].Number,
				},
			}
		}
		start = i
	}
	return &ledgerdomain.Verification{OK: true}
}

func (s *Service) seriesExists(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, code string) error {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&ledgerdomain.Series{}).
		Where("org_id = ? AND code = ?", orgID, code).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ledgerdomain.ErrSeriesNotFound
	}
	return nil
}

// chainTail returns the hash and number of the highest entry in the
// chain, or the seed and zero for an empty chain.
func (s *Service) chainTail(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, series string) (string, int64, error) {
	var tail ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).
		Where("org_id = ? AND series = ?", orgID, series).
		Order("number DESC").
		First(&tail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chain.Seed, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return tail.ChainedHash, tail.Number, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgID(ctx)
	if !ok {
		return 0, ledgerdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}
