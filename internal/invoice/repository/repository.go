package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/invoice/domain"
	"gorm.io/gorm"
)

type draftRepository struct{}

// Provide builds the gorm-backed draft repository.
func Provide() domain.Repository {
	return draftRepository{}
}

func (draftRepository) Insert(ctx context.Context, db *gorm.DB, draft *domain.DraftInvoice) error {
	return db.WithContext(ctx).Create(draft).Error
}

func (draftRepository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.DraftInvoice, error) {
	var draft domain.DraftInvoice
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (draftRepository) MarkFinalized(ctx context.Context, db *gorm.DB, orgID, draftID, entryID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE draft_invoices
		 SET status = ?, ledger_entry_id = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		domain.DraftStatusFinalized, entryID, now,
		orgID, draftID, domain.DraftStatusDraft,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
