package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the narrow draft surface the ledger consumes. The full
// CRUD workflow is an external collaborator.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, draft *DraftInvoice) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*DraftInvoice, error)

	// MarkFinalized links the draft to its ledger entry. It only
	// succeeds while the draft is still in draft status, so a draft can
	// be finalized at most once even under a race; the boolean reports
	// whether the guard matched.
	MarkFinalized(ctx context.Context, db *gorm.DB, orgID, draftID, entryID snowflake.ID, now time.Time) (bool, error)
}
