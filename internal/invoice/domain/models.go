package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DraftStatus tracks whether a draft is still editable or has been
// frozen into the ledger.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusFinalized DraftStatus = "finalized"
)

// DraftInvoice is the mutable pre-ledger document owned by the invoice
// CRUD surface. The ledger only reads it and freezes its financial
// fields at finalization; the editing workflow lives elsewhere.
type DraftInvoice struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	CustomerRef string       `gorm:"type:text;not null"`
	TaxBase     int64        `gorm:"not null"` // cents
	TaxAmount   int64        `gorm:"not null"` // cents
	GrossTotal  int64        `gorm:"not null"` // cents
	Currency    string       `gorm:"type:text;not null"`

	Status        DraftStatus   `gorm:"type:text;not null"`
	LedgerEntryID *snowflake.ID `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DraftInvoice) TableName() string { return "draft_invoices" }
