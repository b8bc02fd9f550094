package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryState marks an entry as a normal issued record or a cancellation
// record superseding another entry. Rows never change state; a
// cancellation is always a new entry.
type EntryState string

const (
	EntryStateIssued    EntryState = "issued"
	EntryStateCancelled EntryState = "cancelled"
)

// SendStatus tracks transmission to the regulator endpoint. It is the
// only mutable column on a persisted entry.
type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSent    SendStatus = "sent"
)

// Series is an issuer-defined numbering scope, e.g. "2025-A". Each
// (org, series) pair owns one gapless sequence and one hash chain.
type Series struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_series_org_code,priority:1"`
	Code      string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_series_org_code,priority:2"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Series) TableName() string { return "ledger_series" }

// SeriesCounter holds the last allocated number per (org, series). The
// row is incremented inside the finalization transaction, so a rolled
// back finalization never burns a number.
type SeriesCounter struct {
	OrgID      snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Series     string       `gorm:"primaryKey;type:text"`
	LastNumber int64        `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (SeriesCounter) TableName() string { return "series_counters" }

// LedgerEntry is one immutable link in an organization's fiscal chain.
// Core fields, PreviousHash and ChainedHash are write-once; only
// SendStatus may change after insert.
type LedgerEntry struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	OrgID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_entries_org_series_number,priority:1"`
	Series string       `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_org_series_number,priority:2"`
	Number int64        `gorm:"not null;uniqueIndex:ux_ledger_entries_org_series_number,priority:3"`
	State  EntryState   `gorm:"type:text;not null"`

	IssueTime   time.Time `gorm:"not null;index"`
	CustomerRef string    `gorm:"type:text;not null"`
	TaxBase     int64     `gorm:"not null"` // cents
	TaxAmount   int64     `gorm:"not null"` // cents
	GrossTotal  int64     `gorm:"not null"` // cents
	Currency    string    `gorm:"type:text;not null"`

	PreviousHash string `gorm:"type:text;not null"`
	ChainedHash  string `gorm:"type:text;not null"`

	// Set only on cancellation entries.
	CancelsEntryID *snowflake.ID `gorm:"uniqueIndex:ux_ledger_entries_cancels_entry"`
	CancelReason   *string       `gorm:"type:text"`

	// Set only on entries produced from a draft.
	DraftID *snowflake.ID `gorm:"uniqueIndex:ux_ledger_entries_draft"`

	SendStatus SendStatus `gorm:"type:text;not null;index"`
	SentAt     *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
