package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreateSeriesRequest registers a numbering scope for the caller's org.
type CreateSeriesRequest struct {
	Code string
	Name string
}

// FinalizeRequest turns a draft invoice into the next chain entry.
// DeviceID and SoftwareCode identify the issuing terminal and billing
// software; both are optional and recorded verbatim when present.
type FinalizeRequest struct {
	DraftID      snowflake.ID
	Series       string
	DeviceID     string
	SoftwareCode string
}

// CancelRequest appends a cancellation entry superseding an issued one.
type CancelRequest struct {
	EntryID snowflake.ID
	Reason  string
}

// ExportRequest selects a window of the chain for audit export.
type ExportRequest struct {
	From   *time.Time
	To     *time.Time
	Verify bool
}

// Divergence identifies the first broken link found during export
// verification.
type Divergence struct {
	Series string `json:"series"`
	Number int64  `json:"number"`
}

// Verification annotates an export with the outcome of re-checking the
// chain. A failed check never blocks the export itself.
type Verification struct {
	OK         bool        `json:"ok"`
	Divergence *Divergence `json:"divergence,omitempty"`
}

// ExportResponse carries the ordered window plus the optional
// verification result.
type ExportResponse struct {
	Entries      []LedgerEntry `json:"entries"`
	Verification *Verification `json:"verification,omitempty"`
}

// Service is the fiscal ledger writer and audit reader. All operations
// are scoped to the organization resolved from the context.
type Service interface {
	CreateSeries(ctx context.Context, req CreateSeriesRequest) (*Series, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*LedgerEntry, error)
	Cancel(ctx context.Context, req CancelRequest) (*LedgerEntry, error)
	Export(ctx context.Context, req ExportRequest) (ExportResponse, error)
	MarkSent(ctx context.Context, entryID snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSeries       = errors.New("invalid_series")
	ErrSeriesExists        = errors.New("series_exists")
	ErrSeriesNotFound      = errors.New("series_not_found")
	ErrDraftNotFound       = errors.New("draft_not_found")
	ErrAlreadyFinalized    = errors.New("already_finalized")
	ErrEntryNotFound       = errors.New("entry_not_found")
	ErrNotIssued           = errors.New("not_issued")
	ErrAlreadyCancelled    = errors.New("already_cancelled")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrInvalidExportRange  = errors.New("invalid_export_range")
	ErrAlreadySent         = errors.New("already_sent")

	// ErrConcurrentConflict reports a lost allocation race. Safe for the
	// caller to retry; semantic conflicts above are not.
	ErrConcurrentConflict = errors.New("concurrent_finalization_conflict")
)
