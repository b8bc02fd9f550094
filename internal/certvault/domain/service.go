package domain

import (
	"context"
	"errors"
	"time"
)

// UploadRequest carries a new certificate for the caller's org. Blobs
// arrive already encrypted; the vault treats them as opaque bytes.
type UploadRequest struct {
	SoftwareCode     string
	IssuerTaxID      string
	Environment      Environment
	CertCipher       []byte
	KeyCipher        []byte
	PassphraseCipher []byte
	Notes            string
}

// RecordSummary describes the active record without exposing blob
// contents.
type RecordSummary struct {
	SoftwareCode string      `json:"software_code"`
	IssuerTaxID  string      `json:"issuer_tax_id"`
	Environment  Environment `json:"environment"`
	CertBytes    int         `json:"cert_bytes"`
	KeyBytes     int         `json:"key_bytes"`
	HasPassphrase bool       `json:"has_passphrase"`
	IntegrityHash string     `json:"integrity_hash"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// HistoryRow is one archived rotation, metadata only.
type HistoryRow struct {
	Version       int64     `json:"version"`
	RotatedBy     string    `json:"rotated_by"`
	StoredAt      time.Time `json:"stored_at"`
	IntegrityHash string    `json:"integrity_hash"`
	Notes         string    `json:"notes,omitempty"`
}

// HistoryResponse lists rotations newest first plus the current record
// summary.
type HistoryResponse struct {
	Current *RecordSummary `json:"current,omitempty"`
	History []HistoryRow   `json:"history"`
}

// Service is the certificate vault. Upload archives the previous record
// and overwrites it atomically; history is append-only.
type Service interface {
	Upload(ctx context.Context, req UploadRequest) error
	ListHistory(ctx context.Context) (HistoryResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEnvironment  = errors.New("invalid_environment")
	ErrMissingCertificate  = errors.New("missing_certificate")
	ErrMissingPrivateKey   = errors.New("missing_private_key")
	ErrMissingIssuerTaxID  = errors.New("missing_issuer_tax_id")
	ErrConcurrentRotation  = errors.New("concurrent_rotation")
)
