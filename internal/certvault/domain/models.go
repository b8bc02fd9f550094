package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Environment selects the tax-authority endpoint the certificate is
// valid for.
type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

// CertificateRecord is the single active signing certificate per
// organization. All blobs are opaque ciphertext; the vault never holds
// plaintext key material.
type CertificateRecord struct {
	OrgID            snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	SoftwareCode     string       `gorm:"type:text;not null"`
	IssuerTaxID      string       `gorm:"type:text;not null"`
	Environment      Environment  `gorm:"type:text;not null"`
	CertCipher       []byte       `gorm:"not null"`
	KeyCipher        []byte       `gorm:"not null"`
	PassphraseCipher []byte
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (CertificateRecord) TableName() string { return "certificate_records" }

// CertificateHistory archives the previous record on every rotation.
// Rows are append-only, never edited or deleted.
type CertificateHistory struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	OrgID            snowflake.ID `gorm:"not null;index;uniqueIndex:ux_certificate_history_org_version,priority:1"`
	Version          int64        `gorm:"not null;uniqueIndex:ux_certificate_history_org_version,priority:2"`
	RotatedBy        string       `gorm:"type:text;not null"`
	StoredAt         time.Time    `gorm:"not null"`
	IntegrityHash    string       `gorm:"type:text;not null"`
	Notes            string       `gorm:"type:text"`
	CertCipher       []byte       `gorm:"not null"`
	KeyCipher        []byte       `gorm:"not null"`
	PassphraseCipher []byte
}

// TableName sets the database table name.
func (CertificateHistory) TableName() string { return "certificate_history" }

// IntegrityHash fingerprints a set of encrypted blobs. Blobs are
// length-framed so shifting bytes between them cannot collide.
func IntegrityHash(certCipher, keyCipher, passphraseCipher []byte) string {
	h := sha256.New()
	for _, blob := range [][]byte{certCipher, keyCipher, passphraseCipher} {
		var frame [8]byte
		binary.BigEndian.PutUint64(frame[:], uint64(len(blob)))
		h.Write(frame[:])
		h.Write(blob)
	}
	return hex.EncodeToString(h.Sum(nil))
}
