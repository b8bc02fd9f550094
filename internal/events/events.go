package events

// Event types emitted by the fiscal ledger for downstream consumers
// (regulator transmission, reporting rollups).
const (
	EventEntryFinalized    = "ledger.entry.finalized"
	EventEntryCancelled    = "ledger.entry.cancelled"
	EventCertificateStored = "certificate.stored"
	EventCertificateRotated = "certificate.rotated"
)

// EntryPayload identifies a ledger entry in an event payload.
type EntryPayload struct {
	EntryID     string `json:"entry_id"`
	Series      string `json:"series"`
	Number      int64  `json:"number"`
	ChainedHash string `json:"chained_hash"`
	CancelsID   string `json:"cancels_entry_id,omitempty"`
}

// CertificatePayload identifies a certificate rotation in an event
// payload. Blob contents never appear in events.
type CertificatePayload struct {
	Version       int64  `json:"version"`
	IntegrityHash string `json:"integrity_hash,omitempty"`
}
