// Package canonical renders the hash-relevant fields of a ledger entry
// as a deterministic byte string. The encoding is fixed forever for a
// given format version: field order is fixed, free text is
// length-prefixed so the encoding stays injective, amounts are integer
// cents, timestamps are RFC 3339 UTC at second precision.
package canonical

import (
	"bytes"
	"strconv"
	"time"

	"github.com/smallbiznis/fiscalia/internal/ledger/domain"
)

// FormatVersion participates in the encoded payload, so a future format
// change produces distinguishable hash inputs instead of silently
// conflating old chains.
const FormatVersion = "v1"

// Encode serializes the write-once core of an entry. Mutable columns
// (send status, timestamps of transmission) are deliberately excluded.
func Encode(e domain.LedgerEntry) []byte {
	var b bytes.Buffer
	b.WriteString(FormatVersion)
	writeField(&b, "org", e.OrgID.String())
	writeField(&b, "series", e.Series)
	writeField(&b, "number", strconv.FormatInt(e.Number, 10))
	writeField(&b, "issued", e.IssueTime.UTC().Format(time.RFC3339))
	writeField(&b, "state", string(e.State))
	writeField(&b, "customer", e.CustomerRef)
	writeField(&b, "base", strconv.FormatInt(e.TaxBase, 10))
	writeField(&b, "tax", strconv.FormatInt(e.TaxAmount, 10))
	writeField(&b, "gross", strconv.FormatInt(e.GrossTotal, 10))
	writeField(&b, "currency", e.Currency)

	cancels := "0"
	if e.CancelsEntryID != nil {
		cancels = e.CancelsEntryID.String()
	}
	writeField(&b, "cancels", cancels)

	reason := ""
	if e.CancelReason != nil {
		reason = *e.CancelReason
	}
	writeField(&b, "reason", reason)
	return b.Bytes()
}

func writeField(b *bytes.Buffer, name, value string) {
	b.WriteByte('|')
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
}
