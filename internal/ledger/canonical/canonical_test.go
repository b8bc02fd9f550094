package canonical

import (
	"bytes"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/ledger/domain"
)

func sampleEntry() domain.LedgerEntry {
	return domain.LedgerEntry{
		OrgID:       snowflake.ID(42),
		Series:      "2025-A",
		Number:      7,
		State:       domain.EntryStateIssued,
		IssueTime:   time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		CustomerRef: "ACME-001",
		TaxBase:     10000,
		TaxAmount:   2100,
		GrossTotal:  12100,
		Currency:    "EUR",
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := Encode(sampleEntry())
	b := Encode(sampleEntry())
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical encodings, got %q vs %q", a, b)
	}
}

func TestEncodeCarriesFormatVersion(t *testing.T) {
	encoded := Encode(sampleEntry())
	if !bytes.HasPrefix(encoded, []byte(FormatVersion)) {
		t.Fatalf("expected payload to start with format version, got %q", encoded)
	}
}

func TestEncodeNormalizesTimezone(t *testing.T) {
	entry := sampleEntry()
	madrid := time.FixedZone("CET", 3600)
	entry.IssueTime = entry.IssueTime.In(madrid)

	if !bytes.Equal(Encode(entry), Encode(sampleEntry())) {
		t.Fatalf("expected timezone-shifted input to encode identically")
	}
}

func TestEncodeInjectiveOnAdjacentText(t *testing.T) {
	// Length prefixes must keep "ab"+"c" distinct from "a"+"bc".
	a := sampleEntry()
	a.Series = "AB"
	a.CustomerRef = "C"

	b := sampleEntry()
	b.Series = "A"
	b.CustomerRef = "BC"

	if bytes.Equal(Encode(a), Encode(b)) {
		t.Fatalf("expected distinct encodings for shifted field boundaries")
	}
}

func TestEncodeExcludesSendStatus(t *testing.T) {
	a := sampleEntry()
	a.SendStatus = domain.SendStatusPending

	b := sampleEntry()
	b.SendStatus = domain.SendStatusSent

	if !bytes.Equal(Encode(a), Encode(b)) {
		t.Fatalf("expected send status to be excluded from canonical bytes")
	}
}

func TestEncodeIncludesCancellationFields(t *testing.T) {
	target := snowflake.ID(99)
	reason := "amount error"

	a := sampleEntry()
	b := sampleEntry()
	b.State = domain.EntryStateCancelled
	b.CancelsEntryID = &target
	b.CancelReason = &reason

	if bytes.Equal(Encode(a), Encode(b)) {
		t.Fatalf("expected cancellation fields to change the encoding")
	}
}
