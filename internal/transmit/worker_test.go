package transmit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/events"
	invoicerepo "github.com/smallbiznis/fiscalia/internal/invoice/repository"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/fiscalia/internal/ledger/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTransmitTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("underlying db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		series TEXT NOT NULL,
		number BIGINT NOT NULL,
		state TEXT NOT NULL,
		issue_time DATETIME NOT NULL,
		customer_ref TEXT NOT NULL,
		tax_base BIGINT NOT NULL,
		tax_amount BIGINT NOT NULL,
		gross_total BIGINT NOT NULL,
		currency TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		chained_hash TEXT NOT NULL,
		cancels_entry_id BIGINT,
		cancel_reason TEXT,
		draft_id BIGINT UNIQUE,
		send_status TEXT NOT NULL,
		sent_at DATETIME,
		created_at DATETIME NOT NULL,
		UNIQUE (org_id, series, number)
	)`).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

type recordingTransmitter struct {
	entries []snowflake.ID
	fail    map[snowflake.ID]error
}

func (r *recordingTransmitter) Transmit(_ context.Context, entry ledgerdomain.LedgerEntry) error {
	if err, ok := r.fail[entry.ID]; ok {
		return err
	}
	r.entries = append(r.entries, entry.ID)
	return nil
}

func newTestWorker(t *testing.T, db *gorm.DB, sink Transmitter) (*Worker, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.SystemClock{},
		Drafts: invoicerepo.Provide(),
		Outbox: events.NewOutbox(db, node),
	})
	worker := NewWorker(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Ledger:      svc,
		Transmitter: sink,
	})
	return worker, node
}

func insertPendingEntry(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID int64, number int64, status string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO ledger_entries (id, org_id, series, number, state, issue_time, customer_ref,
			tax_base, tax_amount, gross_total, currency, previous_hash, chained_hash, send_status, created_at)
		 VALUES (?, ?, 'A', ?, ?, ?, 'C-1', 10000, 2100, 12100, 'EUR', 'prev', 'hash', ?, ?)`,
		id, orgID, number, ledgerdomain.EntryStateIssued, now, status, now,
	).Error; err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	return id
}

func TestWorkerMarksPendingEntriesSent(t *testing.T) {
	db := setupTransmitTestDB(t)
	sink := &recordingTransmitter{}
	worker, node := newTestWorker(t, db, sink)

	first := insertPendingEntry(t, db, node, 1, 1, string(ledgerdomain.SendStatusPending))
	second := insertPendingEntry(t, db, node, 2, 1, string(ledgerdomain.SendStatusPending))
	insertPendingEntry(t, db, node, 1, 2, string(ledgerdomain.SendStatusSent))

	sent, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 entries sent, got %d", sent)
	}
	if len(sink.entries) != 2 || sink.entries[0] != first || sink.entries[1] != second {
		t.Fatalf("unexpected delivery order: %v", sink.entries)
	}

	var pending int64
	if err := db.Table("ledger_entries").Where("send_status = ?", ledgerdomain.SendStatusPending).Count(&pending).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected no pending entries, got %d", pending)
	}
}

func TestWorkerLeavesFailedDeliveriesPending(t *testing.T) {
	db := setupTransmitTestDB(t)
	worker, node := newTestWorker(t, db, nil)

	failed := insertPendingEntry(t, db, node, 1, 1, string(ledgerdomain.SendStatusPending))
	ok := insertPendingEntry(t, db, node, 1, 2, string(ledgerdomain.SendStatusPending))

	sink := &recordingTransmitter{fail: map[snowflake.ID]error{failed: errors.New("endpoint_unavailable")}}
	worker.transmitter = sink

	sent, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 entry sent, got %d", sent)
	}

	var status string
	if err := db.Table("ledger_entries").Select("send_status").Where("id = ?", failed).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(ledgerdomain.SendStatusPending) {
		t.Fatalf("expected failed entry to stay pending, got %s", status)
	}
	if err := db.Table("ledger_entries").Select("send_status").Where("id = ?", ok).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(ledgerdomain.SendStatusSent) {
		t.Fatalf("expected delivered entry to be sent, got %s", status)
	}
}

func TestWorkerRunOnceEmptyBatch(t *testing.T) {
	db := setupTransmitTestDB(t)
	sink := &recordingTransmitter{}
	worker, _ := newTestWorker(t, db, sink)

	sent, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected 0 entries sent, got %d", sent)
	}
}
