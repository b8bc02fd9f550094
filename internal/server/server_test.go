package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditrepo "github.com/smallbiznis/fiscalia/internal/audit/repository"
	auditservice "github.com/smallbiznis/fiscalia/internal/audit/service"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	certservice "github.com/smallbiznis/fiscalia/internal/certvault/service"
	"github.com/smallbiznis/fiscalia/internal/certvault/seal"
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/config"
	"github.com/smallbiznis/fiscalia/internal/events"
	invoicerepo "github.com/smallbiznis/fiscalia/internal/invoice/repository"
	ledgerservice "github.com/smallbiznis/fiscalia/internal/ledger/service"
	"github.com/smallbiznis/fiscalia/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/fiscalia/internal/organization/domain"
	"github.com/smallbiznis/fiscalia/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var serverTestDDL = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		expires_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS draft_invoices (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		customer_ref TEXT NOT NULL,
		tax_base BIGINT NOT NULL,
		tax_amount BIGINT NOT NULL,
		gross_total BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		ledger_entry_id BIGINT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_series (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (org_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS series_counters (
		org_id BIGINT NOT NULL,
		series TEXT NOT NULL,
		last_number BIGINT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (org_id, series)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
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
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_cancels_entry
		ON ledger_entries (cancels_entry_id) WHERE cancels_entry_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		dedupe_key TEXT,
		published BOOLEAN NOT NULL DEFAULT false,
		created_at DATETIME NOT NULL,
		UNIQUE (org_id, dedupe_key)
	)`,
	`CREATE TABLE IF NOT EXISTS certificate_records (
		org_id INTEGER PRIMARY KEY,
		software_code TEXT NOT NULL,
		issuer_tax_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		cert_cipher BLOB NOT NULL,
		key_cipher BLOB NOT NULL,
		passphrase_cipher BLOB,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS certificate_history (
		id INTEGER PRIMARY KEY,
		org_id BIGINT NOT NULL,
		version BIGINT NOT NULL,
		rotated_by TEXT NOT NULL,
		stored_at DATETIME NOT NULL,
		integrity_hash TEXT NOT NULL,
		notes TEXT,
		cert_cipher BLOB NOT NULL,
		key_cipher BLOB NOT NULL,
		passphrase_cipher BLOB,
		UNIQUE (org_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY,
		org_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_counters (
		key TEXT PRIMARY KEY,
		window_start DATETIME NOT NULL,
		count BIGINT NOT NULL DEFAULT 0
	)`,
}

func setupServerTestDB(t *testing.T) *gorm.DB {
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

	for _, stmt := range serverTestDDL {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func newTestServer(t *testing.T, db *gorm.DB, cfg config.Config) (*gin.Engine, *Server, *snowflake.Node) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()
	outbox := events.NewOutbox(db, node)
	drafts := invoicerepo.Provide()

	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clock.SystemClock{},
		Drafts: drafts,
		Outbox: outbox,
	})
	certSvc := certservice.NewService(certservice.ServiceParam{
		DB:     db,
		Log:    log,
		GenID:  node,
		Clock:  clock.SystemClock{},
		Outbox: outbox,
	})
	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	authzSvc := authorization.NewService(authorization.ServiceParam{
		DB:       db,
		Log:      log,
		Enforcer: enforcer,
	})
	auditSvc := auditservice.NewService(auditservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	httpMetrics, err := metrics.NewHTTPMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	srv := NewServer(Params{
		Config:    cfg,
		Log:       log,
		DB:        db,
		GenID:     node,
		LedgerSvc: ledgerSvc,
		CertSvc:   certSvc,
		AuthzSvc:  authzSvc,
		AuditSvc:  auditSvc,
		Drafts:    drafts,
		Limiter:   ratelimit.NewDBStore(db, clock.SystemClock{}, cfg.RateLimit.Limit, cfg.RateLimit.Window),
		Sealer:    seal.Noop{},
		Metrics:   httpMetrics,
	})
	return NewEngine(srv), srv, node
}

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		RateLimit:   config.RateLimitConfig{Limit: 1000, Window: time.Minute},
	}
}

func provisionOrgAndKey(t *testing.T, db *gorm.DB, node *snowflake.Node, slug string, role organizationdomain.Role) (snowflake.ID, string) {
	t.Helper()
	now := time.Now().UTC()
	org := organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      slug,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}

	token, err := organizationdomain.NewAPIKeyToken()
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	key := organizationdomain.APIKey{
		ID:        node.Generate(),
		OrgID:     org.ID,
		KeyHash:   organizationdomain.HashAPIKey(token),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := db.Create(&key).Error; err != nil {
		t.Fatalf("create api key: %v", err)
	}
	return org.ID, token
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuthRejections(t *testing.T) {
	db := setupServerTestDB(t)
	engine, _, node := newTestServer(t, db, testConfig())
	_, token := provisionOrgAndKey(t, db, node, "auth-test", organizationdomain.RoleAdmin)

	rec := doJSON(t, engine, http.MethodGet, "/api/ledger/export", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/ledger/export", "fsk_not_a_real_token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/ledger/export?org_id=999", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when caller names an org, got %d", rec.Code)
	}
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	db := setupServerTestDB(t)
	engine, _, node := newTestServer(t, db, testConfig())
	_, token := provisionOrgAndKey(t, db, node, "lifecycle", organizationdomain.RoleAdmin)

	rec := doJSON(t, engine, http.MethodPost, "/api/series", token, map[string]any{
		"code": "2025-A",
		"name": "Main 2025",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create series: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var draftResp struct {
		Data struct {
			ID snowflake.ID
		}
	}
	rec = doJSON(t, engine, http.MethodPost, "/api/invoices", token, map[string]any{
		"customer_ref": "ACME-42",
		"tax_base":     10000,
		"tax_amount":   2100,
		"gross_total":  12100,
		"currency":     "EUR",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create draft: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &draftResp); err != nil {
		t.Fatalf("decode draft response: %v", err)
	}

	var entryResp struct {
		Data struct {
			ID           snowflake.ID
			Number       int64
			PreviousHash string
			ChainedHash  string
		}
	}
	rec = doJSON(t, engine, http.MethodPost,
		fmt.Sprintf("/api/invoices/%s/finalize", draftResp.Data.ID), token,
		map[string]any{"series": "2025-A", "device_id": "POS-7", "software_code": "FISC-01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entryResp); err != nil {
		t.Fatalf("decode finalize response: %v", err)
	}
	if entryResp.Data.Number != 1 {
		t.Fatalf("expected first entry number 1, got %d", entryResp.Data.Number)
	}

	// Finalizing the same draft twice must conflict.
	rec = doJSON(t, engine, http.MethodPost,
		fmt.Sprintf("/api/invoices/%s/finalize", draftResp.Data.ID), token,
		map[string]any{"series": "2025-A"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double finalize: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost,
		fmt.Sprintf("/api/ledger/entries/%s/cancel", entryResp.Data.ID), token,
		map[string]any{"reason": "customer dispute"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var exportResp struct {
		Data struct {
			Entries []struct {
				Number int64
				State  string
			} `json:"entries"`
			Verification *struct {
				OK bool `json:"ok"`
			} `json:"verification"`
		}
	}
	rec = doJSON(t, engine, http.MethodGet, "/api/ledger/export?verify=true", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &exportResp); err != nil {
		t.Fatalf("decode export response: %v", err)
	}
	if len(exportResp.Data.Entries) != 2 {
		t.Fatalf("expected 2 entries in export, got %d", len(exportResp.Data.Entries))
	}
	if exportResp.Data.Verification == nil || !exportResp.Data.Verification.OK {
		t.Fatalf("expected verification to pass: %s", rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/ledger/export?format=csv&verify=true", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv export: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Chain-Verified"); got != "true" {
		t.Fatalf("expected X-Chain-Verified true, got %q", got)
	}

	var auditCount int64
	if err := db.Table("audit_logs").Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if auditCount == 0 {
		t.Fatalf("expected audit rows for the lifecycle")
	}
}

func TestMemberCannotManageCertificates(t *testing.T) {
	db := setupServerTestDB(t)
	engine, _, node := newTestServer(t, db, testConfig())
	_, token := provisionOrgAndKey(t, db, node, "member-org", organizationdomain.RoleMember)

	rec := doJSON(t, engine, http.MethodPut, "/api/certificates", token, map[string]any{
		"software_code": "fiscalia-01",
		"issuer_tax_id": "B12345678",
		"environment":   "test",
		"cert":          base64.StdEncoding.EncodeToString([]byte("cert")),
		"key":           base64.StdEncoding.EncodeToString([]byte("key")),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member upload, got %d", rec.Code)
	}
}

func TestCertificateUploadAndHistory(t *testing.T) {
	db := setupServerTestDB(t)
	engine, _, node := newTestServer(t, db, testConfig())
	_, token := provisionOrgAndKey(t, db, node, "cert-org", organizationdomain.RoleAdmin)

	upload := func(software string) *httptest.ResponseRecorder {
		return doJSON(t, engine, http.MethodPut, "/api/certificates", token, map[string]any{
			"software_code": software,
			"issuer_tax_id": "B12345678",
			"environment":   "production",
			"cert":          base64.StdEncoding.EncodeToString([]byte("cert-" + software)),
			"key":           base64.StdEncoding.EncodeToString([]byte("key-" + software)),
		})
	}

	if rec := upload("v1"); rec.Code != http.StatusOK {
		t.Fatalf("first upload: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := upload("v2"); rec.Code != http.StatusOK {
		t.Fatalf("rotation: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, engine, http.MethodGet, "/api/certificates/history", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var historyResp struct {
		Data struct {
			Current *struct {
				SoftwareCode string `json:"software_code"`
			} `json:"current"`
			History []struct {
				Version int64 `json:"version"`
			} `json:"history"`
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &historyResp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if historyResp.Data.Current == nil || historyResp.Data.Current.SoftwareCode != "v2" {
		t.Fatalf("expected current record v2: %s", rec.Body.String())
	}
	if len(historyResp.Data.History) != 1 || historyResp.Data.History[0].Version != 1 {
		t.Fatalf("expected one archived rotation: %s", rec.Body.String())
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	db := setupServerTestDB(t)
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Limit: 2, Window: time.Minute}
	engine, _, node := newTestServer(t, db, cfg)
	_, token := provisionOrgAndKey(t, db, node, "limited", organizationdomain.RoleAdmin)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, engine, http.MethodPost, "/api/invoices", token, map[string]any{
			"customer_ref": "C-1",
			"tax_base":     100,
			"tax_amount":   21,
			"gross_total":  121,
			"currency":     "EUR",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := doJSON(t, engine, http.MethodPost, "/api/invoices", token, map[string]any{
		"customer_ref": "C-1",
		"tax_base":     100,
		"tax_amount":   21,
		"gross_total":  121,
		"currency":     "EUR",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}
}

func encodeTestPassword(password string) string {
	salt := []byte("0123456789abcdef")
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		64*1024, 1, 4,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

func TestAdminProvisioning(t *testing.T) {
	db := setupServerTestDB(t)
	cfg := testConfig()
	cfg.Admin.PasswordHash = encodeTestPassword("hunter2")
	engine, _, _ := newTestServer(t, db, cfg)

	body := map[string]any{"name": "Acme", "slug": "acme"}

	req := doJSON(t, engine, http.MethodPost, "/api/admin/orgs", "", body)
	if req.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin password, got %d", req.Code)
	}

	mkReq := func(password string, path string, payload any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(payload)
		r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set(headerAdminPassword, password)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, r)
		return rec
	}

	if rec := mkReq("wrong", "/api/admin/orgs", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong password, got %d", rec.Code)
	}

	rec := mkReq("hunter2", "/api/admin/orgs", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create org: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var orgResp struct {
		Data struct {
			ID snowflake.ID
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &orgResp); err != nil {
		t.Fatalf("decode org response: %v", err)
	}

	rec = mkReq("hunter2", fmt.Sprintf("/api/admin/orgs/%s/api_keys", orgResp.Data.ID), map[string]any{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create api key: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var keyResp struct {
		Data struct {
			Token string `json:"token"`
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &keyResp); err != nil {
		t.Fatalf("decode key response: %v", err)
	}
	if keyResp.Data.Token == "" {
		t.Fatalf("expected a plaintext token in the response")
	}

	var stored struct {
		KeyHash string
	}
	if err := db.Table("api_keys").Select("key_hash").Where("org_id = ?", orgResp.Data.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read stored key: %v", err)
	}
	if stored.KeyHash != organizationdomain.HashAPIKey(keyResp.Data.Token) {
		t.Fatalf("stored hash does not match the issued token")
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	db := setupServerTestDB(t)
	engine, _, _ := newTestServer(t, db, testConfig())

	rec := doJSON(t, engine, http.MethodPost, "/api/admin/orgs", "", map[string]any{"name": "Acme", "slug": "acme"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when provisioning is off, got %d", rec.Code)
	}
}
