package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalia/internal/audit/domain"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	invoicedomain "github.com/smallbiznis/fiscalia/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
)

type createDraftInvoiceRequest struct {
	CustomerRef string `json:"customer_ref"`
	TaxBase     int64  `json:"tax_base"`
	TaxAmount   int64  `json:"tax_amount"`
	GrossTotal  int64  `json:"gross_total"`
	Currency    string `json:"currency"`
}

// @Summary      Create Draft Invoice
// @Description  Create an editable draft; amounts are integer cents
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body createDraftInvoiceRequest true "Create Draft Invoice Request"
// @Success      200  {object}  invoicedomain.DraftInvoice
// @Router       /invoices [post]
func (s *Server) CreateDraftInvoice(c *gin.Context) {
	var req createDraftInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgID(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	customer := strings.TrimSpace(req.CustomerRef)
	if customer == "" {
		AbortWithError(c, newValidationError("customer_ref", "required", "customer_ref is required"))
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		AbortWithError(c, newValidationError("currency", "invalid_currency", "currency must be a 3-letter code"))
		return
	}
	if req.TaxBase < 0 || req.TaxAmount < 0 || req.GrossTotal < 0 {
		AbortWithError(c, newValidationError("gross_total", "invalid_amount", "amounts must not be negative"))
		return
	}

	now := time.Now().UTC()
	draft := invoicedomain.DraftInvoice{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		CustomerRef: customer,
		TaxBase:     req.TaxBase,
		TaxAmount:   req.TaxAmount,
		GrossTotal:  req.GrossTotal,
		Currency:    currency,
		Status:      invoicedomain.DraftStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.drafts.Insert(ctx, s.db, &draft); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := draft.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, "invoice.draft.create", "draft_invoice", &targetID, map[string]any{
			"customer_ref": draft.CustomerRef,
			"gross_total":  draft.GrossTotal,
			"currency":     draft.Currency,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": draft})
}

type finalizeInvoiceRequest struct {
	Series       string `json:"series"`
	DeviceID     string `json:"device_id"`
	SoftwareCode string `json:"software_code"`
}

// @Summary      Finalize Invoice
// @Description  Freeze a draft into the next sequential ledger entry
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string                  true  "Draft Invoice ID"
// @Param        request  body  finalizeInvoiceRequest  true  "Finalize Invoice Request"
// @Success      200  {object}  ledgerdomain.LedgerEntry
// @Router       /invoices/{id}/finalize [post]
func (s *Server) FinalizeInvoice(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectLedger, authorization.ActionLedgerFinalize); err != nil {
		AbortWithError(c, err)
		return
	}

	draftID, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_draft_id", "invalid draft id"))
		return
	}

	var req finalizeInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	entry, err := s.ledgerSvc.Finalize(ctx, ledgerdomain.FinalizeRequest{
		DraftID:      draftID,
		Series:       strings.TrimSpace(req.Series),
		DeviceID:     strings.TrimSpace(req.DeviceID),
		SoftwareCode: strings.TrimSpace(req.SoftwareCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		orgID := entry.OrgID
		targetID := entry.ID.String()
		metadata := map[string]any{
			"draft_id": draftID.String(),
			"series":   entry.Series,
			"number":   entry.Number,
		}
		if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
			metadata["device_id"] = deviceID
		}
		if softwareCode := strings.TrimSpace(req.SoftwareCode); softwareCode != "" {
			metadata["software_code"] = softwareCode
		}
		_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionEntryFinalize, "ledger_entry", &targetID, metadata)
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
