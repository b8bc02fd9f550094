package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalia/internal/audit/domain"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	ledgerdomain "github.com/smallbiznis/fiscalia/internal/ledger/domain"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
)

type createSeriesRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// @Summary      Create Series
// @Description  Register a numbering series for the caller's organization
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body createSeriesRequest true "Create Series Request"
// @Success      200  {object}  ledgerdomain.Series
// @Router       /series [post]
func (s *Server) CreateSeries(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectLedger, authorization.ActionLedgerSeriesCreate); err != nil {
		AbortWithError(c, err)
		return
	}

	var req createSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	series, err := s.ledgerSvc.CreateSeries(ctx, ledgerdomain.CreateSeriesRequest{
		Code: strings.TrimSpace(req.Code),
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		orgID := series.OrgID
		targetID := series.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionSeriesCreate, "ledger_series", &targetID, map[string]any{
			"code": series.Code,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": series})
}

type cancelEntryRequest struct {
	Reason string `json:"reason"`
}

// @Summary      Cancel Ledger Entry
// @Description  Append a cancellation entry superseding an issued one
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path  string              true  "Ledger Entry ID"
// @Param        request  body  cancelEntryRequest  true  "Cancel Entry Request"
// @Success      200  {object}  ledgerdomain.LedgerEntry
// @Router       /ledger/entries/{id}/cancel [post]
func (s *Server) CancelEntry(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectLedger, authorization.ActionLedgerCancel); err != nil {
		AbortWithError(c, err)
		return
	}

	entryID, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_entry_id", "invalid entry id"))
		return
	}

	var req cancelEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	entry, err := s.ledgerSvc.Cancel(ctx, ledgerdomain.CancelRequest{
		EntryID: entryID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		orgID := entry.OrgID
		targetID := entry.ID.String()
		_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionEntryCancel, "ledger_entry", &targetID, map[string]any{
			"cancels_entry_id": entryID.String(),
			"series":           entry.Series,
			"number":           entry.Number,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// @Summary      Export Ledger
// @Description  Export an ordered window of the chain, optionally re-verified
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        from    query  string  false  "Window start (RFC 3339)"
// @Param        to      query  string  false  "Window end (RFC 3339)"
// @Param        format  query  string  false  "json or csv"
// @Param        verify  query  bool    false  "Re-verify the chain"
// @Success      200  {object}  ledgerdomain.ExportResponse
// @Router       /ledger/export [get]
func (s *Server) ExportLedger(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectLedger, authorization.ActionLedgerExport); err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		From   string `form:"from"`
		To     string `form:"to"`
		Format string `form:"format"`
		Verify bool   `form:"verify"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from timestamp"))
		return
	}
	to, err := parseOptionalTime(query.To)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to timestamp"))
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Format))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		AbortWithError(c, newValidationError("format", "invalid_format", "format must be json or csv"))
		return
	}

	ctx := c.Request.Context()
	resp, err := s.ledgerSvc.Export(ctx, ledgerdomain.ExportRequest{
		From:   from,
		To:     to,
		Verify: query.Verify,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		if orgID, ok := orgcontext.OrgID(ctx); ok {
			_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionLedgerExport, "ledger", nil, map[string]any{
				"format":  format,
				"entries": len(resp.Entries),
				"verify":  query.Verify,
			})
		}
	}

	if format == "csv" {
		writeExportCSV(c, resp)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func writeExportCSV(c *gin.Context, resp ledgerdomain.ExportResponse) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="ledger_export.csv"`)
	if resp.Verification != nil {
		c.Header("X-Chain-Verified", strconv.FormatBool(resp.Verification.OK))
	}
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"series", "number", "state", "issue_time", "customer_ref",
		"tax_base", "tax_amount", "gross_total", "currency",
		"previous_hash", "chained_hash", "cancels_entry_id", "cancel_reason",
	})
	for _, entry := range resp.Entries {
		cancels := ""
		if entry.CancelsEntryID != nil {
			cancels = entry.CancelsEntryID.String()
		}
		reason := ""
		if entry.CancelReason != nil {
			reason = *entry.CancelReason
		}
		_ = w.Write([]string{
			entry.Series,
			strconv.FormatInt(entry.Number, 10),
			string(entry.State),
			entry.IssueTime.UTC().Format(time.RFC3339),
			entry.CustomerRef,
			strconv.FormatInt(entry.TaxBase, 10),
			strconv.FormatInt(entry.TaxAmount, 10),
			strconv.FormatInt(entry.GrossTotal, 10),
			entry.Currency,
			entry.PreviousHash,
			entry.ChainedHash,
			cancels,
			reason,
		})
	}
	w.Flush()
}

func parseOptionalTime(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}
