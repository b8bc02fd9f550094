package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fiscalia/internal/audit/domain"
	"github.com/smallbiznis/fiscalia/internal/authorization"
	certdomain "github.com/smallbiznis/fiscalia/internal/certvault/domain"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
)

type uploadCertificateRequest struct {
	SoftwareCode string `json:"software_code"`
	IssuerTaxID  string `json:"issuer_tax_id"`
	Environment  string `json:"environment"`
	Cert         string `json:"cert"`
	Key          string `json:"key"`
	Passphrase   string `json:"passphrase"`
	Notes        string `json:"notes"`
}

// @Summary      Upload Certificate
// @Description  Store or rotate the signing certificate; blobs are base64
// @Tags         certificates
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body uploadCertificateRequest true "Upload Certificate Request"
// @Success      200  {object}  map[string]string
// @Router       /certificates [put]
func (s *Server) UploadCertificate(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectCertificate, authorization.ActionCertificateUpload); err != nil {
		AbortWithError(c, err)
		return
	}

	var req uploadCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cert, err := decodeBlob(req.Cert)
	if err != nil {
		AbortWithError(c, newValidationError("cert", "invalid_cert", "cert must be base64"))
		return
	}
	key, err := decodeBlob(req.Key)
	if err != nil {
		AbortWithError(c, newValidationError("key", "invalid_key", "key must be base64"))
		return
	}
	passphrase, err := decodeBlob(req.Passphrase)
	if err != nil {
		AbortWithError(c, newValidationError("passphrase", "invalid_passphrase", "passphrase must be base64"))
		return
	}

	// Sealing policy is applied at the boundary; with the noop sealer
	// the blobs are stored exactly as the caller encrypted them.
	if cert, err = s.sealer.Seal(cert); err != nil {
		AbortWithError(c, err)
		return
	}
	if key, err = s.sealer.Seal(key); err != nil {
		AbortWithError(c, err)
		return
	}
	if len(passphrase) > 0 {
		if passphrase, err = s.sealer.Seal(passphrase); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	err = s.certSvc.Upload(ctx, certdomain.UploadRequest{
		SoftwareCode:     strings.TrimSpace(req.SoftwareCode),
		IssuerTaxID:      strings.TrimSpace(req.IssuerTaxID),
		Environment:      certdomain.Environment(strings.ToLower(strings.TrimSpace(req.Environment))),
		CertCipher:       cert,
		KeyCipher:        key,
		PassphraseCipher: passphrase,
		Notes:            strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		if orgID, ok := orgcontext.OrgID(ctx); ok {
			_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionCertificateUpload, "certificate", nil, map[string]any{
				"environment":   strings.ToLower(strings.TrimSpace(req.Environment)),
				"issuer_tax_id": strings.TrimSpace(req.IssuerTaxID),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

// @Summary      Certificate History
// @Description  List past rotations, metadata only
// @Tags         certificates
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Success      200  {object}  certdomain.HistoryResponse
// @Router       /certificates/history [get]
func (s *Server) ListCertificateHistory(c *gin.Context) {
	if err := s.authorizeOrgAction(c, authorization.ObjectCertificate, authorization.ActionCertificateHistory); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	resp, err := s.certSvc.ListHistory(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		if orgID, ok := orgcontext.OrgID(ctx); ok {
			_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionCertificateHistory, "certificate", nil, map[string]any{
				"rotations": len(resp.History),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func decodeBlob(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(trimmed)
}
