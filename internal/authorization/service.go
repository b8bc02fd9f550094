package authorization

import "context"

// Objects and actions enforced on the fiscal ledger surface.
const (
	ObjectLedger      = "ledger"
	ObjectCertificate = "certificate"

	ActionLedgerSeriesCreate = "ledger.series.create"
	ActionLedgerFinalize     = "ledger.finalize"
	ActionLedgerCancel       = "ledger.cancel"
	ActionLedgerExport       = "ledger.export"

	ActionCertificateUpload  = "certificate.upload"
	ActionCertificateHistory = "certificate.history"
)

// Service answers whether an actor may perform an action on an object
// within an organization. Cross-org access is always denied.
type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}
