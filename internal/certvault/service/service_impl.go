package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalia/internal/auditcontext"
	"github.com/smallbiznis/fiscalia/internal/certvault/domain"
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/events"
	"github.com/smallbiznis/fiscalia/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Outbox *events.Outbox
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	outbox *events.Outbox
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("certvault.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		outbox: p.Outbox,
	}
}

// Upload stores a new certificate for the caller's org. When a record
// already exists its blobs are archived into history with the next
// version before the overwrite; both writes share one transaction, so
// there is no window where neither the old nor the new certificate is
// recoverable.
func (s *Service) Upload(ctx context.Context, req domain.UploadRequest) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	if err := validateUpload(req); err != nil {
		return err
	}

	rotatedBy := actorLabel(ctx)
	now := s.clock.Now().UTC()
	rotated := false
	var archivedVersion int64

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.CertificateRecord
		findErr := tx.Where("org_id = ?", orgID).First(&current).Error
		switch {
		case findErr == nil:
			version, err := s.nextHistoryVersion(ctx, tx, orgID)
			if err != nil {
				return err
			}
			history := domain.CertificateHistory{
				ID:               s.genID.Generate(),
				OrgID:            orgID,
				Version:          version,
				RotatedBy:        rotatedBy,
				StoredAt:         now,
				IntegrityHash:    domain.IntegrityHash(current.CertCipher, current.KeyCipher, current.PassphraseCipher),
				Notes:            strings.TrimSpace(req.Notes),
				CertCipher:       current.CertCipher,
				KeyCipher:        current.KeyCipher,
				PassphraseCipher: current.PassphraseCipher,
			}
			if err := tx.Create(&history).Error; err != nil {
				// Two rotations racing read the same MAX(version);
				// the loser trips the (org_id, version) constraint.
				if isUniqueViolation(err) {
					return domain.ErrConcurrentRotation
				}
				return err
			}
			rotated = true
			archivedVersion = version
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			// First upload, nothing to archive.
		default:
			return findErr
		}

		record := domain.CertificateRecord{
			OrgID:            orgID,
			SoftwareCode:     strings.TrimSpace(req.SoftwareCode),
			IssuerTaxID:      strings.TrimSpace(req.IssuerTaxID),
			Environment:      req.Environment,
			CertCipher:       req.CertCipher,
			KeyCipher:        req.KeyCipher,
			PassphraseCipher: req.PassphraseCipher,
			UpdatedAt:        now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}},
			UpdateAll: true,
		}).Create(&record).Error; err != nil {
			return err
		}

		eventType := events.EventCertificateStored
		payload := map[string]any{
			"integrity_hash": domain.IntegrityHash(req.CertCipher, req.KeyCipher, req.PassphraseCipher),
		}
		if rotated {
			eventType = events.EventCertificateRotated
			payload["archived_version"] = archivedVersion
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			OrgID:   orgID,
			Type:    eventType,
			Payload: payload,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("certificate stored",
		zap.String("org_id", orgID.String()),
		zap.Bool("rotated", rotated),
		zap.String("rotated_by", rotatedBy),
	)
	return nil
}

// ListHistory returns rotations newest first. Blob contents never leave
// the vault; callers get lengths and integrity hashes for spot checks.
func (s *Service) ListHistory(ctx context.Context) (domain.HistoryResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	resp := domain.HistoryResponse{History: []domain.HistoryRow{}}

	var current domain.CertificateRecord
	findErr := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&current).Error
	if findErr == nil {
		resp.Current = &domain.RecordSummary{
			SoftwareCode:  current.SoftwareCode,
			IssuerTaxID:   current.IssuerTaxID,
			Environment:   current.Environment,
			CertBytes:     len(current.CertCipher),
			KeyBytes:      len(current.KeyCipher),
			HasPassphrase: len(current.PassphraseCipher) > 0,
			IntegrityHash: domain.IntegrityHash(current.CertCipher, current.KeyCipher, current.PassphraseCipher),
			UpdatedAt:     current.UpdatedAt,
		}
	} else if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return domain.HistoryResponse{}, findErr
	}

	var rows []domain.CertificateHistory
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("version DESC").
		Find(&rows).Error; err != nil {
		return domain.HistoryResponse{}, err
	}
	for _, row := range rows {
		resp.History = append(resp.History, domain.HistoryRow{
			Version:       row.Version,
			RotatedBy:     row.RotatedBy,
			StoredAt:      row.StoredAt,
			IntegrityHash: row.IntegrityHash,
			Notes:         row.Notes,
		})
	}
	return resp, nil
}

func (s *Service) nextHistoryVersion(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error) {
	var last int64
	if err := tx.WithContext(ctx).
		Model(&domain.CertificateHistory{}).
		Where("org_id = ?", orgID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&last).Error; err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgID(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func validateUpload(req domain.UploadRequest) error {
	if len(req.CertCipher) == 0 {
		return domain.ErrMissingCertificate
	}
	if len(req.KeyCipher) == 0 {
		return domain.ErrMissingPrivateKey
	}
	if strings.TrimSpace(req.IssuerTaxID) == "" {
		return domain.ErrMissingIssuerTaxID
	}
	switch req.Environment {
	case domain.EnvironmentTest, domain.EnvironmentProduction:
		return nil
	default:
		return domain.ErrInvalidEnvironment
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}

func actorLabel(ctx context.Context) string {
	actorType, actorID := auditcontext.ActorFromContext(ctx)
	if actorType == "" {
		return "unknown"
	}
	if actorID == "" {
		return actorType
	}
	return actorType + ":" + actorID
}
