package certvault

import (
	"github.com/smallbiznis/fiscalia/internal/certvault/seal"
	"github.com/smallbiznis/fiscalia/internal/certvault/service"
	"github.com/smallbiznis/fiscalia/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("certvault.service",
	fx.Provide(service.NewService),
	fx.Provide(NewSealer),
)

// NewSealer picks the sealing policy: an age identity when configured,
// otherwise callers must pre-encrypt their blobs.
func NewSealer(cfg config.Config) (seal.Sealer, error) {
	if cfg.Vault.SealIdentity == "" {
		return seal.Noop{}, nil
	}
	return seal.NewAgeSealer(cfg.Vault.SealIdentity)
}
