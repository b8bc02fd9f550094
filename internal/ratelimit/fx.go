package ratelimit

import (
	"github.com/smallbiznis/fiscalia/internal/clock"
	"github.com/smallbiznis/fiscalia/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(db *gorm.DB, clk clock.Clock, cfg config.Config) Store {
		return NewDBStore(db, clk, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}),
)
