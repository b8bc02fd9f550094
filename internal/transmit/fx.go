package transmit

import (
	"context"

	"github.com/smallbiznis/fiscalia/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("transmit",
	fx.Provide(func(cfg config.Config) Config {
		return Config{
			BatchSize:    cfg.Transmit.BatchSize,
			PollInterval: cfg.Transmit.PollInterval,
		}
	}),
	fx.Provide(func(log *zap.Logger) Transmitter { return NewLogTransmitter(log) }),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, cfg config.Config, worker *Worker) {
	if !cfg.Transmit.Enabled {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
