package main

import (
	"context"
	"os"

	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/decoder"
	"github.com/genricoloni/mediapanel/internal/engine"
	"github.com/genricoloni/mediapanel/internal/handoff"
	"github.com/genricoloni/mediapanel/internal/panel"
	"github.com/genricoloni/mediapanel/internal/transport/mqtt"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const clientPrefix = "mediapanel"

// AppOptions wires the panel daemon. An empty configPath uses defaults and the environment.
func AppOptions(configPath string) fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		fx.Provide(
			newLogger,
			func(logger *zap.Logger) (*config.AppConfig, error) {
				return config.Load(configPath, logger)
			},
			newDecoder,
			newSurface,
			newHandoff,
			newComposer,
			newLoop,
			engine.NewStats,
			newEngine,
			newTransport,
		),

		fx.Invoke(registerHooks),
	)
}

// newLogger creates a production logger, or a development one when MEDIAPANEL_LOG_DEV=true
func newLogger() (*zap.Logger, error) {
	if os.Getenv("MEDIAPANEL_LOG_DEV") == "true" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newDecoder(logger *zap.Logger, cfg *config.AppConfig) *decoder.Decoder {
	return decoder.New(logger, cfg.Decoder.MaxImageBytes, cfg.Decoder.BandRows)
}

func newSurface(logger *zap.Logger, cfg *config.AppConfig) *panel.Surface {
	return panel.NewSurface(logger, cfg.Panel.TitleMaxChars)
}

func newHandoff(logger *zap.Logger, s *panel.Surface) *handoff.Handoff {
	return handoff.New(logger, s)
}

func newComposer(cfg *config.AppConfig) *panel.Composer {
	return panel.NewComposer(cfg.Panel.Width, cfg.Panel.Height)
}

func newLoop(
	logger *zap.Logger,
	cfg *config.AppConfig,
	h *handoff.Handoff,
	s *panel.Surface,
	c *panel.Composer,
) *panel.Loop {
	return panel.NewLoop(logger, h, s, c,
		panel.SinksFromConfig(logger, cfg, os.Stdout),
		panel.LoopConfig{MinDelay: cfg.Render.MinDelay, MaxDelay: cfg.Render.MaxDelay})
}

func newEngine(
	logger *zap.Logger,
	cfg *config.AppConfig,
	dec *decoder.Decoder,
	h *handoff.Handoff,
	stats *engine.Stats,
) *engine.Engine {
	return engine.NewEngine(logger, engine.OptionsFromConfig(cfg), dec, h, stats)
}

func newTransport(logger *zap.Logger, cfg *config.AppConfig) *mqtt.Transport {
	return mqtt.New(logger, mqtt.ConfigFromApp(cfg, clientPrefix))
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg *config.AppConfig,
	t *mqtt.Transport,
	e *engine.Engine,
	loop *panel.Loop,
	stats *engine.Stats,
) {
	// Outlives OnStart; the client keeps retrying until stop
	connectCtx, cancelConnect := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			mqtt.Bind(logger, t, e, mqtt.Topics{
				State: cfg.Topics.State,
				Image: cfg.Topics.Image,
			}, cfg.MQTT.FragmentSize)

			loop.Start()

			go func() {
				if err := t.Start(connectCtx); err != nil && connectCtx.Err() == nil {
					logger.Error("Broker connection failed", zap.Error(err))
				}
			}()

			logger.Info("Media panel started",
				zap.String("mode", cfg.GetMode()),
				zap.String("outputDir", cfg.GetOutputDir()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			cancelConnect()

			err := multierr.Combine(
				t.Stop(),
				loop.Stop(ctx),
			)

			snap := stats.Snapshot()
			logger.Info("Engine statistics",
				zap.Int64("imagesDisplayed", snap.ImagesDisplayed),
				zap.Int64("statesApplied", snap.StatesApplied),
				zap.Int64("transfersStarted", snap.TransfersStarted),
				zap.Int64("transfersSuperseded", snap.TransfersSuperseded),
				zap.Int64("errors", snap.Errors()),
				zap.Any("detail", snap))
			return err
		},
	})
}
