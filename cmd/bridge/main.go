package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/mediapanel/internal/bridge"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/fetcher"
	"github.com/genricoloni/mediapanel/internal/monitor"
	"github.com/genricoloni/mediapanel/internal/player"
	"github.com/genricoloni/mediapanel/internal/processor"
	"github.com/genricoloni/mediapanel/internal/transport/mqtt"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	// Config path comes from MEDIAPANEL_CONFIG
	app := fx.New(AppOptions(""))

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		panic(err)
	}
}

// AppOptions wires the bridge daemon
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
			newTransport,
			monitor.NewMprisMonitor,
			fetcher.NewHTTPFetcher,
			newProcessor,
			newPlayer,
			newBridge,
		),

		fx.Invoke(registerHooks),
	)
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	if os.Getenv("MEDIAPANEL_LOG_DEV") == "true" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newTransport(logger *zap.Logger, cfg *config.AppConfig) *mqtt.Transport {
	return mqtt.New(logger, mqtt.ConfigFromApp(cfg, "mediapanel-bridge"))
}

func newProcessor(logger *zap.Logger, cfg *config.AppConfig) *processor.ThumbnailProcessor {
	return processor.NewThumbnailProcessor(logger, processor.ThumbnailConfigFromApp(cfg))
}

func newPlayer(logger *zap.Logger) *player.MprisController {
	dial := func() (player.Caller, error) {
		return monitor.DialSessionBus()
	}
	return player.NewMprisController(logger, dial, player.DetectPlayerctl(logger))
}

func newBridge(
	logger *zap.Logger,
	cfg *config.AppConfig,
	t *mqtt.Transport,
	mon *monitor.MprisMonitor,
	fetch *fetcher.HTTPFetcher,
	proc *processor.ThumbnailProcessor,
	ctl *player.MprisController,
) *bridge.Bridge {
	return bridge.NewBridge(logger, bridge.OptionsFromConfig(cfg), t, mon, fetch, proc, ctl)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	t *mqtt.Transport,
	mon *monitor.MprisMonitor,
	b *bridge.Bridge,
) {
	// Both outlive OnStart
	connectCtx, cancelConnect := context.WithCancel(context.Background())
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Start(); err != nil {
				return err
			}

			go func() {
				if err := t.Start(connectCtx); err != nil && connectCtx.Err() == nil {
					logger.Error("Broker connection failed", zap.Error(err))
				}
			}()

			go func() {
				if err := mon.Start(monitorCtx); err != nil && monitorCtx.Err() == nil {
					logger.Error("Media monitor failed", zap.Error(err))
				}
			}()

			logger.Info("Media bridge started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			cancelConnect()
			cancelMonitor()

			return multierr.Combine(
				b.Stop(ctx),
				mon.Stop(ctx),
				t.Stop(),
			)
		},
	})
}
