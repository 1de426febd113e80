// Package main provides the mediapanel entrypoint.
//
// Usage:
//
//	mediapanel run [--config panel.yaml]
//	mediapanel send <play|pause|next|previous>
//	mediapanel config [--config panel.yaml]
//	mediapanel version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/genricoloni/mediapanel/internal/command"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/transport/mqtt"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

const (
	stopTimeout    = 10 * time.Second
	connectTimeout = 10 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "mediapanel",
		Usage:   "Now-playing panel fed over MQTT",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Commands: []*cli.Command{
			runCommand(),
			sendCommand(),
			configCommand(),
			versionCommand(),
		},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML config file",
		EnvVars: []string{config.ConfigEnv},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the panel daemon until interrupted",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			app := fx.New(AppOptions(c.String("config")))

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			<-ctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			return app.Stop(stopCtx)
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Publish one playback command and exit",
		ArgsUsage: "<play|pause|next|previous>",
		Flags:     []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			verb := strings.ToLower(c.Args().First())
			if !command.Valid(verb) {
				return fmt.Errorf("unknown command %q, want one of play, pause, next, previous", c.Args().First())
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := config.Load(c.String("config"), logger)
			if err != nil {
				return err
			}
			return send(c.Context, logger, cfg, verb)
		},
	}
}

// send connects, publishes verb on the command topic and disconnects
func send(ctx context.Context, logger *zap.Logger, cfg *config.AppConfig, verb string) (err error) {
	t := mqtt.New(logger, mqtt.ConfigFromApp(cfg, clientPrefix+"-send"))

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := t.Start(connectCtx); err != nil {
		return multierr.Append(fmt.Errorf("failed to connect: %w", err), t.Stop())
	}
	defer func() { err = multierr.Append(err, t.Stop()) }()

	return command.NewSender(logger, t, cfg.Topics.Command).Send(verb)
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective configuration",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"), zap.NewNop())
			if err != nil {
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = c.App.Writer.Write(out)
			return err
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "mediapanel %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
