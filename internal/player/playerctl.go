package player

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/genricoloni/mediapanel/internal/command"
	"go.uber.org/zap"
)

const mprisPrefix = "org.mpris.MediaPlayer2."

var playerctlVerbs = map[string]string{
	command.Play:     "play",
	command.Pause:    "pause",
	command.Next:     "next",
	command.Previous: "previous",
}

// Playerctl drives players through the playerctl binary
type Playerctl struct {
	logger *zap.Logger
	binary string
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DetectPlayerctl returns nil when playerctl is not installed
func DetectPlayerctl(logger *zap.Logger) *Playerctl {
	binary, err := exec.LookPath("playerctl")
	if err != nil {
		logger.Debug("playerctl not found, MPRIS fallback disabled")
		return nil
	}

	logger.Info("playerctl detected", zap.String("binary", binary))
	return &Playerctl{
		logger: logger,
		binary: binary,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Execute runs playerctl for the player's short name, e.g. "spotify"
func (p *Playerctl) Execute(ctx context.Context, player, verb string) error {
	action, ok := playerctlVerbs[verb]
	if !ok {
		return fmt.Errorf("unknown command %q", verb)
	}

	args := []string{"--player=" + strings.TrimPrefix(player, mprisPrefix), action}
	p.logger.Debug("Running playerctl",
		zap.String("binary", p.binary),
		zap.Strings("args", args))

	output, err := p.run(ctx, p.binary, args...)
	if err != nil {
		return fmt.Errorf("playerctl %s failed: %w (output: %s)",
			action, err, strings.TrimSpace(string(output)))
	}

	p.logger.Info("Command executed with playerctl",
		zap.String("player", player),
		zap.String("command", verb))
	return nil
}
