// Package player sends playback commands to local MPRIS players.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/genricoloni/mediapanel/internal/command"
	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

// ErrNoPlayer is returned when no player is known to receive a command
var ErrNoPlayer = errors.New("no active player")

// methods maps playback verbs to MPRIS Player methods
var methods = map[string]string{
	command.Play:     "Play",
	command.Pause:    "Pause",
	command.Next:     "Next",
	command.Previous: "Previous",
}

// Caller invokes an MPRIS Player method; monitor.SessionBus implements it
type Caller interface {
	Invoke(ctx context.Context, player, method string) error
}

// Dialer opens a Caller on first use
type Dialer func() (Caller, error)

// Compile-time interface check.
var _ domain.PlayerController = (*MprisController)(nil)

// MprisController executes playback commands as MPRIS method calls.
// When the call fails, the playerctl fallback is tried if one was detected.
type MprisController struct {
	logger   *zap.Logger
	dial     Dialer
	fallback *Playerctl

	mu     sync.Mutex
	caller Caller
}

// NewMprisController creates a controller that dials the bus lazily
func NewMprisController(logger *zap.Logger, dial Dialer, fallback *Playerctl) *MprisController {
	return &MprisController{
		logger:   logger,
		dial:     dial,
		fallback: fallback,
	}
}

// Execute sends verb to player
func (c *MprisController) Execute(ctx context.Context, player, verb string) error {
	method, ok := methods[verb]
	if !ok {
		return fmt.Errorf("unknown command %q", verb)
	}
	if player == "" {
		return ErrNoPlayer
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.call(ctx, player, method)
	if err == nil {
		c.logger.Info("Command executed",
			zap.String("player", player),
			zap.String("command", verb))
		return nil
	}

	if c.fallback == nil {
		return fmt.Errorf("failed to %s on %s: %w", verb, player, err)
	}

	c.logger.Warn("MPRIS call failed, trying playerctl",
		zap.String("player", player),
		zap.String("command", verb),
		zap.Error(err))
	return c.fallback.Execute(ctx, player, verb)
}

func (c *MprisController) call(ctx context.Context, player, method string) error {
	c.mu.Lock()
	if c.caller == nil {
		caller, err := c.dial()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("session bus connection failed: %w", err)
		}
		c.caller = caller
	}
	caller := c.caller
	c.mu.Unlock()

	return caller.Invoke(ctx, player, method)
}
