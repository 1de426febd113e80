// Package monitor follows MPRIS media players on the session bus and turns
// their property changes into now-playing events.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisObjectPath  = "/org/mpris/MediaPlayer2"
	playerInterface  = "org.mpris.MediaPlayer2.Player"
	propertiesSignal = propertiesInterface + ".PropertiesChanged"
	nameOwnerSignal  = busName + ".NameOwnerChanged"

	propMetadata = "Metadata"
	propStatus   = "PlaybackStatus"
	propPosition = "Position"

	eventBuffer     = 10
	warningInterval = 5 * time.Second

	maxMicroseconds = int64(1<<63-1) / int64(time.Microsecond)
)

// Compile-time interface check.
var _ domain.Monitor = (*MprisMonitor)(nil)

// players tracks which well-known name owns each unique connection and which
// player produced the latest event.
type players struct {
	owners map[string]string // :1.45 -> org.mpris.MediaPlayer2.spotify
	active string
}

// name returns the well-known name behind sender, or sender itself
func (p *players) name(sender string) string {
	if wellKnown, ok := p.owners[sender]; ok {
		return wellKnown
	}
	return sender
}

// appeared records a new owner of player
func (p *players) appeared(player, owner string) {
	p.owners[owner] = player
}

// left clears the active player when it was player
func (p *players) left(player string) {
	if p.active == player {
		p.active = ""
	}
}

// MprisMonitor reports now-playing changes of the local MPRIS players
type MprisMonitor struct {
	logger *zap.Logger
	events chan domain.MediaMetadata
	dial   func() (Bus, error)
	wg     sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	bus      Bus
	players  players
	lastDrop time.Time
}

// NewMprisMonitor creates a monitor that dials the session bus on Start
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return &MprisMonitor{
		logger:  logger,
		events:  make(chan domain.MediaMetadata, eventBuffer),
		players: players{owners: make(map[string]string)},
		dial: func() (Bus, error) {
			return DialSessionBus()
		},
	}
}

// Start connects, announces the players already running and then follows
// their changes. It blocks until ctx is cancelled or Stop is called.
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	bus, err := m.dial()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	// Producers are counted under the lock Stop cancels under, so Stop
	// never closes Events while one can still send
	m.mu.Lock()
	if runCtx.Err() != nil {
		m.mu.Unlock()
		if err := bus.Close(); err != nil {
			m.logger.Warn("Failed to close session bus", zap.Error(err))
		}
		return runCtx.Err()
	}
	m.bus = bus
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor started")

	if err := m.scanPlayers(bus); err != nil {
		m.logger.Warn("Failed to scan running players", zap.Error(err))
	}

	signals := make(chan *dbus.Signal, eventBuffer)
	if err := bus.Watch(signals); err != nil {
		m.wg.Done()
		m.logger.Error("Failed to watch players", zap.Error(err))
		return fmt.Errorf("failed to watch players: %w", err)
	}
	go m.follow(runCtx, bus, signals)

	<-runCtx.Done()
	m.logger.Info("MPRIS monitor stopped")
	return runCtx.Err()
}

// Stop cancels Start, waits for the producers and closes Events
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	// Producers must be gone before the channel closes
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitor goroutines: %w", ctx.Err())
	}

	close(m.events)

	m.mu.Lock()
	bus := m.bus
	m.bus = nil
	m.mu.Unlock()
	if bus != nil {
		if err := bus.Close(); err != nil {
			m.logger.Warn("Failed to close session bus", zap.Error(err))
		}
	}

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Events emits one MediaMetadata per observed change
func (m *MprisMonitor) Events() <-chan domain.MediaMetadata {
	return m.events
}

// ActivePlayer is the well-known name of the player behind the latest
// event, empty once that player left the bus
func (m *MprisMonitor) ActivePlayer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players.active
}

// Position queries the current playback position of player
func (m *MprisMonitor) Position(player string) (time.Duration, error) {
	m.mu.RLock()
	bus := m.bus
	m.mu.RUnlock()
	if bus == nil {
		return 0, fmt.Errorf("monitor not connected")
	}

	v, err := bus.Property(player, propPosition)
	if err != nil {
		return 0, fmt.Errorf("failed to get position: %w", err)
	}
	d, ok := microseconds(v.Value())
	if !ok {
		return 0, fmt.Errorf("invalid position format %T", v.Value())
	}
	return d, nil
}

// scanPlayers maps and announces every player already on the bus
func (m *MprisMonitor) scanPlayers(bus Bus) error {
	names, err := bus.Players()
	if err != nil {
		return err
	}

	for _, name := range names {
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		if owner, err := bus.Owner(name); err == nil {
			m.mu.Lock()
			m.players.appeared(name, owner)
			m.mu.Unlock()
		}

		if err := m.announce(bus, name); err != nil {
			m.logger.Warn("Failed to read player state",
				zap.String("player", name),
				zap.Error(err))
		}
	}

	m.logger.Info("Player scan complete", zap.Int("count", len(names)))
	return nil
}

// announce reads the full state of player and emits it
func (m *MprisMonitor) announce(bus Bus, player string) error {
	mv, err := bus.Property(player, propMetadata)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// Idle players may report nothing useful
	metadata, ok := mv.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata is not a map, skipping", zap.String("player", player))
		return nil
	}

	sv, err := bus.Property(player, propStatus)
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := sv.Value().(string)
	if !ok {
		return fmt.Errorf("invalid playback status format %T", sv.Value())
	}

	meta := m.parseMetadata(metadata, status)
	meta.Player = player
	meta.Position = positionOrZero(bus, player)
	m.emit(meta)
	return nil
}

// follow dispatches bus signals until ctx ends
func (m *MprisMonitor) follow(ctx context.Context, bus Bus, signals <-chan *dbus.Signal) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Signal follower stopped")
			return
		case sig := <-signals:
			switch {
			case sig == nil:
			case sig.Name == nameOwnerSignal:
				m.handleNameOwnerChanged(bus, sig)
			case sig.Name == propertiesSignal:
				m.handlePropertiesChanged(bus, sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks players joining and leaving the bus.
// Body: name, old owner, new owner.
func (m *MprisMonitor) handleNameOwnerChanged(bus Bus, sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	m.mu.Lock()
	delete(m.players.owners, oldOwner)
	if newOwner != "" {
		m.players.appeared(name, newOwner)
	} else {
		m.players.left(name)
	}
	m.mu.Unlock()

	switch {
	case oldOwner == "" && newOwner != "":
		m.logger.Info("MPRIS player appeared",
			zap.String("player", name),
			zap.String("unique", newOwner))
		if err := m.announce(bus, name); err != nil {
			m.logger.Warn("Failed to read new player state",
				zap.String("player", name),
				zap.Error(err))
		}
	case oldOwner != "" && newOwner == "":
		m.logger.Info("MPRIS player left",
			zap.String("player", name),
			zap.String("unique", oldOwner))
	}
}

// handlePropertiesChanged emits the new state of a player.
// Body: interface name, changed properties, invalidated properties.
// A change of only one of Metadata and PlaybackStatus reads the other back.
func (m *MprisMonitor) handlePropertiesChanged(bus Bus, sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != playerInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	mv, hasMetadata := changed[propMetadata]
	sv, hasStatus := changed[propStatus]
	if !hasMetadata && !hasStatus {
		return
	}

	var metadata map[string]dbus.Variant
	if hasMetadata {
		if metadata, ok = mv.Value().(map[string]dbus.Variant); !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	}
	var status string
	if hasStatus {
		if status, ok = sv.Value().(string); !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	}

	if !hasMetadata {
		if v, err := bus.Property(sig.Sender, propMetadata); err == nil {
			metadata, _ = v.Value().(map[string]dbus.Variant)
		}
	}
	if !hasStatus {
		if v, err := bus.Property(sig.Sender, propStatus); err == nil {
			status, _ = v.Value().(string)
		}
	}

	meta := m.parseMetadata(metadata, status)
	m.mu.RLock()
	meta.Player = m.players.name(sig.Sender)
	m.mu.RUnlock()
	meta.Position = positionOrZero(bus, sig.Sender)
	m.emit(meta)
}

// emit sends meta without blocking; the consumer debounces so drops are harmless
func (m *MprisMonitor) emit(meta domain.MediaMetadata) {
	select {
	case m.events <- meta:
		m.mu.Lock()
		m.players.active = meta.Player
		m.mu.Unlock()
		m.logger.Info("Media change detected",
			zap.String("player", meta.Player),
			zap.String("title", meta.Title),
			zap.String("artist", meta.Artist),
			zap.String("status", string(meta.Status)))
	default:
		m.warnDropped()
	}
}

// warnDropped logs at most one warning per interval during bursts
func (m *MprisMonitor) warnDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now := time.Now(); now.Sub(m.lastDrop) >= warningInterval {
		m.logger.Warn("Events channel full, dropping metadata")
		m.lastDrop = now
	}
}

// positionOrZero reads the position; players that do not report it get zero
func positionOrZero(bus Bus, player string) time.Duration {
	v, err := bus.Property(player, propPosition)
	if err != nil {
		return 0
	}
	d, _ := microseconds(v.Value())
	return d
}

// parseMetadata converts an xesam/mpris metadata map to the domain model
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant, status string) domain.MediaMetadata {
	var meta domain.MediaMetadata

	switch status {
	case "Playing":
		meta.Status = domain.StatusPlaying
	case "Paused":
		meta.Status = domain.StatusPaused
	default:
		meta.Status = domain.StatusStopped
	}

	if metadata == nil {
		return meta
	}

	meta.Title, _ = metadata["xesam:title"].Value().(string)
	meta.Album, _ = metadata["xesam:album"].Value().(string)
	// Browsers and local files may send an empty artUrl
	meta.ArtUrl, _ = metadata["mpris:artUrl"].Value().(string)

	// xesam:artist is a list; some players send a plain string
	if v, ok := metadata["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			meta.Artist = strings.Join(artists, ", ")
		case string:
			meta.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", v.Value())))
		}
	}

	if v, ok := metadata["mpris:length"]; ok {
		meta.Length, _ = microseconds(v.Value())
	}
	return meta
}

// microseconds converts the integer widths players use for mpris:length and
// Position, clamped to what a time.Duration holds.
func microseconds(v any) (time.Duration, bool) {
	var us int64
	switch n := v.(type) {
	case int64:
		us = n
	case uint64:
		us = int64(min(n, uint64(maxMicroseconds)))
	case int32:
		us = int64(n)
	case uint32:
		us = int64(n)
	case float64:
		us = int64(n)
	default:
		return 0, false
	}
	return time.Duration(min(max(us, 0), maxMicroseconds)) * time.Microsecond, true
}
