// Package bridge publishes the local player's now-playing state and album
// art to the feed, and executes the playback commands the panel sends back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/mediapanel/internal/command"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

const (
	commandTimeout = 5 * time.Second
	// inboxSize bounds the subscribed messages waiting for the worker
	inboxSize = 8
)

// Options configures the bridge
type Options struct {
	StateTopic       string
	ImageTopic       string
	CommandTopic     string
	SourceImageTopic string
	// Debounce is the quiet period before a burst of player events is published
	Debounce time.Duration
	// PositionInterval is how often the position is republished while playing
	PositionInterval time.Duration
}

// OptionsFromConfig extracts the bridge settings from the application config
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		StateTopic:       cfg.Topics.State,
		ImageTopic:       cfg.Topics.Image,
		CommandTopic:     cfg.Topics.Command,
		SourceImageTopic: cfg.Topics.SourceImage,
		Debounce:         cfg.Bridge.Debounce,
		PositionInterval: cfg.Bridge.PositionInterval,
	}
}

// StatePayload is the state topic message read by the panel
type StatePayload struct {
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Duration        uint32 `json:"duration"`
	CurrentPosition uint32 `json:"currentposition"`
	State           string `json:"state"`
}

// NewStatePayload converts player metadata to the state message
func NewStatePayload(meta domain.MediaMetadata) StatePayload {
	return StatePayload{
		Title:           meta.Title,
		Artist:          meta.Artist,
		Duration:        seconds(meta.Length),
		CurrentPosition: seconds(meta.Position),
		State:           strings.ToLower(string(meta.Status)),
	}
}

func seconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(min(int64(d/time.Second), int64(^uint32(0))))
}

// Bridge orchestrates the publishing pipeline.
// It listens to media events, publishes state, fetches and shrinks artwork, and relays commands.
type Bridge struct {
	logger    *zap.Logger
	opts      Options
	feed      domain.Feed
	monitor   domain.Monitor
	fetcher   domain.Fetcher
	processor domain.Processor
	player    domain.PlayerController

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	inbox  chan inboxMessage

	// Owned by the loop goroutine
	current *domain.MediaMetadata
	lastArt string
}

// NewBridge creates a new bridge
func NewBridge(
	logger *zap.Logger,
	opts Options,
	feed domain.Feed,
	mon domain.Monitor,
	fetch domain.Fetcher,
	proc domain.Processor,
	player domain.PlayerController,
) *Bridge {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		logger:    logger,
		opts:      opts,
		feed:      feed,
		monitor:   mon,
		fetcher:   fetch,
		processor: proc,
		player:    player,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan inboxMessage, inboxSize),
	}
}

// inboxMessage is a subscribed message queued for the worker
type inboxMessage struct {
	topic   string
	payload []byte
	handle  domain.MessageHandler
}

// enqueue wraps handle so the feed callback only queues the message.
// Commands and conversions block on the player and the feed, which must not
// stall the client's delivery goroutine. A full inbox drops the message.
func (b *Bridge) enqueue(handle domain.MessageHandler) domain.MessageHandler {
	return func(topic string, payload []byte) {
		select {
		case b.inbox <- inboxMessage{topic: topic, payload: payload, handle: handle}:
		default:
			b.logger.Warn("Inbox full, dropping message",
				zap.String("topic", topic),
				zap.Int("bytes", len(payload)))
		}
	}
}

// runInbox executes queued messages one at a time, in arrival order
func (b *Bridge) runInbox() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.inbox:
			msg.handle(msg.topic, msg.payload)
		}
	}
}

// Start subscribes to the command topics and launches the event loop.
// It returns immediately.
func (b *Bridge) Start() error {
	b.logger.Info("Bridge starting...",
		zap.String("stateTopic", b.opts.StateTopic),
		zap.String("imageTopic", b.opts.ImageTopic))

	b.feed.Subscribe(b.opts.CommandTopic, b.enqueue(b.handleCommand))
	if b.opts.SourceImageTopic != "" {
		b.feed.Subscribe(b.opts.SourceImageTopic, b.enqueue(b.handleSourceImage))
	}

	b.wg.Add(2)
	go b.runLoop()
	go b.runInbox()
	return nil
}

// Stop ends the event loop and the inbox worker
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("Bridge stopping...")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for bridge workers: %w", ctx.Err())
	}
}

// runLoop is the main event processing loop with debouncing.
// Skipping through tracks publishes only the track the user lands on.
func (b *Bridge) runLoop() {
	defer b.wg.Done()

	events := b.monitor.Events()

	timer := time.NewTimer(b.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	var tick <-chan time.Time
	if b.opts.PositionInterval > 0 {
		ticker := time.NewTicker(b.opts.PositionInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var pendingMeta *domain.MediaMetadata

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info("Bridge loop stopped")
			return

		case meta, ok := <-events:
			if !ok {
				b.logger.Info("Monitor events channel closed")
				return
			}
			b.logger.Debug("Event received, debouncing...",
				zap.String("title", meta.Title),
				zap.String("artist", meta.Artist))

			pendingMeta = &meta
			timer.Reset(b.opts.Debounce)

		case <-timer.C:
			if pendingMeta != nil {
				b.processMetadata(b.ctx, *pendingMeta)
				pendingMeta = nil
			}

		case <-tick:
			b.refreshPosition()
		}
	}
}

// processMetadata publishes the state of a track and its artwork when it changed
func (b *Bridge) processMetadata(ctx context.Context, meta domain.MediaMetadata) {
	// The panel rejects state without a title
	if meta.Title == "" {
		b.logger.Info("Track has no title, skipping update",
			zap.String("player", meta.Player),
			zap.String("status", string(meta.Status)))
		return
	}

	b.current = &meta

	// 1. State
	if err := b.publishState(meta); err != nil {
		b.logger.Error("Failed to publish state", zap.Error(err))
	}

	// 2. Artwork, once per URL
	if meta.ArtUrl == "" || meta.ArtUrl == b.lastArt {
		return
	}

	b.logger.Info("Publishing artwork",
		zap.String("track", meta.Title),
		zap.String("artist", meta.Artist),
		zap.String("album", meta.Album))

	imgData, err := b.fetcher.Fetch(ctx, meta.ArtUrl)
	if err != nil {
		b.logger.Error("Failed to fetch artwork", zap.Error(err))
		return
	}

	thumb, err := b.processor.Thumbnail(ctx, imgData)
	if err != nil {
		b.logger.Error("Failed to create thumbnail", zap.Error(err))
		return
	}

	if err := b.feed.Publish(b.opts.ImageTopic, thumb, true); err != nil {
		b.logger.Error("Failed to publish artwork", zap.Error(err))
		return
	}

	b.lastArt = meta.ArtUrl
	b.logger.Info("Artwork published",
		zap.String("topic", b.opts.ImageTopic),
		zap.Int("bytes", len(thumb)))
}

// refreshPosition republishes the state with a fresh position while playing
func (b *Bridge) refreshPosition() {
	if b.current == nil || b.current.Status != domain.StatusPlaying {
		return
	}

	pos, err := b.monitor.Position(b.current.Player)
	if err != nil {
		b.logger.Debug("Failed to query position", zap.Error(err))
		return
	}

	b.current.Position = pos
	if err := b.publishState(*b.current); err != nil {
		b.logger.Warn("Failed to publish position", zap.Error(err))
	}
}

func (b *Bridge) publishState(meta domain.MediaMetadata) error {
	payload, err := json.Marshal(NewStatePayload(meta))
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return b.feed.Publish(b.opts.StateTopic, payload, true)
}

// handleCommand executes a command topic message on the active player
func (b *Bridge) handleCommand(topic string, payload []byte) {
	cmd, err := command.Parse(payload)
	if err != nil {
		b.logger.Warn("Ignoring command",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	player := b.monitor.ActivePlayer()
	if err := b.player.Execute(ctx, player, cmd.Command); err != nil {
		b.logger.Error("Failed to execute command",
			zap.String("command", cmd.Command),
			zap.String("player", player),
			zap.Error(err))
	}
}

// handleSourceImage converts a full-size thumbnail into one the panel can buffer
func (b *Bridge) handleSourceImage(topic string, payload []byte) {
	b.logger.Info("Received source image",
		zap.String("topic", topic),
		zap.Int("bytes", len(payload)))

	thumb, err := b.processor.Thumbnail(b.ctx, payload)
	if err != nil {
		b.logger.Error("Failed to convert source image", zap.Error(err))
		return
	}

	if err := b.feed.Publish(b.opts.ImageTopic, thumb, false); err != nil {
		b.logger.Error("Failed to publish converted image", zap.Error(err))
		return
	}

	b.logger.Info("Converted image published",
		zap.String("topic", b.opts.ImageTopic),
		zap.Int("bytes", len(thumb)))
}
