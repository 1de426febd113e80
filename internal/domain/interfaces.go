package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks github.com/genricoloni/mediapanel/internal/domain Feed,Monitor,Processor,Fetcher,PlayerController

// Renderer is the mutable rendering surface of the panel.
// Every method must be called while holding the render handoff.
type Renderer interface {
	// ReplaceImage installs a new album art raster
	ReplaceImage(img *DecodedImage)
	SetTitle(text string)
	SetArtist(text string)
	// SetProgress sets the progress bar, percent in [0,100]
	SetProgress(percent int)
	SetPlayIcon(playing bool)
}

// RenderHandoff guards the Renderer. A negative timeout waits forever.
type RenderHandoff interface {
	// WithLock runs fn with exclusive access to the renderer.
	// Returns ErrLockTimeout if the lock was not acquired in time.
	WithLock(timeout time.Duration, fn func(Renderer)) error
}

// ImageDecoder turns a complete encoded image into a panel raster
type ImageDecoder interface {
	Decode(encoded []byte) (*DecodedImage, error)
}

// FragmentSink consumes transport deliveries.
// Implemented by the media engine.
type FragmentSink interface {
	// OnFragmentReceived classifies and applies one delivery
	OnFragmentReceived(f Fragment) TopicContext
	// OnDisconnect resets per-connection session state
	OnDisconnect()
	// BufferCapacity is the size of the image reassembly buffer; zero disables images
	BufferCapacity() int
}

// MessageHandler receives a complete message from the feed
type MessageHandler func(topic string, payload []byte)

// Feed is a publish/subscribe connection to the message broker
type Feed interface {
	// Subscribe registers a handler; subscriptions survive reconnects
	Subscribe(topic string, handler MessageHandler)
	// Publish sends a payload to a topic
	Publish(topic string, payload []byte, retained bool) error
	// IsConnected reports whether the broker connection is up
	IsConnected() bool
}

// Monitor defines the interface for monitoring media playback events
// Implementations should handle D-Bus/MPRIS communication
type Monitor interface {
	// Start begins monitoring for media events
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the monitor
	Stop(ctx context.Context) error

	// Events returns a read-only channel that emits MediaMetadata
	// when media playback state changes
	Events() <-chan MediaMetadata

	// ActivePlayer returns the bus name of the player that emitted the latest event
	ActivePlayer() string

	// Position queries the current playback position of a player
	Position(player string) (time.Duration, error)
}

// Processor prepares album art for the panel
type Processor interface {
	// Thumbnail resizes and re-encodes image data so it fits the panel's
	// reassembly buffer. Returns the encoded bytes or an error
	Thumbnail(ctx context.Context, imageData []byte) ([]byte, error)
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// PlayerController executes playback commands on a local player
type PlayerController interface {
	// Execute runs a command verb (play, pause, next, previous) on the given player
	Execute(ctx context.Context, player, verb string) error
}

// Config defines the interface for application configuration
type Config interface {
	// GetMode returns the panel output mode (snapshot, terminal, both)
	GetMode() string

	// GetOutputDir returns the directory for rendered frames
	GetOutputDir() string
}
