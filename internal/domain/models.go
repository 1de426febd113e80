package domain

import "time"

// PlayerStatus represents the current state of the media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
)

// MediaMetadata is what the bridge observes on a local player
type MediaMetadata struct {
	// Player is the well-known bus name of the player that emitted the event
	Player string
	Title  string
	Artist string
	Album  string
	// ArtUrl is the URL or local path to the album artwork
	ArtUrl string
	Status PlayerStatus
	// Length is the track duration, zero when the player does not report it
	Length time.Duration
	// Position is the playback position at the time of the event
	Position time.Duration
}

// TextCapacity is the storage bound of MediaState text fields, terminator slot included.
const TextCapacity = 128

// MediaState is the now-playing record shown by the panel.
type MediaState struct {
	Title       string
	Artist      string
	DurationSec uint32
	PositionSec uint32
	IsPlaying   bool
}

// ProgressPercent returns the playback progress in percent.
// ok is false when the duration is zero and no progress can be derived.
func (s MediaState) ProgressPercent() (percent int, ok bool) {
	if s.DurationSec == 0 {
		return 0, false
	}
	p := uint64(s.PositionSec) * 100 / uint64(s.DurationSec)
	if p > 100 {
		p = 100
	}
	return int(p), true
}

// TopicContext classifies an inbound message, and the run it belongs to.
type TopicContext int

const (
	TopicNone TopicContext = iota
	TopicState
	TopicImage
)

func (c TopicContext) String() string {
	switch c {
	case TopicState:
		return "state"
	case TopicImage:
		return "image"
	default:
		return "none"
	}
}

// Fragment is one transport delivery. Only the first fragment of a logical
// message carries the topic; continuations have HasTopic false.
type Fragment struct {
	HasTopic bool
	Topic    string
	Payload  []byte
	// TotalLen is the declared length of the whole logical message
	TotalLen int
	// Offset of Payload within the logical message
	Offset int
}
