// Package command encodes and decodes the playback commands sent on the
// command topic.
package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

// Playback verbs understood by the bridge
const (
	Play     = "play"
	Pause    = "pause"
	Next     = "next"
	Previous = "previous"
)

// Command is the command topic payload.
type Command struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// Valid reports whether verb is a known playback verb.
func Valid(verb string) bool {
	switch verb {
	case Play, Pause, Next, Previous:
		return true
	}
	return false
}

// Encode builds the payload for verb, e.g. {"command":"next","data":null}.
func Encode(verb string) ([]byte, error) {
	if !Valid(verb) {
		return nil, fmt.Errorf("unknown command %q", verb)
	}
	return json.Marshal(Command{Command: verb, Data: json.RawMessage("null")})
}

// Parse decodes a command payload. Verbs are matched case-insensitively.
func Parse(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	c.Command = strings.ToLower(strings.TrimSpace(c.Command))
	if !Valid(c.Command) {
		return Command{}, fmt.Errorf("unknown command %q", c.Command)
	}
	return c, nil
}

// Toggle returns the verb of the play/pause button for the current state.
func Toggle(isPlaying bool) string {
	if isPlaying {
		return Pause
	}
	return Play
}

// Sender publishes commands on the feed.
type Sender struct {
	logger *zap.Logger
	feed   domain.Feed
	topic  string
}

// NewSender creates a sender publishing to topic.
func NewSender(logger *zap.Logger, feed domain.Feed, topic string) *Sender {
	return &Sender{logger: logger, feed: feed, topic: topic}
}

// Send publishes verb. Commands are not retained.
func (s *Sender) Send(verb string) error {
	payload, err := Encode(verb)
	if err != nil {
		return err
	}
	if err := s.feed.Publish(s.topic, payload, false); err != nil {
		return fmt.Errorf("failed to send %s: %w", verb, err)
	}
	s.logger.Info("Command sent",
		zap.String("command", verb),
		zap.String("topic", s.topic))
	return nil
}
