package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/genricoloni/mediapanel/internal/domain"
)

const truncationMarker = "..."

// ParseState decodes a now-playing JSON message.
//
// Recognised fields are title (required), artist, duration,
// currentposition or position, and state or playstate. Optional fields of
// the wrong type are ignored.
func ParseState(text []byte) (domain.MediaState, error) {
	var fields map[string]any
	if err := json.Unmarshal(text, &fields); err != nil {
		return domain.MediaState{}, fmt.Errorf("%w: %v", domain.ErrParseMalformed, err)
	}
	if fields == nil {
		return domain.MediaState{}, fmt.Errorf("%w: not an object", domain.ErrParseMalformed)
	}

	title, _ := fields["title"].(string)
	if title == "" {
		return domain.MediaState{}, fmt.Errorf("%w: title", domain.ErrMissingRequiredField)
	}
	artist, _ := fields["artist"].(string)

	return domain.MediaState{
		Title:       truncateText(title),
		Artist:      truncateText(artist),
		DurationSec: seconds(fields, "duration"),
		PositionSec: seconds(fields, "currentposition", "position"),
		IsPlaying:   firstString(fields, "state", "playstate") == "playing",
	}, nil
}

// truncateText bounds s to the storage capacity, leaving room for the
// terminator slot. Cut text ends with a marker and never splits a rune.
func truncateText(s string) string {
	limit := domain.TextCapacity - 1
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

// seconds returns the first numeric field among keys, clamped to uint32.
func seconds(fields map[string]any, keys ...string) uint32 {
	for _, k := range keys {
		v, ok := fields[k].(float64)
		if !ok {
			continue
		}
		switch {
		case math.IsNaN(v) || v <= 0:
			return 0
		case v >= math.MaxUint32:
			return math.MaxUint32
		default:
			return uint32(v)
		}
	}
	return 0
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok {
			return s
		}
	}
	return ""
}
