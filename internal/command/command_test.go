package command

import (
	"errors"
	"testing"

	"github.com/genricoloni/mediapanel/internal/domain/mocks"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		verb        string
		want        string
		expectError bool
	}{
		{verb: Play, want: `{"command":"play","data":null}`},
		{verb: Pause, want: `{"command":"pause","data":null}`},
		{verb: Next, want: `{"command":"next","data":null}`},
		{verb: Previous, want: `{"command":"previous","data":null}`},
		{verb: "shuffle", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			got, err := Encode(tt.verb)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		want        string
		expectError bool
	}{
		{name: "Canonical", payload: `{"command":"next","data":null}`, want: Next},
		{name: "Uppercase", payload: `{"command":" PLAY "}`, want: Play},
		{name: "Unknown verb", payload: `{"command":"eject"}`, expectError: true},
		{name: "Missing verb", payload: `{"data":null}`, expectError: true},
		{name: "Not JSON", payload: `next`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.payload))
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Command != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.Command)
			}
		})
	}
}

func TestToggle(t *testing.T) {
	if Toggle(true) != Pause {
		t.Error("playing should toggle to pause")
	}
	if Toggle(false) != Play {
		t.Error("paused should toggle to play")
	}
}

func TestSender_Send(t *testing.T) {
	const topic = "hass.agent/media_player/desktop/cmd"

	tests := []struct {
		name        string
		verb        string
		setupMock   func(*mocks.MockFeed)
		expectError bool
	}{
		{
			name: "Success",
			verb: Next,
			setupMock: func(m *mocks.MockFeed) {
				m.EXPECT().Publish(topic, []byte(`{"command":"next","data":null}`), false).Return(nil)
			},
		},
		{
			name: "Publish fails",
			verb: Pause,
			setupMock: func(m *mocks.MockFeed) {
				m.EXPECT().Publish(topic, gomock.Any(), false).Return(errors.New("not connected"))
			},
			expectError: true,
		},
		{
			name:        "Unknown verb is not published",
			verb:        "rewind",
			setupMock:   func(m *mocks.MockFeed) {},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			feed := mocks.NewMockFeed(ctrl)
			tt.setupMock(feed)

			err := NewSender(zap.NewNop(), feed, topic).Send(tt.verb)
			if (err != nil) != tt.expectError {
				t.Errorf("expected error %v, got %v", tt.expectError, err)
			}
		})
	}
}
