package player

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/genricoloni/mediapanel/internal/command"
	"go.uber.org/zap"
)

const spotify = "org.mpris.MediaPlayer2.spotify"

type call struct {
	player, method string
}

// fakeCaller records every method call
type fakeCaller struct {
	calls []call
	err   error
}

func (f *fakeCaller) Invoke(_ context.Context, player, method string) error {
	f.calls = append(f.calls, call{player, method})
	return f.err
}

func dialer(c Caller, dials *int) Dialer {
	return func() (Caller, error) {
		*dials++
		return c, nil
	}
}

func TestMprisController_Execute(t *testing.T) {
	tests := []struct {
		name        string
		player      string
		verb        string
		wantMethod  string
		expectError bool
	}{
		{name: "Play", player: spotify, verb: command.Play, wantMethod: "Play"},
		{name: "Pause", player: spotify, verb: command.Pause, wantMethod: "Pause"},
		{name: "Next", player: spotify, verb: command.Next, wantMethod: "Next"},
		{name: "Previous", player: spotify, verb: command.Previous, wantMethod: "Previous"},
		{name: "Unknown verb", player: spotify, verb: "stop", expectError: true},
		{name: "No player", player: "", verb: command.Next, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{}
			var dials int
			c := NewMprisController(zap.NewNop(), dialer(caller, &dials), nil)

			err := c.Execute(context.Background(), tt.player, tt.verb)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if len(caller.calls) != 0 {
					t.Errorf("expected no calls, got %v", caller.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := call{spotify, tt.wantMethod}
			if len(caller.calls) != 1 || caller.calls[0] != want {
				t.Errorf("expected %v, got %v", want, caller.calls)
			}
		})
	}
}

func TestMprisController_DialsOnce(t *testing.T) {
	caller := &fakeCaller{}
	var dials int
	c := NewMprisController(zap.NewNop(), dialer(caller, &dials), nil)

	for i := 0; i < 3; i++ {
		if err := c.Execute(context.Background(), spotify, command.Next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if dials != 1 {
		t.Errorf("expected 1 dial, got %d", dials)
	}
}

func TestMprisController_DialFailure(t *testing.T) {
	c := NewMprisController(zap.NewNop(), func() (Caller, error) {
		return nil, errors.New("no session bus")
	}, nil)

	err := c.Execute(context.Background(), spotify, command.Play)
	if err == nil || !strings.Contains(err.Error(), "session bus") {
		t.Errorf("expected session bus error, got %v", err)
	}
}

func TestMprisController_ErrNoPlayer(t *testing.T) {
	c := NewMprisController(zap.NewNop(), nil, nil)

	if err := c.Execute(context.Background(), "", command.Play); !errors.Is(err, ErrNoPlayer) {
		t.Errorf("expected ErrNoPlayer, got %v", err)
	}
}

func TestMprisController_FallsBackToPlayerctl(t *testing.T) {
	caller := &fakeCaller{err: errors.New("no such method")}
	var dials int

	var gotArgs []string
	fallback := &Playerctl{
		logger: zap.NewNop(),
		binary: "/usr/bin/playerctl",
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return nil, nil
		},
	}

	c := NewMprisController(zap.NewNop(), dialer(caller, &dials), fallback)
	if err := c.Execute(context.Background(), spotify, command.Previous); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"/usr/bin/playerctl", "--player=spotify", "previous"}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") {
		t.Errorf("expected %v, got %v", want, gotArgs)
	}
}

func TestPlayerctl_Execute(t *testing.T) {
	tests := []struct {
		name        string
		verb        string
		runErr      error
		expectError string
	}{
		{name: "Success", verb: command.Pause},
		{name: "Command fails", verb: command.Play, runErr: errors.New("exit status 1"), expectError: "No players found"},
		{name: "Unknown verb", verb: "shuffle", expectError: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playerctl{
				logger: zap.NewNop(),
				binary: "playerctl",
				run: func(context.Context, string, ...string) ([]byte, error) {
					if tt.runErr != nil {
						return []byte("No players found\n"), tt.runErr
					}
					return nil, nil
				},
			}

			err := p.Execute(context.Background(), "org.mpris.MediaPlayer2.vlc", tt.verb)
			if tt.expectError == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("expected error containing %q, got %v", tt.expectError, err)
			}
		})
	}
}
