package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/genricoloni/mediapanel/internal/monitor/mocks"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const (
	spotify = "org.mpris.MediaPlayer2.spotify"
	vlc     = "org.mpris.MediaPlayer2.vlc"
)

var errNoReply = errors.New("no reply")

func newTestMonitor(t *testing.T) (*MprisMonitor, *mocks.MockBus) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockBus(ctrl)
	mon := NewMprisMonitor(zap.NewNop())
	mon.bus = bus
	return mon, bus
}

// track builds an xesam metadata map; a nil length is left out
func track(title string, length any) dbus.Variant {
	md := map[string]dbus.Variant{"xesam:title": dbus.MakeVariant(title)}
	if length != nil {
		md["mpris:length"] = dbus.MakeVariant(length)
	}
	return dbus.MakeVariant(md)
}

func propertiesChanged(sender string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Name:   propertiesSignal,
		Sender: sender,
		Body:   []any{playerInterface, changed, []string{}},
	}
}

func ownerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{Name: nameOwnerSignal, Body: []any{name, oldOwner, newOwner}}
}

func takeEvent(t *testing.T, mon *MprisMonitor) domain.MediaMetadata {
	t.Helper()
	select {
	case ev := <-mon.Events():
		return ev
	default:
		t.Fatal("no event emitted")
		return domain.MediaMetadata{}
	}
}

func assertNoEvent(t *testing.T, mon *MprisMonitor) {
	t.Helper()
	select {
	case ev := <-mon.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestMicroseconds(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   time.Duration
		wantOK bool
	}{
		{"int64", int64(482_000_000), 482 * time.Second, true},
		{"uint64", uint64(2_500_000), 2500 * time.Millisecond, true},
		{"int32", int32(1_000_000), time.Second, true},
		{"uint32", uint32(500), 500 * time.Microsecond, true},
		{"float64 from browsers", float64(90_500_000), 90500 * time.Millisecond, true},
		{"Negative clamps to zero", int64(-5), 0, true},
		{"Huge unsigned clamps", ^uint64(0), time.Duration(maxMicroseconds) * time.Microsecond, true},
		{"String", "soon", 0, false},
		{"Missing", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := microseconds(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMetadata(t *testing.T) {
	mon := NewMprisMonitor(zap.NewNop())

	tests := []struct {
		name     string
		metadata map[string]dbus.Variant
		status   string
		want     domain.MediaMetadata
	}{
		{
			name: "Full track",
			metadata: map[string]dbus.Variant{
				"xesam:title":  dbus.MakeVariant("Stairway to Heaven"),
				"xesam:artist": dbus.MakeVariant([]string{"Led Zeppelin"}),
				"xesam:album":  dbus.MakeVariant("IV"),
				"mpris:artUrl": dbus.MakeVariant("https://i.scdn.co/image/abc"),
				"mpris:length": dbus.MakeVariant(int64(482_000_000)),
			},
			status: "Playing",
			want: domain.MediaMetadata{
				Title:  "Stairway to Heaven",
				Artist: "Led Zeppelin",
				Album:  "IV",
				ArtUrl: "https://i.scdn.co/image/abc",
				Status: domain.StatusPlaying,
				Length: 482 * time.Second,
			},
		},
		{
			name: "Several artists and a string length",
			metadata: map[string]dbus.Variant{
				"xesam:artist": dbus.MakeVariant([]string{"Simon", "Garfunkel"}),
				"mpris:length": dbus.MakeVariant("3:05"),
			},
			status: "Paused",
			want:   domain.MediaMetadata{Artist: "Simon, Garfunkel", Status: domain.StatusPaused},
		},
		{
			name:     "Artist as plain string",
			metadata: map[string]dbus.Variant{"xesam:artist": dbus.MakeVariant("Single Artist")},
			status:   "Stopped",
			want:     domain.MediaMetadata{Artist: "Single Artist", Status: domain.StatusStopped},
		},
		{
			name:     "Empty art URL",
			metadata: map[string]dbus.Variant{"mpris:artUrl": dbus.MakeVariant("")},
			status:   "Playing",
			want:     domain.MediaMetadata{Status: domain.StatusPlaying},
		},
		{
			name:   "No metadata, unknown status",
			status: "Buffering",
			want:   domain.MediaMetadata{Status: domain.StatusStopped},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mon.parseMetadata(tt.metadata, tt.status))
		})
	}
}

func TestAnnounce(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(b *mocks.MockBus)
		wantErr   bool
		want      *domain.MediaMetadata
	}{
		{
			name: "Length and position",
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(spotify, propMetadata).Return(track("Song A", uint64(200_000_000)), nil)
				b.EXPECT().Property(spotify, propStatus).Return(dbus.MakeVariant("Playing"), nil)
				b.EXPECT().Property(spotify, propPosition).Return(dbus.MakeVariant(int64(61_000_000)), nil)
			},
			want: &domain.MediaMetadata{
				Player:   spotify,
				Title:    "Song A",
				Status:   domain.StatusPlaying,
				Length:   200 * time.Second,
				Position: 61 * time.Second,
			},
		},
		{
			name: "Player without position",
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(spotify, propMetadata).Return(track("Stream", nil), nil)
				b.EXPECT().Property(spotify, propStatus).Return(dbus.MakeVariant("Paused"), nil)
				b.EXPECT().Property(spotify, propPosition).Return(dbus.Variant{}, errNoReply)
			},
			want: &domain.MediaMetadata{Player: spotify, Title: "Stream", Status: domain.StatusPaused},
		},
		{
			name: "Metadata unreadable",
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(spotify, propMetadata).Return(dbus.Variant{}, errNoReply)
			},
			wantErr: true,
		},
		{
			name: "Idle player",
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(spotify, propMetadata).Return(dbus.MakeVariant(int32(0)), nil)
			},
		},
		{
			name: "Status of the wrong type",
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(spotify, propMetadata).Return(track("Song A", nil), nil)
				b.EXPECT().Property(spotify, propStatus).Return(dbus.MakeVariant(7), nil)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon, bus := newTestMonitor(t)
			tt.setupMock(bus)

			err := mon.announce(bus, spotify)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			if tt.want == nil {
				assertNoEvent(t, mon)
				assert.Empty(t, mon.ActivePlayer())
				return
			}
			assert.Equal(t, *tt.want, takeEvent(t, mon))
			assert.Equal(t, spotify, mon.ActivePlayer())
		})
	}
}

func TestScanPlayers(t *testing.T) {
	mon, bus := newTestMonitor(t)

	bus.EXPECT().Players().Return([]string{spotify, vlc}, nil)
	bus.EXPECT().Owner(spotify).Return(":1.100", nil)
	bus.EXPECT().Owner(vlc).Return("", errNoReply)
	for _, p := range []string{spotify, vlc} {
		bus.EXPECT().Property(p, propMetadata).Return(track(p, int64(1_000_000)), nil)
		bus.EXPECT().Property(p, propStatus).Return(dbus.MakeVariant("Playing"), nil)
		bus.EXPECT().Property(p, propPosition).Return(dbus.MakeVariant(int64(0)), nil)
	}

	require.NoError(t, mon.scanPlayers(bus))

	assert.Equal(t, spotify, takeEvent(t, mon).Player)
	assert.Equal(t, vlc, takeEvent(t, mon).Player)
	assert.Equal(t, vlc, mon.ActivePlayer(), "the last announced player is active")
	assert.Equal(t, map[string]string{":1.100": spotify}, mon.players.owners)
}

func TestScanPlayers_ListFails(t *testing.T) {
	mon, bus := newTestMonitor(t)
	bus.EXPECT().Players().Return(nil, errNoReply)

	assert.ErrorIs(t, mon.scanPlayers(bus), errNoReply)
	assertNoEvent(t, mon)
}

func TestPosition(t *testing.T) {
	tests := []struct {
		name    string
		value   dbus.Variant
		err     error
		want    time.Duration
		wantErr bool
	}{
		{name: "Signed", value: dbus.MakeVariant(int64(90_500_000)), want: 90500 * time.Millisecond},
		{name: "Unsigned", value: dbus.MakeVariant(uint64(1_000_000)), want: time.Second},
		{name: "Wrong type", value: dbus.MakeVariant("soon"), wantErr: true},
		{name: "Bus error", err: errNoReply, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon, bus := newTestMonitor(t)
			bus.EXPECT().Property(spotify, propPosition).Return(tt.value, tt.err)

			got, err := mon.Position(spotify)
			assert.Equal(t, tt.wantErr, err != nil, "error %v", err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPosition_NotConnected(t *testing.T) {
	_, err := NewMprisMonitor(zap.NewNop()).Position(spotify)
	assert.Error(t, err)
}

func TestHandlePropertiesChanged(t *testing.T) {
	tests := []struct {
		name      string
		changed   map[string]dbus.Variant
		setupMock func(b *mocks.MockBus)
		want      domain.MediaMetadata
	}{
		{
			name: "Track change carries both",
			changed: map[string]dbus.Variant{
				propMetadata: track("Song B", int64(180_000_000)),
				propStatus:   dbus.MakeVariant("Playing"),
			},
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(":1.100", propPosition).Return(dbus.MakeVariant(int64(0)), nil)
			},
			want: domain.MediaMetadata{Player: spotify, Title: "Song B", Status: domain.StatusPlaying, Length: 3 * time.Minute},
		},
		{
			name:    "Pause reads the track back",
			changed: map[string]dbus.Variant{propStatus: dbus.MakeVariant("Paused")},
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(":1.100", propMetadata).Return(track("Song B", int64(180_000_000)), nil)
				b.EXPECT().Property(":1.100", propPosition).Return(dbus.MakeVariant(int64(42_000_000)), nil)
			},
			want: domain.MediaMetadata{
				Player: spotify, Title: "Song B", Status: domain.StatusPaused,
				Length: 3 * time.Minute, Position: 42 * time.Second,
			},
		},
		{
			name:    "Track change reads the status back",
			changed: map[string]dbus.Variant{propMetadata: track("Song C", nil)},
			setupMock: func(b *mocks.MockBus) {
				b.EXPECT().Property(":1.100", propStatus).Return(dbus.MakeVariant("Playing"), nil)
				b.EXPECT().Property(":1.100", propPosition).Return(dbus.Variant{}, errNoReply)
			},
			want: domain.MediaMetadata{Player: spotify, Title: "Song C", Status: domain.StatusPlaying},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon, bus := newTestMonitor(t)
			mon.players.appeared(spotify, ":1.100")
			tt.setupMock(bus)

			mon.handlePropertiesChanged(bus, propertiesChanged(":1.100", tt.changed))

			assert.Equal(t, tt.want, takeEvent(t, mon))
			assert.Equal(t, spotify, mon.ActivePlayer())
		})
	}
}

func TestHandlePropertiesChanged_Ignored(t *testing.T) {
	tests := []struct {
		name string
		sig  *dbus.Signal
	}{
		{"Short body", &dbus.Signal{Name: propertiesSignal, Body: []any{playerInterface}}},
		{"Root interface", &dbus.Signal{Name: propertiesSignal, Body: []any{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}}}},
		{"Volume only", propertiesChanged(":1.7", map[string]dbus.Variant{"Volume": dbus.MakeVariant(0.5)})},
		{"Metadata not a map", propertiesChanged(":1.7", map[string]dbus.Variant{propMetadata: dbus.MakeVariant(12345)})},
		{"Status not a string", propertiesChanged(":1.7", map[string]dbus.Variant{propStatus: dbus.MakeVariant([]string{"Playing"})})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The strict mock fails the test on any bus call
			mon, bus := newTestMonitor(t)
			mon.handlePropertiesChanged(bus, tt.sig)
			assertNoEvent(t, mon)
		})
	}
}

func TestHandleNameOwnerChanged(t *testing.T) {
	t.Run("Player appears and is announced", func(t *testing.T) {
		mon, bus := newTestMonitor(t)
		bus.EXPECT().Property(spotify, propMetadata).Return(track("Song A", int64(5_000_000)), nil)
		bus.EXPECT().Property(spotify, propStatus).Return(dbus.MakeVariant("Playing"), nil)
		bus.EXPECT().Property(spotify, propPosition).Return(dbus.MakeVariant(int64(0)), nil)

		mon.handleNameOwnerChanged(bus, ownerChanged(spotify, "", ":1.50"))

		assert.Equal(t, spotify, mon.players.name(":1.50"))
		ev := takeEvent(t, mon)
		assert.Equal(t, 5*time.Second, ev.Length)
		assert.Equal(t, spotify, mon.ActivePlayer())
	})

	t.Run("Active player leaves", func(t *testing.T) {
		mon, bus := newTestMonitor(t)
		mon.players.appeared(spotify, ":1.50")
		mon.players.active = spotify

		mon.handleNameOwnerChanged(bus, ownerChanged(spotify, ":1.50", ""))

		assert.Empty(t, mon.ActivePlayer())
		assert.Equal(t, ":1.50", mon.players.name(":1.50"), "mapping is forgotten")
	})

	t.Run("Other player leaves", func(t *testing.T) {
		mon, bus := newTestMonitor(t)
		mon.players.appeared(vlc, ":1.60")
		mon.players.active = spotify

		mon.handleNameOwnerChanged(bus, ownerChanged(vlc, ":1.60", ""))

		assert.Equal(t, spotify, mon.ActivePlayer())
	})

	t.Run("Owner handover keeps the player", func(t *testing.T) {
		mon, bus := newTestMonitor(t)
		mon.players.appeared(spotify, ":1.50")

		mon.handleNameOwnerChanged(bus, ownerChanged(spotify, ":1.50", ":1.51"))

		assert.Equal(t, map[string]string{":1.51": spotify}, mon.players.owners)
		assertNoEvent(t, mon)
	})

	t.Run("Non MPRIS name ignored", func(t *testing.T) {
		mon, bus := newTestMonitor(t)
		mon.handleNameOwnerChanged(bus, ownerChanged("com.example.service", "", ":1.99"))
		assert.Empty(t, mon.players.owners)
	})
}

// TestStartStop runs the lifecycle against a mocked bus and feeds one
// signal through the follower.
func TestStartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockBus(ctrl)

	watched := make(chan chan<- *dbus.Signal, 1)
	bus.EXPECT().Players().Return(nil, nil)
	bus.EXPECT().Watch(gomock.Any()).DoAndReturn(func(ch chan<- *dbus.Signal) error {
		watched <- ch
		return nil
	})
	bus.EXPECT().Property(":1.100", propPosition).Return(dbus.MakeVariant(int64(7_000_000)), nil)
	bus.EXPECT().Close().Return(nil)

	mon := NewMprisMonitor(zap.NewNop())
	mon.dial = func() (Bus, error) { return bus, nil }

	done := make(chan error, 1)
	go func() { done <- mon.Start(context.Background()) }()

	var signals chan<- *dbus.Signal
	select {
	case signals = <-watched:
	case <-time.After(time.Second):
		t.Fatal("monitor did not watch the bus")
	}

	signals <- propertiesChanged(":1.100", map[string]dbus.Variant{
		propMetadata: track("Song A", int64(60_000_000)),
		propStatus:   dbus.MakeVariant("Playing"),
	})
	select {
	case ev := <-mon.Events():
		assert.Equal(t, time.Minute, ev.Length)
		assert.Equal(t, 7*time.Second, ev.Position)
	case <-time.After(time.Second):
		t.Fatal("signal was not turned into an event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mon.Stop(ctx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	_, open := <-mon.Events()
	assert.False(t, open, "events channel is closed after Stop")
}

func TestStart_DialFailure(t *testing.T) {
	mon := NewMprisMonitor(zap.NewNop())
	mon.dial = func() (Bus, error) { return nil, errNoReply }

	assert.ErrorIs(t, mon.Start(context.Background()), errNoReply)
	assert.False(t, mon.running)
}

func TestStart_StoppedWhileDialing(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockBus(ctrl)
	bus.EXPECT().Close().Return(nil)

	dialing := make(chan struct{})
	proceed := make(chan struct{})
	mon := NewMprisMonitor(zap.NewNop())
	mon.dial = func() (Bus, error) {
		close(dialing)
		<-proceed
		return bus, nil
	}

	done := make(chan error, 1)
	go func() { done <- mon.Start(context.Background()) }()
	<-dialing

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mon.Stop(ctx))
	close(proceed)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
}
