package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName             = "org.freedesktop.DBus"
	propertiesInterface = "org.freedesktop.DBus.Properties"
)

// Bus is the MPRIS view of the session bus. Every player call targets the
// player interface at the MPRIS object path of a well-known or unique name.
//
//go:generate mockgen -destination=mocks/bus_mock.go -package=mocks github.com/genricoloni/mediapanel/internal/monitor Bus
type Bus interface {
	Close() error

	// Watch routes player property changes and MPRIS name ownership changes to ch
	Watch(ch chan<- *dbus.Signal) error

	// Players lists the well-known names of the running MPRIS players
	Players() ([]string, error)

	// Owner resolves a well-known player name to its unique connection name
	Owner(player string) (string, error)

	// Property reads a player interface property such as "Metadata"
	Property(player, name string) (dbus.Variant, error)

	// Invoke calls a player interface method without arguments, e.g. "Next"
	Invoke(ctx context.Context, player, method string) error
}

// Compile-time interface check.
var _ Bus = (*SessionBus)(nil)

// SessionBus implements Bus on a private session bus connection
type SessionBus struct {
	conn *dbus.Conn
}

// DialSessionBus opens a private connection, so closing it never affects
// other users of the shared session bus.
func DialSessionBus() (*SessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &SessionBus{conn: conn}, nil
}

func (b *SessionBus) Close() error {
	return b.conn.Close()
}

func (b *SessionBus) Watch(ch chan<- *dbus.Signal) error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisObjectPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchOption("arg0", playerInterface),
	); err != nil {
		return fmt.Errorf("matching player properties: %w", err)
	}

	if err := b.conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchOption("arg0namespace", strings.TrimSuffix(mprisPrefix, ".")),
	); err != nil {
		return fmt.Errorf("matching player lifecycle: %w", err)
	}

	b.conn.Signal(ch)
	return nil
}

func (b *SessionBus) Players() ([]string, error) {
	var names []string
	if err := b.conn.BusObject().Call(busName+".ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("listing bus names: %w", err)
	}

	players := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			players = append(players, name)
		}
	}
	return players, nil
}

func (b *SessionBus) Owner(player string) (string, error) {
	var owner string
	if err := b.conn.BusObject().Call(busName+".GetNameOwner", 0, player).Store(&owner); err != nil {
		return "", fmt.Errorf("resolving owner of %s: %w", player, err)
	}
	return owner, nil
}

func (b *SessionBus) Property(player, name string) (dbus.Variant, error) {
	return b.object(player).GetProperty(playerInterface + "." + name)
}

func (b *SessionBus) Invoke(ctx context.Context, player, method string) error {
	return b.object(player).CallWithContext(ctx, playerInterface+"."+method, 0).Err
}

func (b *SessionBus) object(player string) dbus.BusObject {
	return b.conn.Object(player, mprisObjectPath)
}
