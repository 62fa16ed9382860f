// Package firewalld detects whether the firewalld management daemon owns
// the host firewall, in which case backend commands go through its
// direct passthrough interface.
package firewalld

import (
	"github.com/godbus/dbus/v5"

	"grimm.is/bridgewall/internal/errors"
)

// BusName is the well-known D-Bus name firewalld registers.
const BusName = "org.fedoraproject.FirewallD1"

// Watcher answers whether firewalld currently owns its bus name.
type Watcher struct {
	connect func(...dbus.ConnOption) (*dbus.Conn, error)
}

// NewWatcher returns a watcher using the system bus.
func NewWatcher() *Watcher {
	return &Watcher{connect: dbus.ConnectSystemBus}
}

// IsRunning reports whether the daemon is registered on the bus.
func (w *Watcher) IsRunning() (bool, error) {
	conn, err := w.connect()
	if err != nil {
		return false, errors.Wrap(err, errors.KindEnvironment, "connecting to system bus")
	}
	defer conn.Close()

	var owned bool
	call := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, BusName)
	if err := call.Store(&owned); err != nil {
		return false, errors.Wrapf(err, errors.KindEnvironment, "querying owner of %s", BusName)
	}
	return owned, nil
}
