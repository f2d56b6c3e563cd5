package alert

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications.Notify"

	// notifyTimeoutMs is how long the notification stays on screen.
	notifyTimeoutMs = int32(15000)
)

// DesktopSink shows alerts as desktop notifications over the D-Bus session
// bus. It is useful on deployments where the daemon runs on a workstation
// rather than a headless gateway.
type DesktopSink struct {
	conn *dbus.Conn
}

// NewDesktopSink connects to the session bus. Returns an error when no
// session bus is available, e.g. on headless hosts.
func NewDesktopSink() (*DesktopSink, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DesktopSink{conn: conn}, nil
}

// Notify shows the alert as a desktop notification.
func (s *DesktopSink) Notify(ctx context.Context, a Alert) error {
	obj := s.conn.Object(notifyService, notifyPath)
	call := obj.CallWithContext(ctx, notifyInterface, 0,
		"sunwatch",            // app name
		uint32(0),             // replaces id
		"weather-clear",       // icon
		a.Summary(),           // summary
		a.Body(),              // body
		[]string{},            // actions
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(2)),
		},
		notifyTimeoutMs,
	)
	if call.Err != nil {
		return fmt.Errorf("send notification: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (s *DesktopSink) Close() error {
	return s.conn.Close()
}
