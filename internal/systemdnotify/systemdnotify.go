// Package systemdnotify implements the sd_notify protocol without
// linking libsystemd, a direct port of
// original_source/src-c/gateway/systemd.c's sd_notify_send: a single
// datagram to the abstract/filesystem Unix socket named by
// NOTIFY_SOCKET, a no-op when that variable is unset.
package systemdnotify

import (
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog/log"
)

func send(state string) error {
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return nil
	}

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("systemdnotify: dial %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("systemdnotify: write: %w", err)
	}
	return nil
}

// Ready notifies systemd the service has finished starting up.
func Ready() {
	log.Debug().Msg("notifying systemd: READY=1")
	if err := send("READY=1"); err != nil {
		log.Warn().Err(err).Msg("systemd notify ready failed")
	}
}

// Stopping notifies systemd the service is shutting down.
func Stopping() {
	log.Debug().Msg("notifying systemd: STOPPING=1")
	if err := send("STOPPING=1"); err != nil {
		log.Warn().Err(err).Msg("systemd notify stopping failed")
	}
}

// Status sets the service's one-line status string in systemctl status.
func Status(status string) {
	if err := send("STATUS=" + status); err != nil {
		log.Warn().Err(err).Msg("systemd notify status failed")
	}
}

// Watchdog pings the systemd watchdog timer, if WatchdogSec= is set.
func Watchdog() {
	if err := send("WATCHDOG=1"); err != nil {
		log.Warn().Err(err).Msg("systemd watchdog ping failed")
	}
}
