// Command openclaw-gatewayd runs the gateway's epoll reactor, grounded
// on original_source/src-c/gateway/main.c's flag set and signal
// handling: SIGINT/SIGTERM flip a running flag the reactor polls,
// SIGPIPE is ignored process-wide, and systemd is notified via the
// systemdnotify package instead of the original's double-fork. --daemon
// is parsed but does not change what the process does.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/gatewayhandlers"
	"github.com/openclaw/gateway/internal/logging"
	"github.com/openclaw/gateway/internal/reactor"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/session"
	"github.com/openclaw/gateway/internal/systemdnotify"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Init(cfg.Verbose)

	signal.Ignore(syscall.SIGPIPE)

	store, err := session.Open(cfg.SessionDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer store.Close()

	gw := gatewayhandlers.New(cfg, store)
	r := router.New()
	gw.Register(r)

	addr, err := parseBindAddr(cfg.Bind)
	if err != nil {
		log.Fatal().Err(err).Str("bind", cfg.Bind).Msg("invalid bind address")
	}

	rx, err := reactor.New(addr, cfg.Port, r, reactor.Hooks{
		OnConnect:    gw.ConnectionOpened,
		OnDisconnect: gw.ConnectionClosed,
		OnWSMessage:  gw.HandleWSMessage,
	}, reactor.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start reactor")
	}

	tlsConfig, err := reactor.LoadTLSConfig(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load TLS certificate/key")
	}
	if tlsConfig != nil {
		rx.SetTLSConfig(tlsConfig)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		systemdnotify.Stopping()
		rx.Stop()
	}()

	log.Info().Str("bind", cfg.Bind).Int("port", cfg.Port).Msg("openclaw-gatewayd starting")
	systemdnotify.Ready()

	if err := rx.Run(); err != nil {
		log.Fatal().Err(err).Msg("reactor exited with error")
	}
}

func parseBindAddr(bind string) ([4]byte, error) {
	ip := net.ParseIP(bind)
	if ip == nil {
		return [4]byte{}, fmt.Errorf("not an IP address: %q", bind)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return [4]byte{}, fmt.Errorf("only IPv4 bind addresses are supported, got %q", bind)
	}
	return [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]}, nil
}
