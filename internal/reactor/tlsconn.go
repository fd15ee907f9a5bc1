package reactor

import (
	"crypto/tls"
	"net"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/gateway/internal/httpcodec"
	"github.com/openclaw/gateway/internal/wscodec"
)

// LoadTLSConfig validates the cert/key pair at startup, per spec's
// "checked at startup, a mismatch is a fatal error" requirement, and
// returns a minimum-TLS-1.2 server config. An empty certPath means
// plaintext mode; LoadTLSConfig then returns a nil config and nil error.
func LoadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// SetTLSConfig arms the reactor to terminate TLS on newly accepted
// connections. Must be called before Run.
func (rx *Reactor) SetTLSConfig(cfg *tls.Config) {
	rx.tlsConfig = cfg
}

// serveTLSConn handles one TLS-terminated connection on its own goroutine.
// A TLS record stream cannot be driven by raw non-blocking epoll reads
// without reimplementing TLS framing in userspace, so a TLS connection
// gets the same one-goroutine-per-conn treatment any net/tls server uses,
// entirely bypassing the epoll loop; the handler call below may still
// block on an upstream request, same as a dispatch-pool worker does for
// plaintext connections.
func (rx *Reactor) serveTLSConn(nfd int) {
	f := os.NewFile(uintptr(nfd), "tls-conn")
	raw, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return
	}

	conn := tls.Server(raw, rx.tlsConfig)
	defer conn.Close()

	if err := conn.Handshake(); err != nil {
		log.Warn().Err(err).Msg("tls handshake failed")
		return
	}

	if rx.hooks.OnConnect != nil {
		rx.hooks.OnConnect()
	}
	defer func() {
		if rx.hooks.OnDisconnect != nil {
			rx.hooks.OnDisconnect()
		}
	}()

	buf := make([]byte, 0, maxRawSize)
	var wsBuf []byte
	upgraded := false

	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if upgraded {
				wsBuf = append(wsBuf, chunk[:n]...)
				if !rx.serveTLSWebSocket(conn, &wsBuf) {
					return
				}
			} else {
				buf = append(buf, chunk[:n]...)
				if len(buf) > httpcodec.MaxBodyLen+httpcodec.MaxURLLen {
					return
				}
				for {
					consumed, req, perr := httpcodec.Parse(buf)
					if perr == httpcodec.ErrIncomplete {
						break
					}
					if perr == httpcodec.ErrProtocol {
						return
					}
					buf = buf[consumed:]

					if resp, ok := tryUpgrade(&req); ok {
						if _, werr := conn.Write(resp); werr != nil {
							return
						}
						upgraded = true
						wsBuf = nil
						break
					}

					out := rx.router.Dispatch(&req).Build()
					if _, werr := conn.Write(out); werr != nil {
						return
					}
					if !req.KeepAlive() {
						return
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (rx *Reactor) serveTLSWebSocket(conn *tls.Conn, bufp *[]byte) bool {
	buf := *bufp
	for {
		consumed, frame, err := wscodec.ReadFrame(buf)
		if err == wscodec.ErrIncomplete {
			break
		}
		if err != nil {
			return false
		}
		buf = buf[consumed:]

		switch frame.Opcode {
		case wscodec.OpClose:
			return false
		case wscodec.OpPing:
			if _, err := conn.Write(wscodec.WritePongFrame(frame.Payload)); err != nil {
				return false
			}
		case wscodec.OpText:
			reply := ""
			if rx.hooks.OnWSMessage != nil {
				reply = rx.hooks.OnWSMessage(string(frame.Payload))
			}
			if reply != "" {
				if _, err := conn.Write(wscodec.WriteTextFrame([]byte(reply))); err != nil {
					return false
				}
			}
		}
	}
	*bufp = buf
	return true
}
