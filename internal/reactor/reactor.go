package reactor

import (
	"crypto/tls"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/gateway/internal/httpcodec"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/wscodec"
)

const (
	backlog   = 128
	maxEvents = 256

	// SO_REUSEPORT is absent from the stdlib syscall package on this
	// GOOS/ARCH; the numeric value is the same across Linux architectures.
	soReusePort = 0xf
)

// Hooks lets the caller observe connection lifecycle and WebSocket messages
// without the reactor importing gatewayhandlers — kept as plain function
// fields rather than an interface since most callers only care about one
// or two events.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func()

	// OnWSMessage handles one decoded WebSocket text frame and returns the
	// reply to write back as a text frame, or "" to send nothing. It runs
	// on the bounded dispatch pool, same as an ordinary HTTP handler, since
	// it may itself block on an upstream call.
	OnWSMessage func(text string) string
}

// Reactor owns one listening socket, its epoll instance, and a single
// event-loop goroutine that performs every socket read, HTTP/WebSocket
// parse, and write: spec's concurrency contract requires connection state
// be touched by exactly one thread, with no locks on per-connection
// buffers. The one sanctioned exception is a bounded pool of dispatch
// goroutines that run a route handler, since a handler may block on an
// upstream call; a dispatch goroutine never touches a socket or a
// Connection field directly — it computes a completion value and hands it
// back over a channel that only the event loop drains.
type Reactor struct {
	epollFd  int
	listenFd int

	router *router.Router
	hooks  Hooks

	connections []atomic.Pointer[Connection]

	dispatchJobs chan dispatchTask
	completions  chan completion

	// tlsConfig, when non-nil, routes newly accepted connections to
	// serveTLSConn instead of registering them with epoll — see
	// tlsconn.go for why TLS termination can't share the plaintext
	// event loop.
	tlsConfig *tls.Config

	running atomic.Bool
}

// dispatchTask is either an HTTP request to route, or a WebSocket text
// frame's payload to hand to Hooks.OnWSMessage.
type dispatchTask struct {
	conn   *Connection
	req    httpcodec.Request
	fromWS bool
	wsText string
}

// completion is a dispatch worker's result, applied to the connection only
// by the event-loop goroutine — the "self-pipe or task channel" discipline
// spec.md §5.1 names for reporting blocking work back to the reactor.
type completion struct {
	conn      *Connection
	fromWS    bool
	httpResp  *httpcodec.Response
	keepAlive bool
	wsReply   string
}

// Config bounds the dispatch pool that runs route handlers — the
// reactor's only worker pool. Socket reads, parsing, and writes always
// run on the single event-loop goroutine.
type Config struct {
	DispatchWorkers int // defaults to runtime.NumCPU(), matching the teacher's startWorkerPool sizing
}

// New builds a Reactor bound to addr:port. It does not start serving
// until Run is called.
func New(addr [4]byte, port int, r *router.Router, hooks Hooks, cfg Config) (*Reactor, error) {
	fd, err := listenSocket(addr, port)
	if err != nil {
		return nil, err
	}

	epollFd, err := syscall.EpollCreate1(0)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}

	if err := syscall.EpollCtl(epollFd, syscall.EPOLL_CTL_ADD, fd, &syscall.EpollEvent{
		Events: syscall.EPOLLIN,
		Fd:     int32(fd),
	}); err != nil {
		syscall.Close(fd)
		syscall.Close(epollFd)
		return nil, err
	}

	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = runtime.NumCPU()
	}

	rlim := syscall.Rlimit{}
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim)

	rx := &Reactor{
		epollFd:      epollFd,
		listenFd:     fd,
		router:       r,
		hooks:        hooks,
		connections:  make([]atomic.Pointer[Connection], rlim.Cur),
		dispatchJobs: make(chan dispatchTask, 1024),
		completions:  make(chan completion, 1024),
	}

	for i := 0; i < cfg.DispatchWorkers; i++ {
		go rx.dispatchWorker()
	}

	return rx, nil
}

// Addr returns the bound local address, useful when port 0 was
// requested so the caller (or a test) can discover the assigned port.
func (rx *Reactor) Addr() (syscall.Sockaddr, error) {
	return syscall.Getsockname(rx.listenFd)
}

// Run blocks, servicing epoll events until Stop is called. Every socket
// read, parse, and write happens on this one goroutine; route-handler
// execution is the only work that runs elsewhere, on the dispatch pool
// started by New.
func (rx *Reactor) Run() error {
	rx.running.Store(true)
	events := make([]syscall.EpollEvent, maxEvents)

	for rx.running.Load() {
		n, err := syscall.EpollWait(rx.epollFd, events, 250)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			continue
		}

		for i := 0; i < n; i++ {
			efd := int(events[i].Fd)

			if efd == rx.listenFd {
				rx.acceptLoop()
				continue
			}

			rx.handleReadable(efd)
		}

		rx.drainCompletions()
	}
	return nil
}

// drainCompletions applies every dispatch-pool result available right
// now, without blocking. It only ever runs on the event-loop goroutine, so
// writes are never interleaved from two goroutines.
func (rx *Reactor) drainCompletions() {
	for {
		select {
		case c := <-rx.completions:
			rx.finishCompletion(c)
		default:
			return
		}
	}
}

// Stop marks the loop for exit; Run returns once its current EpollWait
// times out (bounded at 250ms above).
func (rx *Reactor) Stop() {
	rx.running.Store(false)
}

func (rx *Reactor) acceptLoop() {
	for {
		nfd, _, err := syscall.Accept(rx.listenFd)
		if err != nil {
			return
		}
		syscall.SetNonblock(nfd, true)
		syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)

		if rx.tlsConfig != nil {
			// OnConnect fires from serveTLSConn itself, only after a
			// successful handshake, not merely on accept.
			go rx.serveTLSConn(nfd)
			continue
		}

		if err := syscall.EpollCtl(rx.epollFd, syscall.EPOLL_CTL_ADD, nfd, &syscall.EpollEvent{
			Events: syscall.EPOLLIN | syscall.EPOLLONESHOT,
			Fd:     int32(nfd),
		}); err != nil {
			syscall.Close(nfd)
			continue
		}

		if rx.hooks.OnConnect != nil {
			rx.hooks.OnConnect()
		}
	}
}

func listenSocket(addr [4]byte, port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	// acceptLoop drains the accept queue until EAGAIN, so the listening
	// socket must not block.
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return -1, err
	}

	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, soReusePort, 1)

	if err := syscall.Bind(fd, &syscall.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return fd, nil
}

// handleReadable performs one non-blocking read for fd, parses whatever it
// can, and either closes the connection, answers a WebSocket upgrade, or
// queues a dispatch task — all inline, on the event-loop goroutine.
func (rx *Reactor) handleReadable(fd int) {
	conn := rx.connections[fd].Load()
	if conn == nil {
		conn = acquireConnection(fd)
		rx.connections[fd].Store(conn)
	}

	chunk := make([]byte, 4096)
	n, err := syscall.Read(fd, chunk)
	if (err != nil && err != syscall.EAGAIN) || n == 0 {
		rx.closeConnection(fd, conn)
		return
	}

	if n > 0 {
		conn.ReadBuf = append(conn.ReadBuf, chunk[:n]...)
		if len(conn.ReadBuf) > httpcodec.MaxBodyLen+httpcodec.MaxURLLen {
			rx.closeConnection(fd, conn)
			return
		}
		rx.consumeBuffer(fd, conn)
	}

	// While a request is out on the dispatch pool (StateProcessing), read
	// interest stays disabled: a new request on this connection is not
	// parsed until the previous response has been fully flushed, per
	// spec's no-pipelining ordering guarantee. finishCompletion re-arms.
	if conn.State != StateClosed && conn.State != StateProcessing {
		syscall.EpollCtl(rx.epollFd, syscall.EPOLL_CTL_MOD, fd, &syscall.EpollEvent{
			Events: syscall.EPOLLIN | syscall.EPOLLONESHOT,
			Fd:     int32(fd),
		})
	}
}

// consumeBuffer drives the right codec for the connection's current
// state. A WebSocket upgrade arrives as an ordinary HTTP GET with an
// Upgrade header; it's answered inline here (no upstream call is
// involved, so no dispatch-pool trip is needed) before the connection
// moves to WebSocket state.
func (rx *Reactor) consumeBuffer(fd int, conn *Connection) {
	if conn.State == StateWebSocket {
		rx.consumeWebSocket(fd, conn)
		return
	}

	consumed, req, err := httpcodec.Parse(conn.ReadBuf)
	switch err {
	case httpcodec.ErrIncomplete:
		return
	case httpcodec.ErrProtocol:
		rx.closeConnection(fd, conn)
		return
	case nil:
		conn.ReadBuf = conn.ReadBuf[consumed:]

		if resp, upgraded := tryUpgrade(&req); upgraded {
			syscall.Write(fd, resp)
			conn.State = StateWebSocket
			conn.WSBuf = nil
			return
		}

		conn.State = StateProcessing
		select {
		case rx.dispatchJobs <- dispatchTask{conn: conn, req: req}:
		default:
			log.Warn().Int("fd", fd).Msg("dispatch queue full, closing connection")
			rx.closeConnection(fd, conn)
		}
	}
}

func (rx *Reactor) consumeWebSocket(fd int, conn *Connection) {
	buf := append(conn.WSBuf, conn.ReadBuf...)
	conn.ReadBuf = conn.ReadBuf[:0]
	for {
		consumed, frame, err := wscodec.ReadFrame(buf)
		if err == wscodec.ErrIncomplete {
			break
		}
		if err != nil {
			rx.closeConnection(fd, conn)
			return
		}
		buf = buf[consumed:]

		switch frame.Opcode {
		case wscodec.OpClose:
			rx.closeConnection(fd, conn)
			return
		case wscodec.OpPing:
			syscall.Write(fd, wscodec.WritePongFrame(frame.Payload))
		case wscodec.OpText:
			select {
			case rx.dispatchJobs <- dispatchTask{conn: conn, fromWS: true, wsText: string(frame.Payload)}:
			default:
				log.Warn().Int("fd", fd).Msg("dispatch queue full, dropping websocket frame")
			}
		}
	}
	conn.WSBuf = buf
}

func (rx *Reactor) closeConnection(fd int, conn *Connection) {
	conn.State = StateClosed
	rx.connections[fd].Store(nil)
	releaseConnection(conn)
	syscall.Close(fd)
	if rx.hooks.OnDisconnect != nil {
		rx.hooks.OnDisconnect()
	}
}

// dispatchWorker is the bounded pool of goroutines allowed to block on
// upstream I/O — the single sanctioned exception to the reactor's
// one-thread-touches-connection-state rule. A worker never writes to a
// socket or mutates a Connection field; it computes a result and posts it
// to completions for the event loop to apply.
func (rx *Reactor) dispatchWorker() {
	for task := range rx.dispatchJobs {
		if task.fromWS {
			reply := ""
			if rx.hooks.OnWSMessage != nil {
				reply = rx.hooks.OnWSMessage(task.wsText)
			}
			rx.completions <- completion{conn: task.conn, fromWS: true, wsReply: reply}
			continue
		}

		resp := rx.router.Dispatch(&task.req)
		rx.completions <- completion{conn: task.conn, httpResp: resp, keepAlive: task.req.KeepAlive()}
	}
}

// finishCompletion applies one dispatch result. It is only ever called
// from the event-loop goroutine, inside drainCompletions.
func (rx *Reactor) finishCompletion(c completion) {
	conn := c.conn
	if conn.State == StateClosed {
		return
	}

	if c.fromWS {
		if c.wsReply != "" {
			syscall.Write(conn.Fd, wscodec.WriteTextFrame([]byte(c.wsReply)))
		}
		return
	}

	syscall.Write(conn.Fd, c.httpResp.Build())
	if !c.keepAlive {
		rx.closeConnection(conn.Fd, conn)
		return
	}

	conn.State = StateReadingHeaders
	syscall.EpollCtl(rx.epollFd, syscall.EPOLL_CTL_MOD, conn.Fd, &syscall.EpollEvent{
		Events: syscall.EPOLLIN | syscall.EPOLLONESHOT,
		Fd:     int32(conn.Fd),
	})
}

func tryUpgrade(req *httpcodec.Request) ([]byte, bool) {
	if req.Path != "/ws" || !wscodec.IsUpgradeRequest(req) {
		return nil, false
	}
	resp, err := wscodec.BuildUpgradeResponse(req)
	if err != nil {
		return nil, false
	}
	return resp, true
}
