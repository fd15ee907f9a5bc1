// Package reactor implements the single-threaded epoll event loop that
// owns every client socket, grounded on
// _examples/s00inx-goserver/server/engine's epoll.go/pool.go/session.go/
// write.go: a non-blocking listening socket registered level-triggered
// with EPOLLIN,
// one EPOLLIN|EPOLLONESHOT re-armed per client fd, and every read, parse,
// and write performed by the single goroutine running Run. The only work
// that ever leaves that goroutine is a route handler's execution, which
// may block on an upstream call; it runs on a bounded dispatch pool that
// reports back over a channel instead of touching the socket itself. Where
// the teacher's RawRequest is a zero-copy view into a single HTTP parse,
// Connection additionally tracks a small state machine so the same fd can
// move between plain HTTP request/response and an upgraded WebSocket
// session.
package reactor

import (
	"sync"

	"github.com/openclaw/gateway/internal/upstream"
)

// State is where a connection sits in its request lifecycle.
type State int

const (
	StateReadingHeaders State = iota
	StateReadingBody
	StateProcessing
	StateWriting
	StateWebSocket
	StateClosed
)

// maxRawSize mirrors the teacher's per-connection buffer ceiling; unlike
// the teacher's fixed array, it is only ReadBuf's initial capacity. ReadBuf
// grows past it as needed, and handleReadable closes the connection once
// it exceeds httpcodec.MaxBodyLen+httpcodec.MaxURLLen.
const maxRawSize = 1<<16 - 1

// Connection is the per-fd arena, analogous to the teacher's Session:
// one pre-allocated read buffer reused across keep-alive requests, plus
// enough state to resume a partially-read request or frame.
type Connection struct {
	Fd    int
	State State

	ReadBuf []byte
	WSBuf   []byte // separate accumulation buffer once upgraded, since wscodec frames never share httpcodec's framing

	KeepAlive bool

	// StreamCtx is not set anywhere in this package; reset clears it. A
	// WebSocket reply is written as one text frame per completed turn, not
	// streamed token by token.
	StreamCtx *upstream.StreamContext
}

func (c *Connection) reset() {
	c.Fd = 0
	c.State = StateReadingHeaders
	c.ReadBuf = c.ReadBuf[:0]
	c.WSBuf = nil
	c.KeepAlive = false
	c.StreamCtx = nil
}

// connPool recycles Connection structs the way the teacher recycles
// *Session, avoiding an allocation per accepted socket.
var connPool = sync.Pool{
	New: func() any { return &Connection{} },
}

func acquireConnection(fd int) *Connection {
	c := connPool.Get().(*Connection)
	c.reset()
	c.Fd = fd
	if c.ReadBuf == nil {
		c.ReadBuf = make([]byte, 0, maxRawSize)
	}
	return c
}

func releaseConnection(c *Connection) {
	c.reset()
	connPool.Put(c)
}
