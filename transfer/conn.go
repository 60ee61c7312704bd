package transfer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-flashforge/internal/queue"
	"github.com/arloliu/go-flashforge/internal/task"
	"github.com/arloliu/go-flashforge/logger"
)

const readBufferSize = 4096

type eventKind int

const (
	evDial eventKind = iota
	evConnected
	evResponse
	evWriteAck
	evError
)

type connEvent struct {
	kind eventKind
	gen  uint64
	data []byte
	n    int
	err  error
}

type outbound struct {
	data    []byte
	payload bool
}

// Conn is the TCP link to a printer.
//
// A single long-lived worker goroutine delivers every Handler call in order.
// Each socket gets a reader and a writer goroutine; they hand events to the
// worker through a mailbox and never block on it. Every socket has a
// generation number and events of a closed socket are dropped, so a Handler
// never sees errors caused by Close.
type Conn struct {
	cfg    *Config
	host   string
	addr   string
	logger logger.Logger
	dialer *net.Dialer

	loopMgr *task.Manager // worker goroutine
	ioMgr   *task.Manager // reader and writer of the current socket

	events *queue.Mailbox[connEvent]
	state  atomicLinkState
	gen    atomic.Uint64

	shutdown atomic.Bool

	mu        sync.Mutex // protects handler, sock and outbox
	handler   Handler
	sock      net.Conn
	outbox    queue.Queue[outbound]
	outboxSig chan struct{}
}

var _ Link = (*Conn)(nil)

// NewConn creates a connection to host and starts its worker goroutine.
// The socket is opened by Connect.
func NewConn(ctx context.Context, host string, opts ...Option) (*Conn, error) {
	if host == "" {
		return nil, errors.New("transfer: host must not be empty")
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.GetLogger().With("printer", host)
	c := &Conn{
		cfg:       cfg,
		host:      host,
		addr:      net.JoinHostPort(host, strconv.Itoa(cfg.Port())),
		logger:    l,
		dialer:    &net.Dialer{KeepAlive: 30 * time.Second},
		loopMgr:   task.NewManager(ctx, l),
		ioMgr:     task.NewManager(ctx, l),
		events:    queue.NewMailbox[connEvent](),
		outbox:    queue.NewSliceQueue[outbound](4),
		outboxSig: make(chan struct{}, 1),
	}

	if err := c.loopMgr.Start("worker", c.workerLoop); err != nil {
		return nil, err
	}

	return c, nil
}

// Addr returns the "host:port" dial address.
func (c *Conn) Addr() string {
	return c.addr
}

// Bind sets the handler receiving connection events.
func (c *Conn) Bind(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// IsOpen returns if the socket is connected.
func (c *Conn) IsOpen() bool {
	return c.state.Get() == linkOpened
}

// Connect dials the printer on the worker goroutine. The result is delivered
// as Handler.OnConnected or Handler.OnError. An open socket is closed first.
func (c *Conn) Connect() error {
	if c.shutdown.Load() {
		return ErrShutdown
	}

	c.events.Post(connEvent{kind: evDial})

	return nil
}

// SendMessage queues a protocol command for writing.
func (c *Conn) SendMessage(msg string) error {
	return c.enqueue(outbound{data: []byte(msg)})
}

// SendData queues the payload for writing in chunks of at most ChunkSize bytes.
// Every completed chunk write is delivered as Handler.OnWriteAck.
func (c *Conn) SendData(data []byte) error {
	return c.enqueue(outbound{data: data, payload: true})
}

// Close closes the socket and waits for its reader and writer to exit.
// It is safe to call from a Handler and on a closed connection. Pending
// events of the socket are dropped, so a session the Handler is running when
// Close is called from outside must be ended with Machine.Abort.
func (c *Conn) Close() error {
	if !c.state.ToClosing() {
		return nil
	}

	// drop every event still queued for this socket
	c.gen.Add(1)

	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.outbox.Reset()
	c.mu.Unlock()

	c.ioMgr.Stop()

	var err error
	if sock != nil {
		err = sock.Close()
	}

	if !c.ioMgr.WaitTimeout(c.cfg.CloseTimeout()) {
		c.logger.Warn("timeout waiting for connection tasks to exit", "timeout", c.cfg.CloseTimeout())
	}

	c.state.Set(linkClosed)
	c.logger.Debug("connection closed")

	return err
}

// Shutdown closes the connection and stops the worker goroutine. The Conn
// can't be used afterwards. Shutdown must not be called from a Handler.
func (c *Conn) Shutdown() error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	err := c.Close()

	c.loopMgr.Stop()
	c.loopMgr.Wait()

	return err
}

func (c *Conn) enqueue(item outbound) error {
	c.mu.Lock()
	if c.sock == nil || c.state.Get() != linkOpened {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.outbox.Enqueue(item)
	c.mu.Unlock()

	select {
	case c.outboxSig <- struct{}{}:
	default:
	}

	return nil
}

func (c *Conn) post(ev connEvent) {
	c.events.Post(ev)
}

func (c *Conn) workerLoop() bool {
	ctx := c.loopMgr.Context()

	select {
	case <-ctx.Done():
		return false
	case <-c.events.Notify():
		c.events.Drain(func(ev connEvent) bool {
			c.loopMgr.CallWithRecover("handler", func() bool {
				c.dispatch(ev)
				return true
			})

			return true
		})

		return true
	}
}

func (c *Conn) dispatch(ev connEvent) {
	if ev.kind == evDial {
		c.dial()
		return
	}

	if ev.gen != c.gen.Load() {
		c.logger.Debug("stale connection event dropped", "kind", int(ev.kind), "gen", ev.gen)
		return
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		return
	}

	switch ev.kind {
	case evConnected:
		h.OnConnected()
	case evResponse:
		h.OnResponse(ev.data)
	case evWriteAck:
		h.OnWriteAck(ev.n)
	case evError:
		h.OnError(ev.err)
	}
}

// dial runs on the worker goroutine.
func (c *Conn) dial() {
	if c.state.Get() != linkClosed {
		_ = c.Close()
	}

	if !c.state.ToOpening() {
		c.logger.Warn("failed to set state to opening", "state", c.state.Get().String())
		return
	}

	gen := c.gen.Add(1)

	ctx, cancel := context.WithTimeout(c.loopMgr.Context(), c.cfg.ConnectTimeout())
	sock, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	cancel()

	if err != nil {
		c.logger.Debug("dial failed", "address", c.addr, "error", err)
		c.state.Set(linkClosed)
		c.dispatch(connEvent{kind: evError, gen: gen, err: &NetworkError{Op: "dial", Err: err}})

		return
	}

	if c.gen.Load() != gen {
		// closed while dialing
		_ = sock.Close()
		return
	}

	c.mu.Lock()
	c.sock = sock
	c.outbox.Reset()
	c.mu.Unlock()

	if err := c.startIO(sock, gen); err != nil {
		c.logger.Error("failed to start connection tasks", "error", err)
		_ = c.Close()
		c.dispatch(connEvent{kind: evError, gen: c.gen.Load(), err: &NetworkError{Op: "dial", Err: err}})

		return
	}

	if !c.state.ToOpened() {
		c.logger.Warn("failed to set state to opened", "state", c.state.Get().String())
	}

	c.logger.Debug("connected", "localAddr", sock.LocalAddr(), "remoteAddr", sock.RemoteAddr())
	c.dispatch(connEvent{kind: evConnected, gen: gen})
}

func (c *Conn) startIO(sock net.Conn, gen uint64) error {
	err := c.ioMgr.StartReceiver("reader", readBufferSize, func(buf []byte) bool {
		n, err := sock.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.post(connEvent{kind: evResponse, gen: gen, data: data})
		}

		if err != nil {
			if c.gen.Load() == gen {
				c.post(connEvent{kind: evError, gen: gen, err: &NetworkError{Op: "read", Err: err}})
			}

			return false
		}

		return true
	}, nil)
	if err != nil {
		return err
	}

	return c.ioMgr.Start("writer", func() bool {
		ctx := c.ioMgr.Context()

		select {
		case <-ctx.Done():
			return false
		case <-c.outboxSig:
		}

		for {
			c.mu.Lock()
			item, ok := c.outbox.Dequeue()
			c.mu.Unlock()

			if !ok {
				return true
			}

			if err := c.write(sock, gen, item); err != nil {
				if c.gen.Load() == gen {
					c.post(connEvent{kind: evError, gen: gen, err: err})
				}

				return false
			}
		}
	})
}

func (c *Conn) write(sock net.Conn, gen uint64, item outbound) error {
	chunkSize := c.cfg.ChunkSize()

	for off := 0; off < len(item.data); {
		end := min(off+chunkSize, len(item.data))

		if err := sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout())); err != nil {
			return &NetworkError{Op: "write", Err: err}
		}

		n, err := sock.Write(item.data[off:end])
		if n > 0 && item.payload {
			c.post(connEvent{kind: evWriteAck, gen: gen, n: n})
		}
		if err != nil {
			return &NetworkError{Op: "write", Err: err}
		}

		off += n
	}

	return nil
}
