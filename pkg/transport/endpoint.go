// Package transport carries JSON messages between the host and its client
// over single-peer websocket links. Every endpoint keeps only the most recent
// message: a new message replaces one that has not been delivered yet, and
// sending never blocks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type direction int

const (
	push direction = iota
	pull
)

func (d direction) String() string {
	if d == push {
		return "push"
	}
	return "pull"
}

type endpoint struct {
	dir  direction
	addr string
	box  *Mailbox
	opts options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	srv    *http.Server

	mu     sync.Mutex
	peer   *websocket.Conn
	closed bool

	once     sync.Once
	closeErr error
}

func newEndpoint(dir direction, addr string, opts []Option) *endpoint {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &endpoint{
		dir:    dir,
		addr:   addr,
		box:    NewMailbox(),
		opts:   o,
		log:    o.log.With("endpoint", dir.String(), "addr", addr),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Sender pushes messages to its peer.
type Sender struct {
	*endpoint
}

// Send queues msg for the peer and reports whether an undelivered message was
// discarded to make room.
func (s *Sender) Send(msg []byte) bool {
	return s.box.Put(msg)
}

// Receiver pulls messages from its peer.
type Receiver struct {
	*endpoint
}

// TryReceive returns the newest undelivered message without blocking.
func (r *Receiver) TryReceive() ([]byte, bool) {
	return r.box.Take()
}

// Wait blocks until a message is available or ctx is done.
func (r *Receiver) Wait(ctx context.Context) error {
	return r.box.Wait(ctx)
}

// BindSender listens on addr and pushes to whichever peer connects.
func BindSender(addr string, opts ...Option) (*Sender, error) {
	e, err := bind(addr, push, opts)
	if err != nil {
		return nil, err
	}
	return &Sender{e}, nil
}

// BindReceiver listens on addr and pulls from whichever peer connects.
func BindReceiver(addr string, opts ...Option) (*Receiver, error) {
	e, err := bind(addr, pull, opts)
	if err != nil {
		return nil, err
	}
	return &Receiver{e}, nil
}

// DialSender connects to url in the background and keeps redialing until closed.
func DialSender(url string, opts ...Option) *Sender {
	return &Sender{dial(url, push, opts)}
}

// DialReceiver connects to url in the background and keeps redialing until closed.
func DialReceiver(url string, opts ...Option) *Receiver {
	return &Receiver{dial(url, pull, opts)}
}

// URL returns the websocket URL of an endpoint bound on host:port.
func URL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
}

func bind(addr string, dir direction, opts []Option) (*endpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	e := newEndpoint(dir, ln.Addr().String(), opts)
	e.srv = &http.Server{
		Handler:           http.HandlerFunc(e.handleWS),
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Listener stopped", "error", err)
		}
	}()
	e.log.Debug("Listening")
	return e, nil
}

func (e *endpoint) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	e.log.Info("Peer connected", "remote", r.RemoteAddr)
	e.serve(conn)
	e.log.Info("Peer disconnected", "remote", r.RemoteAddr)
}

func dial(url string, dir direction, opts []Option) *endpoint {
	e := newEndpoint(dir, url, opts)
	e.wg.Add(1)
	go e.dialLoop()
	return e
}

func (e *endpoint) dialLoop() {
	defer e.wg.Done()

	dialer := websocket.Dialer{HandshakeTimeout: e.opts.dialTimeout}
	attempt := 0
	for e.ctx.Err() == nil {
		conn, _, err := dialer.DialContext(e.ctx, e.addr, nil)
		if err != nil {
			attempt++
			e.log.Debug("Dial failed", "attempt", attempt, "error", err)
			e.backoff(attempt)
			continue
		}

		attempt = 0
		e.log.Debug("Connected")
		e.serve(conn)
		e.backoff(1)
	}
}

func (e *endpoint) backoff(attempt int) {
	d := e.opts.reconnect
	for i := 1; i < attempt && d < e.opts.reconnectMax; i++ {
		d *= 2
	}
	d = min(d, e.opts.reconnectMax)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
	}
}

// serve runs the pump for conn until the connection or the endpoint closes.
// A newer peer replaces the current one.
func (e *endpoint) serve(conn *websocket.Conn) {
	if !e.attach(conn) {
		_ = conn.Close()
		return
	}
	defer e.detach(conn)

	switch e.dir {
	case push:
		e.pushLoop(conn)
	case pull:
		e.pullLoop(conn)
	}
}

func (e *endpoint) attach(conn *websocket.Conn) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	old := e.peer
	e.peer = conn
	e.mu.Unlock()

	if old != nil {
		e.log.Info("Replacing peer", "old", old.RemoteAddr().String(), "new", conn.RemoteAddr().String())
		_ = old.Close()
	}
	return true
}

func (e *endpoint) detach(conn *websocket.Conn) {
	e.mu.Lock()
	if e.peer == conn {
		e.peer = nil
	}
	e.mu.Unlock()
	_ = conn.Close()
}

func (e *endpoint) pullLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e.box.Put(data)
	}
}

func (e *endpoint) pushLoop(conn *websocket.Conn) {
	// the peer never sends, but reading is what notices a close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		if msg, ok := e.box.Take(); ok {
			_ = conn.SetWriteDeadline(time.Now().Add(e.opts.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				e.log.Debug("Write failed", "error", err)
				return
			}
			continue
		}

		select {
		case <-e.box.notify:
		case <-gone:
			return
		case <-e.ctx.Done():
			return
		}
	}
}

// Addr returns the bound address for listening endpoints and the dialed URL
// otherwise.
func (e *endpoint) Addr() string {
	return e.addr
}

// Connected reports whether a peer is attached.
func (e *endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer != nil
}

// Dropped returns how many messages were replaced before delivery.
func (e *endpoint) Dropped() uint64 {
	return e.box.Dropped()
}

// Close stops the endpoint and waits for its goroutines. It is safe to call
// more than once.
func (e *endpoint) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		peer := e.peer
		e.peer = nil
		e.mu.Unlock()

		e.cancel()
		if e.srv != nil {
			e.closeErr = e.srv.Close()
		}
		if peer != nil {
			_ = peer.Close()
		}
		e.wg.Wait()
	})
	return e.closeErr
}
