// Package channel provides the persistent WebSocket connection to the robot
// backend.
//
// A Channel serializes outgoing messages through a single queue, sends a
// heartbeat while open and reports lifecycle events through registered
// callbacks. Messages sent while the channel is not open are dropped: live
// control commands are perishable and must never be replayed later.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection state.
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrClosed is returned by Connect after Close has been called.
var ErrClosed = errors.New("channel closed")

// Defaults.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultQueueSize      = 64
	DefaultWriteTimeout   = 2 * time.Second
	DefaultDialTimeout    = 5 * time.Second
)

// Options configures a Channel.
type Options struct {
	// Name identifies the channel in logs.
	Name string

	// Heartbeat is the interval at which HeartbeatMessage is sent while
	// open. Zero disables the heartbeat.
	Heartbeat        time.Duration
	HeartbeatMessage any

	// Reconnect enables automatic reconnection after an unexpected close.
	// Leave it off for channels that carry motion commands.
	Reconnect      bool
	ReconnectDelay time.Duration

	QueueSize    int
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

type link struct {
	conn     *websocket.Conn
	out      chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (l *link) halt() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
}

// Channel is a WebSocket connection with an explicit lifecycle.
type Channel struct {
	url  string
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	closed    bool // Close was called; Closed is terminal
	link      *link
	reconnect *time.Timer

	hmu       sync.RWMutex
	onOpen    []func()
	onMessage []func([]byte)
	onError   []func(error)
	onClose   []func()
	onState   []func(State)
}

// New creates a channel for url. It does not connect; register callbacks
// first, then call Connect.
func New(url string, opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: DefaultDialTimeout}
	}
	if opts.Name == "" {
		opts.Name = "ws"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		url:   url,
		opts:  opts,
		log:   logger.With("channel", opts.Name),
		state: Closed,
	}
}

// URL returns the endpoint.
func (c *Channel) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminal reports whether Close has been called.
func (c *Channel) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnOpen registers fn to run each time the connection opens, before any
// inbound message is dispatched.
func (c *Channel) OnOpen(fn func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// OnMessage registers fn for every inbound message.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

// OnError registers fn for transport errors. An error may precede a close.
func (c *Channel) OnError(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onError = append(c.onError, fn)
}

// OnClose registers fn to run once per connection when it closes.
func (c *Channel) OnClose(fn func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// OnState registers fn for every state transition.
func (c *Channel) OnState(fn func(State)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onState = append(c.onState, fn)
}

// Connect dials the endpoint. It returns nil without dialing if the channel
// is already connecting or open.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connecting || c.state == Open {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting)

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.log.Error("connect failed", "url", c.url, "err", err)
		c.setState(Closed)
		c.emitError(err)
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	l := &link{
		conn: conn,
		out:  make(chan []byte, c.opts.QueueSize),
		stop: make(chan struct{}),
	}
	c.link = l
	c.state = Open
	l.wg.Add(1)
	go c.writeLoop(l)
	if c.opts.Heartbeat > 0 {
		l.wg.Add(1)
		go c.heartbeat(l)
	}
	c.mu.Unlock()

	c.log.Info("connected", "url", c.url)
	c.emitState(Open)
	c.emitOpen()
	go c.readLoop(l)
	return nil
}

// Send queues msg as JSON. It reports whether the message was queued; when
// the channel is not open the message is dropped and logged.
func (c *Channel) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode message", "err", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open || c.link == nil {
		c.log.Warn("dropping message, channel not open", "state", c.state, "payload", string(data))
		return false
	}
	select {
	case c.link.out <- data:
		return true
	default:
		c.log.Warn("dropping message, send queue full", "payload", string(data))
		return false
	}
}

// Close shuts the channel down for good. Queued messages are flushed, the
// heartbeat is stopped and any pending reconnect is cancelled before Close
// returns. Calling Close more than once is safe.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	l := c.link
	if l == nil {
		c.state = Closed
		c.mu.Unlock()
		c.emitState(Closed)
		return nil
	}
	c.state = Closing
	c.mu.Unlock()
	c.emitState(Closing)

	// Flush the queue before the close frame.
	l.halt()
	deadline := time.Now().Add(c.opts.WriteTimeout)
	err := l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug("write close frame", "err", err)
	}
	c.shutdown(l)
	c.log.Info("closed")
	return nil
}

func (c *Channel) writeLoop(l *link) {
	defer l.wg.Done()
	for {
		select {
		case data := <-l.out:
			if !c.write(l, data) {
				return
			}
		case <-l.stop:
			for {
				select {
				case data := <-l.out:
					if !c.write(l, data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) write(l *link, data []byte) bool {
	l.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Error("write failed", "err", err)
		c.emitError(err)
		// Unblocks the read loop, which tears the link down.
		l.conn.Close()
		return false
	}
	return true
}

func (c *Channel) heartbeat(l *link) {
	defer l.wg.Done()
	t := time.NewTicker(c.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			c.Send(c.opts.HeartbeatMessage)
		}
	}
}

func (c *Channel) readLoop(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !c.Terminal() {
				c.log.Warn("connection lost", "err", err)
				c.emitError(err)
			}
			break
		}
		c.emitMessage(data)
	}
	c.shutdown(l)
	c.emitClose()
	c.scheduleReconnect()
}

// shutdown stops the link's goroutines and closes its socket. It is safe to
// call from several goroutines.
func (c *Channel) shutdown(l *link) {
	l.halt()
	l.conn.Close()

	c.mu.Lock()
	changed := false
	if c.link == l {
		c.link = nil
		if c.state != Closed {
			c.state = Closed
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.emitState(Closed)
	}
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opts.Reconnect || c.closed || c.reconnect != nil {
		return
	}
	c.log.Info("reconnecting", "delay", c.opts.ReconnectDelay)
	c.reconnect = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.log.Debug("reconnect attempt failed", "err", err)
		}
	})
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emitState(s)
}

func (c *Channel) emitState(s State) {
	c.hmu.RLock()
	fns := slices.Clone(c.onState)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Channel) emitOpen() {
	c.hmu.RLock()
	fns := slices.Clone(c.onOpen)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Channel) emitMessage(data []byte) {
	c.hmu.RLock()
	fns := slices.Clone(c.onMessage)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (c *Channel) emitError(err error) {
	c.hmu.RLock()
	fns := slices.Clone(c.onError)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Channel) emitClose() {
	c.hmu.RLock()
	fns := slices.Clone(c.onClose)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
