// Package session runs teleoperation sessions: one command channel to the
// backend, one input driver, and the observation stream, with an explicit
// Idle/Active lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gwillem/lerobot-remote/pkg/api"
	"github.com/gwillem/lerobot-remote/pkg/channel"
	"github.com/gwillem/lerobot-remote/pkg/input"
	"github.com/gwillem/lerobot-remote/pkg/keymap"
	"github.com/gwillem/lerobot-remote/pkg/observation"
	"github.com/gwillem/lerobot-remote/pkg/protocol"
)

var (
	ErrActive = errors.New("session already active")
	ErrIdle   = errors.New("no active session")
	// ErrStopped is returned by Start when Stop was called while it was
	// still connecting.
	ErrStopped = errors.New("session stopped while connecting")
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Defaults.
const (
	DefaultHeartbeat         = 5 * time.Second
	DefaultDisconnectTimeout = 3 * time.Second
)

// Disconnecter is notified when the user leaves teleoperation.
type Disconnecter interface {
	Disconnect(ctx context.Context) (*api.Result, error)
}

// Config configures a Controller.
type Config struct {
	URL    string // teleop socket, e.g. ws://localhost:8000/ws/teleop
	Mode   Mode
	Keymap *keymap.Keymap

	// Backend receives the disconnect notification on Stop. Optional.
	Backend           Disconnecter
	DisconnectTimeout time.Duration

	Heartbeat       time.Duration
	ObservationRate int // requests per second
	Gamepad         GamepadConfig
	Store           *observation.Store
	Dialer          *websocket.Dialer
	Logger          *slog.Logger
}

// Status is a point-in-time view of the controller.
type Status struct {
	State   State
	Mode    Mode
	Channel channel.State
	Session string
	Reason  string // why the last session ended
}

type session struct {
	id     string
	ch     *channel.Channel
	driver Driver
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Set while connecting; guarded by Controller.mu.
	dialCancel context.CancelFunc
	stopped    bool
}

// Controller owns at most one active session. Starting always goes through
// Idle, so two sessions can never drive the robot at once.
//
// Channel operations that change the connection state (Connect, Close) are
// never called while mu is held: channel state callbacks read the status.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	mapper *input.Mapper
	store  *observation.Store

	mu       sync.Mutex
	mode     Mode
	sess     *session
	starting *session
	reason   string

	lmu       sync.Mutex
	nextSub   int
	listeners map[int]func(Status)

	bg sync.WaitGroup
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.URL == "" {
		return nil, errors.New("teleop url is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeKeyboard
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.ObservationRate <= 0 {
		cfg.ObservationRate = observation.DefaultRate
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = DefaultDisconnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gamepad.Logger == nil {
		cfg.Gamepad.Logger = logger
	}
	store := cfg.Store
	if store == nil {
		store = observation.NewStore(logger)
	}
	return &Controller{
		cfg:       cfg,
		log:       logger,
		mapper:    input.NewMapper(cfg.Keymap),
		store:     store,
		mode:      cfg.Mode,
		listeners: make(map[int]func(Status)),
	}, nil
}

// Observations returns the observation store fed by the session.
func (c *Controller) Observations() *observation.Store {
	return c.store
}

// Keymap returns the active keymap.
func (c *Controller) Keymap() *keymap.Keymap {
	return c.mapper.Keymap()
}

// SetKeymap hot-swaps the keymap. Keys already held keep the action they
// were pressed with.
func (c *Controller) SetKeymap(km *keymap.Keymap) {
	c.mapper.SetKeymap(km)
	c.log.Info("keymap updated")
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{State: Idle, Mode: c.mode, Channel: channel.Closed, Reason: c.reason}
	switch {
	case c.sess != nil:
		st.State = Active
		st.Session = c.sess.id
		st.Channel = c.sess.ch.State()
	case c.starting != nil:
		st.Session = c.starting.id
		st.Channel = c.starting.ch.State()
	}
	return st
}

// Subscribe registers fn for status changes and returns a function that
// removes it. fn must not block.
func (c *Controller) Subscribe(fn func(Status)) (cancel func()) {
	c.lmu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.lmu.Unlock()
	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Controller) publish() {
	st := c.Status()
	c.lmu.Lock()
	fns := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Start opens the command channel and attaches the driver for the current
// mode.
func (c *Controller) Start(ctx context.Context) error {
	s := &session{id: uuid.NewString()}
	s.ch = channel.New(c.cfg.URL, channel.Options{
		Name:             "teleop",
		Heartbeat:        c.cfg.Heartbeat,
		HeartbeatMessage: protocol.Ping(),
		Dialer:           c.cfg.Dialer,
		Logger:           c.log.With("session", s.id),
	})

	ctx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()

	c.mu.Lock()
	if c.sess != nil || c.starting != nil {
		c.mu.Unlock()
		return ErrActive
	}
	s.dialCancel = dialCancel
	c.starting = s
	c.mu.Unlock()

	s.ch.OnMessage(func(data []byte) { c.handleMessage(data) })
	s.ch.OnError(func(err error) {
		// Errors are followed by a close; only the close ends the session.
		c.log.Warn("teleop channel error", "session", s.id, "err", err)
	})
	s.ch.OnClose(func() { c.end(s, "connection closed", false) })
	s.ch.OnState(func(channel.State) { c.publish() })

	err := s.ch.Connect(ctx)

	c.mu.Lock()
	c.starting = nil
	if s.stopped {
		c.reason = "stopped"
		c.mu.Unlock()
		s.ch.Close()
		c.log.Info("session stopped while connecting", "session", s.id)
		c.notifyBackend()
		c.publish()
		return ErrStopped
	}
	if err != nil {
		c.reason = err.Error()
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("connect teleop: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	c.sess = s
	c.reason = ""
	mode := c.mode

	req := observation.NewRequester(s.ch, c.cfg.ObservationRate)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		req.Run(s.ctx)
	}()

	s.driver = c.newDriver(mode)
	if err := s.driver.Attach(s.ctx, c.emitter(s)); err != nil {
		c.log.Error("attach driver", "mode", mode, "err", err)
	}
	c.mu.Unlock()

	c.log.Info("session started", "session", s.id, "mode", mode, "url", c.cfg.URL)

	// The socket may have dropped before the session was installed, in
	// which case its close callback found nothing to end.
	if s.ch.State() != channel.Open {
		c.end(s, "connection closed", false)
		return nil
	}
	c.publish()
	return nil
}

// Stop ends the active session and notifies the backend. A session that is
// still connecting is abandoned and never becomes active.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.sess
	if s == nil {
		if st := c.starting; st != nil {
			st.stopped = true
			st.dialCancel()
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return ErrIdle
	}
	c.mu.Unlock()
	c.end(s, "stopped", true)
	return nil
}

// Wait blocks until background backend notifications have finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// end tears s down if it is still the active session: input first, then
// timers, then the socket.
func (c *Controller) end(s *session, reason string, notify bool) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.reason = reason
	s.driver.Detach()
	s.cancel()
	c.mu.Unlock()

	s.wg.Wait()
	s.ch.Close()
	c.log.Info("session ended", "session", s.id, "reason", reason)

	if notify {
		c.notifyBackend()
	}
	c.publish()
}

// notifyBackend sends the disconnect notification in the background.
func (c *Controller) notifyBackend() {
	if c.cfg.Backend != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DisconnectTimeout)
			defer cancel()
			if _, err := c.cfg.Backend.Disconnect(ctx); err != nil {
				c.log.Warn("backend disconnect failed", "err", err)
			}
		}()
	}
}

// Mode returns the selected input mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the input backend. While active, the old driver is
// detached before the new one is attached.
func (c *Controller) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	c.mu.Lock()
	if m == c.mode {
		c.mu.Unlock()
		return nil
	}
	c.mode = m
	if s := c.sess; s != nil {
		s.driver.Detach()
		s.driver = c.newDriver(m)
		if err := s.driver.Attach(s.ctx, c.emitter(s)); err != nil {
			c.log.Error("attach driver", "mode", m, "err", err)
		}
	}
	c.mu.Unlock()

	c.log.Info("control mode changed", "mode", m)
	c.publish()
	return nil
}

// KeyDown forwards a key press to the keyboard driver. It reports whether a
// command was sent; keys are ignored unless the keyboard drives the session.
func (c *Controller) KeyDown(key string) bool {
	if kb := c.keyboard(); kb != nil {
		return kb.KeyDown(key)
	}
	return false
}

// KeyUp forwards a key release.
func (c *Controller) KeyUp(key string) bool {
	if kb := c.keyboard(); kb != nil {
		return kb.KeyUp(key)
	}
	return false
}

// ReleaseAll releases every held key, as on focus loss.
func (c *Controller) ReleaseAll() int {
	if kb := c.keyboard(); kb != nil {
		return kb.Release()
	}
	return 0
}

// Pressed returns the held keys.
func (c *Controller) Pressed() []string {
	if kb := c.keyboard(); kb != nil {
		return kb.Pressed()
	}
	return nil
}

// keyboard returns the attached keyboard driver, or nil. A driver detached
// after this returns ignores further events.
func (c *Controller) keyboard() *KeyboardDriver {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	kb, _ := c.sess.driver.(*KeyboardDriver)
	return kb
}

func (c *Controller) newDriver(m Mode) Driver {
	if m == ModeGamepad {
		return NewGamepadDriver(c.cfg.Gamepad)
	}
	return NewKeyboardDriver(c.mapper)
}

func (c *Controller) emitter(s *session) Emitter {
	return func(cmd protocol.Command) {
		c.log.Debug("send", "session", s.id, "type", cmd.Type, "data", cmd.Data)
		s.ch.Send(cmd)
	}
}

func (c *Controller) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping malformed message", "err", err)
		return
	}
	switch m := msg.(type) {
	case *protocol.Pong:
		c.log.Debug("pong")
	case *protocol.Error:
		c.log.Warn("backend error", "message", m.Message)
	case *protocol.Unrecognized:
		c.log.Warn("dropping unrecognized message", "type", m.Type)
	default:
		c.store.Handle(msg)
	}
}
