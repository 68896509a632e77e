package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xcafed00d/joystick"

	"github.com/gwillem/lerobot-remote/pkg/input"
	"github.com/gwillem/lerobot-remote/pkg/protocol"
)

// Mode selects the input backend of a session.
type Mode string

const (
	ModeKeyboard Mode = "keyboard"
	ModeGamepad  Mode = "gamepad"
)

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeKeyboard, ModeGamepad:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid control mode %q (want keyboard or gamepad)", s)
}

// Emitter forwards a command to the session's channel.
type Emitter func(protocol.Command)

// Driver is an input backend. A session attaches exactly one driver at a
// time; once Detach returns the driver must not call its emitter again.
type Driver interface {
	Mode() Mode
	Attach(ctx context.Context, emit Emitter) error
	Detach()
}

// KeyboardDriver feeds key events through an input.Tracker.
type KeyboardDriver struct {
	tracker *input.Tracker

	mu   sync.Mutex
	emit Emitter
}

// NewKeyboardDriver creates a driver resolving keys through mapper.
func NewKeyboardDriver(mapper *input.Mapper) *KeyboardDriver {
	return &KeyboardDriver{tracker: input.NewTracker(mapper)}
}

func (d *KeyboardDriver) Mode() Mode { return ModeKeyboard }

func (d *KeyboardDriver) Attach(_ context.Context, emit Emitter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit != nil {
		return errors.New("keyboard already attached")
	}
	d.emit = emit
	return nil
}

// Detach stops every base motion started by a held key, then disconnects the
// driver from the channel.
func (d *KeyboardDriver) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit == nil {
		return
	}
	d.releaseLocked()
	d.emit = nil
}

// KeyDown handles a key press and reports whether a command was sent.
func (d *KeyboardDriver) KeyDown(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit == nil {
		return false
	}
	ev, ok := d.tracker.KeyDown(key)
	if !ok {
		return false
	}
	d.emit(protocol.ForAction(ev.Action))
	return true
}

// KeyUp handles a key release and reports whether a stop was sent.
func (d *KeyboardDriver) KeyUp(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit == nil {
		return false
	}
	ev, ok := d.tracker.KeyUp(key)
	if !ok || ev.Kind != input.Stop {
		return false
	}
	d.emit(protocol.BaseStop())
	return true
}

// Release lets go of every held key, as on focus loss. It returns the number
// of stops sent.
func (d *KeyboardDriver) Release() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emit == nil {
		return 0
	}
	return d.releaseLocked()
}

func (d *KeyboardDriver) releaseLocked() int {
	evs := d.tracker.Reset()
	for range evs {
		d.emit(protocol.BaseStop())
	}
	return len(evs)
}

// Pressed returns the held keys.
func (d *KeyboardDriver) Pressed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracker.Pressed()
}

// OpenFunc opens joystick id.
type OpenFunc func(id int) (joystick.Joystick, error)

// Gamepad defaults.
const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultRetryInterval = time.Second
	maxJoysticks         = 4
	axisMax              = 32767
)

// GamepadConfig configures a GamepadDriver.
type GamepadConfig struct {
	Open     OpenFunc
	Interval time.Duration
	Retry    time.Duration
	// OnSnapshot sees every poll. It runs on the poller goroutine and must
	// not call back into the session.
	OnSnapshot func(input.Snapshot)
	Logger     *slog.Logger
}

// GamepadDriver polls the first available joystick and emits the actions of
// every snapshot.
type GamepadDriver struct {
	cfg GamepadConfig
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGamepadDriver creates a driver. Zero fields take defaults.
func NewGamepadDriver(cfg GamepadConfig) *GamepadDriver {
	if cfg.Open == nil {
		cfg.Open = joystick.Open
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GamepadDriver{cfg: cfg, log: logger}
}

func (d *GamepadDriver) Mode() Mode { return ModeGamepad }

// Attach starts polling. A missing gamepad is retried until Detach.
func (d *GamepadDriver) Attach(ctx context.Context, emit Emitter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return errors.New("gamepad already attached")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, emit, d.done)
	return nil
}

// Detach stops polling and waits for the poller to exit.
func (d *GamepadDriver) Detach() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *GamepadDriver) run(ctx context.Context, emit Emitter, done chan struct{}) {
	defer close(done)

	waiting := false
	for {
		js, err := d.find()
		if err != nil {
			if !waiting {
				d.log.Warn("waiting for gamepad", "err", err)
				waiting = true
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.Retry):
				continue
			}
		}
		waiting = false
		d.log.Info("gamepad connected", "name", js.Name(), "axes", js.AxisCount(), "buttons", js.ButtonCount())

		err = d.poll(ctx, js, emit)
		js.Close()
		if ctx.Err() != nil {
			return
		}
		d.log.Warn("gamepad lost", "err", err)
	}
}

func (d *GamepadDriver) find() (joystick.Joystick, error) {
	for id := range maxJoysticks {
		if js, err := d.cfg.Open(id); err == nil {
			return js, nil
		}
	}
	return nil, errors.New("no gamepad found")
}

func (d *GamepadDriver) poll(ctx context.Context, js joystick.Joystick, emit Emitter) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := js.Read()
		if err != nil {
			return fmt.Errorf("read gamepad: %w", err)
		}
		snap := toSnapshot(st, js.ButtonCount())
		if d.cfg.OnSnapshot != nil {
			d.cfg.OnSnapshot(snap)
		}
		for _, a := range input.GamepadActions(snap) {
			emit(protocol.ForAction(a))
		}
	}
}

// toSnapshot scales raw axis readings into [-1, 1].
func toSnapshot(st joystick.State, buttons int) input.Snapshot {
	snap := input.Snapshot{Axes: make([]float64, len(st.AxisData))}
	for i, v := range st.AxisData {
		snap.Axes[i] = max(-1, min(1, float64(v)/axisMax))
	}
	buttons = min(buttons, 32)
	snap.Buttons = make([]bool, buttons)
	for i := range buttons {
		snap.Buttons[i] = st.Buttons&(1<<uint(i)) != 0
	}
	return snap
}
