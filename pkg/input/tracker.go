package input

import (
	"maps"
	"slices"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// EventKind distinguishes action starts from explicit stops.
type EventKind int

const (
	Start EventKind = iota
	Stop
)

func (k EventKind) String() string {
	if k == Stop {
		return "stop"
	}
	return "start"
}

// Event is a logical transition of one action.
type Event struct {
	Kind   EventKind
	Action keymap.Action
}

type pressed struct {
	action keymap.Action
	mapped bool
}

// Tracker filters raw key-down/key-up events into at most one Start per
// physical press, plus a Stop on release for base actions. It is not safe for
// concurrent use; the owning session serializes calls.
type Tracker struct {
	mapper  *Mapper
	pressed map[string]pressed
}

// NewTracker creates a tracker resolving keys through mapper.
func NewTracker(mapper *Mapper) *Tracker {
	return &Tracker{
		mapper:  mapper,
		pressed: make(map[string]pressed),
	}
}

// KeyDown records a key press. Auto-repeated presses of a held key are
// swallowed.
func (t *Tracker) KeyDown(key string) (Event, bool) {
	k := keymap.Normalize(key)
	if _, held := t.pressed[k]; held {
		return Event{}, false
	}
	a, ok := t.mapper.Resolve(k)
	t.pressed[k] = pressed{action: a, mapped: ok}
	if !ok {
		return Event{}, false
	}
	return Event{Kind: Start, Action: a}, true
}

// KeyUp records a key release. Releasing a base key yields a Stop for the
// action the key resolved to when it was pressed, so a keymap swap while the
// key is held cannot leave the base moving. Releasing an untracked key is a
// no-op.
func (t *Tracker) KeyUp(key string) (Event, bool) {
	k := keymap.Normalize(key)
	p, held := t.pressed[k]
	if !held {
		return Event{}, false
	}
	delete(t.pressed, k)
	if !p.mapped || !p.action.IsBase() {
		return Event{}, false
	}
	return Event{Kind: Stop, Action: p.action}, true
}

// Held reports whether key is currently pressed.
func (t *Tracker) Held(key string) bool {
	_, ok := t.pressed[keymap.Normalize(key)]
	return ok
}

// Pressed returns the held keys in sorted order.
func (t *Tracker) Pressed() []string {
	return slices.Sorted(maps.Keys(t.pressed))
}

// Reset releases every held key and returns the resulting Stop events.
func (t *Tracker) Reset() []Event {
	var out []Event
	for _, k := range t.Pressed() {
		if ev, ok := t.KeyUp(k); ok {
			out = append(out, ev)
		}
	}
	return out
}
