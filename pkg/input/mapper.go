// Package input turns physical keyboard and gamepad input into robot actions.
package input

import (
	"sync/atomic"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// table is the lookup built from one keymap.
type table struct {
	km     *keymap.Keymap
	lookup map[string]keymap.Action
}

// Mapper resolves key symbols to actions using the active keymap.
// The lookup table is rebuilt only when a different keymap is installed, and
// it is swapped atomically so Resolve never sees a half-built table.
type Mapper struct {
	cur atomic.Pointer[table]
}

// NewMapper creates a mapper for km. A nil keymap resolves nothing.
func NewMapper(km *keymap.Keymap) *Mapper {
	m := &Mapper{}
	m.SetKeymap(km)
	return m
}

// SetKeymap installs km. Installing the keymap that is already active is a
// no-op.
func (m *Mapper) SetKeymap(km *keymap.Keymap) {
	if t := m.cur.Load(); t != nil && t.km == km {
		return
	}
	t := &table{km: km}
	if km != nil {
		t.lookup = km.Reverse()
	}
	m.cur.Store(t)
}

// Keymap returns the active keymap.
func (m *Mapper) Keymap() *keymap.Keymap {
	if t := m.cur.Load(); t != nil {
		return t.km
	}
	return nil
}

// Resolve returns the action bound to key, compared case-insensitively.
func (m *Mapper) Resolve(key string) (keymap.Action, bool) {
	t := m.cur.Load()
	if t == nil {
		return keymap.Action{}, false
	}
	a, ok := t.lookup[keymap.Normalize(key)]
	return a, ok
}
