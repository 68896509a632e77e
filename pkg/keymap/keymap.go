// Package keymap maps logical robot actions to physical key symbols.
//
// A Keymap is treated as immutable once built: edits such as Bind return a
// new Keymap so that consumers holding the old pointer never observe a
// partially applied change.
package keymap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Category partitions the actions of a keymap.
type Category string

// Action categories.
const (
	LeftArm  Category = "left_arm"
	RightArm Category = "right_arm"
	Base     Category = "base"
)

// Categories returns all categories in display order.
func Categories() []Category {
	return []Category{LeftArm, RightArm, Base}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == LeftArm || c == RightArm || c == Base
}

// Action is a (category, name) pair such as (left_arm, "x+").
type Action struct {
	Category Category
	Name     string
}

// IsBase reports whether the action drives the mobile base. Base actions are
// velocity-like and need an explicit stop when released.
func (a Action) IsBase() bool {
	return a.Category == Base
}

func (a Action) String() string {
	return string(a.Category) + "." + a.Name
}

// ParseAction parses the "category.action" form produced by String.
func ParseAction(s string) (Action, error) {
	cat, name, ok := strings.Cut(s, ".")
	if !ok || name == "" {
		return Action{}, fmt.Errorf("invalid action %q (want category.action)", s)
	}
	a := Action{Category: Category(cat), Name: name}
	if !a.Category.Valid() {
		return Action{}, fmt.Errorf("unknown category %q", cat)
	}
	return a, nil
}

// RequiredActions lists the actions every complete keymap must bind.
var RequiredActions = map[Category][]string{
	LeftArm:  armActions(),
	RightArm: armActions(),
	Base:     {"forward", "backward", "left", "right", "rotate_left", "rotate_right"},
}

func armActions() []string {
	return []string{
		"shoulder_pan+", "shoulder_pan-",
		"wrist_roll+", "wrist_roll-",
		"gripper+", "gripper-",
		"x+", "x-", "y+", "y-",
		"pitch+", "pitch-",
		"reset",
	}
}

// Keymap binds action names to key symbols, per category.
type Keymap struct {
	LeftArm  map[string]string `json:"left_arm" toml:"left_arm" yaml:"left_arm"`
	RightArm map[string]string `json:"right_arm" toml:"right_arm" yaml:"right_arm"`
	Base     map[string]string `json:"base" toml:"base" yaml:"base"`
}

// Category returns the action→key table for c, or nil for an unknown category.
func (k *Keymap) Category(c Category) map[string]string {
	switch c {
	case LeftArm:
		return k.LeftArm
	case RightArm:
		return k.RightArm
	case Base:
		return k.Base
	}
	return nil
}

func (k *Keymap) setCategory(c Category, m map[string]string) {
	switch c {
	case LeftArm:
		k.LeftArm = m
	case RightArm:
		k.RightArm = m
	case Base:
		k.Base = m
	}
}

// Clone returns a deep copy of the keymap.
func (k *Keymap) Clone() *Keymap {
	return &Keymap{
		LeftArm:  maps.Clone(k.LeftArm),
		RightArm: maps.Clone(k.RightArm),
		Base:     maps.Clone(k.Base),
	}
}

// Key returns the key bound to a, if any.
func (k *Keymap) Key(a Action) (string, bool) {
	key, ok := k.Category(a.Category)[a.Name]
	return key, ok && key != ""
}

// Reverse builds the key→action lookup table. Keys are uppercased so that
// lookups are case-insensitive. Iteration is ordered so that, for an invalid
// keymap with a duplicate key, the result is still deterministic.
func (k *Keymap) Reverse() map[string]Action {
	out := make(map[string]Action)
	for _, c := range Categories() {
		m := k.Category(c)
		for _, name := range slices.Sorted(maps.Keys(m)) {
			key := Normalize(m[name])
			if key == "" {
				continue
			}
			if _, taken := out[key]; taken {
				continue
			}
			out[key] = Action{Category: c, Name: name}
		}
	}
	return out
}

// Normalize returns the canonical (uppercased) form of a key symbol.
func Normalize(key string) string {
	return strings.ToUpper(key)
}

// ConflictError reports two actions claiming the same key.
type ConflictError struct {
	Key       string
	Existing  Action
	Requested Action
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key conflict: %q is used by both %s and %s", e.Key, e.Existing, e.Requested)
}

// MissingError reports an incomplete keymap.
type MissingError struct {
	Category Category
	Action   string // empty when the whole category is missing
}

func (e *MissingError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("missing category: %s", e.Category)
	}
	return fmt.Sprintf("missing action: %s.%s", e.Category, e.Action)
}

// ErrEmptyKey is returned when an action is bound to an empty key symbol.
var ErrEmptyKey = errors.New("empty key")

// Validate checks that every required action is bound and that no key is used
// twice (case-insensitive, across all categories).
func (k *Keymap) Validate() error {
	for _, c := range Categories() {
		m := k.Category(c)
		if m == nil {
			return &MissingError{Category: c}
		}
		for _, name := range RequiredActions[c] {
			if _, ok := m[name]; !ok {
				return &MissingError{Category: c, Action: name}
			}
		}
	}

	owners := make(map[string]Action)
	for _, c := range Categories() {
		m := k.Category(c)
		for _, name := range slices.Sorted(maps.Keys(m)) {
			a := Action{Category: c, Name: name}
			key := Normalize(m[name])
			if key == "" {
				return fmt.Errorf("%s: %w", a, ErrEmptyKey)
			}
			if prev, ok := owners[key]; ok {
				return &ConflictError{Key: m[name], Existing: prev, Requested: a}
			}
			owners[key] = a
		}
	}
	return nil
}

// Bind returns a copy of the keymap with a bound to key. The receiver is never
// modified. If another action already uses key the edit is rejected with a
// *ConflictError.
func (k *Keymap) Bind(a Action, key string) (*Keymap, error) {
	if !a.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q", a.Category)
	}
	if a.Name == "" {
		return nil, fmt.Errorf("bind %s: empty action name", a.Category)
	}
	norm := Normalize(key)
	if norm == "" {
		return nil, fmt.Errorf("bind %s: %w", a, ErrEmptyKey)
	}
	if owner, ok := k.Reverse()[norm]; ok && owner != a {
		return nil, &ConflictError{Key: norm, Existing: owner, Requested: a}
	}

	next := k.Clone()
	m := next.Category(a.Category)
	if m == nil {
		m = make(map[string]string)
		next.setCategory(a.Category, m)
	}
	m[a.Name] = norm
	return next, nil
}

// Unbind returns a copy of the keymap without a binding for a.
func (k *Keymap) Unbind(a Action) *Keymap {
	next := k.Clone()
	delete(next.Category(a.Category), a.Name)
	return next
}
