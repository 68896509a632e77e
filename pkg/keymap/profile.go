package keymap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ConfigVersion is written to new profile files.
const ConfigVersion = "1.0.0"

// DefaultProfile is the profile selected when nothing else is.
const DefaultProfile = "default"

var (
	ErrUnknownProfile = errors.New("unknown profile")
	ErrBuiltinProfile = errors.New("builtin profile")
)

// BuiltinProfiles cannot be overwritten or deleted.
var BuiltinProfiles = []string{"default", "wasd", "arrows"}

// IsBuiltin reports whether id names a builtin profile.
func IsBuiltin(id string) bool {
	return slices.Contains(BuiltinProfiles, id)
}

// Profile is a named, swappable keymap.
type Profile struct {
	Name        string  `json:"name" toml:"name" yaml:"name"`
	Description string  `json:"description" toml:"description" yaml:"description"`
	Keyboard    *Keymap `json:"keyboard" toml:"keyboard" yaml:"keyboard"`
}

// Profiles is the complete profile document.
type Profiles struct {
	Version        string              `json:"version" toml:"version" yaml:"version"`
	CurrentProfile string              `json:"current_profile" toml:"current_profile" yaml:"current_profile"`
	Profiles       map[string]*Profile `json:"profiles" toml:"profiles" yaml:"profiles"`
}

// IDs returns the profile identifiers, builtins first.
func (p *Profiles) IDs() []string {
	ids := make([]string, 0, len(p.Profiles))
	for _, id := range BuiltinProfiles {
		if _, ok := p.Profiles[id]; ok {
			ids = append(ids, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(p.Profiles)) {
		if !IsBuiltin(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns the profile with the given id.
func (p *Profiles) Get(id string) (*Profile, error) {
	prof, ok := p.Profiles[id]
	if !ok || prof == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	return prof, nil
}

// Current returns the active profile.
func (p *Profiles) Current() (*Profile, error) {
	return p.Get(p.CurrentProfile)
}

// Keymap returns the active keymap.
func (p *Profiles) Keymap() (*Keymap, error) {
	prof, err := p.Current()
	if err != nil {
		return nil, err
	}
	if prof.Keyboard == nil {
		return nil, fmt.Errorf("profile %s has no keyboard keymap", p.CurrentProfile)
	}
	return prof.Keyboard, nil
}

// Switch makes id the current profile.
func (p *Profiles) Switch(id string) error {
	if _, err := p.Get(id); err != nil {
		return err
	}
	p.CurrentProfile = id
	return nil
}

// Create adds a new profile after validating its keymap.
func (p *Profiles) Create(id, name, description string, km *Keymap) error {
	if IsBuiltin(id) {
		return fmt.Errorf("create %s: %w", id, ErrBuiltinProfile)
	}
	if id == "" {
		return fmt.Errorf("create profile: empty id")
	}
	if err := km.Validate(); err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	if p.Profiles == nil {
		p.Profiles = make(map[string]*Profile)
	}
	p.Profiles[id] = &Profile{Name: name, Description: description, Keyboard: km}
	return nil
}

// Update replaces the keymap of an existing profile.
func (p *Profiles) Update(id string, km *Keymap) error {
	prof, err := p.Get(id)
	if err != nil {
		return err
	}
	if err := km.Validate(); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	p.Profiles[id] = &Profile{Name: prof.Name, Description: prof.Description, Keyboard: km}
	return nil
}

// Bind rebinds a single action in profile id. On conflict the profile is left
// untouched and a *ConflictError is returned.
func (p *Profiles) Bind(id string, a Action, key string) error {
	prof, err := p.Get(id)
	if err != nil {
		return err
	}
	km, err := prof.Keyboard.Bind(a, key)
	if err != nil {
		return err
	}
	p.Profiles[id] = &Profile{Name: prof.Name, Description: prof.Description, Keyboard: km}
	return nil
}

// Delete removes a user profile. Deleting the current profile falls back to
// the default one.
func (p *Profiles) Delete(id string) error {
	if IsBuiltin(id) {
		return fmt.Errorf("delete %s: %w", id, ErrBuiltinProfile)
	}
	if _, err := p.Get(id); err != nil {
		return err
	}
	delete(p.Profiles, id)
	if p.CurrentProfile == id {
		p.CurrentProfile = DefaultProfile
	}
	return nil
}

// Clone returns a copy whose profile map can be edited independently.
// Keymaps are shared since they are never mutated in place.
func (p *Profiles) Clone() *Profiles {
	out := &Profiles{
		Version:        p.Version,
		CurrentProfile: p.CurrentProfile,
		Profiles:       make(map[string]*Profile, len(p.Profiles)),
	}
	for id, prof := range p.Profiles {
		cp := *prof
		out.Profiles[id] = &cp
	}
	return out
}

// Defaults returns the builtin profile set.
func Defaults() *Profiles {
	right := func() map[string]string {
		return map[string]string{
			"shoulder_pan+": "7", "shoulder_pan-": "9",
			"wrist_roll+": "/", "wrist_roll-": "*",
			"gripper+": "+", "gripper-": "-",
			"x+": "8", "x-": "2",
			"y+": "4", "y-": "6",
			"pitch+": "1", "pitch-": "3",
			"reset": "0",
		}
	}
	left := func(x, xm, y, ym string) map[string]string {
		return map[string]string{
			"shoulder_pan+": "Q", "shoulder_pan-": "E",
			"wrist_roll+": "R", "wrist_roll-": "F",
			"gripper+": "T", "gripper-": "G",
			"x+": x, "x-": xm,
			"y+": y, "y-": ym,
			"pitch+": "Z", "pitch-": "X",
			"reset": "C",
		}
	}

	return &Profiles{
		Version:        ConfigVersion,
		CurrentProfile: DefaultProfile,
		Profiles: map[string]*Profile{
			"default": {
				Name:        "Default",
				Description: "Standard key layout",
				Keyboard: &Keymap{
					LeftArm:  left("W", "S", "A", "D"),
					RightArm: right(),
					Base: map[string]string{
						"forward": "I", "backward": "K",
						"left": "J", "right": "L",
						"rotate_left": "U", "rotate_right": "O",
					},
				},
			},
			"wasd": {
				Name:        "WASD",
				Description: "WASD drives the base, arrow keys move the left arm",
				Keyboard: &Keymap{
					LeftArm:  left("ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight"),
					RightArm: right(),
					Base: map[string]string{
						"forward": "W", "backward": "S",
						"left": "A", "right": "D",
						"rotate_left": "U", "rotate_right": "O",
					},
				},
			},
			"arrows": {
				Name:        "Arrows",
				Description: "Arrow keys drive the base",
				Keyboard: &Keymap{
					LeftArm:  left("W", "S", "A", "D"),
					RightArm: right(),
					Base: map[string]string{
						"forward": "ArrowUp", "backward": "ArrowDown",
						"left": "ArrowLeft", "right": "ArrowRight",
						"rotate_left": "U", "rotate_right": "O",
					},
				},
			},
		},
	}
}
