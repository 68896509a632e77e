package keymap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiles_CRUD(t *testing.T) {
	p := Defaults()
	km := p.Profiles["default"].Keyboard

	assert.ErrorIs(t, p.Create("wasd", "x", "", km), ErrBuiltinProfile)
	require.NoError(t, p.Create("mine", "Mine", "custom", km))
	assert.Equal(t, []string{"default", "wasd", "arrows", "mine"}, p.IDs())

	require.NoError(t, p.Switch("mine"))
	assert.Equal(t, "mine", p.CurrentProfile)
	assert.ErrorIs(t, p.Switch("nope"), ErrUnknownProfile)

	require.NoError(t, p.Bind("mine", Action{LeftArm, "reset"}, "V"))
	cur, err := p.Keymap()
	require.NoError(t, err)
	key, _ := cur.Key(Action{LeftArm, "reset"})
	assert.Equal(t, "V", key)
	// The builtin profile shared the keymap before the edit; it must not change.
	key, _ = km.Key(Action{LeftArm, "reset"})
	assert.Equal(t, "C", key)

	assert.ErrorIs(t, p.Delete("default"), ErrBuiltinProfile)
	require.NoError(t, p.Delete("mine"))
	assert.Equal(t, DefaultProfile, p.CurrentProfile)
}

func TestProfiles_UpdateRejectsInvalid(t *testing.T) {
	p := Defaults()
	bad := p.Profiles["default"].Keyboard.Clone()
	bad.Base["left"] = "W"

	err := p.Update("default", bad)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	km, err := p.Keymap()
	require.NoError(t, err)
	key, _ := km.Key(Action{Base, "left"})
	assert.Equal(t, "J", key)
}

func TestProfiles_BindConflictKeepsDocument(t *testing.T) {
	p := Defaults()
	before := p.Profiles["default"].Keyboard

	err := p.Bind("default", Action{LeftArm, "gripper+"}, "Q")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Same(t, before, p.Profiles["default"].Keyboard)
}

func TestEncodeDecode_Formats(t *testing.T) {
	for _, ext := range []string{".json", ".toml", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			data, err := Encode(Defaults(), ext)
			require.NoError(t, err)

			p, err := Decode(data, ext)
			require.NoError(t, err)
			assert.Equal(t, DefaultProfile, p.CurrentProfile)
			assert.Len(t, p.Profiles, 3)
			km, err := p.Keymap()
			require.NoError(t, err)
			assert.NoError(t, km.Validate())
		})
	}
}

func TestDecode_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not an object", `[]`},
		{"no profiles", `{"current_profile": "default"}`},
		{"non-string key", `{"current_profile": "a", "profiles": {"a": {"keyboard": {"left_arm": {"x+": 1}, "right_arm": {}, "base": {}}}}}`},
		{"missing category", `{"current_profile": "a", "profiles": {"a": {"keyboard": {"left_arm": {}, "base": {}}}}}`},
		{"unknown current", `{"current_profile": "b", "profiles": {"a": {"keyboard": {"left_arm": {}, "right_arm": {}, "base": {}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc), ".json")
			assert.Error(t, err)
		})
	}
}

func TestStore_LoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "keymap.json")
	s := NewStore(path, nil)

	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, p.CurrentProfile)
	assert.FileExists(t, path)
}

func TestStore_ApplySavesWithBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	s := NewStore(path, nil)
	_, err := s.Load()
	require.NoError(t, err)

	var changed *Profiles
	s.OnChange(func(p *Profiles) { changed = p })

	require.NoError(t, s.Apply(func(p *Profiles) error { return p.Switch("wasd") }))
	require.NotNil(t, changed)
	assert.Equal(t, "wasd", changed.CurrentProfile)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "keymap.backup.yaml"))

	again := NewStore(path, nil)
	p, err := again.Load()
	require.NoError(t, err)
	assert.Equal(t, "wasd", p.CurrentProfile)
}

func TestStore_ApplyErrorLeavesDocument(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "keymap.json"), nil)
	_, err := s.Load()
	require.NoError(t, err)
	before := s.Profiles()

	err = s.Apply(func(p *Profiles) error {
		return p.Bind(DefaultProfile, Action{LeftArm, "gripper+"}, "Q")
	})
	require.Error(t, err)
	assert.Same(t, before, s.Profiles())
}

func TestStore_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymap.json")
	s := NewStore(path, nil)
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Watch())
	defer s.Close()

	changed := make(chan *Profiles, 1)
	s.OnChange(func(p *Profiles) { changed <- p })

	p := Defaults()
	p.CurrentProfile = "arrows"
	data, err := Encode(p, ".json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	select {
	case got := <-changed:
		assert.Equal(t, "arrows", got.CurrentProfile)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after file change")
	}
}
