package keymap

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "keymap.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// DefaultPath returns the profile file location used when none is configured.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "lerobot-remote", "keymap_config.json")
}

// Store persists a Profiles document and keeps it current when the file
// changes on disk.
type Store struct {
	path string
	log  *slog.Logger

	editMu    sync.Mutex
	mu        sync.RWMutex
	profiles  *Profiles
	lastWrite []byte
	onChange  []func(*Profiles)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
}

// NewStore creates a store for the file at path. The format is chosen by
// extension: .json, .toml, .yaml or .yml.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		path:   path,
		log:    logger.With("component", "keymap"),
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 1),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the profile file. A missing file is created with the builtin
// profiles.
func (s *Store) Load() (*Profiles, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("profile file not found, writing defaults", "path", s.path)
		p := Defaults()
		s.mu.Lock()
		s.profiles = p
		s.mu.Unlock()
		if err := s.Save(); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	p, err := Decode(data, filepath.Ext(s.path))
	if err != nil {
		return nil, err
	}
	s.checkProfiles(p)

	s.mu.Lock()
	s.profiles = p
	s.lastWrite = data
	s.mu.Unlock()
	s.log.Info("loaded profiles", "path", s.path, "current", p.CurrentProfile, "count", len(p.Profiles))
	return p, nil
}

func (s *Store) checkProfiles(p *Profiles) {
	for _, id := range p.IDs() {
		if err := p.Profiles[id].Keyboard.Validate(); err != nil {
			s.log.Warn("profile is invalid", "profile", id, "err", err)
		}
	}
}

// Profiles returns the current document. Callers must not modify it; use
// Apply to make changes.
func (s *Store) Profiles() *Profiles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles
}

// Keymap returns the keymap of the current profile.
func (s *Store) Keymap() (*Keymap, error) {
	p := s.Profiles()
	if p == nil {
		return nil, fmt.Errorf("profiles not loaded")
	}
	return p.Keymap()
}

// Apply runs fn on a copy of the document. If fn succeeds the copy is saved
// and replaces the current document; otherwise nothing changes.
func (s *Store) Apply(fn func(*Profiles) error) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	s.mu.RLock()
	cur := s.profiles
	s.mu.RUnlock()
	if cur == nil {
		return fmt.Errorf("profiles not loaded")
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles = next
	s.mu.Unlock()
	if err := s.Save(); err != nil {
		s.mu.Lock()
		s.profiles = cur
		s.mu.Unlock()
		return err
	}
	s.notify(next)
	return nil
}

// Save writes the current document, keeping a backup of the previous file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Encode(s.profiles, filepath.Ext(s.path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if old, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(backupPath(s.path), old, 0o644); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	s.lastWrite = data
	return nil
}

func backupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".backup" + ext
}

// OnChange registers a callback invoked with the new document after every
// successful Apply or reload from disk.
func (s *Store) OnChange(cb func(*Profiles)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, cb)
}

func (s *Store) notify(p *Profiles) {
	s.mu.RLock()
	cbs := make([]func(*Profiles), len(s.onChange))
	copy(cbs, s.onChange)
	s.mu.RUnlock()
	for _, cb := range cbs {
		cb(p)
	}
}

// Errors returns reload errors found while watching.
func (s *Store) Errors() <-chan error {
	return s.errCh
}

// Watch reloads the document whenever the file changes on disk.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	s.watcher = w
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	var debounce *time.Timer
	const delay = 100 * time.Millisecond

	for {
		select {
		case <-s.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(delay, s.reload)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.reportErr(err)
		}
	}
}

func (s *Store) reload() {
	if s.ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.reportErr(fmt.Errorf("reload profiles: %w", err))
		return
	}

	s.mu.RLock()
	same := bytes.Equal(data, s.lastWrite)
	s.mu.RUnlock()
	if same {
		return
	}

	p, err := Decode(data, filepath.Ext(s.path))
	if err != nil {
		s.reportErr(fmt.Errorf("reload profiles: %w", err))
		return
	}
	s.checkProfiles(p)

	s.mu.Lock()
	s.profiles = p
	s.lastWrite = data
	s.mu.Unlock()
	s.log.Info("profiles reloaded", "current", p.CurrentProfile)
	s.notify(p)
}

func (s *Store) reportErr(err error) {
	s.log.Warn("profile watch error", "err", err)
	select {
	case s.errCh <- err:
	default:
	}
}

// Close stops watching.
func (s *Store) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Decode parses and validates a profile document. ext selects the format;
// an unknown extension is treated as JSON.
func Decode(data []byte, ext string) (*Profiles, error) {
	var raw any
	var p Profiles
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
		if _, err := toml.Decode(string(data), &p); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid profile document: %w", err)
	}
	if _, err := p.Current(); err != nil {
		return nil, fmt.Errorf("current profile: %w", err)
	}
	if p.Version == "" {
		p.Version = ConfigVersion
	}
	return &p, nil
}

// Encode serializes a profile document in the format selected by ext.
func Encode(p *Profiles, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	case ".yaml", ".yml":
		data, err := yaml.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	}
}
