// Package observation keeps the latest robot state received from the backend
// and the latest camera frames.
//
// Snapshots are immutable: every inbound observation replaces the whole
// snapshot, so joints missing from a message disappear from the exposed state
// instead of keeping stale values.
package observation

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/protocol"
)

// DefaultRate is the get_observation request rate.
const DefaultRate = 10

// Snapshot is one version of the robot state. Readers must not modify Values.
type Snapshot struct {
	Values  map[string]float64
	Version uint64
	At      time.Time
}

// Keys returns the joint identifiers in sorted order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.Values))
}

// Get returns the value for key.
func (s *Snapshot) Get(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Values[key]
	return v, ok
}

// Store holds the latest Snapshot. It has a single writer (the session's
// message handler) and any number of readers.
type Store struct {
	log     *slog.Logger
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	mu     sync.Mutex
	nextID int
	subs   map[int]func(*Snapshot)

	unavailable string // last backend reason for a missing observation

	updates chan *Snapshot
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:     logger,
		subs:    make(map[int]func(*Snapshot)),
		updates: make(chan *Snapshot, 1),
	}
}

// Latest returns the current snapshot, or nil before the first observation.
func (s *Store) Latest() *Snapshot {
	return s.current.Load()
}

// Replace publishes values as the new snapshot. The map is copied.
func (s *Store) Replace(values map[string]float64) *Snapshot {
	snap := &Snapshot{
		Values:  maps.Clone(values),
		Version: s.version.Add(1),
		At:      time.Now(),
	}
	if snap.Values == nil {
		snap.Values = map[string]float64{}
	}
	s.current.Store(snap)
	s.publish(snap)
	return snap
}

// Handle applies an inbound message. It reports whether the snapshot changed.
func (s *Store) Handle(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.Observation:
		if m.Values == nil {
			reason := m.Message
			if reason == "" {
				reason = m.Status
			}
			s.setUnavailable(reason)
			return false
		}
		s.setUnavailable("")
		s.Replace(m.Values)
		return true
	case *protocol.ActionResult:
		if m.Status == "error" {
			s.log.Warn("action failed", "message", m.Message)
		}
		if m.Values == nil {
			return false
		}
		s.Replace(m.Values)
		return true
	}
	return false
}

// Unavailable returns the backend's reason for the last missing observation,
// or "" once observations flow again.
func (s *Store) Unavailable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

// setUnavailable logs only when the reason changes, since the backend
// answers every request.
func (s *Store) setUnavailable(reason string) {
	s.mu.Lock()
	prev := s.unavailable
	s.unavailable = reason
	s.mu.Unlock()

	switch {
	case reason == prev:
	case reason == "":
		s.log.Info("observations resumed")
	default:
		s.log.Warn("observation unavailable", "message", reason)
	}
}

// Subscribe registers fn for every new snapshot and returns a function that
// removes it. fn runs on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(*Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Updates returns a channel carrying the newest snapshot. Slow readers only
// ever see the latest version.
func (s *Store) Updates() <-chan *Snapshot {
	return s.updates
}

func (s *Store) publish(snap *Snapshot) {
	s.mu.Lock()
	fns := slices.Collect(maps.Values(s.subs))
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}

	select {
	case s.updates <- snap:
	default:
		// Drop the stale snapshot, keep the new one.
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- snap:
		default:
		}
	}
}

// Sender is the part of a command channel the requester needs.
type Sender interface {
	Send(msg any) bool
}

// Requester asks the backend for a fresh observation at a fixed rate,
// independent of how often the backend pushes on its own.
type Requester struct {
	sender   Sender
	interval time.Duration
}

// NewRequester creates a requester sending hz requests per second. A
// non-positive hz selects DefaultRate.
func NewRequester(sender Sender, hz int) *Requester {
	if hz <= 0 {
		hz = DefaultRate
	}
	return &Requester{
		sender:   sender,
		interval: time.Second / time.Duration(hz),
	}
}

// Interval returns the time between requests.
func (r *Requester) Interval() time.Duration {
	return r.interval
}

// Run sends get_observation on every tick until ctx is done.
func (r *Requester) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sender.Send(protocol.GetObservation())
		}
	}
}
