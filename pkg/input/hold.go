package input

import (
	"maps"
	"slices"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// DefaultReleaseTimeout covers the initial auto-repeat delay of common
// terminals (typically 250-600 ms).
const DefaultReleaseTimeout = 650 * time.Millisecond

// HoldDetector synthesizes key releases for input sources that only report
// presses, such as terminals. A key counts as held while auto-repeat presses
// keep arriving within the timeout.
type HoldDetector struct {
	timeout  time.Duration
	lastSeen map[string]time.Time
}

// NewHoldDetector creates a detector. A non-positive timeout selects
// DefaultReleaseTimeout.
func NewHoldDetector(timeout time.Duration) *HoldDetector {
	if timeout <= 0 {
		timeout = DefaultReleaseTimeout
	}
	return &HoldDetector{
		timeout:  timeout,
		lastSeen: make(map[string]time.Time),
	}
}

// Timeout returns the release timeout.
func (h *HoldDetector) Timeout() time.Duration {
	return h.timeout
}

// Press records a press of key at now.
func (h *HoldDetector) Press(key string, now time.Time) {
	h.lastSeen[keymap.Normalize(key)] = now
}

// Expired removes and returns the keys not pressed again within the timeout.
func (h *HoldDetector) Expired(now time.Time) []string {
	var out []string
	for _, k := range slices.Sorted(maps.Keys(h.lastSeen)) {
		if now.Sub(h.lastSeen[k]) >= h.timeout {
			out = append(out, k)
			delete(h.lastSeen, k)
		}
	}
	return out
}

// Clear forgets every key and returns them.
func (h *HoldDetector) Clear() []string {
	out := slices.Sorted(maps.Keys(h.lastSeen))
	clear(h.lastSeen)
	return out
}
