package observation

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gwillem/lerobot-remote/pkg/channel"
	"github.com/gwillem/lerobot-remote/pkg/protocol"
)

// Frame is the latest image from one camera.
type Frame struct {
	Camera string
	Data   []byte
	Width  int
	Height int
	At     time.Time
}

// Frames is the per-camera frame cache.
type Frames struct {
	current atomic.Pointer[map[string]Frame]
	updates chan map[string]Frame
}

// NewFrames creates an empty cache.
func NewFrames() *Frames {
	f := &Frames{updates: make(chan map[string]Frame, 1)}
	empty := map[string]Frame{}
	f.current.Store(&empty)
	return f
}

// Replace swaps in a new set of frames. Cameras absent from frames are
// dropped from the cache.
func (f *Frames) Replace(frames map[string][]byte) {
	now := time.Now()
	next := make(map[string]Frame, len(frames))
	for name, data := range frames {
		fr := Frame{Camera: name, Data: data, At: now}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			fr.Width, fr.Height = cfg.Width, cfg.Height
		}
		next[name] = fr
	}
	f.current.Store(&next)

	select {
	case f.updates <- next:
	default:
		select {
		case <-f.updates:
		default:
		}
		select {
		case f.updates <- next:
		default:
		}
	}
}

// Get returns the frame for camera.
func (f *Frames) Get(camera string) (Frame, bool) {
	fr, ok := (*f.current.Load())[camera]
	return fr, ok
}

// Names returns the cameras with a cached frame, sorted.
func (f *Frames) Names() []string {
	return slices.Sorted(maps.Keys(*f.current.Load()))
}

// Updates returns a channel carrying the newest frame set.
func (f *Frames) Updates() <-chan map[string]Frame {
	return f.updates
}

// CameraStream subscribes to camera frames on the camera socket. The socket
// reconnects on its own: frames are not safety critical.
type CameraStream struct {
	ch      *channel.Channel
	cameras []string
	frames  *Frames
	log     *slog.Logger
}

// NewCameraStream prepares a stream for the named cameras. opts.Reconnect is
// forced on.
func NewCameraStream(url string, cameras []string, frames *Frames, opts channel.Options) *CameraStream {
	if opts.Name == "" {
		opts.Name = "camera"
	}
	opts.Reconnect = true
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &CameraStream{
		ch:      channel.New(url, opts),
		cameras: slices.Clone(cameras),
		frames:  frames,
		log:     logger.With("channel", opts.Name),
	}
	s.ch.OnOpen(s.subscribe)
	s.ch.OnMessage(s.handle)
	return s
}

// Channel exposes the underlying socket, for state reporting.
func (s *CameraStream) Channel() *channel.Channel {
	return s.ch
}

// Start connects. A failed first attempt is retried in the background.
func (s *CameraStream) Start(ctx context.Context) error {
	return s.ch.Connect(ctx)
}

// Close stops the stream for good.
func (s *CameraStream) Close() error {
	return s.ch.Close()
}

func (s *CameraStream) subscribe() {
	s.ch.Send(protocol.Subscribe{Cameras: s.cameras})
}

func (s *CameraStream) handle(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("dropping malformed message", "err", err)
		return
	}
	switch m := msg.(type) {
	case *protocol.CameraFrames:
		s.frames.Replace(m.Frames)
	case *protocol.Error:
		s.log.Warn("camera stream error", "message", m.Message)
	default:
		s.log.Debug("ignoring message", "type", msg.MessageType())
	}
}
