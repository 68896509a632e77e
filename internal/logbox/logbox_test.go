package logbox

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_FormatsLines(t *testing.T) {
	h := New(4, slog.LevelDebug)
	log := slog.New(h).With("session", "abc")

	log.Info("connected", "url", "ws://x/ws/teleop")
	log.WithGroup("pad").Warn("gamepad lost", "err", "read failed")

	line := <-h.Lines()
	assert.Regexp(t, `^\[\d\d:\d\d:\d\d\] connected session=abc url=ws://x/ws/teleop$`, line)

	line = <-h.Lines()
	assert.Contains(t, line, "WARN gamepad lost")
	assert.Contains(t, line, `pad.err="read failed"`)
}

func TestHandler_DropsWhenFull(t *testing.T) {
	h := New(2, slog.LevelInfo)
	log := slog.New(h)
	for range 5 {
		log.Info("tick")
	}
	log.Debug("hidden")
	assert.Len(t, h.Lines(), 2)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
