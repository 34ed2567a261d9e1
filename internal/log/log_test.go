package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	a := b.Subscribe()
	c := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	n, err := b.Write([]byte("line one\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "line one\n", string(<-a))
	assert.Equal(t, "line one\n", string(<-c))

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcasterSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	for i := 0; i < cap(ch)+10; i++ {
		_, _ = b.Write([]byte("x"))
	}
	assert.Len(t, ch, cap(ch))
}

func TestHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	logger := slog.New(NewHandler(&buf, lv))

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	lv.Set(slog.LevelDebug)
	logger.Debug("now shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown k=v")
	assert.Contains(t, out, "now shown")
	assert.Regexp(t, `time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}"`, out)
}
