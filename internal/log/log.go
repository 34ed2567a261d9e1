package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sunbk201/rulegate/internal/config"
)

// Level is the level of the default logger. It can be changed at runtime.
var Level = new(slog.LevelVar)

// Setup installs the default logger: text lines to stdout, to a rotating
// file under Dir and to b when non-nil.
func Setup(level string, b *Broadcaster) {
	writers := []io.Writer{
		os.Stdout,
		&lumberjack.Logger{
			Filename:   FilePath(),
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		},
	}
	if b != nil {
		writers = append(writers, b)
	}
	Level.Set(ParseLevel(level))
	slog.SetDefault(slog.New(NewHandler(io.MultiWriter(writers...), Level)))
}

// NewHandler returns the text handler used by Setup, with timestamps in
// the system zone.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	loc := LoadLocalLocation()
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(time.DateTime))
			}
			return a
		},
	})
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("rulegate started", slog.String("version", version), slog.Any("config", cfg))
	slog.Info("Host", OSInfo()...)
}

// LoadLocalLocation detects the system zone from /etc/localtime or the
// OpenWrt style /etc/TZ, falling back to UTC.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	data, err := os.ReadFile("/etc/TZ")
	if err != nil {
		return time.UTC
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "CST-8") {
		return time.FixedZone("CST", 8*3600)
	}
	return time.UTC
}
