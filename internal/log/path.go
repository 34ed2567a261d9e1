package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appDir = "rulegate"

var (
	dirOnce sync.Once
	dir     string
)

// Dir returns the directory holding the log and statistics files, creating
// it on first use. Linux prefers /var/log/rulegate; everything else, and
// an unwritable /var/log, uses ~/.rulegate, then the temp directory.
func Dir() string {
	dirOnce.Do(func() {
		dir = pickDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			dir = filepath.Join(os.TempDir(), appDir)
			_ = os.MkdirAll(dir, 0755)
		}
	})
	return dir
}

func pickDir() string {
	if runtime.GOOS == "linux" {
		sys := filepath.Join("/var/log", appDir)
		if writable(sys) {
			return sys
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		user := filepath.Join(home, "."+appDir)
		if writable(user) {
			return user
		}
	}
	return filepath.Join(os.TempDir(), appDir)
}

func writable(d string) bool {
	if err := os.MkdirAll(d, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(d, ".write_test")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

// FilePath returns the main log file.
func FilePath() string {
	return filepath.Join(Dir(), appDir+".log")
}

// StatsFilePath returns the dump file of a statistics list.
func StatsFilePath(name string) string {
	return filepath.Join(Dir(), name)
}
