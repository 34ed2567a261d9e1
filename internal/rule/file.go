package rule

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sunbk201/rulegate/internal/config"
)

var ErrOutsideRulesDir = errors.New("rules file outside rules dir")

type cachedFile struct {
	modTime time.Time
	size    int64
	engine  *Engine
}

// FileLoader loads rule lists from YAML, JSON or TOML files. Parsed files are
// cached until they change on disk.
type FileLoader struct {
	dir   string
	cache *expirable.LRU[string, *cachedFile]
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{
		dir:   dir,
		cache: expirable.NewLRU[string, *cachedFile](128, nil, 10*time.Minute),
	}
}

// Path resolves a rulesFile directive value to a file path. Relative paths
// are anchored at the rules dir; when a rules dir is set, paths may not
// escape it.
func (l *FileLoader) Path(value string) (string, error) {
	p := strings.TrimSpace(value)
	p = strings.TrimPrefix(p, "file://")
	if l.dir == "" {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.dir, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(l.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRulesDir, value)
	}
	return p, nil
}

func (l *FileLoader) Load(value string) (*Engine, error) {
	path, err := l.Path(value)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("os.Stat: %w", err)
	}
	if c, ok := l.cache.Get(path); ok && c.modTime.Equal(fi.ModTime()) && c.size == fi.Size() {
		return c.engine, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile: %w", err)
	}
	parse := config.ParseRules
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = config.ParseRulesTOML
	}
	rules, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	engine := NewEngine("file:"+filepath.Base(path), rules)
	l.cache.Add(path, &cachedFile{modTime: fi.ModTime(), size: fi.Size(), engine: engine})
	slog.Debug("Rules file loaded", slog.String("path", path), slog.Int("rules", engine.Len()))
	return engine, nil
}
