package profiles

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Provider supplies the current set of enabled agent profiles. Load is called
// once per new conversation, so edits apply to future conversations without
// disturbing ones already in flight.
type Provider interface {
	Load(ctx context.Context) ([]*Profile, error)
}

// StaticProvider serves a fixed profile list. Used in tests and for the
// built-in defaults.
type StaticProvider []*Profile

func (p StaticProvider) Load(context.Context) ([]*Profile, error) {
	out := make([]*Profile, 0, len(p))
	for _, profile := range p {
		if profile.Enabled {
			out = append(out, profile)
		}
	}
	return out, nil
}

// FileProvider reads one YAML profile document per file from a directory,
// validating each against the profile schema. Disabled and invalid documents
// are skipped; an invalid document is logged, not fatal. When the directory
// holds no documents at all the built-in defaults are served.
type FileProvider struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	cache   []*Profile
	cached  bool
	watcher *fsnotify.Watcher
}

// NewFileProvider creates a provider rooted at dir. With watch enabled, file
// changes in dir invalidate the cache so the next Load rereads everything.
func NewFileProvider(dir string, watch bool, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &FileProvider{dir: dir, logger: logger.With("component", "profiles")}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create profile watcher: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		p.watcher = watcher
		go p.watchLoop()
	}
	return p, nil
}

// Close stops the directory watcher.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				p.logger.Debug("profile change detected", "file", event.Name)
				p.invalidate()
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("profile watcher error", "error", err)
		}
	}
}

func (p *FileProvider) invalidate() {
	p.mu.Lock()
	p.cached = false
	p.cache = nil
	p.mu.Unlock()
}

// Load returns the enabled profiles, sorted by name.
func (p *FileProvider) Load(ctx context.Context) ([]*Profile, error) {
	p.mu.RLock()
	if p.cached {
		cached := p.cache
		p.mu.RUnlock()
		return cached, nil
	}
	p.mu.RUnlock()

	loaded, err := p.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache = loaded
	p.cached = true
	p.mu.Unlock()
	return loaded, nil
}

func (p *FileProvider) loadAll(ctx context.Context) ([]*Profile, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir %s: %w", p.dir, err)
	}

	found := 0
	var loaded []*Profile
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		found++

		profile, err := p.loadFile(filepath.Join(p.dir, entry.Name()))
		if err != nil {
			p.logger.Error("skipping invalid profile", "file", entry.Name(), "error", err)
			continue
		}
		if !profile.Enabled {
			p.logger.Debug("skipping disabled profile", "agent", profile.Name)
			continue
		}
		loaded = append(loaded, profile)
	}

	if found == 0 {
		p.logger.Info("no profile documents found, serving built-in defaults", "dir", p.dir)
		return Defaults(), nil
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Name < loaded[j].Name })
	return loaded, nil
}

func (p *FileProvider) loadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateRaw(normalizeYAML(raw)); err != nil {
		return nil, err
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// normalizeYAML converts yaml.v3 decode output into the JSON-shaped values
// the schema validator expects.
func normalizeYAML(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	default:
		return v
	}
}
