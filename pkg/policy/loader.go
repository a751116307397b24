package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce batches bursts of filesystem events (editors often
// write a file several times in quick succession) into one reload.
const reloadDebounce = 500 * time.Millisecond

// Loader reads operator-supplied gate rules from the filesystem. Rules
// are either raw Rego files or JSON policy definitions; a path handed
// to the loader may name a single file or a directory tree of them.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	cache   map[string]cacheEntry
	watcher *fsnotify.Watcher
}

// cacheEntry pins a parsed policy to the modification time of the file
// it came from, so edits invalidate the entry on the next load.
type cacheEntry struct {
	policy  *Policy
	modTime time.Time
}

// NewLoader creates a rule loader with an empty cache.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cacheEntry),
	}
}

// LoadFromPaths loads every gate rule reachable from the given paths.
// A path that names a directory is walked recursively; files that fail
// to parse inside a directory are skipped with a warning, while a path
// that names an unreadable file or directory fails the whole load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy

	for _, path := range paths {
		files, fromDir, err := l.ruleFiles(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		for _, file := range files {
			policy, err := l.loadFile(file)
			if err != nil {
				if fromDir {
					l.logger.Warn().Err(err).Str("path", file).Msg("Skipping unreadable policy file")
					continue
				}
				return nil, err
			}
			loaded = append(loaded, *policy)
		}
	}

	l.logger.Info().
		Int("total", len(loaded)).
		Int("sources", len(paths)).
		Msg("Gate rules loaded")

	return loaded, nil
}

// ruleFiles resolves a path to the rule files beneath it. The second
// return reports whether the path was a directory, which makes parse
// failures non-fatal.
func (l *Loader) ruleFiles(path string) ([]string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}

	if !info.IsDir() {
		return []string{path}, false, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(p) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, true, err
	}

	return files, true, nil
}

// isRuleFile reports whether a filename looks like a gate rule.
func isRuleFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// loadFile parses one rule file, consulting the cache first. A cached
// entry is reused only while the file's modification time is unchanged.
func (l *Loader) loadFile(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}

	l.mu.RLock()
	entry, hit := l.cache[path]
	l.mu.RUnlock()
	if hit && entry.modTime.Equal(info.ModTime()) {
		return entry.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		policy = l.policyFromRego(path, data)
	case strings.HasSuffix(path, ".json"):
		policy, err = l.policyFromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = cacheEntry{policy: policy, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("policy", policy.Name).
		Msg("Gate rule loaded")

	return policy, nil
}

// policyFromRego wraps raw Rego source in a Policy. The name comes from
// the filename and the description from the leading comment block.
func (l *Loader) policyFromRego(path string, src []byte) *Policy {
	now := time.Now()

	// Operator-supplied rules deny by default; a rule that should only
	// warn can override the severity in its violation object.
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: headerComment(string(src)),
		Rego:        string(src),
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{},
		Metadata: map[string]interface{}{
			"source": path,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// policyFromJSON decodes a JSON policy definition, filling in the
// defaults the author may have left out.
func (l *Loader) policyFromJSON(src []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(src, &policy); err != nil {
		return nil, err
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}

	return &policy, nil
}

// headerComment collects the comment block at the top of a Rego file,
// before any code, into a single-line description. Blank comment lines
// are dropped and the block ends at the first non-comment line.
func headerComment(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && b.Len() == 0 {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	return b.String()
}

// LoadBundle reads a JSON bundle of policies published as one document.
func (l *Loader) LoadBundle(ctx context.Context, bundlePath string) (*Bundle, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")

	return &bundle, nil
}

// Watch registers the paths with a filesystem watcher and reloads the
// rule set when any of them change, handing the fresh policies to
// apply. Watching stops when ctx is cancelled or StopWatching is
// called.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.registerPath(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch policy path")
		}
	}

	go l.watchLoop(ctx, paths, apply)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Watching gate rule paths")

	return nil
}

// registerPath adds a file, or a directory and all its subdirectories,
// to the watcher.
func (l *Loader) registerPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return l.watcher.Add(path)
	}

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(p)
		}
		return nil
	})
}

// watchLoop drains watcher events, evicts changed files from the cache
// and schedules a debounced reload.
func (l *Loader) watchLoop(ctx context.Context, paths []string, apply func([]Policy) error) {
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			// A directory created under a watched tree needs its own
			// watch so rules dropped into it later are noticed.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = l.watcher.Add(event.Name)
					continue
				}
			}

			if !isRuleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Gate rule file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err != nil {
				l.logger.Error().Err(err).Msg("Gate rule reload failed")
				continue
			}
			if err := apply(policies); err != nil {
				l.logger.Error().Err(err).Msg("Failed to apply reloaded gate rules")
				continue
			}
			l.logger.Info().
				Int("count", len(policies)).
				Msg("Gate rules reloaded")

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching closes the filesystem watcher, ending the watch loop.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache drops all cached rule files.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cacheEntry)
	l.logger.Debug().Msg("Gate rule cache cleared")
}
