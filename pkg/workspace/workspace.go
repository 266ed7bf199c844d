package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Snapshot summarizes the workspace directory for workspace_info replies.
type Snapshot struct {
	Root       string `json:"root"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
	ScannedAt  string `json:"scanned_at"`
}

// Manager owns a workspace directory. It answers snapshot requests from a
// cache that a filesystem watcher invalidates, so repeated workspace_info
// queries do not rescan an unchanged tree.
type Manager struct {
	root   string
	logger zerolog.Logger

	mu       sync.Mutex
	cached   *Snapshot
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates the workspace directory if needed and returns a manager
// rooted there.
func NewManager(root string, logger zerolog.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Manager{
		root:   abs,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Root returns the absolute workspace path.
func (m *Manager) Root() string { return m.root }

// Watch starts invalidating the snapshot cache on filesystem changes.
// Without it the manager still works, every Snapshot call just rescans.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	m.watcher = watcher

	if err := m.watchRecursive(m.root); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch workspace: %w", err)
	}

	go m.eventLoop()

	m.logger.Info().Str("path", m.root).Msg("Workspace watcher started")
	return nil
}

// Stop shuts down the watcher if one is running.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.done) })
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Snapshot returns the current workspace summary, rescanning only when the
// cache has been invalidated.
func (m *Manager) Snapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	snap := &Snapshot{
		Root:      m.root,
		ScannedAt: time.Now().UTC().Format(time.RFC3339),
	}

	err := filepath.Walk(m.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Files can vanish mid-walk.
			return nil
		}
		if m.shouldIgnore(path) {
			if info.IsDir() && path != m.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			snap.FileCount++
			snap.TotalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}

	m.cached = snap
	return snap, nil
}

func (m *Manager) eventLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if m.shouldIgnore(event.Name) {
				continue
			}
			m.invalidate()
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = m.watchRecursive(event.Name)
				}
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("Workspace watcher error")

		case <-m.done:
			return
		}
	}
}

func (m *Manager) invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

func (m *Manager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if m.shouldIgnore(walkPath) && walkPath != m.root {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if err := m.watcher.Add(walkPath); err != nil {
				m.logger.Warn().Err(err).Str("path", walkPath).Msg("Failed to watch path")
			}
		}
		return nil
	})
}

// shouldIgnore applies the ignore rules to the path relative to the workspace
// root, so dot-directories above the root (a data dir like ~/.ii-agent) never
// hide the workspace contents.
func (m *Manager) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if len(part) > 0 && part[0] == '.' {
			return true
		}
		if part == "node_modules" {
			return true
		}
	}
	return false
}
