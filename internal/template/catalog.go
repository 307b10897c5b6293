package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
)

// CatalogEngine loads template manifests from a directory of YAML files
// and optionally reloads when the directory changes.
type CatalogEngine struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	templates []Template
}

// NewCatalogEngine loads the catalog from dir.
func NewCatalogEngine(dir string, logger *zap.Logger) (*CatalogEngine, error) {
	e := &CatalogEngine{dir: dir, logger: logger}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads every manifest in the catalog directory and swaps the
// catalog atomically.
func (e *CatalogEngine) Reload() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("failed to read template catalog %s: %w", e.dir, err)
	}

	var templates []Template
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(e.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read manifest %s: %w", name, err)
		}
		var t Template
		if err := yaml.Unmarshal(content, &t); err != nil {
			return fmt.Errorf("failed to parse manifest %s: %w", name, err)
		}
		if t.ID == "" || t.Language == "" {
			return fmt.Errorf("manifest %s missing id or language", name)
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	e.mu.Lock()
	e.templates = templates
	e.mu.Unlock()

	e.logger.Debug("template catalog loaded",
		zap.String("dir", e.dir),
		zap.Int("templates", len(templates)))
	return nil
}

// Watch reloads the catalog on filesystem changes until ctx is cancelled.
// A reload failure keeps the previous catalog.
func (e *CatalogEngine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := watcher.Add(e.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", e.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := e.Reload(); err != nil {
					e.logger.Warn("template catalog reload failed, keeping previous catalog", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn("template catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Match returns catalog templates ordered best-first for the requirements.
func (e *CatalogEngine) Match(req requirements.ProjectRequirements) ([]Template, error) {
	e.mu.RLock()
	snapshot := make([]Template, len(e.templates))
	copy(snapshot, e.templates)
	e.mu.RUnlock()
	return rank(snapshot, req), nil
}

// Select returns the best matching template.
func (e *CatalogEngine) Select(req requirements.ProjectRequirements) (Template, error) {
	matches, err := e.Match(req)
	if err != nil {
		return Template{}, err
	}
	if len(matches) == 0 {
		return Template{}, fmt.Errorf("%w: language=%s framework=%s", ErrNoMatchingTemplate, req.Language, req.Framework)
	}
	return matches[0], nil
}

// Plan computes planned files for the template without filesystem writes.
func (e *CatalogEngine) Plan(tmpl Template, req requirements.ProjectRequirements) ([]PlannedFile, error) {
	return planFiles(tmpl, req)
}

// Render writes one file group into the workspace.
func (e *CatalogEngine) Render(ctx context.Context, fs afero.Fs, tmpl Template, req requirements.ProjectRequirements, group string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return renderGroup(fs, tmpl, req, group)
}
