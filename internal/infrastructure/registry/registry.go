// Package registry serves the stage definitions from a YAML file and reloads
// them when the file changes.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/pkg/logging"
)

// File is the on-disk layout of the registry
type File struct {
	Stages []domain.WorkflowStage `yaml:"stages"`
}

// Parse decodes and validates registry YAML. Unknown keys are rejected so a
// typo in a flag name does not silently disable it.
func Parse(data []byte) (*domain.Pipeline, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode stage registry: %w", err)
	}
	return domain.NewPipeline(f.Stages)
}

// ParseFile reads and validates a registry file
func ParseFile(path string) (*domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage registry: %w", err)
	}
	return Parse(data)
}

// Registry holds the current pipeline. Readers never see a half-loaded file:
// a reload swaps the whole pipeline or keeps the previous one.
type Registry struct {
	path     string
	logger   *logging.Logger
	pipeline atomic.Pointer[domain.Pipeline]
	reloads  atomic.Int64
	debounce time.Duration
}

// Load reads path once; it fails when the file is missing or invalid
func Load(path string, logger *logging.Logger) (*Registry, error) {
	p, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		path:     path,
		logger:   logger.WithComponent("stage-registry"),
		debounce: 200 * time.Millisecond,
	}
	r.pipeline.Store(p)
	r.logger.Info("Stage registry loaded", "path", path, "stages", len(p.Stages()))
	return r, nil
}

// Static wraps a fixed pipeline
func Static(p *domain.Pipeline) *Registry {
	r := &Registry{logger: logging.NewNop()}
	r.pipeline.Store(p)
	return r
}

// Pipeline returns the current pipeline
func (r *Registry) Pipeline() *domain.Pipeline {
	return r.pipeline.Load()
}

// Reloads counts successful reloads since Load
func (r *Registry) Reloads() int64 {
	return r.reloads.Load()
}

// Reload re-reads the file. An invalid file leaves the current pipeline in place.
func (r *Registry) Reload() error {
	p, err := ParseFile(r.path)
	if err != nil {
		r.logger.WithError(err).Error("Stage registry reload rejected, keeping previous definitions", "path", r.path)
		return err
	}
	r.pipeline.Store(p)
	r.reloads.Add(1)
	r.logger.Info("Stage registry reloaded", "path", r.path, "stages", len(p.Stages()))
	return nil
}

// Watch reloads the registry whenever its file is written or replaced, until
// ctx is done. The directory is watched because editors often save by rename.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("static registry cannot be watched")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(r.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	// bursts of events from one save collapse into a single reload
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(r.debounce)
			}
		case <-pending:
			pending = nil
			_ = r.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(err).Warn("Stage registry watcher error")
		}
	}
}
