// Package flags supplies the system flag snapshot read at every step
// checkpoint.
package flags

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"idproof/internal/flow/models"
	"idproof/internal/platform/config"
)

// Source returns the current system flags.
type Source interface {
	Flags(ctx context.Context) (models.SystemFlags, error)
}

// Static always returns the same flags.
type Static models.SystemFlags

func (s Static) Flags(context.Context) (models.SystemFlags, error) {
	return models.SystemFlags(s), nil
}

// FromConfig builds the env-derived defaults.
func FromConfig(cfg config.FlowConfig) models.SystemFlags {
	return models.SystemFlags{
		SelfieEnabled:   cfg.SelfieEnabled,
		InPersonEnabled: cfg.InPersonEnabled,
		HybridEnabled:   cfg.HybridEnabled,
		PassportEnabled: cfg.PassportEnabled,
	}
}

// FileSource overlays a YAML file on defaults and re-reads it whenever its
// modification time changes:
//
//	selfie_enabled: true
//	passport_enabled: false
//
// Keys missing from the file keep their default.
type FileSource struct {
	path     string
	defaults models.SystemFlags

	mu      sync.Mutex
	modTime time.Time
	cached  models.SystemFlags
	loaded  bool
}

func NewFileSource(path string, defaults models.SystemFlags) *FileSource {
	return &FileSource{path: path, defaults: defaults}
}

func (s *FileSource) Flags(context.Context) (models.SystemFlags, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return models.SystemFlags{}, fmt.Errorf("stat flags file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return models.SystemFlags{}, fmt.Errorf("read flags file: %w", err)
	}
	out := s.defaults
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return models.SystemFlags{}, fmt.Errorf("parse flags file %s: %w", s.path, err)
	}
	s.cached = out
	s.modTime = info.ModTime()
	s.loaded = true
	return out, nil
}
