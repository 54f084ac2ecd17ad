package resources

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/shared/types"
)

// ManifestPattern matches every manifest below the seed directory
const ManifestPattern = "**/*.{yaml,yml,toml}"

// Manifest is the on-disk layout of a resource file
type Manifest struct {
	Resources []ManifestEntry `yaml:"resources" toml:"resources"`
}

// ManifestEntry is one resource in a manifest
type ManifestEntry struct {
	Type     string `yaml:"type" toml:"type"`
	ID       string `yaml:"id" toml:"id"`
	Value    any    `yaml:"value" toml:"value"`
	Shared   bool   `yaml:"shared" toml:"shared"`
	ReadOnly bool   `yaml:"readonly" toml:"readonly"`
}

// Resource converts the entry
func (e ManifestEntry) Resource() Resource {
	var access Access
	if e.Shared {
		access |= AccessShared
	}
	if e.ReadOnly {
		access |= AccessReadOnly
	}
	return Resource{Type: types.ResourceType(e.Type), ID: e.ID, Value: e.Value, Access: access}
}

// SeedResult counts what a seed run did
type SeedResult struct {
	Files     int
	Loaded    int
	Failed    int
	Manifests []string
}

// Seeder loads resource manifests from a directory tree
type Seeder struct {
	registry *Registry
	fsys     fs.FS
	root     string
	logger   *logging.Logger
}

// NewSeeder creates a seeder reading manifests below dir
func NewSeeder(registry *Registry, dir string, logger *logging.Logger) *Seeder {
	return NewSeederFS(registry, os.DirFS(dir), dir, logger)
}

// NewSeederFS creates a seeder over an arbitrary file system
func NewSeederFS(registry *Registry, fsys fs.FS, name string, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Seeder{registry: registry, fsys: fsys, root: name, logger: logger.Named("seeder")}
}

// Seed loads every manifest. A bad file or entry is logged and counted, not fatal.
func (s *Seeder) Seed() (SeedResult, error) {
	var result SeedResult

	matches, err := doublestar.Glob(s.fsys, ManifestPattern)
	if err != nil {
		return result, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}
	s.logger.Info("Seeding resources", zap.String("dir", s.root), zap.Int("manifests", len(matches)))

	for _, name := range matches {
		result.Files++
		manifest, err := s.load(name)
		if err != nil {
			s.logger.Warn("Failed to load manifest", zap.String("file", name), zap.Error(err))
			result.Failed++
			continue
		}
		result.Manifests = append(result.Manifests, name)

		for _, entry := range manifest.Resources {
			if _, err := s.registry.Put(entry.Resource()); err != nil {
				s.logger.Warn("Failed to register resource",
					zap.String("file", name),
					zap.String("type", entry.Type),
					zap.String("id", entry.ID),
					zap.Error(err),
				)
				result.Failed++
				continue
			}
			result.Loaded++
		}
	}

	s.logger.Info("Seeding complete", zap.Int("loaded", result.Loaded), zap.Int("failed", result.Failed))
	return result, nil
}

func (s *Seeder) load(name string) (*Manifest, error) {
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, err
	}

	var m Manifest
	switch strings.ToLower(path.Ext(name)) {
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
