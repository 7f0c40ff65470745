package codeowners

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Repository layout relative to the root.
const (
	componentsDir = "homeassistant/components"
	testsDir      = "tests/components"
	ownersFile    = "CODEOWNERS"
)

// Manifest file names, in lookup order.
var manifestNames = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// ErrNoManifests is returned when the components directory holds no manifest at all.
var ErrNoManifests = errors.New("codeowners: no integration manifests found")

// Manifest is the subset of an integration manifest this package reads.
type Manifest struct {
	Domain     string   `yaml:"domain"`
	Name       string   `yaml:"name"`
	Codeowners []string `yaml:"codeowners"`
}

// Integration is one component directory and its parsed manifest.
// Manifest is nil when the directory has no manifest file.
type Integration struct {
	Domain   string
	Path     string
	Manifest *Manifest
}

// LoadIntegrations reads every component directory under root.
//
// When only is non-empty, just those domains are loaded. A manifest that
// fails to parse is an error; a directory without a manifest is kept with a
// nil Manifest and skipped by Generate.
func LoadIntegrations(root string, only ...string) (map[string]*Integration, error) {
	dir := filepath.Join(root, componentsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading components: %w", err)
	}

	integrations := make(map[string]*Integration)
	found := false
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		domain := entry.Name()
		if len(only) > 0 && !slices.Contains(only, domain) {
			continue
		}

		integration := &Integration{Domain: domain, Path: filepath.Join(dir, domain)}
		manifest, err := loadManifest(integration.Path)
		if err != nil {
			return nil, fmt.Errorf("integration %s: %w", domain, err)
		}
		if manifest != nil {
			found = true
			integration.Manifest = manifest
		}
		integrations[domain] = integration
	}

	if !found {
		return nil, fmt.Errorf("%w in %s", ErrNoManifests, dir)
	}
	return integrations, nil
}

// loadManifest parses the first manifest file present in dir.
// JSON is valid YAML, so one decoder serves both formats.
func loadManifest(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		return &m, nil
	}
	return nil, nil //nolint:nilnil // absent manifest is not an error
}
