package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileName is the per-unit manifest read by the scanner.
const FileName = "package.json"

var (
	ErrRootMissing = errors.New("root does not exist")
	ErrRootNotDir  = errors.New("root is not a directory")
)

// Layout selects how a root directory is walked.
type Layout string

const (
	// LayoutCategories is a flat category/unit two-level tree.
	LayoutCategories Layout = "categories"
	// LayoutApps holds entries that are either a unit themselves or a
	// container of units one level deeper.
	LayoutApps Layout = "apps"
)

// Valid reports whether l names a known layout.
func (l Layout) Valid() bool { return l == LayoutCategories || l == LayoutApps }

// Root is a configured directory to scan.
type Root struct {
	Path   string `json:"path"`
	Layout Layout `json:"layout"`
}

// Unit is a discoverable package directory. Path is its identity.
type Unit struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Root         string            `json:"root"`
	Layout       Layout            `json:"layout"`
}

// Manifest is the subset of package.json the dashboard cares about.
type Manifest struct {
	Name                 string            `json:"name"`
	Scripts              map[string]string `json:"scripts"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

// AllDependencies returns the sorted union of dependency names across the
// dependencies, devDependencies and peerDependencies sections.
func (m Manifest) AllDependencies() []string {
	seen := make(map[string]struct{})
	for _, sec := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies} {
		for name := range sec {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ReadManifest reads and parses dir/package.json.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(filepath.Clean(dir), FileName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", filepath.Join(dir, FileName), err)
	}
	return m, nil
}

// HasManifest reports whether dir contains a manifest file.
func HasManifest(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && !st.IsDir()
}

// ValidateRoot checks that the root exists and is a directory.
func ValidateRoot(r Root) error {
	st, err := os.Stat(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrRootMissing
		}
		return err
	}
	if !st.IsDir() {
		return ErrRootNotDir
	}
	return nil
}

func unitFrom(dir, fallbackName string, m Manifest, root Root) Unit {
	name := m.Name
	if name == "" {
		name = fallbackName
	}
	scripts := m.Scripts
	if scripts == nil {
		scripts = map[string]string{}
	}
	return Unit{
		Name:         name,
		Path:         dir,
		Scripts:      scripts,
		Dependencies: m.AllDependencies(),
		Root:         root.Path,
		Layout:       root.Layout,
	}
}
