package manifest

import (
	"errors"
	"path/filepath"
	"sync"
)

var (
	ErrUnitNotFound   = errors.New("unit not found")
	ErrScriptNotFound = errors.New("script not found")
)

// Catalog caches the result of the last scan and resolves (unit, script)
// pairs to command strings.
type Catalog struct {
	scanner *Scanner
	roots   []Root

	mu     sync.RWMutex
	units  []Unit
	byPath map[string]int
	fresh  bool
}

func NewCatalog(s *Scanner, roots []Root) *Catalog {
	cp := make([]Root, len(roots))
	copy(cp, roots)
	return &Catalog{scanner: s, roots: cp}
}

// Roots returns the configured roots.
func (c *Catalog) Roots() []Root {
	out := make([]Root, len(c.roots))
	copy(out, c.roots)
	return out
}

// Units rescans every root and returns the fresh result.
func (c *Catalog) Units() ([]Unit, error) {
	return c.rescan()
}

// UnitsIn rescans and returns only the units found under roots with the
// given layout.
func (c *Catalog) UnitsIn(layout Layout) ([]Unit, error) {
	all, err := c.rescan()
	if err != nil {
		return nil, err
	}
	out := make([]Unit, 0, len(all))
	for _, u := range all {
		if u.Layout == layout {
			out = append(out, u)
		}
	}
	return out, nil
}

// Lookup returns the command string of script in the unit at path. A miss on
// the cached scan triggers one rescan before giving up.
func (c *Catalog) Lookup(path, script string) (string, error) {
	path = filepath.Clean(path)
	if cmd, err := c.lookupCached(path, script); err == nil {
		return cmd, nil
	}
	if _, err := c.rescan(); err != nil {
		return "", err
	}
	return c.lookupCached(path, script)
}

// Unit returns the cached unit at path, rescanning once on a miss.
func (c *Catalog) Unit(path string) (Unit, error) {
	path = filepath.Clean(path)
	c.mu.RLock()
	i, ok := c.byPath[path]
	fresh := c.fresh
	var u Unit
	if ok {
		u = c.units[i]
	}
	c.mu.RUnlock()
	if ok && fresh {
		return u, nil
	}
	if _, err := c.rescan(); err != nil {
		return Unit{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.byPath[path]; ok {
		return c.units[i], nil
	}
	return Unit{}, ErrUnitNotFound
}

// Invalidate drops the cached scan.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.fresh = false
	c.mu.Unlock()
}

func (c *Catalog) lookupCached(path, script string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fresh {
		return "", ErrUnitNotFound
	}
	i, ok := c.byPath[path]
	if !ok {
		return "", ErrUnitNotFound
	}
	cmd, ok := c.units[i].Scripts[script]
	if !ok {
		return "", ErrScriptNotFound
	}
	return cmd, nil
}

func (c *Catalog) rescan() ([]Unit, error) {
	units, err := c.scanner.Scan(c.roots)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]int, len(units))
	for i, u := range units {
		if _, dup := byPath[u.Path]; !dup {
			byPath[u.Path] = i
		}
	}
	c.mu.Lock()
	c.units = units
	c.byPath = byPath
	c.fresh = true
	c.mu.Unlock()
	out := make([]Unit, len(units))
	copy(out, units)
	return out, nil
}
