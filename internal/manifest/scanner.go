package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Scanner walks configured roots and returns the units found there.
// It has no side effects beyond filesystem reads.
type Scanner struct {
	log *slog.Logger
}

func NewScanner(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{log: log}
}

// Scan walks roots in order and returns every unit found. A root that is
// missing or not a directory fails the whole scan; entries without a
// manifest are skipped silently and unreadable manifests are skipped with a
// warning.
func (s *Scanner) Scan(roots []Root) ([]Unit, error) {
	var units []Unit
	for _, r := range roots {
		if abs, err := filepath.Abs(r.Path); err == nil {
			r.Path = abs
		}
		if err := ValidateRoot(r); err != nil {
			return nil, fmt.Errorf("scan root %s: %w", r.Path, err)
		}
		var (
			found []Unit
			err   error
		)
		switch r.Layout {
		case LayoutApps:
			found, err = s.scanApps(r)
		default:
			found, err = s.scanCategories(r)
		}
		if err != nil {
			return nil, fmt.Errorf("scan root %s: %w", r.Path, err)
		}
		units = append(units, found...)
	}
	return units, nil
}

// scanCategories handles root/<category>/<unit>.
func (s *Scanner) scanCategories(r Root) ([]Unit, error) {
	categories, err := subdirs(r.Path)
	if err != nil {
		return nil, err
	}
	var units []Unit
	for _, cat := range categories {
		catPath := filepath.Join(r.Path, cat)
		names, err := subdirs(catPath)
		if err != nil {
			s.log.Warn("skipping unreadable category", "path", catPath, "error", err)
			continue
		}
		for _, name := range names {
			if u, ok := s.readUnit(filepath.Join(catPath, name), name, r); ok {
				units = append(units, u)
			}
		}
	}
	return units, nil
}

// scanApps handles root/<unit> and root/<container>/<unit>. A directory that
// is a unit is never descended into.
func (s *Scanner) scanApps(r Root) ([]Unit, error) {
	entries, err := subdirs(r.Path)
	if err != nil {
		return nil, err
	}
	var units []Unit
	for _, entry := range entries {
		entryPath := filepath.Join(r.Path, entry)
		if HasManifest(entryPath) {
			if u, ok := s.readUnit(entryPath, entry, r); ok {
				units = append(units, u)
			}
			continue
		}
		nested, err := subdirs(entryPath)
		if err != nil {
			s.log.Warn("skipping unreadable container", "path", entryPath, "error", err)
			continue
		}
		for _, sub := range nested {
			if u, ok := s.readUnit(filepath.Join(entryPath, sub), sub, r); ok {
				units = append(units, u)
			}
		}
	}
	return units, nil
}

func (s *Scanner) readUnit(dir, name string, r Root) (Unit, bool) {
	if !HasManifest(dir) {
		return Unit{}, false
	}
	m, err := ReadManifest(dir)
	if err != nil {
		s.log.Warn("skipping unit with unreadable manifest", "path", dir, "error", err)
		return Unit{}, false
	}
	return unitFrom(dir, name, m, r), true
}

// subdirs lists the names of directories directly under dir, in lexical order.
// Symlinks to directories are followed.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			if st, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && st.IsDir() {
				out = append(out, e.Name())
			}
		}
	}
	return out, nil
}
