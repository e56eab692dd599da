package server

import (
	"path/filepath"
	"strings"
	"testing"
)

// FuzzIsSafeScriptName tests script name validation with various inputs
func FuzzIsSafeScriptName(f *testing.F) {
	f.Add("dev")
	f.Add("")
	f.Add("build:prod")
	f.Add("../etc/passwd")
	f.Add("name\\with\\backslash")
	f.Add("unicode한글name")
	f.Add("name\x00null")
	f.Add("name\nnewline")

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 400 {
			t.Skip("name too long")
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("isSafeScriptName panicked with input %q: %v", name, r)
				}
			}()

			result := isSafeScriptName(name)

			if name == "" && result {
				t.Error("empty name should not be safe")
			}

			// Names with path separators should not be safe
			if strings.ContainsAny(name, "/\\") && result {
				t.Errorf("name with path separators should not be safe: %q", name)
			}

			if strings.ContainsAny(name, "\x00\n\r\t") && result {
				t.Errorf("name with control characters should not be safe: %q", name)
			}
		}()
	})
}

// FuzzIsSafeAbsPath tests the absolute path validation function
func FuzzIsSafeAbsPath(f *testing.F) {
	// Seed with path patterns
	f.Add("/safe/absolute/path")
	f.Add("")
	f.Add("/")
	f.Add("relative/path")
	f.Add("/path/../traversal")
	f.Add("/path/./current")
	f.Add("/path//double/slash")
	f.Add("C:\\Windows\\Path") // Windows path
	f.Add("/path/with spaces")
	f.Add("/path\x00null")
	f.Add("/path\nnewline")
	// unit directories as the UI posts them
	f.Add("/home/dev/workspace/modules/ui/button")
	f.Add("/home/dev/workspace/apps/web/")
	f.Add("/home/dev/workspace/modules/ui/../../apps/web")
	f.Add("/home/dev/workspace/modules/@scope/pkg")
	f.Add("/home/dev/workspace/modules/ui/button/package.json")
	f.Add("modules/ui/button")

	f.Fuzz(func(t *testing.T, path string) {
		if len(path) > 500 {
			t.Skip("path too long")
		}

		// Test isSafeAbsPath - should not panic
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("isSafeAbsPath panicked with input %q: %v", path, r)
				}
			}()

			result := isSafeAbsPath(path)

			// Basic validation
			if path == "" {
				if !result {
					t.Error("empty path should be safe (allowed)")
				}
			}

			// Non-absolute paths should not be safe (except empty)
			if path != "" && !filepath.IsAbs(path) {
				if result {
					t.Errorf("relative path should not be safe: %q", path)
				}
			}

			// Paths that change when cleaned should not be safe
			if path != "" {
				clean := filepath.Clean(path)
				sep := string(filepath.Separator)
				trimmed := strings.TrimRight(path, sep)
				if trimmed == "" {
					trimmed = path
				}

				pathChanged := !(clean == path || clean == trimmed)
				if pathChanged && result {
					t.Errorf("path that changes when cleaned should not be safe: %q -> %q", path, clean)
				}
			}

			// Test consistency
			result2 := isSafeAbsPath(path)
			if result != result2 {
				t.Errorf("isSafeAbsPath inconsistent for %q: %v vs %v", path, result, result2)
			}
		}()
	})
}

// FuzzSanitizeBase tests base path sanitization
func FuzzSanitizeBase(f *testing.F) {
	// Seed with base path patterns
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")
	f.Add("/path/../traversal")
	f.Add("/path\x00null")
	f.Add("/devdash/api")
	f.Add("/api/../events")
	f.Add("ws")

	f.Fuzz(func(t *testing.T, basePath string) {
		if len(basePath) > 200 {
			t.Skip("base path too long")
		}

		// Test sanitizeBase - should not panic
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("sanitizeBase panicked with input %q: %v", basePath, r)
				}
			}()

			result := sanitizeBase(basePath)

			// Validate result properties
			if result != "" {
				// Non-empty results should start with /
				if !strings.HasPrefix(result, "/") {
					t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
				}

				// Should not end with / (unless it's just "/")
				if result != "/" && strings.HasSuffix(result, "/") {
					t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
				}
			}

			// Empty or "/" inputs should result in ""
			trimmed := strings.TrimSpace(basePath)
			if trimmed == "" || trimmed == "/" {
				if result != "" {
					t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
				}
			}

			// Test consistency
			result2 := sanitizeBase(basePath)
			if result != result2 {
				t.Errorf("sanitizeBase inconsistent for %q: %q vs %q", basePath, result, result2)
			}
		}()
	})
}

// FuzzCombinedValidation tests the interaction of validation functions
func FuzzCombinedValidation(f *testing.F) {
	// Test combinations of name and path validation
	addPlatformSpecificSeeds(f)
	f.Add("../bad", "")
	f.Add("good", "../bad/path")
	f.Add("", "")

	f.Fuzz(func(t *testing.T, script, modulePath string) {
		if len(script) > 100 || len(modulePath) > 200 {
			t.Skip("inputs too long")
		}

		// Test that validation functions work together without conflicts
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("combined validation panicked: %v", r)
				}
			}()

			scriptOK := isSafeScriptName(script)
			pathOK := isUnitPath(modulePath)

			if modulePath == "" && pathOK {
				t.Error("empty module path should be rejected")
			}
			if pathOK && !isSafeAbsPath(modulePath) {
				t.Errorf("unit path %q accepted but not a safe absolute path", modulePath)
			}
			// a unit may not climb out of its root
			if pathOK && strings.Contains(filepath.ToSlash(modulePath), "/../") {
				t.Errorf("unit path with parent segment accepted: %q", modulePath)
			}
			if !scriptOK {
				t.Logf("Script %q is not safe", script)
			}
		}()
	})
}
