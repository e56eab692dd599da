//go:build windows

package server

import "testing"

// addPlatformSpecificSeeds adds Windows-specific test seeds for fuzzing
func addPlatformSpecificSeeds(f *testing.F) {
	f.Add("dev", "C:\\work\\cat\\unit")
	f.Add("build:prod", "C:\\safe\\path")
	f.Add("build:prod", "C:\\work\\modules\\ui\\button")
	f.Add("dev:watch", "C:\\work\\apps\\web")
	f.Add("build:prod/../x", "C:\\work\\modules")
	f.Add("test:unit", "C:\\work\\modules\\ui\\..\\..\\etc")
}
