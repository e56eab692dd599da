//go:build !windows

package server

import "testing"

// addPlatformSpecificSeeds adds Unix-specific test seeds for fuzzing
func addPlatformSpecificSeeds(f *testing.F) {
	f.Add("dev", "/work/cat/unit")
	f.Add("build:prod", "/safe/path")
	f.Add("build:prod", "/work/modules/ui/button")
	f.Add("dev:watch", "/work/apps/web")
	f.Add("build:prod/../x", "/work/modules")
	f.Add("test:unit", "/work/modules/ui/../../etc")
}
