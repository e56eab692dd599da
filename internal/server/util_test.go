package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/devdash/internal/batch"
	"github.com/loykin/devdash/internal/supervisor"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeScriptName(t *testing.T) {
	valid := []string{"dev", "build:prod", "test.watch", "pre-commit", "lint_fix", "스크립트"}
	invalid := []string{"", "a/b", `a\\b`, "dev\n", "dev\x00", strings.Repeat("x", 215)}
	for _, s := range valid {
		if !isSafeScriptName(s) {
			t.Fatalf("expected valid script name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeScriptName(s) {
			t.Fatalf("expected invalid script name %q", s)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	// empty is allowed
	if !isSafeAbsPath("") {
		t.Fatalf("empty should be allowed")
	}
	abs := getPlatformAbsPath()
	if !isSafeAbsPath(abs) {
		t.Fatalf("abs clean path should be allowed: %s", abs)
	}
	// not absolute
	if isSafeAbsPath("tmp/x") {
		t.Fatalf("relative path should be rejected")
	}
	if isUnitPath("") {
		t.Fatalf("empty unit path should be rejected")
	}
	// with traversal (construct without cleaning)
	sep := string(filepath.Separator)
	bad := sep + "tmp" + sep + ".." + sep + "etc"
	if isSafeAbsPath(bad) {
		t.Fatalf("path with traversal should be rejected: %s", bad)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("/x \"dev\": %w", supervisor.ErrNotFound), http.StatusNotFound},
		{supervisor.ErrAlreadyRunning, http.StatusConflict},
		{supervisor.ErrNotRunning, http.StatusBadRequest},
		{batch.ErrNoPaths, http.StatusBadRequest},
		{supervisor.ErrShuttingDown, http.StatusServiceUnavailable},
		{&supervisor.SpawnError{UnitPath: "/x", Script: "dev", Err: errors.New("enoent")}, http.StatusInternalServerError},
		{&supervisor.SignalError{UnitPath: "/x", Script: "dev", PID: 1, Err: errors.New("eperm")}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestCleanURLPath(t *testing.T) {
	cases := map[string]string{
		"/":                   "",
		"/app.js":             "app.js",
		"/assets/../index.js": "index.js",
		"/../../etc/passwd":   "etc/passwd",
		"a/./b":               "a/b",
	}
	for in, want := range cases {
		if got := cleanURLPath(in); got != want {
			t.Fatalf("cleanURLPath(%q)=%q want %q", in, got, want)
		}
	}
}
