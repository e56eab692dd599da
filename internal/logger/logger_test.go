package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriters_WithDirOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	cfg := OutputConfig{Dir: dir}
	outW, errW, err := cfg.Writers("web.dev")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"web.dev.stdout.log", "web.dev.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("log not created at %s: %v", p, err)
		}
	}
}

func TestWriters_DefaultsAndOverrides(t *testing.T) {
	cfg := OutputConfig{}
	outW, errW, _ := cfg.Writers("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when nothing is configured")
	}
	if cfg.Enabled() {
		t.Fatalf("empty config must not be enabled")
	}

	cfg = OutputConfig{StdoutPath: "x", StderrPath: "y"}
	outW, errW, _ = cfg.Writers("n")
	ol, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("stdout writer is not lumberjack.Logger")
	}
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != DefaultMaxBackups || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	closeIf(outW)
	closeIf(errW)

	cfg = OutputConfig{StderrPath: "y2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	outW, errW, _ = cfg.Writers("n")
	if outW != nil {
		t.Fatalf("expected stderr writer only")
	}
	el := errW.(*lj.Logger)
	if el.MaxSize != 1 || el.MaxBackups != 9 || el.MaxAge != 11 || !el.Compress {
		t.Fatalf("unexpected overrides: %+v", el)
	}
	closeIf(errW)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewColorHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Config{Level: "debug", Color: true}, &buf)
	defer closeIf(closer)
	log.With("unit", "/a").Debug("scan done")
	out := buf.String()
	if !strings.Contains(out, "DEBUG") || !strings.Contains(out, "scan done") || !strings.Contains(out, "unit=/a") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted when Time is false: %q", out)
	}
}

func TestNewJSONWithFile(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "devdash.log")
	log, closer := New(Config{Format: "json", File: file}, &buf)
	log.Info("hello", "k", "v")
	closeIf(closer)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected JSON record on stderr writer, got %q", buf.String())
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(b), `"k":"v"`) {
		t.Fatalf("log file missing record: %q", string(b))
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string][]string{
		"home_me_apps_web.dev": {"/home/me/apps/web", "dev"},
		"a.b":                  {"a", "b"},
		"script":               {"/", ""},
		"x.y":                  {"x..", "y"},
	}
	for want, in := range cases {
		if got := SafeName(in...); got != want {
			t.Fatalf("SafeName(%v) = %q, want %q", in, got, want)
		}
	}
}
