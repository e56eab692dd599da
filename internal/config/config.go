package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/devdash/internal/env"
	"github.com/loykin/devdash/internal/logger"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. DEVDASH_SERVER_LISTEN.
const EnvPrefix = "DEVDASH"

const (
	LauncherShell = "shell"
	LauncherNPM   = "npm"

	DefaultURLPattern  = `http://localhost:\d+`
	DefaultListen      = "127.0.0.1:3001"
	DefaultBasePath    = "/api"
	DefaultGracePeriod = 5 * time.Second
	DefaultConcurrency = 2
)

var ErrNoRoots = errors.New("no roots configured")

// ConfigurationError reports a setting that prevents the daemon from starting.
type ConfigurationError struct {
	Field string
	Path  string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s %q: %v", e.Field, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type RootConfig struct {
	Path   string `mapstructure:"path"`
	Layout string `mapstructure:"layout"`
}

type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	BasePath  string `mapstructure:"base_path"`
	StaticDir string `mapstructure:"static_dir"`
	PIDFile   string `mapstructure:"pidfile"`

	// OpenBrowser opens the dashboard in the default browser once serving.
	OpenBrowser bool `mapstructure:"open_browser"`
}

type SupervisorConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Launcher    string        `mapstructure:"launcher"`
	URLPattern  string        `mapstructure:"url_pattern"`
	EventBuffer int           `mapstructure:"event_buffer"`
}

type BatchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	NPM         string `mapstructure:"npm"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Listen         string        `mapstructure:"listen"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Config is the top-level configuration file.
type Config struct {
	ModulesPath string       `mapstructure:"modules_path"`
	AppsPath    string       `mapstructure:"apps_path"`
	Roots       []RootConfig `mapstructure:"roots"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Server     ServerConfig     `mapstructure:"server"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Log        logger.Config    `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Watch      WatchConfig      `mapstructure:"watch"`

	// path of the file this config was read from, empty for defaults
	file string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", true)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.pidfile", "")
	v.SetDefault("server.open_browser", false)
	v.SetDefault("supervisor.grace_period", DefaultGracePeriod)
	v.SetDefault("supervisor.launcher", LauncherShell)
	v.SetDefault("supervisor.url_pattern", DefaultURLPattern)
	v.SetDefault("supervisor.event_buffer", 64)
	v.SetDefault("batch.concurrency", DefaultConcurrency)
	v.SetDefault("batch.npm", "npm")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.time", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.scripts.dir", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.sample_interval", 5*time.Second)
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("modules_path", "")
	v.SetDefault("apps_path", "")
}

// Load reads the config file at path (TOML, JSON or YAML by extension).
// An empty path yields defaults plus environment overrides. The returned
// config is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigurationError{Field: "file", Path: path, Err: err}
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, &ConfigurationError{Field: "file", Path: path, Err: err}
	}
	// keys used by the original config.json
	if c.ModulesPath == "" {
		c.ModulesPath = v.GetString("modulesPath")
	}
	if c.AppsPath == "" {
		c.AppsPath = v.GetString("appsPath")
	}
	c.file = path
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// File returns the path the config was loaded from.
func (c *Config) File() string { return c.file }

// resolvePaths makes relative paths relative to the config file directory.
func (c *Config) resolvePaths() {
	if c.file == "" {
		return
	}
	base := filepath.Dir(c.file)
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.ModulesPath = abs(c.ModulesPath)
	c.AppsPath = abs(c.AppsPath)
	for i := range c.Roots {
		c.Roots[i].Path = abs(c.Roots[i].Path)
	}
	for i := range c.EnvFiles {
		c.EnvFiles[i] = abs(c.EnvFiles[i])
	}
	c.Server.StaticDir = abs(c.Server.StaticDir)
	c.Server.PIDFile = abs(c.Server.PIDFile)
	c.Log.File = abs(c.Log.File)
	c.Log.Output.Dir = abs(c.Log.Output.Dir)
}

// ScanRoots returns every configured root in order: modules_path, apps_path,
// then the roots list.
func (c *Config) ScanRoots() []manifest.Root {
	var out []manifest.Root
	if c.ModulesPath != "" {
		out = append(out, manifest.Root{Path: filepath.Clean(c.ModulesPath), Layout: manifest.LayoutCategories})
	}
	if c.AppsPath != "" {
		out = append(out, manifest.Root{Path: filepath.Clean(c.AppsPath), Layout: manifest.LayoutApps})
	}
	for _, r := range c.Roots {
		layout := manifest.Layout(strings.ToLower(strings.TrimSpace(r.Layout)))
		if layout == "" {
			layout = manifest.LayoutCategories
		}
		out = append(out, manifest.Root{Path: filepath.Clean(r.Path), Layout: layout})
	}
	return out
}

// Validate checks every setting the daemon cannot start without.
func (c *Config) Validate() error {
	if err := ValidateRoots(c.ScanRoots()); err != nil {
		return err
	}
	switch c.Supervisor.Launcher {
	case "", LauncherShell, LauncherNPM:
	default:
		return &ConfigurationError{Field: "supervisor.launcher", Err: fmt.Errorf("unknown launcher %q", c.Supervisor.Launcher)}
	}
	if c.Supervisor.URLPattern != "" {
		if _, err := regexp.Compile(c.Supervisor.URLPattern); err != nil {
			return &ConfigurationError{Field: "supervisor.url_pattern", Err: err}
		}
	}
	if c.Supervisor.GracePeriod < 0 {
		return &ConfigurationError{Field: "supervisor.grace_period", Err: errors.New("must not be negative")}
	}
	if c.Batch.Concurrency < 0 {
		return &ConfigurationError{Field: "batch.concurrency", Err: errors.New("must not be negative")}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return &ConfigurationError{Field: "server.base_path", Path: c.Server.BasePath, Err: errors.New("must start with /")}
	}
	return nil
}

// ValidateRoots fails when no root is configured or when a root is missing or
// not a directory.
func ValidateRoots(roots []manifest.Root) error {
	if len(roots) == 0 {
		return &ConfigurationError{Field: "roots", Err: ErrNoRoots}
	}
	for _, r := range roots {
		if !r.Layout.Valid() {
			return &ConfigurationError{Field: "roots.layout", Path: r.Path, Err: fmt.Errorf("unknown layout %q", r.Layout)}
		}
		if err := manifest.ValidateRoot(r); err != nil {
			return &ConfigurationError{Field: "roots", Path: r.Path, Err: err}
		}
	}
	return nil
}

// GlobalEnv builds the environment handed to every script. Precedence: OS
// environment (when use_os_env), then env_files in order, then the env list.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		e = e.FromOS()
	} else {
		e = e.WithoutBase()
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, &ConfigurationError{Field: "env_files", Path: p, Err: err}
		}
		e = e.WithPairs(pairs)
	}
	return e.WithPairs(c.Env), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines and returns the
// entries in file order. Blank lines and lines starting with # are ignored, as
// is an optional leading "export ".
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return parseEnvLines(string(b)), nil
}

func parseEnvLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}
