// Package batch runs npm install and npm link across many unit directories.
// Every npm invocation goes through a shared limiter.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/limiter"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/process"
	"golang.org/x/sync/errgroup"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var ErrNoPaths = errors.New("no paths given")

// Result is the outcome for one directory.
type Result struct {
	Directory string `json:"directory"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

type Options struct {
	Limiter   *limiter.Limiter
	Publisher event.Publisher
	NPM       string   // npm binary, "npm" when empty
	Env       []string // nil inherits
	Logger    *slog.Logger
}

type Runner struct {
	lim *limiter.Limiter
	pub event.Publisher
	npm string
	env []string
	log *slog.Logger
}

func New(opts Options) *Runner {
	r := &Runner{
		lim: opts.Limiter,
		pub: opts.Publisher,
		npm: opts.NPM,
		env: opts.Env,
		log: opts.Logger,
	}
	if r.lim == nil {
		r.lim = limiter.New(limiter.DefaultSize)
	}
	if r.pub == nil {
		r.pub = event.NewBroadcaster()
	}
	if r.npm == "" {
		r.npm = "npm"
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "batch")
	return r
}

// Install runs "npm install" in every directory. Results follow the order of
// paths; one failing directory does not stop the others.
func (r *Runner) Install(ctx context.Context, paths []string) ([]Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	results := make([]Result, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		dir := filepath.Clean(p)
		g.Go(func() error {
			err := r.npmRun(ctx, event.OpInstall, dir, "install")
			results[i] = result(dir, err)
			return nil
		})
	}
	_ = g.Wait()
	r.summary(event.OpInstall, results)
	return results, nil
}

type linkPlan struct {
	dir  string
	deps []string
	err  error
}

// Link switches the selected units to each other's local sources. Every
// directory is registered with "npm link", then each one links the
// dependencies whose name is the base name of another selected directory.
// A failing step fails only its own directory and skips its later steps.
func (r *Runner) Link(ctx context.Context, paths []string) ([]Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	selected := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		selected[filepath.Base(filepath.Clean(p))] = struct{}{}
	}
	plans := make([]*linkPlan, len(paths))
	for i, p := range paths {
		plans[i] = planLink(filepath.Clean(p), selected)
	}

	var global errgroup.Group
	for _, pl := range plans {
		if pl.err != nil {
			continue
		}
		global.Go(func() error {
			pl.err = r.npmRun(ctx, event.OpLink, pl.dir, "link")
			return nil
		})
	}
	_ = global.Wait()

	// local links need every global link in place first
	var local errgroup.Group
	for _, pl := range plans {
		if pl.err != nil {
			continue
		}
		local.Go(func() error {
			for _, dep := range pl.deps {
				if err := r.npmRun(ctx, event.OpLink, pl.dir, "link", dep); err != nil {
					pl.err = fmt.Errorf("link dependency %s: %w", dep, err)
					return nil
				}
			}
			return nil
		})
	}
	_ = local.Wait()

	results := make([]Result, len(plans))
	for i, pl := range plans {
		results[i] = result(pl.dir, pl.err)
	}
	r.summary(event.OpLink, results)
	return results, nil
}

func planLink(dir string, selected map[string]struct{}) *linkPlan {
	pl := &linkPlan{dir: dir}
	m, err := manifest.ReadManifest(dir)
	if err != nil {
		pl.err = fmt.Errorf("read manifest: %w", err)
		return pl
	}
	if m.Name == "" {
		pl.err = fmt.Errorf("no package name in %s", filepath.Join(dir, manifest.FileName))
		return pl
	}
	self := filepath.Base(dir)
	for _, dep := range m.AllDependencies() {
		if _, ok := selected[dep]; ok && dep != self {
			pl.deps = append(pl.deps, dep)
		}
	}
	return pl
}

// npmRun runs one npm command under the limiter. Stdout lines are published
// as progress for dir.
func (r *Runner) npmRun(ctx context.Context, op, dir string, args ...string) error {
	c := process.Command{Name: r.npm, Args: args, Dir: dir, Env: r.env}
	log := r.log.With("op", op, "dir", dir)
	return r.lim.Run(ctx, func(ctx context.Context) error {
		begin := time.Now()
		log.Info("batch command", "cmd", c.String())
		err := process.Run(ctx, c,
			func(line string) {
				r.pub.Publish(event.BatchProgress(op, dir, line))
			},
			func(line string) {
				log.Debug("batch stderr", "line", line)
			})
		status := StatusSuccess
		if err != nil {
			status = StatusFailed
			log.Warn("batch command failed", "cmd", c.String(), "error", err)
		}
		metrics.RecordBatchTask(op, status, time.Since(begin).Seconds())
		return err
	})
}

func (r *Runner) summary(op string, results []Result) {
	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	r.log.Info("batch finished", "op", op, "total", len(results), "failed", failed)
}

func result(dir string, err error) Result {
	if err != nil {
		return Result{Directory: dir, Status: StatusFailed, Error: err.Error()}
	}
	return Result{Directory: dir, Status: StatusSuccess}
}
