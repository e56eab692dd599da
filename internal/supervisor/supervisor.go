// Package supervisor starts and stops scripts as child processes and reports
// their lifecycle. One dispatcher goroutine (Run) owns the registry of running
// scripts; Start, Stop and List talk to it through an inbox channel and only
// acknowledge acceptance.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/loykin/devdash/internal/env"
	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/logger"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/loykin/devdash/internal/process"
	"github.com/loykin/devdash/internal/registry"
)

const (
	DefaultURLPattern  = `http://localhost:\d+`
	DefaultGracePeriod = 5 * time.Second
)

// Resolver maps a (unit, script) pair to the command to run.
type Resolver interface {
	Lookup(unitPath, script string) (string, error)
}

type Options struct {
	Resolver    Resolver
	Publisher   event.Publisher
	Env         *env.Env // nil inherits the daemon environment
	Launcher    string   // process.LauncherShell (default) or process.LauncherNPM
	NPM         string
	URLPattern  string
	GracePeriod time.Duration
	Output      logger.OutputConfig
	Logger      *slog.Logger
}

// child is the part of a started process the dispatcher drives.
// *process.Handle implements it.
type child interface {
	PID() int
	Interrupt() error
	Kill() error
	WatchOutput(onLine, onPartial func(string), onExit func(error))
}

type spawnFunc func(process.Spec, func(string)) (child, error)

func spawnProcess(spec process.Spec, onStderr func(string)) (child, error) {
	h, err := process.Spawn(spec, onStderr)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type run struct {
	handle child
	timer  *time.Timer
}

type Supervisor struct {
	resolver Resolver
	pub      event.Publisher
	env      *env.Env
	launcher string
	npm      string
	urlRe    *regexp.Regexp
	grace    time.Duration
	output   logger.OutputConfig
	log      *slog.Logger
	spawn    spawnFunc

	inbox   chan any
	done    chan struct{}
	started atomic.Bool

	// owned by the dispatcher goroutine
	reg          *registry.Registry
	runs         map[uint64]*run
	nextID       uint64
	shuttingDown bool
	drained      []chan struct{}
}

func New(opts Options) (*Supervisor, error) {
	if opts.Resolver == nil {
		return nil, errors.New("supervisor requires a resolver")
	}
	pattern := opts.URLPattern
	if pattern == "" {
		pattern = DefaultURLPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("url pattern: %w", err)
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	e := opts.Env
	if e == nil {
		e = env.New().FromOS()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = event.NewBroadcaster()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	launcher := opts.Launcher
	if launcher == "" {
		launcher = process.LauncherShell
	}
	return &Supervisor{
		resolver: opts.Resolver,
		pub:      pub,
		env:      e,
		launcher: launcher,
		npm:      opts.NPM,
		urlRe:    re,
		grace:    grace,
		output:   opts.Output,
		log:      log.With("component", "supervisor"),
		spawn:    spawnProcess,
		inbox:    make(chan any, 64),
		done:     make(chan struct{}),
		reg:      registry.New(),
		runs:     make(map[uint64]*run),
	}, nil
}

// Run is the dispatcher loop. It returns when ctx is done, after killing any
// script still registered. Call Shutdown first for a graceful stop.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.killAll()
			return ctx.Err()
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

// Done is closed when Run has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start launches script in the unit at unitPath. It returns once the process
// is spawned, not when it is ready.
func (s *Supervisor) Start(ctx context.Context, unitPath, script string) error {
	unitPath = filepath.Clean(unitPath)
	command, err := s.resolver.Lookup(unitPath, script)
	if err != nil {
		if errors.Is(err, manifest.ErrUnitNotFound) || errors.Is(err, manifest.ErrScriptNotFound) {
			return fmt.Errorf("%s %q: %w", unitPath, script, ErrNotFound)
		}
		return err
	}

	reply := make(chan startReply, 1)
	if err := s.send(ctx, startMsg{unitPath: unitPath, script: script, command: command, reply: reply}); err != nil {
		return err
	}
	var r startReply
	select {
	case r = <-reply:
	case <-s.done:
		return ErrShuttingDown
	case <-ctx.Done():
		// the dispatcher may already hold a placeholder for us
		go func() {
			select {
			case r := <-reply:
				if r.err == nil {
					s.post(spawnFailedMsg{runID: r.runID, err: context.Cause(ctx)})
				}
			case <-s.done:
			}
		}()
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}

	spec := process.Spec{
		Name:     unitPath + "." + script,
		Script:   script,
		Command:  command,
		WorkDir:  unitPath,
		Env:      s.env.Merge(nil),
		Launcher: s.launcher,
		NPM:      s.npm,
		Log:      s.output,
	}
	log := s.log.With("unit", unitPath, "script", script)
	h, err := s.spawn(spec, func(line string) {
		log.Debug("script stderr", "line", line)
	})
	if err != nil {
		s.post(spawnFailedMsg{runID: r.runID, err: err})
		return &SpawnError{UnitPath: unitPath, Script: script, Err: err}
	}
	if !s.post(spawnedMsg{runID: r.runID, handle: h}) {
		_ = h.Kill()
		h.WatchOutput(nil, nil, nil)
		return ErrShuttingDown
	}

	id := r.runID
	found := false
	match := func(text string) {
		if found {
			return
		}
		if u := s.urlRe.FindString(text); u != "" {
			found = true
			s.post(urlMsg{runID: id, url: u})
		}
	}
	h.WatchOutput(func(line string) {
		log.Debug("script output", "line", line)
		match(line)
	}, match, func(err error) {
		s.post(exitMsg{runID: id, err: err})
	})
	return nil
}

// Stop asks a running script to terminate. It returns once the request is
// accepted; the script is removed when its process exits.
func (s *Supervisor) Stop(ctx context.Context, unitPath, script string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, stopMsg{unitPath: filepath.Clean(unitPath), script: script, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrShuttingDown
	}
}

// List returns the running scripts in unit order then start order.
func (s *Supervisor) List(ctx context.Context) ([]registry.Snapshot, error) {
	reply := make(chan []registry.Snapshot, 1)
	if err := s.send(ctx, listMsg{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-s.done:
		return nil, ErrShuttingDown
	}
}

// Shutdown rejects new starts, interrupts every running script and waits
// until all of them have exited or ctx is done. Scripts that ignore the
// interrupt are killed after the grace period.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	reply := make(chan (<-chan struct{}), 1)
	if err := s.send(ctx, shutdownMsg{reply: reply}); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return nil
		}
		return err
	}
	var drained <-chan struct{}
	select {
	case drained = <-reply:
	case <-s.done:
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send delivers m to the dispatcher unless ctx or the dispatcher ends first.
func (s *Supervisor) send(ctx context.Context, m any) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers m unless the dispatcher has exited. It reports whether the
// message was queued.
func (s *Supervisor) post(m any) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}
