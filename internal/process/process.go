package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/devdash/internal/logger"
)

// ErrProcessGone is returned when signalling a process group that no longer
// exists.
var ErrProcessGone = errors.New("process already exited")

// DrainTimeout bounds how long output is read after the child exits, for
// grandchildren that keep the pipes open.
const DrainTimeout = 2 * time.Second

// Handle is a started child process. Its stdout is not read until Watch is
// called, so callers can publish the spawn before any output is observed.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	stdout    *os.File
	stderr    *LineWriter
	outLog    io.WriteCloser
	errLog    io.WriteCloser
	drain     time.Duration
	watched   atomic.Bool
	closeOnce sync.Once
}

// Spawn starts the process described by spec in its own process group.
// onStderr receives stderr lines; it may be nil.
func Spawn(spec Spec, onStderr func(string)) (*Handle, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = DrainTimeout

	var outLog, errLog io.WriteCloser
	if spec.Log.Enabled() {
		var err error
		outLog, errLog, err = spec.Log.Writers(logger.SafeName(spec.Name))
		if err != nil {
			return nil, fmt.Errorf("open script logs: %w", err)
		}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		closeAll(outLog, errLog)
		return nil, err
	}
	cmd.Stdout = pw
	stderr := NewLineWriter(func(line string) {
		if errLog != nil {
			_, _ = io.WriteString(errLog, line+"\n")
		}
		if onStderr != nil {
			onStderr(line)
		}
	})
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		closeAll(outLog, errLog)
		return nil, err
	}
	// the child holds its own copy of the write end
	_ = pw.Close()

	return &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdout:    pr,
		stderr:    stderr,
		outLog:    outLog,
		errLog:    errLog,
		drain:     DrainTimeout,
	}, nil
}

func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Watch starts reading stdout and waiting for the process. onLine is called
// for every stdout line from a single goroutine; onExit is called exactly once
// after the last onLine call. Only the first call has any effect.
func (h *Handle) Watch(onLine func(string), onExit func(error)) {
	h.WatchOutput(onLine, nil, onExit)
}

// WatchOutput is Watch with onPartial, which sees stdout that has not been
// terminated by a newline yet, such as a prompt or a printf without one. It
// runs on the same goroutine as onLine.
func (h *Handle) WatchOutput(onLine, onPartial func(string), onExit func(error)) {
	if !h.watched.CompareAndSwap(false, true) {
		return
	}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		lw := NewLineWriter(func(line string) {
			if h.outLog != nil {
				_, _ = io.WriteString(h.outLog, line+"\n")
			}
			if onLine != nil {
				onLine(line)
			}
		})
		if onPartial != nil {
			lw.OnPartial(onPartial)
		}
		_, _ = io.Copy(lw, h.stdout)
		lw.Flush()
	}()
	go func() {
		err := h.cmd.Wait()
		select {
		case <-readDone:
		case <-time.After(h.drain):
			_ = h.stdout.Close()
			<-readDone
		}
		h.stderr.Flush()
		h.release()
		if onExit != nil {
			onExit(err)
		}
	}()
}

// Interrupt sends SIGINT to the process group.
func (h *Handle) Interrupt() error { return signalGroup(h.pid, syscall.SIGINT) }

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() error { return signalGroup(h.pid, syscall.SIGKILL) }

// Signal sends sig to the process group.
func (h *Handle) Signal(sig syscall.Signal) error { return signalGroup(h.pid, sig) }

func (h *Handle) release() {
	h.closeOnce.Do(func() {
		_ = h.stdout.Close()
		closeAll(h.outLog, h.errLog)
	})
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
