package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Command is a one-shot program run to completion, such as "npm install".
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ExitError reports a one-shot command that did not succeed. Stderr holds the
// last lines the command wrote there.
type ExitError struct {
	Command string
	Dir     string
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s in %s: %v", e.Command, e.Dir, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

const stderrTail = 5

// Run executes c in its own process group and waits for it. onStdout and
// onStderr receive output lines and may be nil. Cancelling ctx kills the
// whole group.
func Run(ctx context.Context, c Command, onStdout, onStderr func(string)) error {
	// #nosec G204
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	configureSysProcAttr(cmd)
	cmd.Cancel = func() error { return signalGroup(cmd.Process.Pid, syscall.SIGKILL) }
	cmd.WaitDelay = DrainTimeout

	var (
		mu   sync.Mutex
		tail []string
	)
	stdout := NewLineWriter(onStdout)
	stderr := NewLineWriter(func(line string) {
		mu.Lock()
		tail = append(tail, line)
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		mu.Unlock()
		if onStderr != nil {
			onStderr(line)
		}
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	mu.Lock()
	defer mu.Unlock()
	return &ExitError{Command: c.String(), Dir: c.Dir, Stderr: strings.Join(tail, "\n"), Err: err}
}
