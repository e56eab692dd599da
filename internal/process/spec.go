package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/devdash/internal/logger"
)

const (
	LauncherShell = "shell"
	LauncherNPM   = "npm"
)

// Spec describes one script run.
type Spec struct {
	Name     string              `json:"name"`     // label for log files, usually unit path + script
	Script   string              `json:"script"`   // script name in the manifest
	Command  string              `json:"command"`  // script body from the manifest
	WorkDir  string              `json:"work_dir"` // unit directory
	Env      []string            `json:"env"`      // fully merged environment; nil inherits
	Launcher string              `json:"launcher"` // shell (default) or npm
	NPM      string              `json:"npm"`      // npm binary for the npm launcher
	Log      logger.OutputConfig `json:"log"`
}

// BuildCommand constructs the *exec.Cmd for the spec. The shell launcher runs
// the script body through the platform shell. A body that already starts with
// an explicit "sh -c" is not wrapped twice. The npm launcher runs
// "npm run <script>" so npm's pre/post hooks apply.
func (s *Spec) BuildCommand() *exec.Cmd {
	if s.Launcher == LauncherNPM {
		npm := s.NPM
		if npm == "" {
			npm = "npm"
		}
		// #nosec G204
		return exec.Command(npm, "run", s.Script)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	return getShellCommand(cmdStr)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns (shell, afterCArg, true) when matched.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		// strip one pair of outer quotes so redirections inside still parse
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
