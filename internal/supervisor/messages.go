package supervisor

import "github.com/loykin/devdash/internal/registry"

// Messages handled by the dispatcher goroutine. Every Registry mutation
// arrives as one of these.

type startReply struct {
	runID uint64
	err   error
}

type startMsg struct {
	unitPath string
	script   string
	command  string
	reply    chan startReply
}

type spawnedMsg struct {
	runID  uint64
	handle child
}

type spawnFailedMsg struct {
	runID uint64
	err   error
}

type stopMsg struct {
	unitPath string
	script   string
	reply    chan error
}

type urlMsg struct {
	runID uint64
	url   string
}

type exitMsg struct {
	runID uint64
	err   error
}

// graceMsg fires when a stopping script's grace period is over.
type graceMsg struct {
	runID uint64
}

type listMsg struct {
	reply chan []registry.Snapshot
}

type shutdownMsg struct {
	reply chan (<-chan struct{})
}
