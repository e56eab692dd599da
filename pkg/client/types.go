package client

import "time"

// ScriptRequest selects one script of one unit.
type ScriptRequest struct {
	ModulePath string `json:"modulePath"`
	Script     string `json:"script"`
}

// PathsRequest lists unit directories for a batch operation.
type PathsRequest struct {
	Paths []string `json:"paths"`
}

// Unit is a discovered package directory.
type Unit struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Scripts      map[string]string `json:"scripts"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Root         string            `json:"root"`
	Layout       string            `json:"layout"`
}

// RunningScript is one entry of GET /running-scripts.
type RunningScript struct {
	RunID      uint64    `json:"runId"`
	ModulePath string    `json:"modulePath"`
	Script     string    `json:"script"`
	Command    string    `json:"command,omitempty"`
	PID        int       `json:"pid,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
}

// BatchResult is the outcome of install or link for one directory.
type BatchResult struct {
	Directory string `json:"directory"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BatchResponse struct {
	Success bool          `json:"success"`
	Results []BatchResult `json:"results"`
}

// Event is a state change pushed by the dashboard.
type Event struct {
	Type       string    `json:"type"`
	ModulePath string    `json:"modulePath,omitempty"`
	Script     string    `json:"script,omitempty"`
	URL        string    `json:"url,omitempty"`
	Directory  string    `json:"directory,omitempty"`
	Message    string    `json:"message,omitempty"`
	Op         string    `json:"op,omitempty"`
	Time       time.Time `json:"time"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
