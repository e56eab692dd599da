// Package registry holds the set of running scripts. A Registry is not safe
// for concurrent use; it is owned by the supervisor's dispatcher goroutine.
package registry

import (
	"errors"
	"time"
)

var ErrDuplicate = errors.New("script already registered")

type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Entry is one running script. (UnitPath, Script) is unique in a Registry.
type Entry struct {
	RunID         uint64
	UnitPath      string
	Script        string
	Command       string
	PID           int
	URL           string
	Status        Status
	StartedAt     time.Time
	StopRequested bool
}

// Snapshot is the read-only view handed to callers outside the dispatcher.
type Snapshot struct {
	RunID     uint64    `json:"runId"`
	UnitPath  string    `json:"modulePath"`
	Script    string    `json:"script"`
	Command   string    `json:"command,omitempty"`
	PID       int       `json:"pid,omitempty"`
	URL       string    `json:"url,omitempty"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

type Registry struct {
	units map[string][]*Entry
	order []string // unit paths in first-start order
	byID  map[uint64]*Entry
}

func New() *Registry {
	return &Registry{
		units: make(map[string][]*Entry),
		byID:  make(map[uint64]*Entry),
	}
}

// Add registers e. It fails when the pair is already present.
func (r *Registry) Add(e *Entry) error {
	if _, ok := r.Get(e.UnitPath, e.Script); ok {
		return ErrDuplicate
	}
	list, known := r.units[e.UnitPath]
	if !known {
		r.order = append(r.order, e.UnitPath)
	}
	r.units[e.UnitPath] = append(list, e)
	r.byID[e.RunID] = e
	return nil
}

func (r *Registry) Get(unitPath, script string) (*Entry, bool) {
	for _, e := range r.units[unitPath] {
		if e.Script == script {
			return e, true
		}
	}
	return nil, false
}

func (r *Registry) ByRunID(id uint64) (*Entry, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Remove deletes the entry with the given run id. Removing an unknown id is a
// no-op that reports false.
func (r *Registry) Remove(id uint64) (*Entry, bool) {
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	list := r.units[e.UnitPath]
	for i, x := range list {
		if x.RunID == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.units, e.UnitPath)
		for i, p := range r.order {
			if p == e.UnitPath {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	} else {
		r.units[e.UnitPath] = list
	}
	return e, true
}

func (r *Registry) Len() int { return len(r.byID) }

// Each calls fn for every entry in unit order then start order.
func (r *Registry) Each(fn func(*Entry)) {
	for _, p := range r.order {
		for _, e := range r.units[p] {
			fn(e)
		}
	}
}

func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(r.byID))
	r.Each(func(e *Entry) { out = append(out, e.Snapshot()) })
	return out
}

func (e *Entry) Snapshot() Snapshot {
	return Snapshot{
		RunID:     e.RunID,
		UnitPath:  e.UnitPath,
		Script:    e.Script,
		Command:   e.Command,
		PID:       e.PID,
		URL:       e.URL,
		Status:    e.Status,
		StartedAt: e.StartedAt,
	}
}
