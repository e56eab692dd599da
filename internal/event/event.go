package event

import "time"

// Kind is the wire "type" of an event. Values are what the browser UI listens
// for.
type Kind string

const (
	KindStarted       Kind = "script-started"
	KindURLDetected   Kind = "script-url-detected"
	KindStopped       Kind = "process-stopped"
	KindBatchProgress Kind = "install-progress"
	KindUnitsChanged  Kind = "units-changed"
)

// Batch operation names carried in Event.Op.
const (
	OpInstall = "install"
	OpLink    = "link"
)

// Event is a state change pushed to observers.
type Event struct {
	Type       Kind      `json:"type"`
	ModulePath string    `json:"modulePath,omitempty"`
	Script     string    `json:"script,omitempty"`
	URL        string    `json:"url,omitempty"`
	Directory  string    `json:"directory,omitempty"`
	Message    string    `json:"message,omitempty"`
	Op         string    `json:"op,omitempty"`
	Time       time.Time `json:"time"`
}

func Started(unitPath, script string) Event {
	return Event{Type: KindStarted, ModulePath: unitPath, Script: script, Time: time.Now()}
}

func URLDetected(unitPath, script, url string) Event {
	return Event{Type: KindURLDetected, ModulePath: unitPath, Script: script, URL: url, Time: time.Now()}
}

func Stopped(unitPath, script string) Event {
	return Event{Type: KindStopped, ModulePath: unitPath, Script: script, Time: time.Now()}
}

func BatchProgress(op, dir, message string) Event {
	return Event{Type: KindBatchProgress, Op: op, Directory: dir, Message: message, Time: time.Now()}
}

func UnitsChanged(dir string) Event {
	return Event{Type: KindUnitsChanged, Directory: dir, Time: time.Now()}
}
