package supervisor

import (
	"errors"
	"time"

	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/process"
	"github.com/loykin/devdash/internal/registry"
)

// handle processes one inbox message. It runs only on the dispatcher goroutine.
func (s *Supervisor) handle(m any) {
	switch m := m.(type) {
	case startMsg:
		m.reply <- s.handleStart(m)
	case spawnedMsg:
		s.handleSpawned(m)
	case spawnFailedMsg:
		s.handleSpawnFailed(m)
	case stopMsg:
		m.reply <- s.handleStop(m)
	case urlMsg:
		s.handleURL(m)
	case exitMsg:
		s.handleExit(m)
	case graceMsg:
		s.handleGrace(m)
	case listMsg:
		m.reply <- s.reg.Snapshot()
	case shutdownMsg:
		m.reply <- s.handleShutdown()
	default:
		s.log.Error("unknown supervisor message", "type", m)
	}
}

func (s *Supervisor) handleStart(m startMsg) startReply {
	if s.shuttingDown {
		return startReply{err: ErrShuttingDown}
	}
	if _, ok := s.reg.Get(m.unitPath, m.script); ok {
		return startReply{err: ErrAlreadyRunning}
	}
	s.nextID++
	e := &registry.Entry{
		RunID:     s.nextID,
		UnitPath:  m.unitPath,
		Script:    m.script,
		Command:   m.command,
		Status:    registry.StatusStarting,
		StartedAt: time.Now(),
	}
	if err := s.reg.Add(e); err != nil {
		return startReply{err: ErrAlreadyRunning}
	}
	s.runs[e.RunID] = &run{}
	s.pub.Publish(event.Started(e.UnitPath, e.Script))
	metrics.IncStart(e.Script)
	metrics.SetRunning(s.reg.Len())
	s.log.Info("script starting", "unit", e.UnitPath, "script", e.Script, "run", e.RunID)
	return startReply{runID: e.RunID}
}

func (s *Supervisor) handleSpawned(m spawnedMsg) {
	e, ok := s.reg.ByRunID(m.runID)
	if !ok {
		// placeholder already released; nobody owns this process
		_ = m.handle.Kill()
		return
	}
	r := s.runs[m.runID]
	r.handle = m.handle
	e.PID = m.handle.PID()
	e.Status = registry.StatusRunning
	s.log.Info("script started", "unit", e.UnitPath, "script", e.Script, "pid", e.PID)
	if e.StopRequested || s.shuttingDown {
		if err := s.interrupt(e, r); err != nil {
			s.log.Warn("deferred stop failed", "unit", e.UnitPath, "script", e.Script, "error", err)
		}
	}
}

func (s *Supervisor) handleSpawnFailed(m spawnFailedMsg) {
	e, ok := s.reg.Remove(m.runID)
	if !ok {
		return
	}
	delete(s.runs, m.runID)
	s.log.Error("script spawn failed", "unit", e.UnitPath, "script", e.Script, "error", m.err)
	metrics.IncSpawnFailure(e.Script)
	s.finish(e)
}

func (s *Supervisor) handleStop(m stopMsg) error {
	e, ok := s.reg.Get(m.unitPath, m.script)
	if !ok {
		return ErrNotRunning
	}
	switch e.Status {
	case registry.StatusStopping:
		return nil
	case registry.StatusStarting:
		// handleSpawned sends the interrupt once the process exists
		e.StopRequested = true
		return nil
	}
	return s.interrupt(e, s.runs[e.RunID])
}

// interrupt sends SIGINT to the script's group and arms the kill timer. On
// failure the entry keeps its status.
func (s *Supervisor) interrupt(e *registry.Entry, r *run) error {
	if r == nil || r.handle == nil {
		e.StopRequested = true
		return nil
	}
	if err := r.handle.Interrupt(); err != nil && !errors.Is(err, process.ErrProcessGone) {
		return &SignalError{UnitPath: e.UnitPath, Script: e.Script, PID: e.PID, Err: err}
	}
	e.Status = registry.StatusStopping
	id := e.RunID
	r.timer = time.AfterFunc(s.grace, func() { s.post(graceMsg{runID: id}) })
	s.log.Info("script stopping", "unit", e.UnitPath, "script", e.Script, "pid", e.PID)
	return nil
}

func (s *Supervisor) handleURL(m urlMsg) {
	e, ok := s.reg.ByRunID(m.runID)
	if !ok || e.URL != "" {
		return
	}
	e.URL = m.url
	s.pub.Publish(event.URLDetected(e.UnitPath, e.Script, m.url))
	metrics.IncURLDetected()
	s.log.Info("script url detected", "unit", e.UnitPath, "script", e.Script, "url", m.url)
}

func (s *Supervisor) handleExit(m exitMsg) {
	e, ok := s.reg.Remove(m.runID)
	if !ok {
		return
	}
	if r := s.runs[m.runID]; r != nil && r.timer != nil {
		r.timer.Stop()
	}
	delete(s.runs, m.runID)
	if m.err != nil && e.Status != registry.StatusStopping {
		s.log.Warn("script exited", "unit", e.UnitPath, "script", e.Script, "pid", e.PID, "error", m.err)
	} else {
		s.log.Info("script exited", "unit", e.UnitPath, "script", e.Script, "pid", e.PID)
	}
	metrics.IncStop(e.Script)
	metrics.ObserveRunDuration(e.Script, time.Since(e.StartedAt).Seconds())
	s.finish(e)
}

func (s *Supervisor) handleGrace(m graceMsg) {
	e, ok := s.reg.ByRunID(m.runID)
	if !ok || e.Status != registry.StatusStopping {
		return
	}
	r := s.runs[m.runID]
	if r == nil || r.handle == nil {
		return
	}
	s.log.Warn("script ignored interrupt, killing", "unit", e.UnitPath, "script", e.Script, "pid", e.PID, "grace", s.grace)
	if err := r.handle.Kill(); err != nil && !errors.Is(err, process.ErrProcessGone) {
		s.log.Error("kill failed", "unit", e.UnitPath, "script", e.Script, "pid", e.PID, "error", err)
		return
	}
	metrics.IncKill(e.Script)
}

func (s *Supervisor) handleShutdown() <-chan struct{} {
	ch := make(chan struct{})
	if !s.shuttingDown {
		s.shuttingDown = true
		s.log.Info("shutting down", "running", s.reg.Len())
		s.reg.Each(func(e *registry.Entry) {
			if e.Status == registry.StatusStopping {
				return
			}
			if err := s.interrupt(e, s.runs[e.RunID]); err != nil {
				s.log.Warn("stop on shutdown failed", "unit", e.UnitPath, "script", e.Script, "error", err)
			}
		})
	}
	if s.reg.Len() == 0 {
		close(ch)
	} else {
		s.drained = append(s.drained, ch)
	}
	return ch
}

// finish publishes the stop of a removed entry and releases shutdown waiters
// once the registry is empty.
func (s *Supervisor) finish(e *registry.Entry) {
	s.pub.Publish(event.Stopped(e.UnitPath, e.Script))
	metrics.SetRunning(s.reg.Len())
	if s.reg.Len() == 0 && len(s.drained) > 0 {
		for _, ch := range s.drained {
			close(ch)
		}
		s.drained = nil
	}
}

// killAll is called when the dispatcher exits with scripts still registered.
func (s *Supervisor) killAll() {
	for id, r := range s.runs {
		if r.timer != nil {
			r.timer.Stop()
		}
		if r.handle != nil {
			if err := r.handle.Kill(); err != nil && !errors.Is(err, process.ErrProcessGone) {
				s.log.Warn("kill on exit failed", "run", id, "error", err)
			}
		}
	}
}
