package agent

import (
	"sync"
	"time"
)

// Status is the cycle-running flag as explicit component state. Two
// orchestrator instances in one process each get their own; cross-process
// exclusion is the cycle lock's job.
type Status struct {
	mu            sync.Mutex
	running       bool
	lastRun       *time.Time
	runsCompleted int
}

func NewStatus() *Status {
	return &Status{}
}

// Begin flips the running flag; false means a cycle is already in flight.
func (s *Status) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Status) End(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = &at
	s.runsCompleted++
}

type StatusSnapshot struct {
	Running       bool       `json:"running"`
	LastRun       *time.Time `json:"last_run"`
	RunsCompleted int        `json:"runs_completed"`
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Running:       s.running,
		LastRun:       s.lastRun,
		RunsCompleted: s.runsCompleted,
	}
}
