package events

import "sync"

// Sequencer hands out per-run log sequence numbers starting at 1.
//
// Runs are keyed by deployment id. An empty id shares a single counter for
// the whole instance. Counters live in memory and restart from 1 after a
// process restart.
type Sequencer struct {
	mu   sync.Mutex
	runs map[string]uint64
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{runs: make(map[string]uint64)}
}

// Next returns the next sequence number for runID.
func (s *Sequencer) Next(runID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID]++
	return s.runs[runID]
}

// Release forgets a finished run.
func (s *Sequencer) Release(runID string) {
	if runID == "" {
		return
	}
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

// Len returns the number of tracked runs.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
