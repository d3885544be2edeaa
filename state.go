package main

import (
	"sync"
	"time"

	"github.com/mbfilter/pkg/filter"
)

// ServerState is what the server remembers between requests. None of it is
// used for control decisions; the device and its guard are authoritative.
type ServerState struct {
	mu sync.RWMutex

	// Last configuration accepted through this server
	LastConfig   *filter.Config
	LastConfigAt time.Time
	LastHolder   string

	// Requests seen
	Accepted int
	Rejected map[filter.Reason]int

	// Local capture running alongside the server
	Capture *CaptureProgress

	// System
	CommandDevice string
	DataDevice    string
}

// CaptureProgress describes the local capture session of a server process.
type CaptureProgress struct {
	Output  string        `json:"output"`
	Target  int64         `json:"target"`
	Written int64         `json:"written"`
	Running bool          `json:"running"`
	Reason  filter.Reason `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func newServerState() *ServerState {
	return &ServerState{Rejected: make(map[filter.Reason]int)}
}

func (s *ServerState) recordOutcome(holder string, out filter.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !out.Accepted() {
		s.Rejected[out.Reason]++
		return
	}
	s.Accepted++
	s.LastConfig = out.Config
	s.LastConfigAt = time.Now()
	s.LastHolder = holder
}

func (s *ServerState) setCapture(p *CaptureProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Capture = p
}

func (s *ServerState) updateCapture(fn func(p *CaptureProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Capture != nil {
		fn(s.Capture)
	}
}

// snapshot returns a JSON-ready copy.
func (s *ServerState) snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rejected := make(map[string]int, len(s.Rejected))
	for r, n := range s.Rejected {
		rejected[string(r)] = n
	}
	snap := map[string]interface{}{
		"accepted": s.Accepted,
		"rejected": rejected,
	}
	if s.LastConfig != nil {
		snap["last_config"] = *s.LastConfig
		snap["last_config_at"] = s.LastConfigAt.Format(time.RFC3339)
		snap["last_holder"] = s.LastHolder
	}
	if s.Capture != nil {
		snap["capture"] = *s.Capture
	}
	return snap
}
