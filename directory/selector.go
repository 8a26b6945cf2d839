package directory

import "sync"

// Selector picks one of several equally eligible agents. candidates are in
// registration order and never empty; key is the lowercased role filter.
type Selector interface {
	Select(key string, candidates []AgentRecord) int
}

// FirstRegistered picks the earliest registered candidate.
type FirstRegistered struct{}

func (FirstRegistered) Select(string, []AgentRecord) int { return 0 }

// LeastRecentlyActive picks the candidate with the oldest heartbeat.
type LeastRecentlyActive struct{}

func (LeastRecentlyActive) Select(_ string, candidates []AgentRecord) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].LastHeartbeat.Before(candidates[best].LastHeartbeat) {
			best = i
		}
	}
	return best
}

// RoundRobin rotates through candidates per role key. The zero value is
// ready to use.
type RoundRobin struct {
	mu   sync.Mutex
	next map[string]int
}

// NewRoundRobin creates a RoundRobin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{next: make(map[string]int)}
}

func (r *RoundRobin) Select(key string, candidates []AgentRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next == nil {
		r.next = make(map[string]int)
	}
	n := r.next[key]
	r.next[key] = n + 1
	return n % len(candidates)
}

// NewSelector maps a configured strategy name to a Selector. Unknown names
// get FirstRegistered.
func NewSelector(name string) Selector {
	switch name {
	case "round_robin", "round-robin":
		return NewRoundRobin()
	case "least_recent", "least-recent":
		return LeastRecentlyActive{}
	default:
		return FirstRegistered{}
	}
}
