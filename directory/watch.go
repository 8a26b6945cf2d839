package directory

import "time"

// EventType represents the type of directory event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
	EventOffline EventType = "offline"
)

// Event is a change to the directory.
type Event struct {
	Type  EventType
	Agent AgentRecord
}

// Watch returns a channel of directory events. Slow watchers miss events
// rather than block writers. The channel closes on Close.
func (d *Directory) Watch() (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	ch := make(chan Event, 64)
	d.watchers = append(d.watchers, ch)
	return ch, nil
}

// Must be called with lock held.
func (d *Directory) notifyLocked(ev Event) {
	for _, ch := range d.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Stale returns the ids of online agents whose last heartbeat is before
// cutoff.
func (d *Directory) Stale(cutoff time.Time) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, rec := range d.sortedLocked(func(r *AgentRecord) bool {
		return r.Online() && r.LastHeartbeat.Before(cutoff)
	}) {
		out = append(out, rec.ID)
	}
	return out
}

// MarkOffline flips an agent to offline if it is still stale at cutoff.
// The check and the write share one lock acquisition, so a heartbeat that
// lands in between wins and concurrent callers see exactly one success.
func (d *Directory) MarkOffline(id string, cutoff time.Time) (AgentRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.agents[id]
	if !ok || !rec.Online() || !rec.LastHeartbeat.Before(cutoff) {
		return AgentRecord{}, false
	}
	rec.Status = StatusOffline
	out := rec.clone()
	d.notifyLocked(Event{Type: EventOffline, Agent: out})
	return out, true
}

// PurgeStale removes every agent whose last heartbeat is before cutoff,
// online or not, and returns what it removed.
func (d *Directory) PurgeStale(cutoff time.Time) []AgentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := d.sortedLocked(func(r *AgentRecord) bool {
		return r.LastHeartbeat.Before(cutoff)
	})
	for _, rec := range removed {
		delete(d.agents, rec.ID)
		d.notifyLocked(Event{Type: EventRemoved, Agent: rec})
	}
	return removed
}
