package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
)

// Common errors.
var (
	ErrInvalidID = errors.New("invalid agent ID")
	ErrClosed    = errors.New("directory closed")
)

// Status is an agent's operational state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusExecuting Status = "executing"
	StatusWaiting   Status = "waiting"
	StatusError     Status = "error"
	StatusOffline   Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusThinking, StatusExecuting, StatusWaiting, StatusError, StatusOffline:
		return true
	}
	return false
}

// AgentInfo is what an agent supplies when it registers.
type AgentInfo struct {
	ID           string
	Name         string
	Role         string // title, e.g. "CTO"
	Tier         message.Tier
	Department   string
	Status       Status // empty keeps the current status (idle when new)
	Capabilities []string
	ReportingTo  string
	Subordinates []string
	Metadata     map[string]string
}

// AgentRecord is the directory's view of one agent. Records handed out
// are copies.
type AgentRecord struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Role          string            `json:"role"`
	Tier          message.Tier      `json:"tier"`
	Department    string            `json:"department,omitempty"`
	Status        Status            `json:"status"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	ReportingTo   string            `json:"reporting_to,omitempty"`
	Subordinates  []string          `json:"subordinates,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	seq uint64
}

// HasCapability reports whether the agent has capability c.
func (r AgentRecord) HasCapability(c string) bool {
	i := sort.SearchStrings(r.Capabilities, c)
	return i < len(r.Capabilities) && r.Capabilities[i] == c
}

// HasAll reports whether the capability set is a superset of required.
func (r AgentRecord) HasAll(required []string) bool {
	for _, c := range required {
		if !r.HasCapability(c) {
			return false
		}
	}
	return true
}

// Online reports whether the agent has not been marked offline.
func (r AgentRecord) Online() bool {
	return r.Status != StatusOffline
}

func (r AgentRecord) clone() AgentRecord {
	r.Capabilities = append([]string(nil), r.Capabilities...)
	r.Subordinates = append([]string(nil), r.Subordinates...)
	if r.Metadata != nil {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

// EventPublisher carries directory events to the broadcast channel.
// *bus.Bus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, msg message.Message) error
}

// Options configures a Directory.
type Options struct {
	// Publisher receives agent_registered and agent_unregistered events.
	// Nil skips them.
	Publisher EventPublisher

	// Selector breaks ties in FindAvailable. Default: FirstRegistered.
	Selector Selector

	// SenderID is the sender of emitted events. Default: "directory".
	SenderID string

	Logger *logging.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Directory is the in-memory table of known agents. Every mutation of a
// single record happens under one lock acquisition.
type Directory struct {
	publisher EventPublisher
	selector  Selector
	senderID  string
	logger    *logging.Logger
	now       func() time.Time

	mu       sync.RWMutex
	agents   map[string]*AgentRecord
	seq      uint64
	watchers []chan Event
	closed   bool
}

// New creates an empty directory.
func New(opts Options) *Directory {
	d := &Directory{
		publisher: opts.Publisher,
		selector:  opts.Selector,
		senderID:  opts.SenderID,
		logger:    logging.OrDiscard(opts.Logger).WithComponent("directory"),
		now:       opts.Clock,
		agents:    make(map[string]*AgentRecord),
	}
	if d.selector == nil {
		d.selector = FirstRegistered{}
	}
	if d.senderID == "" {
		d.senderID = "directory"
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Register inserts or updates an agent. A new record gets RegisteredAt; an
// existing one keeps it. LastHeartbeat is always refreshed and the mutable
// fields are overwritten. An offline agent that registers again comes back
// as idle unless info carries a status.
func (d *Directory) Register(ctx context.Context, info AgentInfo) (AgentRecord, error) {
	if strings.TrimSpace(info.ID) == "" {
		return AgentRecord{}, ErrInvalidID
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return AgentRecord{}, ErrClosed
	}

	now := d.now()
	rec, exists := d.agents[info.ID]
	if !exists {
		d.seq++
		rec = &AgentRecord{
			ID:           info.ID,
			Status:       StatusIdle,
			RegisteredAt: now,
			seq:          d.seq,
		}
		d.agents[info.ID] = rec
	}

	rec.Name = info.Name
	rec.Role = info.Role
	rec.Tier = info.Tier
	rec.Department = info.Department
	rec.Capabilities = normalizeCapabilities(info.Capabilities)
	rec.ReportingTo = info.ReportingTo
	rec.Subordinates = append([]string(nil), info.Subordinates...)
	rec.Metadata = copyMetadata(info.Metadata)
	rec.LastHeartbeat = now
	switch {
	case info.Status != "":
		rec.Status = info.Status
	case rec.Status == StatusOffline:
		rec.Status = StatusIdle
	}

	out := rec.clone()
	evType := EventAdded
	if exists {
		evType = EventUpdated
	}
	d.notifyLocked(Event{Type: evType, Agent: out})
	d.mu.Unlock()

	d.emit(ctx, message.EventAgentRegistered, out)
	return out, nil
}

// Unregister removes an agent. It reports false for an unknown id.
func (d *Directory) Unregister(ctx context.Context, id string) bool {
	d.mu.Lock()
	rec, ok := d.agents[id]
	if ok {
		delete(d.agents, id)
		d.notifyLocked(Event{Type: EventRemoved, Agent: rec.clone()})
	}
	d.mu.Unlock()

	if !ok {
		d.logger.RegistryMiss("unregister", id)
		return false
	}
	d.emit(ctx, message.EventAgentUnregistered, *rec)
	return true
}

// UpdateStatus sets status, merges metadata and refreshes the heartbeat.
// An unknown id is a no-op that reports false.
func (d *Directory) UpdateStatus(id string, status Status, metadata map[string]string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.agents[id]
	if !ok {
		d.logger.RegistryMiss("update_status", id)
		return false
	}
	rec.Status = status
	if len(metadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}
	rec.LastHeartbeat = d.now()
	d.notifyLocked(Event{Type: EventUpdated, Agent: rec.clone()})
	return true
}

// Heartbeat refreshes an agent's last-seen time. A heartbeat from an agent
// marked offline brings it back as idle.
func (d *Directory) Heartbeat(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.agents[id]
	if !ok {
		d.logger.RegistryMiss("heartbeat", id)
		return false
	}
	rec.LastHeartbeat = d.now()
	if rec.Status == StatusOffline {
		rec.Status = StatusIdle
		d.notifyLocked(Event{Type: EventUpdated, Agent: rec.clone()})
	}
	return true
}

// Get returns a copy of the record for id.
func (d *Directory) Get(id string) (AgentRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.agents[id]
	if !ok {
		return AgentRecord{}, false
	}
	return rec.clone(), true
}

// List returns every record in registration order.
func (d *Directory) List() []AgentRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(nil)
}

// Len returns the number of registered agents.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

// CountByStatus tallies agents per status.
func (d *Directory) CountByStatus() map[Status]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[Status]int)
	for _, rec := range d.agents {
		out[rec.Status]++
	}
	return out
}

// CountByTier tallies agents per tier.
func (d *Directory) CountByTier() map[message.Tier]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[message.Tier]int)
	for _, rec := range d.agents {
		out[rec.Tier]++
	}
	return out
}

// FindAvailable returns an idle agent matching role whose capabilities
// include every required one. role matches Role or Tier, case-insensitive;
// empty matches any. Ties are broken by the configured Selector.
func (d *Directory) FindAvailable(role string, required ...string) (string, bool) {
	d.mu.RLock()
	candidates := d.sortedLocked(func(r *AgentRecord) bool {
		return r.Status == StatusIdle && matchesRole(r, role) && r.HasAll(required)
	})
	d.mu.RUnlock()

	if len(candidates) == 0 {
		return "", false
	}
	i := d.selector.Select(strings.ToLower(role), candidates)
	if i < 0 || i >= len(candidates) {
		i = 0
	}
	return candidates[i].ID, true
}

// Close stops watchers. The table stays readable.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	for _, ch := range d.watchers {
		close(ch)
	}
	d.watchers = nil
	return nil
}

// sortedLocked returns copies of matching records in registration order.
func (d *Directory) sortedLocked(keep func(*AgentRecord) bool) []AgentRecord {
	out := make([]AgentRecord, 0, len(d.agents))
	for _, rec := range d.agents {
		if keep == nil || keep(rec) {
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// emit publishes a lifecycle event on the broadcast channel.
func (d *Directory) emit(ctx context.Context, name string, rec AgentRecord) {
	if d.publisher == nil {
		return
	}
	ev := message.NewEvent(d.senderID, name, map[string]interface{}{
		"agent_id":   rec.ID,
		"name":       rec.Name,
		"role":       rec.Role,
		"tier":       string(rec.Tier),
		"department": rec.Department,
		"status":     string(rec.Status),
	})
	if err := d.publisher.Publish(ctx, message.BroadcastChannel, ev); err != nil {
		d.logger.Warn("event publish failed", map[string]interface{}{
			"event":    name,
			"agent_id": rec.ID,
			"error":    err.Error(),
		})
	}
}

func matchesRole(r *AgentRecord, role string) bool {
	if role == "" {
		return true
	}
	return strings.EqualFold(r.Role, role) || strings.EqualFold(string(r.Tier), role)
}

func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
