package bus

import (
	"sync"
	"time"

	"github.com/vinayprograms/agentorg/logging"
	"github.com/vinayprograms/agentorg/message"
)

// HistoryConfig bounds the recent-message buffer.
type HistoryConfig struct {
	// BucketWidth is the time span one bucket covers. Default: 1m
	BucketWidth time.Duration

	// PerBucket is the number of most recent entries kept per bucket.
	// Default: 100
	PerBucket int

	// MaxBuckets is the number of buckets retained. Default: 60
	MaxBuckets int
}

// DefaultHistoryConfig returns an hour of history at one-minute resolution.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		BucketWidth: time.Minute,
		PerBucket:   100,
		MaxBuckets:  60,
	}
}

// Entry is one published message as recorded by the bus.
type Entry struct {
	Channel    string
	Message    message.Message
	RecordedAt time.Time
}

// HistoryFilter selects entries. Zero fields match everything.
type HistoryFilter struct {
	Channel     string
	SenderID    string
	RecipientID string
	Type        message.Type
	Since       time.Time
	Limit       int // most recent N after filtering
}

func (f HistoryFilter) match(e Entry) bool {
	if f.Channel != "" && e.Channel != f.Channel {
		return false
	}
	if f.SenderID != "" && e.Message.SenderID != f.SenderID {
		return false
	}
	if f.RecipientID != "" && e.Message.RecipientID != f.RecipientID {
		return false
	}
	if f.Type != "" && e.Message.Type() != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
		return false
	}
	return true
}

type bucket struct {
	start   time.Time
	entries []Entry
	count   int // every add, including entries since evicted
}

// History is a bounded, time-bucketed record of published messages.
type History struct {
	cfg HistoryConfig
	now func() time.Time

	mu      sync.RWMutex
	buckets []*bucket // oldest first

	index  *SearchIndex
	logger *logging.Logger
}

// NewHistory creates a history buffer. A nil index disables Search.
func NewHistory(cfg HistoryConfig, index *SearchIndex, logger *logging.Logger) *History {
	def := DefaultHistoryConfig()
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = def.BucketWidth
	}
	if cfg.PerBucket <= 0 {
		cfg.PerBucket = def.PerBucket
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = def.MaxBuckets
	}
	return &History{
		cfg:    cfg,
		now:    time.Now,
		index:  index,
		logger: logging.OrDiscard(logger),
	}
}

// SetClock replaces the time source. Tests only.
func (h *History) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Add records msg as published on channel.
func (h *History) Add(channel string, msg message.Message) {
	h.mu.Lock()
	now := h.now()
	e := Entry{Channel: channel, Message: msg, RecordedAt: now}
	start := now.Truncate(h.cfg.BucketWidth)

	var b *bucket
	if n := len(h.buckets); n > 0 && !h.buckets[n-1].start.Before(start) {
		b = h.buckets[n-1]
	} else {
		b = &bucket{start: start}
		h.buckets = append(h.buckets, b)
	}
	b.entries = append(b.entries, e)
	b.count++

	var evicted []string
	if over := len(b.entries) - h.cfg.PerBucket; over > 0 {
		for _, old := range b.entries[:over] {
			evicted = append(evicted, old.Message.ID)
		}
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
	}
	evicted = append(evicted, h.expireLocked(now)...)
	h.mu.Unlock()

	if h.index == nil {
		return
	}
	if err := h.index.Index(e); err != nil {
		h.logger.Warn("history index add failed", map[string]interface{}{"message_id": msg.ID, "error": err.Error()})
	}
	if err := h.index.Remove(evicted); err != nil {
		h.logger.Warn("history index remove failed", map[string]interface{}{"evicted": len(evicted), "error": err.Error()})
	}
}

// expireLocked drops buckets beyond MaxBuckets or older than the window.
func (h *History) expireLocked(now time.Time) []string {
	cutoff := now.Truncate(h.cfg.BucketWidth).Add(-time.Duration(h.cfg.MaxBuckets-1) * h.cfg.BucketWidth)

	drop := 0
	for drop < len(h.buckets) {
		b := h.buckets[drop]
		if len(h.buckets)-drop > h.cfg.MaxBuckets || b.start.Before(cutoff) {
			drop++
			continue
		}
		break
	}
	if drop == 0 {
		return nil
	}

	var ids []string
	for _, b := range h.buckets[:drop] {
		for _, e := range b.entries {
			ids = append(ids, e.Message.ID)
		}
	}
	h.buckets = append(h.buckets[:0:0], h.buckets[drop:]...)
	return ids
}

// Query returns matching entries, oldest first.
func (h *History) Query(f HistoryFilter) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Entry
	for _, b := range h.buckets {
		for _, e := range b.entries {
			if f.match(e) {
				out = append(out, e)
			}
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, b := range h.buckets {
		n += len(b.entries)
	}
	return n
}

// Rate returns messages per minute over the trailing window, counting
// entries already evicted from their bucket.
func (h *History) Rate(window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	since := h.now().Add(-window)
	total := 0
	for _, b := range h.buckets {
		if b.start.Add(h.cfg.BucketWidth).After(since) {
			total += b.count
		}
	}
	return float64(total) / window.Minutes()
}

// Search returns retained entries whose payload matches text, best first.
// It returns nil when no index is configured.
func (h *History) Search(text string, limit int) ([]Entry, error) {
	if h.index == nil {
		return nil, nil
	}
	ids, err := h.index.Search(text, limit)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	byID := make(map[string]Entry)
	for _, b := range h.buckets {
		for _, e := range b.entries {
			byID[e.Message.ID] = e
		}
	}
	h.mu.RUnlock()

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close releases the search index.
func (h *History) Close() error {
	if h.index == nil {
		return nil
	}
	return h.index.Close()
}
