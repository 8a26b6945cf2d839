package bus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SearchIndex is an in-memory full-text index over retained history.
type SearchIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// searchDocument is what gets indexed for one history entry.
type searchDocument struct {
	Channel   string    `json:"channel"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// NewSearchIndex creates an index that lives only in memory.
func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(searchMapping())
	if err != nil {
		return nil, fmt.Errorf("create history index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

func searchMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("channel", keyword)
	doc.AddFieldMappingsAt("sender", keyword)
	doc.AddFieldMappingsAt("recipient", keyword)
	doc.AddFieldMappingsAt("type", keyword)
	doc.AddFieldMappingsAt("sent_at", bleve.NewDateTimeFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// Index adds one entry, keyed by message id.
func (s *SearchIndex) Index(e Entry) error {
	doc := searchDocument{
		Channel:   e.Channel,
		Sender:    e.Message.SenderID,
		Recipient: e.Message.RecipientID,
		Type:      string(e.Message.Type()),
		Text:      payloadText(e.Message.Payload()),
		SentAt:    e.Message.Timestamp,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Index(e.Message.ID, doc)
}

// Remove drops evicted entries from the index.
func (s *SearchIndex) Remove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

// Search returns ids of messages whose payload text matches, best first.
func (s *SearchIndex) Search(text string, limit int) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	q := bleve.NewMatchQuery(text)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed documents.
func (s *SearchIndex) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.index.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// Close releases the index.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// payloadText flattens a payload into searchable text, keys sorted.
func payloadText(p map[string]interface{}) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			b.WriteString(v)
		case nil:
			continue
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			b.Write(data)
		}
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}
