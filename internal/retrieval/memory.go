package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is the in-process primary store: token-overlap scoring over
// per-tenant document sets. It stands in for the production vector store
// behind the same Backend contract.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document // tenant -> id -> doc
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]map[string]Document)}
}

func (m *MemoryIndex) Name() string { return string(BackendMemory) }

func (m *MemoryIndex) Ingest(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenantDocs, ok := m.docs[doc.Tenant]
	if !ok {
		tenantDocs = make(map[string]Document)
		m.docs[doc.Tenant] = tenantDocs
	}
	tenantDocs[doc.ID] = doc
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, query string, topK int, tenant string) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	queryTokens := tokenize(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, doc := range m.docs[tenant] {
		score := overlap(queryTokens, tokenize(doc.Text))
		if score > 0 {
			results = append(results, SearchResult{ID: doc.ID, Score: score, Metadata: doc.Metadata})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count reports documents held for a tenant.
func (m *MemoryIndex) Count(tenant string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[tenant])
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()")
		if token != "" {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
