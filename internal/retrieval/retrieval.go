// Package retrieval defines the vector-retrieval capability the gateway
// fronts, plus the adapters for the primary store and the migration target.
package retrieval

import (
	"context"
	"fmt"
)

// Document is the unit of ingest. Tenant is the isolation key.
type Document struct {
	ID       string            `json:"id"`
	Tenant   string            `json:"tenant"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Backend is the retrieval contract both the primary store and migration
// targets satisfy.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, topK int, tenant string) ([]SearchResult, error)
	Ingest(ctx context.Context, doc Document) error
}

// BackendKind is the closed set of configurable target backends. Unknown
// names are rejected at configuration load, not at first use.
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendHTTP   BackendKind = "http"
)

// ParseBackendKind validates a configured backend name.
func ParseBackendKind(name string) (BackendKind, error) {
	switch BackendKind(name) {
	case BackendMemory:
		return BackendMemory, nil
	case BackendHTTP:
		return BackendHTTP, nil
	default:
		return "", fmt.Errorf("unknown retrieval backend %q (want memory or http)", name)
	}
}

// ResultIDs projects result ids in rank order, for comparison metrics.
func ResultIDs(results []SearchResult) []string {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		ids = append(ids, result.ID)
	}
	return ids
}
