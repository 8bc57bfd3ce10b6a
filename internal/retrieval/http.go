package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend talks to a remote retrieval service over its JSON API. It is
// the production shape of the migration target.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Name() string { return string(BackendHTTP) }

type searchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Tenant string `json:"tenant"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

func (b *HTTPBackend) Search(ctx context.Context, query string, topK int, tenant string) ([]SearchResult, error) {
	payload, err := json.Marshal(searchRequest{Query: query, TopK: topK, Tenant: tenant})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("target search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("target search returned status %d", resp.StatusCode)
	}
	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode target search response: %w", err)
	}
	return decoded.Results, nil
}

func (b *HTTPBackend) Ingest(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/ingest", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("target ingest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("target ingest returned status %d", resp.StatusCode)
	}
	return nil
}
