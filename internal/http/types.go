package http

import "github.com/fyrsmithlabs/entityrag/internal/entitystore"

// defaultSearchK is used when a search request omits or zeroes k.
const defaultSearchK = 5

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status         string   `json:"status"`
	Version        string   `json:"version,omitempty"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	CachedEntities []string `json:"cached_entities"`
}

// DocumentRequest is the request body for document ingestion.
type DocumentRequest struct {
	Name    string            `json:"name"`
	Content string            `json:"content"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// ChunkInput is one caller-supplied chunk in a ChunksRequest.
type ChunkInput struct {
	OrderIndex int               `json:"chunk_order_index"`
	Text       string            `json:"text"`
	TokenCount int               `json:"token_count,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ChunksRequest is the request body for POST .../documents/:doc/chunks.
type ChunksRequest struct {
	Chunks []ChunkInput `json:"chunks"`
}

// SearchRequest is the request body for a single-entity search.
type SearchRequest struct {
	Query  string   `json:"query"`
	K      int      `json:"k,omitempty"`
	DocIDs []string `json:"doc_ids,omitempty"`
}

// SearchResponse is the response body for a single-entity search.
type SearchResponse struct {
	EntityID string                     `json:"entity_id"`
	Results  []entitystore.SearchResult `json:"results"`
}

// MultiSearchRequest is the request body for POST /api/v1/search.
type MultiSearchRequest struct {
	EntityIDs []string `json:"entity_ids"`
	Query     string   `json:"query"`
	K         int      `json:"k,omitempty"`
}

// MultiSearchResponse maps entity IDs to their search results.
type MultiSearchResponse struct {
	Results map[string][]entitystore.SearchResult `json:"results"`
}

// BatchAddRequest is the request body for POST /api/v1/documents/batch.
type BatchAddRequest struct {
	Entities map[string][]DocumentRequest `json:"entities"`
}

// BatchAddEntry reports the outcome for one file of a batch add.
type BatchAddEntry struct {
	EntityID string                 `json:"entity_id"`
	FileName string                 `json:"file_name"`
	Result   *entitystore.AddResult `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// BatchAddResponse is the response body for POST /api/v1/documents/batch.
type BatchAddResponse struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []BatchAddEntry `json:"results"`
}

// DocumentsResponse is the response body for listing documents.
type DocumentsResponse struct {
	EntityID  string                     `json:"entity_id"`
	Documents []entitystore.DocumentInfo `json:"documents"`
}

// ChunksResponse is the response body for chunk listing and navigation.
type ChunksResponse struct {
	DocID  string              `json:"doc_id"`
	Chunks []entitystore.Chunk `json:"chunks"`
}
