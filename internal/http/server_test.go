package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/embeddings"
	"github.com/fyrsmithlabs/entityrag/internal/entitystore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	manager, err := entitystore.NewManager(
		entitystore.Config{DataDir: t.TempDir()},
		embeddings.NewHashProvider(64),
		entitystore.DefaultChunker(),
		zap.NewNop(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	srv, err := NewServer(manager, zap.NewNop(), &Config{Host: "localhost", Port: 9090, Version: "test"})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func addDocument(t *testing.T, srv *Server, entity, name, content string) entitystore.AddResult {
	t.Helper()

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/entities/"+entity+"/documents",
		DocumentRequest{Name: name, Content: content})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result entitystore.AddResult
	decodeInto(t, rec, &result)
	return result
}

func TestServer_New(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	require.Error(t, err)

	manager, err := entitystore.NewManager(
		entitystore.Config{DataDir: t.TempDir()},
		embeddings.NewHashProvider(64),
		entitystore.DefaultChunker(),
		zap.NewNop(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	_, err = NewServer(manager, nil, nil)
	require.Error(t, err)

	srv, err := NewServer(manager, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.NotNil(t, srv.Echo())
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
}

func TestServer_Status(t *testing.T) {
	srv := newTestServer(t)
	addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Contains(t, resp.CachedEntities, "acme")
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_AddDocument(t *testing.T) {
	srv := newTestServer(t)

	result := addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma delta")
	assert.NotEmpty(t, result.DocID)
	assert.Equal(t, "acme", result.EntityID)
	assert.False(t, result.IsDuplicate)
	assert.Greater(t, result.ChunkCount, 0)

	// Same content again returns 200 with the original doc ID
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/entities/acme/documents",
		DocumentRequest{Name: "notes.txt", Content: "alpha beta gamma delta"})
	require.Equal(t, http.StatusOK, rec.Code)

	var dup entitystore.AddResult
	decodeInto(t, rec, &dup)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, result.DocID, dup.DocID)
}

func TestServer_AddDocument_Invalid(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/entities/acme/documents",
		DocumentRequest{Name: "empty.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/entities/bad%20id/documents",
		DocumentRequest{Name: "notes.txt", Content: "alpha"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AddChunks(t *testing.T) {
	srv := newTestServer(t)
	doc := addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma")

	rec := doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks", doc.DocID),
		ChunksRequest{Chunks: []ChunkInput{
			{OrderIndex: 10, Text: "manually supplied chunk ten"},
			{OrderIndex: 11, Text: "manually supplied chunk eleven"},
		}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result entitystore.BatchResult
	decodeInto(t, rec, &result)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 0, result.Duplicates)

	// Resubmitting the same batch counts duplicates, not errors
	rec = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks", doc.DocID),
		ChunksRequest{Chunks: []ChunkInput{
			{OrderIndex: 10, Text: "manually supplied chunk ten"},
		}})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &result)
	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 1, result.Duplicates)

	// Empty batch is a client error
	rec = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks", doc.DocID),
		ChunksRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Search(t *testing.T) {
	srv := newTestServer(t)
	addDocument(t, srv, "acme", "fruit.txt", "apple banana cherry")
	addDocument(t, srv, "acme", "cars.txt", "engine wheel road")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/entities/acme/search",
		SearchRequest{Query: "apple banana cherry", K: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SearchResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "acme", resp.EntityID)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].Text, "apple")

	// Missing query is rejected
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/entities/acme/search", SearchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SearchWithDocFilter(t *testing.T) {
	srv := newTestServer(t)
	fruit := addDocument(t, srv, "acme", "fruit.txt", "apple banana cherry")
	addDocument(t, srv, "acme", "cars.txt", "engine wheel road")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/entities/acme/search",
		SearchRequest{Query: "engine wheel road", K: 5, DocIDs: []string{fruit.DocID}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	decodeInto(t, rec, &resp)
	for _, r := range resp.Results {
		assert.Equal(t, fruit.DocID, r.DocID)
	}
}

func TestServer_MultiSearch(t *testing.T) {
	srv := newTestServer(t)
	addDocument(t, srv, "acme", "fruit.txt", "apple banana cherry")
	addDocument(t, srv, "globex", "cars.txt", "engine wheel road")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search",
		MultiSearchRequest{EntityIDs: []string{"acme", "globex", "unknown"}, Query: "apple banana cherry", K: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MultiSearchResponse
	decodeInto(t, rec, &resp)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results["acme"])
	assert.Empty(t, resp.Results["unknown"])

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/search", MultiSearchRequest{Query: "apple"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BatchAdd(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents/batch",
		BatchAddRequest{Entities: map[string][]DocumentRequest{
			"acme":   {{Name: "a.txt", Content: "alpha beta"}},
			"globex": {{Name: "b.txt", Content: "gamma delta"}, {Name: "bad.txt"}},
		}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchAddResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Len(t, resp.Results, 3)

	for _, entry := range resp.Results {
		if entry.FileName == "bad.txt" {
			assert.NotEmpty(t, entry.Error)
			assert.Nil(t, entry.Result)
		} else {
			assert.Empty(t, entry.Error)
			require.NotNil(t, entry.Result)
			assert.NotEmpty(t, entry.Result.DocID)
		}
	}
}

func TestServer_DeleteDocument(t *testing.T) {
	srv := newTestServer(t)
	doc := addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma")

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/entities/acme/documents/"+doc.DocID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/entities/acme/documents/"+doc.DocID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListDocuments(t *testing.T) {
	srv := newTestServer(t)
	addDocument(t, srv, "acme", "a.txt", "alpha beta")
	addDocument(t, srv, "acme", "b.txt", "gamma delta")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/entities/acme/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DocumentsResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "acme", resp.EntityID)
	require.Len(t, resp.Documents, 2)

	names := []string{resp.Documents[0].Name, resp.Documents[1].Name}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestServer_ChunkNavigation(t *testing.T) {
	srv := newTestServer(t)

	// Force multiple chunks with a long document
	words := make([]string, 0, 900)
	for i := 0; i < 900; i++ {
		words = append(words, fmt.Sprintf("word%d", i))
	}
	doc := addDocument(t, srv, "acme", "long.txt", strings.Join(words, " "))
	require.Greater(t, doc.ChunkCount, 1)

	// All chunks, in order
	rec := doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks", doc.DocID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing ChunksResponse
	decodeInto(t, rec, &listing)
	require.Len(t, listing.Chunks, doc.ChunkCount)
	assert.Equal(t, 0, listing.Chunks[0].OrderIndex)

	// Single chunk
	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks/1", doc.DocID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chunk entitystore.Chunk
	decodeInto(t, rec, &chunk)
	assert.Equal(t, 1, chunk.OrderIndex)

	// Context window around chunk 1
	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks/1?window=1", doc.DocID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var window ChunksResponse
	decodeInto(t, rec, &window)
	require.Len(t, window.Chunks, 3)
	assert.Equal(t, 0, window.Chunks[0].OrderIndex)
	assert.Equal(t, 2, window.Chunks[2].OrderIndex)

	// Out-of-range chunk and bad index
	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks/9999", doc.DocID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/entities/acme/documents/%s/chunks/abc", doc.DocID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	srv := newTestServer(t)
	doc := addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/entities/acme/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats entitystore.Stats
	decodeInto(t, rec, &stats)
	assert.Equal(t, "acme", stats.EntityID)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, doc.ChunkCount, stats.Chunks)
}

func TestServer_UnknownDocument(t *testing.T) {
	srv := newTestServer(t)
	addDocument(t, srv, "acme", "notes.txt", "alpha beta gamma")

	rec := doJSON(t, srv, http.MethodGet,
		"/api/v1/entities/acme/documents/doc_nope/chunks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
