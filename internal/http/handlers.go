package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/entitystore"
)

// handleAddDocument ingests one document into an entity's store.
func (s *Server) handleAddDocument(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	store, err := s.store(c)
	if err != nil {
		return err
	}

	result, err := store.AddDocument(c.Request().Context(), entitystore.FileInput{
		Name:  req.Name,
		Data:  []byte(req.Content),
		Extra: req.Extra,
	})
	if err != nil {
		return s.mapError(c, err)
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// handleAddChunks ingests pre-chunked content for a document.
func (s *Server) handleAddChunks(c echo.Context) error {
	var req ChunksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Chunks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chunks field is required")
	}

	store, err := s.store(c)
	if err != nil {
		return err
	}

	chunks := make([]entitystore.Chunk, len(req.Chunks))
	for i, in := range req.Chunks {
		chunks[i] = entitystore.Chunk{
			OrderIndex: in.OrderIndex,
			Text:       in.Text,
			TokenCount: in.TokenCount,
			Extra:      in.Extra,
		}
	}

	result, err := store.AddChunks(c.Request().Context(), c.Param("doc"), chunks)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleSearch runs a similarity search within one entity.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.K <= 0 {
		req.K = defaultSearchK
	}

	store, err := s.store(c)
	if err != nil {
		return err
	}

	results, err := store.Search(c.Request().Context(), req.Query, req.K, req.DocIDs)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, SearchResponse{
		EntityID: c.Param("entity"),
		Results:  results,
	})
}

// handleMultiSearch fans one query out over several entities.
func (s *Server) handleMultiSearch(c echo.Context) error {
	var req MultiSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if len(req.EntityIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_ids field is required")
	}
	if req.K <= 0 {
		req.K = defaultSearchK
	}

	results := s.manager.SearchEntitiesParallel(c.Request().Context(), req.EntityIDs, req.Query, req.K)
	return c.JSON(http.StatusOK, MultiSearchResponse{Results: results})
}

// handleBatchAdd ingests documents for several entities concurrently.
func (s *Server) handleBatchAdd(c echo.Context) error {
	var req BatchAddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Entities) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "entities field is required")
	}

	entityFiles := make(map[string][]entitystore.FileInput, len(req.Entities))
	for entityID, docs := range req.Entities {
		files := make([]entitystore.FileInput, len(docs))
		for i, d := range docs {
			files[i] = entitystore.FileInput{
				Name:  d.Name,
				Data:  []byte(d.Content),
				Extra: d.Extra,
			}
		}
		entityFiles[entityID] = files
	}

	results := s.manager.AddDocumentsParallel(c.Request().Context(), entityFiles)

	resp := BatchAddResponse{Results: make([]BatchAddEntry, len(results))}
	for i, r := range results {
		entry := BatchAddEntry{
			EntityID: r.EntityID,
			FileName: r.FileName,
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
			resp.Failed++
		} else {
			result := r.Result
			entry.Result = &result
			resp.Succeeded++
		}
		resp.Results[i] = entry
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDeleteDocument removes a document and all its chunks.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	store, err := s.store(c)
	if err != nil {
		return err
	}

	if err := store.DeleteDocument(c.Request().Context(), c.Param("doc")); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleListDocuments lists an entity's ingested documents.
func (s *Server) handleListDocuments(c echo.Context) error {
	store, err := s.store(c)
	if err != nil {
		return err
	}

	docs, err := store.ListDocuments()
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, DocumentsResponse{
		EntityID:  c.Param("entity"),
		Documents: docs,
	})
}

// handleGetDocumentChunks returns a document's chunks in order.
func (s *Server) handleGetDocumentChunks(c echo.Context) error {
	store, err := s.store(c)
	if err != nil {
		return err
	}

	chunks, err := store.GetDocumentChunks(c.Param("doc"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, ChunksResponse{
		DocID:  c.Param("doc"),
		Chunks: chunks,
	})
}

// handleGetChunk returns one chunk, or a context window around it when
// the window query parameter is positive.
func (s *Server) handleGetChunk(c echo.Context) error {
	orderIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil || orderIndex < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "chunk index must be a non-negative integer")
	}

	window := 0
	if raw := c.QueryParam("window"); raw != "" {
		window, err = strconv.Atoi(raw)
		if err != nil || window < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a non-negative integer")
		}
	}

	store, err := s.store(c)
	if err != nil {
		return err
	}

	docID := c.Param("doc")
	if window > 0 {
		chunks, err := store.GetChunkContext(docID, orderIndex, window)
		if err != nil {
			return s.mapError(c, err)
		}
		return c.JSON(http.StatusOK, ChunksResponse{DocID: docID, Chunks: chunks})
	}

	chunk, err := store.GetChunk(docID, orderIndex)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, chunk)
}

// handleStats reports document and chunk counts for one entity.
func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.manager.Stats(c.Request().Context(), c.Param("entity"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// store resolves the entity store for the request's :entity param.
func (s *Server) store(c echo.Context) (*entitystore.Store, error) {
	store, err := s.manager.GetStore(c.Request().Context(), c.Param("entity"))
	if err != nil {
		return nil, s.mapError(c, err)
	}
	return store, nil
}

// mapError translates entity store errors into HTTP status codes.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, entitystore.ErrInvalidEntityID),
		errors.Is(err, entitystore.ErrEmptyInput),
		errors.Is(err, entitystore.ErrInvalidChunk):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, entitystore.ErrDocumentNotFound),
		errors.Is(err, entitystore.ErrChunkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
