package entitystore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/index"
	"github.com/fyrsmithlabs/entityrag/internal/storage"
)

var storeTracer = otel.Tracer("entityrag.entitystore")

// Collection names in the sharded metadata store.
const (
	documentsCollection = "documents"
	chunksCollection    = "chunks"
)

// Metadata keys attached to every index entry.
const (
	metaDocID      = "doc_id"
	metaOrderIndex = "chunk_order_index"
	metaChunkID    = "chunk_id"
	metaTokenCount = "token_count"
)

// Store owns one entity's vector index and its document/chunk
// registries.
//
// The entity lock (mu) guards index mutation and the in-memory
// registries. Ingestion keeps the expensive phases (chunking, embedding)
// outside the lock so concurrent adds to the same entity overlap there
// and only serialize on the index mutation itself. Duplicate detection
// is double-checked: a cheap pre-check under the read lock, then an
// authoritative re-check under the write lock before mutating.
//
// Metadata persistence goes through the sharded collection store, whose
// per-shard file locks are independent of the entity lock.
type Store struct {
	entityID string
	idx      index.Index
	embedder index.Embedder
	chunker  Chunker
	docs     *storage.Collection
	chunks   *storage.Collection
	logger   *zap.Logger

	mu        sync.RWMutex
	docHashes map[string]string   // content hash -> doc id
	docChunks map[string][]string // doc id -> chunk ids
	chunkIDs  map[string]struct{}
}

// newStore constructs a Store and loads its persisted state: document
// and chunk metadata from the collection store, plus the index snapshot
// (already restored by the index itself). When the snapshot and the
// metadata registry disagree the index is rebuilt from the registry,
// which is the authoritative record.
func newStore(ctx context.Context, entityID string, idx index.Index, embedder index.Embedder, chunker Chunker, collections *storage.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{
		entityID:  entityID,
		idx:       idx,
		embedder:  embedder,
		chunker:   chunker,
		docs:      collections.Collection(documentsCollection),
		chunks:    collections.Collection(chunksCollection),
		logger:    logger.With(zap.String("entity_id", entityID)),
		docHashes: make(map[string]string),
		docChunks: make(map[string][]string),
		chunkIDs:  make(map[string]struct{}),
	}
	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("loading entity %s: %w", entityID, err)
	}
	return s, nil
}

func (s *Store) byEntity() storage.Filter {
	return storage.Eq("entity_id", s.entityID)
}

func (s *Store) byDoc(docID string) storage.Filter {
	return storage.And(storage.Eq("entity_id", s.entityID), storage.Eq(metaDocID, docID))
}

// load populates the registries from persisted metadata and reconciles
// the index snapshot against them.
func (s *Store) load(ctx context.Context) error {
	docRecords, err := s.docs.Find(s.byEntity())
	if err != nil {
		return fmt.Errorf("reading documents: %w", err)
	}
	for _, r := range docRecords {
		info := documentFromRecord(r)
		if info.ContentHash != "" {
			s.docHashes[info.ContentHash] = info.DocID
		}
		s.docChunks[info.DocID] = nil
	}

	chunkRecords, err := s.chunks.Find(s.byEntity())
	if err != nil {
		return fmt.Errorf("reading chunks: %w", err)
	}
	stored := make([]Chunk, 0, len(chunkRecords))
	for _, r := range chunkRecords {
		c := chunkFromRecord(r)
		stored = append(stored, c)
		s.chunkIDs[c.ChunkID] = struct{}{}
		s.docChunks[c.DocID] = append(s.docChunks[c.DocID], c.ChunkID)
	}

	if s.idx.Count() != len(s.chunkIDs) {
		s.logger.Warn("index snapshot diverged from metadata, rebuilding",
			zap.Int("index_entries", s.idx.Count()),
			zap.Int("registered_chunks", len(s.chunkIDs)),
		)
		if err := s.rebuild(ctx, stored); err != nil {
			return fmt.Errorf("rebuilding index: %w", err)
		}
	}

	s.logger.Info("entity store loaded",
		zap.Int("documents", len(s.docChunks)),
		zap.Int("chunks", len(s.chunkIDs)),
	)
	return nil
}

// rebuild re-embeds every registered chunk into a fresh index and
// persists the new snapshot.
func (s *Store) rebuild(ctx context.Context, stored []Chunk) error {
	if err := s.idx.Reset(ctx); err != nil {
		return err
	}
	if len(stored) == 0 {
		return s.idx.Save(ctx)
	}

	texts := make([]string, len(stored))
	for i, c := range stored {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	entries := make([]index.Entry, len(stored))
	for i, c := range stored {
		entries[i] = entryFor(c)
		entries[i].Embedding = vectors[i]
	}
	if err := s.idx.Add(ctx, entries); err != nil {
		return err
	}
	return s.idx.Save(ctx)
}

// AddDocument hashes, chunks, embeds and indexes one document. An
// already-indexed document (same content hash) returns a duplicate
// result without touching the index.
func (s *Store) AddDocument(ctx context.Context, file FileInput) (AddResult, error) {
	ctx, span := storeTracer.Start(ctx, "Store.AddDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("entity_id", s.entityID),
		attribute.String("doc_name", file.Name),
	)

	if len(file.Data) == 0 {
		return AddResult{}, fmt.Errorf("%w: %s has no content", ErrEmptyInput, file.Name)
	}
	hash := contentHash(file.Data)

	// Lock-free fast path: a registered hash means the exact bytes were
	// already indexed.
	s.mu.RLock()
	if docID, ok := s.docHashes[hash]; ok {
		count := len(s.docChunks[docID])
		s.mu.RUnlock()
		span.SetAttributes(attribute.Bool("duplicate", true))
		return AddResult{DocID: docID, EntityID: s.entityID, ChunkCount: count, IsDuplicate: true}, nil
	}
	s.mu.RUnlock()

	// Heavy preparation runs outside the entity lock so concurrent adds
	// overlap here.
	chunks, err := s.chunker.Chunk(file.Name, file.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, fmt.Errorf("chunking %s: %w", file.Name, err)
	}

	docID := newDocID()
	for i := range chunks {
		chunks[i].DocID = docID
		chunks[i].ChunkID = chunkIDFor(docID, chunks[i].OrderIndex)
		chunks[i].Extra = mergeExtra(file.Extra, chunks[i].Extra)
	}

	entries, err := s.embedChunks(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}

	s.mu.Lock()
	// Re-check under the lock: a concurrent add of the same bytes may
	// have won the race since the pre-check.
	if existingID, ok := s.docHashes[hash]; ok {
		count := len(s.docChunks[existingID])
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("duplicate", true))
		return AddResult{DocID: existingID, EntityID: s.entityID, ChunkCount: count, IsDuplicate: true}, nil
	}
	if err := s.commitEntries(ctx, entries); err != nil {
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}
	s.docHashes[hash] = docID
	for _, c := range chunks {
		s.chunkIDs[c.ChunkID] = struct{}{}
		s.docChunks[docID] = append(s.docChunks[docID], c.ChunkID)
	}
	s.mu.Unlock()

	// Metadata persistence happens outside the entity lock; the shard
	// file lock serializes it. On failure the registration above is
	// rolled back so the caller can retry.
	if err := s.persistDocument(docID, file.Name, hash, len(chunks)); err != nil {
		s.unregisterChunks(hash, docID, chunks)
		span.RecordError(err)
		return AddResult{}, err
	}
	if err := s.persistChunks(chunks); err != nil {
		s.unregisterChunks(hash, docID, chunks)
		span.RecordError(err)
		return AddResult{}, err
	}

	documentsIndexed.WithLabelValues(s.entityID).Inc()
	chunksIndexed.WithLabelValues(s.entityID).Add(float64(len(chunks)))
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("document indexed",
		zap.String("doc_id", docID),
		zap.String("doc_name", file.Name),
		zap.Int("chunks", len(chunks)),
	)
	return AddResult{DocID: docID, EntityID: s.entityID, ChunkCount: len(chunks)}, nil
}

// AddChunks indexes caller-chunked records for docID. Duplicate
// detection is per chunk ID: already-registered chunks are skipped
// individually and the batch partially applies.
func (s *Store) AddChunks(ctx context.Context, docID string, in []Chunk) (BatchResult, error) {
	ctx, span := storeTracer.Start(ctx, "Store.AddChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("entity_id", s.entityID),
		attribute.String("doc_id", docID),
		attribute.Int("chunk_count", len(in)),
	)

	if docID == "" {
		return BatchResult{}, fmt.Errorf("%w: doc_id is required", ErrInvalidChunk)
	}
	if len(in) == 0 {
		return BatchResult{}, fmt.Errorf("%w: no chunks supplied", ErrEmptyInput)
	}

	chunks := make([]Chunk, len(in))
	for i, c := range in {
		if err := c.Validate(); err != nil {
			return BatchResult{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		c.DocID = docID
		if c.ChunkID == "" {
			c.ChunkID = chunkIDFor(docID, c.OrderIndex)
		}
		chunks[i] = c
	}

	// Unlocked pre-check splits the batch so only novel chunks pay for
	// embedding.
	s.mu.RLock()
	novel, duplicateIDs := s.partitionNovel(chunks)
	s.mu.RUnlock()

	result := BatchResult{DocID: docID}
	if len(novel) == 0 {
		result.Duplicates = len(duplicateIDs)
		result.DuplicateIDs = duplicateIDs
		span.SetAttributes(attribute.Int("duplicates", result.Duplicates))
		return result, nil
	}

	entries, err := s.embedChunks(ctx, novel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BatchResult{}, err
	}
	entryByID := make(map[string]index.Entry, len(entries))
	for _, e := range entries {
		entryByID[e.ID] = e
	}

	s.mu.Lock()
	// Authoritative re-check: concurrent submissions of the same chunk
	// IDs must index each chunk exactly once.
	stillNovel, lateDuplicates := s.partitionNovel(novel)
	duplicateIDs = append(duplicateIDs, lateDuplicates...)

	if len(stillNovel) > 0 {
		commit := make([]index.Entry, len(stillNovel))
		for i, c := range stillNovel {
			commit[i] = entryByID[c.ChunkID]
		}
		if err := s.commitEntries(ctx, commit); err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return BatchResult{}, err
		}
		for _, c := range stillNovel {
			s.chunkIDs[c.ChunkID] = struct{}{}
			s.docChunks[docID] = append(s.docChunks[docID], c.ChunkID)
		}
	}
	s.mu.Unlock()

	if len(stillNovel) > 0 {
		if err := s.persistDocument(docID, docID, "", len(stillNovel)); err != nil {
			s.unregisterChunks("", docID, stillNovel)
			span.RecordError(err)
			return BatchResult{}, err
		}
		if err := s.persistChunks(stillNovel); err != nil {
			s.unregisterChunks("", docID, stillNovel)
			span.RecordError(err)
			return BatchResult{}, err
		}
		chunksIndexed.WithLabelValues(s.entityID).Add(float64(len(stillNovel)))
	}

	result.Indexed = len(stillNovel)
	result.Duplicates = len(duplicateIDs)
	result.DuplicateIDs = duplicateIDs
	span.SetAttributes(
		attribute.Int("indexed", result.Indexed),
		attribute.Int("duplicates", result.Duplicates),
	)
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("chunk batch indexed",
		zap.String("doc_id", docID),
		zap.Int("indexed", result.Indexed),
		zap.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// partitionNovel splits chunks into unregistered ones and the IDs of
// already-registered ones. Caller holds at least the read lock.
func (s *Store) partitionNovel(chunks []Chunk) (novel []Chunk, duplicateIDs []string) {
	for _, c := range chunks {
		if _, ok := s.chunkIDs[c.ChunkID]; ok {
			duplicateIDs = append(duplicateIDs, c.ChunkID)
			continue
		}
		novel = append(novel, c)
	}
	return novel, duplicateIDs
}

// embedChunks batch-embeds chunk texts into index entries. Runs outside
// the entity lock.
func (s *Store) embedChunks(ctx context.Context, chunks []Chunk) ([]index.Entry, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = entryFor(c)
		entries[i].Embedding = vectors[i]
	}
	return entries, nil
}

// commitEntries adds entries to the index and persists the snapshot.
// On snapshot failure the in-memory insertion is rolled back so memory
// keeps matching the last good snapshot. Caller holds the write lock.
func (s *Store) commitEntries(ctx context.Context, entries []index.Entry) error {
	if err := s.idx.Add(ctx, entries); err != nil {
		return fmt.Errorf("adding to index: %w", err)
	}
	if err := s.idx.Save(ctx); err != nil {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if rbErr := s.idx.Remove(ctx, ids...); rbErr != nil {
			s.logger.Error("failed to roll back index after save failure",
				zap.Error(rbErr),
				zap.Int("entries", len(ids)),
			)
		}
		return fmt.Errorf("persisting index: %w", err)
	}
	return nil
}

// Search embeds the query and returns up to k nearest chunks,
// optionally restricted to the given doc IDs. Searches hold the read
// lock so they run concurrently with each other but never observe a
// half-applied index mutation.
//
// The doc filter over-fetches the whole index before post-filtering, so
// a small allowed set still yields up to k results when that many
// exist.
func (s *Store) Search(ctx context.Context, query string, k int, docIDs []string) ([]SearchResult, error) {
	ctx, span := storeTracer.Start(ctx, "Store.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("entity_id", s.entityID),
		attribute.Int("k", k),
		attribute.Int("doc_filter", len(docIDs)),
	)

	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrEmptyInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	start := time.Now()
	defer func() { searchDuration.WithLabelValues(s.entityID).Observe(time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	fetch := k
	if len(docIDs) > 0 {
		fetch = s.idx.Count()
	}
	if fetch == 0 {
		return []SearchResult{}, nil
	}

	hits, err := s.idx.Search(ctx, query, fetch, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching index: %w", err)
	}

	allowed := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = struct{}{}
	}

	results := make([]SearchResult, 0, k)
	for _, hit := range hits {
		if len(allowed) > 0 {
			if _, ok := allowed[hit.Metadata[metaDocID]]; !ok {
				continue
			}
		}
		results = append(results, resultFromHit(hit))
		if len(results) == k {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteDocument removes a document's chunks from the index and the
// metadata store. Unknown doc IDs report ErrDocumentNotFound.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	ctx, span := storeTracer.Start(ctx, "Store.DeleteDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("entity_id", s.entityID),
		attribute.String("doc_id", docID),
	)

	s.mu.Lock()
	ids, ok := s.docChunks[docID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if len(ids) > 0 {
		if err := s.idx.Remove(ctx, ids...); err != nil {
			s.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("removing chunks from index: %w", err)
		}
	}
	if err := s.idx.Save(ctx); err != nil {
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("persisting index: %w", err)
	}
	delete(s.docChunks, docID)
	for _, id := range ids {
		delete(s.chunkIDs, id)
	}
	for hash, id := range s.docHashes {
		if id == docID {
			delete(s.docHashes, hash)
			break
		}
	}
	s.mu.Unlock()

	if _, err := s.chunks.DeleteMany(s.byDoc(docID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting chunk metadata: %w", err)
	}
	if _, err := s.docs.DeleteOne(s.byDoc(docID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting document metadata: %w", err)
	}

	documentsDeleted.WithLabelValues(s.entityID).Inc()
	span.SetAttributes(attribute.Int("chunks_removed", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("document deleted",
		zap.String("doc_id", docID),
		zap.Int("chunks_removed", len(ids)),
	)
	return nil
}

// Stats reports document and chunk counts. Counts tolerate slight
// staleness under concurrent writes.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		EntityID:    s.entityID,
		Documents:   len(s.docChunks),
		Chunks:      len(s.chunkIDs),
		IndexExists: s.idx.Count() > 0,
	}
}

// GetChunk returns the chunk at orderIndex within docID.
func (s *Store) GetChunk(docID string, orderIndex int) (Chunk, error) {
	r, err := s.chunks.FindOne(storage.And(
		storage.Eq("entity_id", s.entityID),
		storage.Eq(metaDocID, docID),
		storage.Eq(metaOrderIndex, orderIndex),
	))
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %s[%d]", ErrChunkNotFound, docID, orderIndex)
	}
	return chunkFromRecord(r), nil
}

// GetPreviousChunk returns the chunk immediately before orderIndex.
func (s *Store) GetPreviousChunk(docID string, orderIndex int) (Chunk, error) {
	return s.GetChunk(docID, orderIndex-1)
}

// GetNextChunk returns the chunk immediately after orderIndex.
func (s *Store) GetNextChunk(docID string, orderIndex int) (Chunk, error) {
	return s.GetChunk(docID, orderIndex+1)
}

// GetDocumentChunks returns a document's chunks ordered by their
// position.
func (s *Store) GetDocumentChunks(docID string) ([]Chunk, error) {
	s.mu.RLock()
	_, ok := s.docChunks[docID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}

	records, err := s.chunks.Find(s.byDoc(docID))
	if err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	chunks := make([]Chunk, len(records))
	for i, r := range records {
		chunks[i] = chunkFromRecord(r)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].OrderIndex < chunks[j].OrderIndex })
	return chunks, nil
}

// GetChunkContext returns the chunk at orderIndex together with up to
// window chunks on each side, in document order.
func (s *Store) GetChunkContext(docID string, orderIndex, window int) ([]Chunk, error) {
	chunks, err := s.GetDocumentChunks(docID)
	if err != nil {
		return nil, err
	}

	var out []Chunk
	for _, c := range chunks {
		if c.OrderIndex >= orderIndex-window && c.OrderIndex <= orderIndex+window {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s[%d]", ErrChunkNotFound, docID, orderIndex)
	}
	return out, nil
}

// ListDocuments returns metadata for every document of the entity.
func (s *Store) ListDocuments() ([]DocumentInfo, error) {
	records, err := s.docs.Find(s.byEntity())
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	docs := make([]DocumentInfo, len(records))
	for i, r := range records {
		docs[i] = documentFromRecord(r)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })
	return docs, nil
}

// Close releases the in-memory index. On-disk state is untouched.
func (s *Store) Close() error {
	return s.idx.Close()
}

// unregisterChunks rolls back an in-memory registration after metadata
// persistence fails. Without this, a retry of the same input would be
// misreported as a duplicate while nothing is on disk. The index may
// keep the committed vectors; re-adding under the same chunk IDs
// overwrites them.
func (s *Store) unregisterChunks(hash, docID string, chunks []Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hash != "" {
		delete(s.docHashes, hash)
	}
	dropped := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		delete(s.chunkIDs, c.ChunkID)
		dropped[c.ChunkID] = struct{}{}
	}
	kept := s.docChunks[docID][:0]
	for _, id := range s.docChunks[docID] {
		if _, ok := dropped[id]; !ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s.docChunks, docID)
	} else {
		s.docChunks[docID] = kept
	}
}

func (s *Store) persistDocument(docID, name, hash string, addedChunks int) error {
	u := storage.Update{
		Set: map[string]any{"doc_name": name},
		Inc: map[string]float64{"chunk_count": float64(addedChunks)},
		SetOnInsert: map[string]any{
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if hash != "" {
		u.Set["content_hash"] = hash
	}
	if _, err := s.docs.UpdateOne(s.byDoc(docID), u, true); err != nil {
		return fmt.Errorf("persisting document %s: %w", docID, err)
	}
	return nil
}

func (s *Store) persistChunks(chunks []Chunk) error {
	for _, c := range chunks {
		set := map[string]any{
			metaDocID:      c.DocID,
			metaOrderIndex: c.OrderIndex,
			"text":         c.Text,
			metaTokenCount: c.TokenCount,
		}
		if len(c.Extra) > 0 {
			extra := make(map[string]any, len(c.Extra))
			for k, v := range c.Extra {
				extra[k] = v
			}
			set["extra"] = extra
		}
		filter := storage.And(
			storage.Eq("entity_id", s.entityID),
			storage.Eq(metaChunkID, c.ChunkID),
		)
		if _, err := s.chunks.UpdateOne(filter, storage.Update{Set: set}, true); err != nil {
			return fmt.Errorf("persisting chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// entryFor converts a chunk into an index entry. Core fields win over
// caller-supplied extras on key collision.
func entryFor(c Chunk) index.Entry {
	meta := make(map[string]string, len(c.Extra)+3)
	for k, v := range c.Extra {
		meta[k] = v
	}
	meta[metaDocID] = c.DocID
	meta[metaChunkID] = c.ChunkID
	meta[metaOrderIndex] = strconv.Itoa(c.OrderIndex)
	return index.Entry{
		ID:       c.ChunkID,
		Text:     c.Text,
		Metadata: meta,
	}
}

func resultFromHit(hit index.Hit) SearchResult {
	orderIndex, _ := strconv.Atoi(hit.Metadata[metaOrderIndex])
	extra := make(map[string]string)
	for k, v := range hit.Metadata {
		switch k {
		case metaDocID, metaChunkID, metaOrderIndex:
		default:
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		extra = nil
	}
	return SearchResult{
		ChunkID:    hit.ID,
		DocID:      hit.Metadata[metaDocID],
		OrderIndex: orderIndex,
		Text:       hit.Text,
		Score:      hit.Score,
		Extra:      extra,
	}
}

func chunkFromRecord(r storage.Record) Chunk {
	c := Chunk{
		ChunkID:    recordString(r, metaChunkID),
		DocID:      recordString(r, metaDocID),
		OrderIndex: recordInt(r, metaOrderIndex),
		Text:       recordString(r, "text"),
		TokenCount: recordInt(r, metaTokenCount),
	}
	if extra, ok := r["extra"].(map[string]any); ok && len(extra) > 0 {
		c.Extra = make(map[string]string, len(extra))
		for k, v := range extra {
			if s, ok := v.(string); ok {
				c.Extra[k] = s
			}
		}
	}
	return c
}

func documentFromRecord(r storage.Record) DocumentInfo {
	return DocumentInfo{
		DocID:       recordString(r, metaDocID),
		EntityID:    recordString(r, "entity_id"),
		Name:        recordString(r, "doc_name"),
		ContentHash: recordString(r, "content_hash"),
		ChunkCount:  recordInt(r, "chunk_count"),
		CreatedAt:   recordString(r, "created_at"),
	}
}

func recordString(r storage.Record, key string) string {
	s, _ := r[key].(string)
	return s
}

// recordInt reads a numeric record field. JSON round-trips store
// numbers as float64.
func recordInt(r storage.Record, key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func mergeExtra(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
