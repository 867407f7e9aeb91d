package index

import (
	"context"
	"fmt"
	"os"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/entityrag/internal/storage"
)

var chromemTracer = otel.Tracer("entityrag.index.chromem")

// ChromemConfig holds configuration for a chromem-go backed index.
type ChromemConfig struct {
	// Path is the snapshot file for this index.
	Path string

	// Collection is the chromem collection name.
	// Default: "chunks"
	Collection string

	// Compress enables gzip compression for the snapshot.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "chunks"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index using chromem-go.
//
// chromem-go is an embeddable vector database, pure Go with no external
// service. The DB is held fully in memory; Save serializes it to the
// configured snapshot file via the atomic replace discipline of
// storage.FileStore, and a new index restores from that file when it
// exists.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	files      *storage.FileStore
	logger     *zap.Logger
}

// NewChromemIndex creates a ChromemIndex, restoring from the snapshot
// file when one exists.
func NewChromemIndex(config ChromemConfig, embedder Embedder, files *storage.FileStore, logger *zap.Logger) (*ChromemIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if files == nil {
		files = storage.NewFileStore(logger)
	}

	idx := &ChromemIndex{
		db:       chromem.NewDB(),
		embedder: embedder,
		config:   config,
		files:    files,
		logger:   logger,
	}

	restored := false
	if _, err := os.Stat(config.Path); err == nil {
		if err := idx.db.ImportFromFile(config.Path, ""); err != nil {
			return nil, fmt.Errorf("importing snapshot %s: %w", config.Path, err)
		}
		restored = true
	}

	// GetCollection rebinds the embedding function: imported collections
	// carry chromem's default embedder, not ours.
	collection := idx.db.GetCollection(config.Collection, idx.embeddingFunc())
	if collection == nil {
		var err error
		collection, err = idx.db.GetOrCreateCollection(config.Collection, nil, idx.embeddingFunc())
		if err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", config.Collection, err)
		}
	}
	idx.collection = collection

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Bool("restored", restored),
		zap.Int("entries", collection.Count()),
	)

	return idx, nil
}

// embeddingFunc adapts the Embedder to chromem's per-text callback. It
// only runs for texts added without a precomputed embedding.
func (idx *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return idx.embedder.EmbedQuery(ctx, text)
	}
}

// Add embeds entries lacking a precomputed vector in one batch, then
// inserts everything into the collection.
func (idx *ChromemIndex) Add(ctx context.Context, entries []Entry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Add")
	defer span.End()

	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	var missing []int
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, j := range missing {
			texts[i] = entries[j].Text
		}
		vectors, err := idx.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(missing) {
			return fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(missing))
		}
		for i, j := range missing {
			entries[j].Embedding = vectors[i]
		}
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Metadata:  e.Metadata,
			Embedding: e.Embedding,
		}
	}

	// Concurrency of 1: embeddings are already computed above.
	if err := idx.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding entries: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	idx.logger.Debug("added entries to index",
		zap.String("collection", idx.config.Collection),
		zap.Int("count", len(entries)),
		zap.Int("embedded", len(missing)),
	)
	return nil
}

// Search embeds the query and returns the k nearest entries.
func (idx *ChromemIndex) Search(ctx context.Context, query string, k int, where map[string]string) ([]Hit, error) {
	start := time.Now()
	defer func() { searchDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("k", k))

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// chromem requires nResults <= entry count.
	count := idx.collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if k > count {
		k = count
	}

	vector, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	results, err := idx.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Remove deletes entries by ID.
func (idx *ChromemIndex) Remove(ctx context.Context, ids ...string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Remove")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	if err := idx.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("removing entries: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of indexed entries.
func (idx *ChromemIndex) Count() int {
	return idx.collection.Count()
}

// Reset drops the collection and recreates it empty. The snapshot file
// is untouched until the next Save.
func (idx *ChromemIndex) Reset(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Reset")
	defer span.End()

	if err := idx.db.DeleteCollection(idx.config.Collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection: %w", err)
	}
	collection, err := idx.db.GetOrCreateCollection(idx.config.Collection, nil, idx.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("recreating collection: %w", err)
	}
	idx.collection = collection

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Save writes the full index snapshot. The write lands in a temp file
// first, so readers of the snapshot path never see a torn index and a
// failed save leaves the previous snapshot as last known good.
func (idx *ChromemIndex) Save(ctx context.Context) error {
	start := time.Now()
	defer func() { saveDuration.Observe(time.Since(start).Seconds()) }()

	_, span := chromemTracer.Start(ctx, "ChromemIndex.Save")
	defer span.End()

	err := idx.files.Replace(idx.config.Path, func(tmpPath string) error {
		return idx.db.ExportToFile(tmpPath, idx.config.Compress, "", idx.config.Collection)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("saving index snapshot: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	idx.logger.Debug("saved index snapshot",
		zap.String("path", idx.config.Path),
		zap.Int("entries", idx.collection.Count()),
	)
	return nil
}

// Close releases the in-memory index.
func (idx *ChromemIndex) Close() error {
	idx.db = nil
	idx.collection = nil
	return nil
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)
