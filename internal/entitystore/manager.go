package entitystore

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/entityrag/internal/index"
	"github.com/fyrsmithlabs/entityrag/internal/storage"
)

// Config holds configuration for the Manager.
type Config struct {
	// DataDir is the base directory for index snapshots and metadata.
	DataDir string

	// Workers bounds the worker pool for parallel bulk operations.
	// Default: 2 * GOMAXPROCS
	Workers int

	// AddTimeout is the per-task timeout for bulk document ingestion.
	// Default: 5m
	AddTimeout time.Duration

	// SearchTimeout is the per-task timeout for multi-entity search.
	// Default: 30s
	SearchTimeout time.Duration

	// CompressIndex enables gzip compression of index snapshots.
	CompressIndex bool
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 2 * runtime.GOMAXPROCS(0)
	}
	if c.AddTimeout == 0 {
		c.AddTimeout = 5 * time.Minute
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// storeEntry is one cache slot. The sync.Once makes loading happen at
// most once per slot while the manager lock stays short-lived.
type storeEntry struct {
	once  sync.Once
	store *Store
	err   error
}

// Manager is the single point of access to all entities' stores. It
// caches Store instances, runs bulk operations on a bounded worker
// pool, and evicts stores on request to bound memory.
//
// The cache lock is held only for map lookup and insert, never while a
// store loads or serves an operation, so heavy work on two different
// entities runs fully concurrently.
type Manager struct {
	config      Config
	embedder    index.Embedder
	chunker     Chunker
	files       *storage.FileStore
	collections *storage.Store
	logger      *zap.Logger

	mu     sync.RWMutex
	stores map[string]*storeEntry
	closed bool
}

// NewManager creates a Manager. A nil chunker installs the default
// fixed-size chunker.
func NewManager(config Config, embedder index.Embedder, chunker Chunker, logger *zap.Logger) (*Manager, error) {
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
	if chunker == nil {
		chunker = DefaultChunker()
	}

	files := storage.NewFileStore(logger)
	collections, err := storage.NewStore(storage.Config{
		Dir:     filepath.Join(config.DataDir, "storage"),
		Sharded: true,
	}, files, logger)
	if err != nil {
		return nil, fmt.Errorf("creating collection store: %w", err)
	}

	logger.Info("entity store manager initialized",
		zap.String("data_dir", config.DataDir),
		zap.Int("workers", config.Workers),
	)

	return &Manager{
		config:      config,
		embedder:    embedder,
		chunker:     chunker,
		files:       files,
		collections: collections,
		logger:      logger,
		stores:      make(map[string]*storeEntry),
	}, nil
}

// GetStore returns the cached store for entityID, loading it on first
// access. Loading happens outside the cache lock; concurrent callers
// for the same entity share one load via the entry's sync.Once.
func (m *Manager) GetStore(ctx context.Context, entityID string) (*Store, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("manager is closed")
	}
	entry := m.stores[entityID]
	m.mu.RUnlock()

	if entry == nil {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, fmt.Errorf("manager is closed")
		}
		entry = m.stores[entityID]
		if entry == nil {
			entry = &storeEntry{}
			m.stores[entityID] = entry
			cachedStores.Set(float64(len(m.stores)))
		}
		m.mu.Unlock()
	}

	entry.once.Do(func() {
		entry.store, entry.err = m.openStore(ctx, entityID)
	})
	if entry.err != nil {
		// Drop the failed slot so a later call retries the load.
		m.mu.Lock()
		if m.stores[entityID] == entry {
			delete(m.stores, entityID)
			cachedStores.Set(float64(len(m.stores)))
		}
		m.mu.Unlock()
		return nil, entry.err
	}
	return entry.store, nil
}

func (m *Manager) openStore(ctx context.Context, entityID string) (*Store, error) {
	idx, err := index.NewChromemIndex(index.ChromemConfig{
		Path:     filepath.Join(m.config.DataDir, "entities", entityID, "index.gob"),
		Compress: m.config.CompressIndex,
	}, m.embedder, m.files, m.logger)
	if err != nil {
		return nil, fmt.Errorf("opening index for %s: %w", entityID, err)
	}
	return newStore(ctx, entityID, idx, m.embedder, m.chunker, m.collections, m.logger)
}

// ParallelAddResult is one (entity, file) outcome of a bulk ingestion.
type ParallelAddResult struct {
	EntityID string    `json:"entity_id"`
	FileName string    `json:"file_name"`
	Result   AddResult `json:"result"`
	Err      error     `json:"-"`
}

// AddDocumentsParallel ingests files for multiple entities on the
// worker pool. Failures stay attached to their (entity, file) pair; one
// stuck or failing document never fails the batch, and a task that
// exceeds the add timeout reports a per-task failure.
func (m *Manager) AddDocumentsParallel(ctx context.Context, entityFiles map[string][]FileInput) []ParallelAddResult {
	ctx, span := storeTracer.Start(ctx, "Manager.AddDocumentsParallel")
	defer span.End()

	type task struct {
		entityID string
		file     FileInput
	}
	var tasks []task
	for _, entityID := range sortedKeys(entityFiles) {
		for _, f := range entityFiles[entityID] {
			tasks = append(tasks, task{entityID: entityID, file: f})
		}
	}

	span.SetAttributes(
		attribute.Int("entity_count", len(entityFiles)),
		attribute.Int("task_count", len(tasks)),
	)

	results := make([]ParallelAddResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(m.config.Workers)

	for i, tk := range tasks {
		i, tk := i, tk
		g.Go(func() error {
			results[i] = ParallelAddResult{EntityID: tk.entityID, FileName: tk.file.Name}

			store, err := m.GetStore(ctx, tk.entityID)
			if err != nil {
				results[i].Err = err
				return nil
			}
			err = runWithTimeout(ctx, m.config.AddTimeout, func(taskCtx context.Context) error {
				r, addErr := store.AddDocument(taskCtx, tk.file)
				if addErr != nil {
					return addErr
				}
				results[i].Result = r
				return nil
			})
			if err != nil {
				results[i].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			parallelTaskFailures.WithLabelValues("add").Inc()
			m.logger.Warn("parallel add task failed",
				zap.String("entity_id", r.EntityID),
				zap.String("file_name", r.FileName),
				zap.Error(r.Err),
			)
		}
	}

	span.SetAttributes(attribute.Int("failures", failures))
	span.SetStatus(codes.Ok, "success")
	return results
}

// SearchEntitiesParallel searches multiple entities concurrently and
// returns one result list per requested entity. A failing or timed-out
// entity contributes an empty list, logged but never raised, so the
// aggregate result is always complete.
func (m *Manager) SearchEntitiesParallel(ctx context.Context, entityIDs []string, query string, k int) map[string][]SearchResult {
	ctx, span := storeTracer.Start(ctx, "Manager.SearchEntitiesParallel")
	defer span.End()

	span.SetAttributes(
		attribute.Int("entity_count", len(entityIDs)),
		attribute.Int("k", k),
	)

	perEntity := make([][]SearchResult, len(entityIDs))
	var g errgroup.Group
	g.SetLimit(m.config.Workers)

	for i, entityID := range entityIDs {
		i, entityID := i, entityID
		g.Go(func() error {
			store, err := m.GetStore(ctx, entityID)
			if err == nil {
				err = runWithTimeout(ctx, m.config.SearchTimeout, func(taskCtx context.Context) error {
					hits, searchErr := store.Search(taskCtx, query, k, nil)
					if searchErr != nil {
						return searchErr
					}
					perEntity[i] = hits
					return nil
				})
			}
			if err != nil {
				parallelTaskFailures.WithLabelValues("search").Inc()
				m.logger.Warn("parallel search task failed",
					zap.String("entity_id", entityID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string][]SearchResult, len(entityIDs))
	for i, entityID := range entityIDs {
		if perEntity[i] == nil {
			perEntity[i] = []SearchResult{}
		}
		results[entityID] = perEntity[i]
	}

	span.SetStatus(codes.Ok, "success")
	return results
}

// CleanupEntity evicts an entity's store from the cache without
// touching on-disk data. The next access reloads it from disk.
func (m *Manager) CleanupEntity(entityID string) error {
	m.mu.Lock()
	entry := m.stores[entityID]
	delete(m.stores, entityID)
	cachedStores.Set(float64(len(m.stores)))
	m.mu.Unlock()

	if entry == nil || entry.store == nil {
		return nil
	}
	m.logger.Info("evicted entity store", zap.String("entity_id", entityID))
	return entry.store.Close()
}

// Stats returns one entity's store statistics, loading the store if
// needed.
func (m *Manager) Stats(ctx context.Context, entityID string) (Stats, error) {
	store, err := m.GetStore(ctx, entityID)
	if err != nil {
		return Stats{}, err
	}
	return store.Stats(), nil
}

// CachedEntities returns the entity IDs currently held in the cache.
func (m *Manager) CachedEntities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close evicts every cached store and rejects further access.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for entityID, entry := range m.stores {
		if entry.store == nil {
			continue
		}
		if err := entry.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store %s: %w", entityID, err)
		}
	}
	m.stores = make(map[string]*storeEntry)
	cachedStores.Set(0)

	m.logger.Info("entity store manager closed")
	return firstErr
}

// runWithTimeout runs fn with a deadline. The underlying embedding and
// index calls are treated as atomic units of work, so a timed-out task
// is reported without cancelling the work mid-flight.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(taskCtx) }()

	select {
	case err := <-done:
		return err
	case <-taskCtx.Done():
		return fmt.Errorf("task timed out after %s: %w", timeout, taskCtx.Err())
	}
}

func sortedKeys(m map[string][]FileInput) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
