package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sentinel errors for collection operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound is returned by FindOne when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrMissingShardKey is returned when an upsert into a sharded
	// collection cannot derive a shard key from the filter or update.
	ErrMissingShardKey = errors.New("upsert requires a shard key in sharded mode")
)

// idField is the record identity field, assigned on upsert-insert.
const idField = "_id"

// Config holds configuration for a Store.
type Config struct {
	// Dir is the base directory for collection files.
	Dir string

	// Sharded splits each collection into one file per shard-key value.
	// When false the store runs in monolithic mode: one file per
	// collection, equivalent to a single-shard case of the same logic.
	Sharded bool

	// ShardField is the record field used to route to shard files.
	// Default: "entity_id"
	ShardField string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ShardField == "" {
		c.ShardField = "entity_id"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: dir is required", ErrInvalidConfig)
	}
	return nil
}

// Store is a document store over named collections, physically partitioned
// into per-shard-key JSON files so operations scoped to one shard never
// lock another shard's file.
//
// Every shard mutation is a whole-file read-modify-write under that
// shard's lock, persisted through the atomic replace discipline of
// FileStore. Shard files are expected to stay small (bounded per-entity
// record counts); that is the reason sharding-by-entity exists.
type Store struct {
	config Config
	files  *FileStore
	logger *zap.Logger
}

// NewStore creates a Store. A nil files argument creates a private
// FileStore; passing a shared one lets callers reuse its lock table.
func NewStore(config Config, files *FileStore, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if files == nil {
		files = NewFileStore(logger)
	}

	logger.Info("initialized collection store",
		zap.String("dir", config.Dir),
		zap.Bool("sharded", config.Sharded),
		zap.String("shard_field", config.ShardField),
	)

	return &Store{
		config: config,
		files:  files,
		logger: logger,
	}, nil
}

// Collection returns a handle for the named collection.
func (s *Store) Collection(name string) *Collection {
	return &Collection{store: s, name: name}
}

// Collection is a query/update handle bound to one named collection.
type Collection struct {
	store *Store
	name  string
}

// UpdateResult reports the outcome of an update operation.
type UpdateResult struct {
	Matched  int
	Modified int
}

// DeleteResult reports the outcome of a delete operation.
type DeleteResult struct {
	Deleted int
}

// shard is the on-disk representation of one shard file: records keyed by
// their identity field.
type shard map[string]Record

func (s *Store) collectionPath(name, shardKey string) string {
	if s.config.Sharded && shardKey != "" {
		return filepath.Join(s.config.Dir, name, shardKey+".json")
	}
	return filepath.Join(s.config.Dir, name+".json")
}

// shardPaths returns the files a filter can touch: the exact shard files
// when the filter pins the shard field, otherwise every shard file of the
// collection (the scatter path).
func (s *Store) shardPaths(name string, f Filter) ([]string, error) {
	if !s.config.Sharded {
		return []string{s.collectionPath(name, "")}, nil
	}

	if keys := shardKeys(f, s.config.ShardField); keys != nil {
		paths := make([]string, len(keys))
		for i, key := range keys {
			paths[i] = s.collectionPath(name, key)
		}
		return paths, nil
	}

	pattern := filepath.Join(s.config.Dir, name, "*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing shards for %s: %w", name, err)
	}
	sort.Strings(paths)
	scatterLoads.WithLabelValues(name).Inc()
	return paths, nil
}

// loadShardLocked reads one shard file. Caller holds the path lock. A
// missing file is an empty shard; a corrupt file is surfaced.
func (s *Store) loadShardLocked(path string) (shard, error) {
	var data shard
	if err := s.files.readJSONLocked(path, &data); err != nil {
		if errors.Is(err, ErrNotExist) {
			return shard{}, nil
		}
		return nil, err
	}
	if data == nil {
		data = shard{}
	}
	return data, nil
}

// loadShard reads one shard file under its lock.
func (s *Store) loadShard(path string) (shard, error) {
	lock := s.files.locks.get(path)
	lock.Lock()
	defer lock.Unlock()
	return s.loadShardLocked(path)
}

// FindOne returns the first record matching f, or ErrNotFound.
func (c *Collection) FindOne(f Filter) (Record, error) {
	start := time.Now()
	defer func() { readDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds()) }()

	paths, err := c.store.shardPaths(c.name, f)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		data, err := c.store.loadShard(path)
		if err != nil {
			return nil, err
		}
		for _, id := range sortedIDs(data) {
			if f.Matches(data[id]) {
				return data[id], nil
			}
		}
	}
	return nil, ErrNotFound
}

// Find returns every record matching f.
func (c *Collection) Find(f Filter) ([]Record, error) {
	start := time.Now()
	defer func() { readDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds()) }()

	paths, err := c.store.shardPaths(c.name, f)
	if err != nil {
		return nil, err
	}

	var results []Record
	for _, path := range paths {
		data, err := c.store.loadShard(path)
		if err != nil {
			return nil, err
		}
		for _, id := range sortedIDs(data) {
			if f.Matches(data[id]) {
				results = append(results, data[id])
			}
		}
	}
	return results, nil
}

// UpdateOne applies u to the first record matching f. With upsert, a
// non-matching filter inserts a new record built from the filter's
// equality fields and the update body.
//
// The whole read-modify-write cycle for a shard runs under that shard's
// lock, so concurrent updates to the same shard serialize while updates
// to different shards proceed in parallel.
func (c *Collection) UpdateOne(f Filter, u Update, upsert bool) (UpdateResult, error) {
	start := time.Now()
	defer func() { writeDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds()) }()

	paths, err := c.store.shardPaths(c.name, f)
	if err != nil {
		return UpdateResult{}, err
	}

	for _, path := range paths {
		res, matched, err := c.store.updateOneInShard(path, f, u)
		if err != nil {
			return UpdateResult{}, err
		}
		if matched {
			return res, nil
		}
	}

	if !upsert {
		return UpdateResult{}, nil
	}
	return c.upsertNew(f, u)
}

// updateOneInShard applies u to the first matching record in one shard
// file, under the shard lock.
func (s *Store) updateOneInShard(path string, f Filter, u Update) (UpdateResult, bool, error) {
	lock := s.files.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := s.loadShardLocked(path)
	if err != nil {
		return UpdateResult{}, false, err
	}

	for _, id := range sortedIDs(data) {
		if !f.Matches(data[id]) {
			continue
		}
		res := UpdateResult{Matched: 1}
		if u.apply(data[id]) {
			res.Modified = 1
			if err := s.files.writeJSONLocked(path, data); err != nil {
				return UpdateResult{}, false, err
			}
		}
		return res, true, nil
	}
	return UpdateResult{}, false, nil
}

// upsertNew inserts the record an unmatched upsert produces, routed to
// the shard derived from the filter or update body.
func (c *Collection) upsertNew(f Filter, u Update) (UpdateResult, error) {
	record := u.newRecord(f)

	id := recordID(record, c.store.config.ShardField)
	record[idField] = id

	shardKey := ""
	if c.store.config.Sharded {
		key, ok := record[c.store.config.ShardField].(string)
		if !ok || key == "" {
			return UpdateResult{}, ErrMissingShardKey
		}
		shardKey = key
	}

	path := c.store.collectionPath(c.name, shardKey)
	lock := c.store.files.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := c.store.loadShardLocked(path)
	if err != nil {
		return UpdateResult{}, err
	}

	// A concurrent upsert may have inserted a matching record between
	// shard routing and lock acquisition; apply to it instead.
	for _, existingID := range sortedIDs(data) {
		if f.Matches(data[existingID]) {
			res := UpdateResult{Matched: 1}
			if u.apply(data[existingID]) {
				res.Modified = 1
				if err := c.store.files.writeJSONLocked(path, data); err != nil {
					return UpdateResult{}, err
				}
			}
			return res, nil
		}
	}

	data[id] = record
	if err := c.store.files.writeJSONLocked(path, data); err != nil {
		return UpdateResult{}, err
	}
	upserts.WithLabelValues(c.name).Inc()
	return UpdateResult{Modified: 1}, nil
}

// DeleteOne removes the first record matching f.
func (c *Collection) DeleteOne(f Filter) (DeleteResult, error) {
	return c.delete(f, true)
}

// DeleteMany removes every record matching f.
func (c *Collection) DeleteMany(f Filter) (DeleteResult, error) {
	return c.delete(f, false)
}

func (c *Collection) delete(f Filter, single bool) (DeleteResult, error) {
	start := time.Now()
	defer func() { writeDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds()) }()

	paths, err := c.store.shardPaths(c.name, f)
	if err != nil {
		return DeleteResult{}, err
	}

	total := 0
	for _, path := range paths {
		deleted, err := c.store.deleteInShard(path, f, single)
		if err != nil {
			return DeleteResult{}, err
		}
		total += deleted
		if single && total > 0 {
			break
		}
	}
	return DeleteResult{Deleted: total}, nil
}

func (s *Store) deleteInShard(path string, f Filter, single bool) (int, error) {
	lock := s.files.locks.get(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := s.loadShardLocked(path)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range sortedIDs(data) {
		if !f.Matches(data[id]) {
			continue
		}
		delete(data, id)
		deleted++
		if single {
			break
		}
	}

	if deleted == 0 {
		return 0, nil
	}
	if err := s.files.writeJSONLocked(path, data); err != nil {
		return 0, err
	}
	return deleted, nil
}

// recordID picks the identity for an upserted record: an explicit _id,
// then the most specific domain key present (chunk_id before doc_id, so
// a document's chunks never collapse onto one identity), then the shard
// field, then a fresh UUID.
func recordID(r Record, shardField string) string {
	for _, field := range []string{idField, "chunk_id", "doc_id", shardField} {
		if v, ok := r[field].(string); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// sortedIDs returns the shard's record IDs in stable order so matching
// semantics ("first match") are deterministic.
func sortedIDs(data shard) []string {
	ids := make([]string, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
