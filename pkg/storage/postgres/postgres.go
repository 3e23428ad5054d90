// Package postgres provides a PostgreSQL implementation of storage.ItemStore.
// It uses pgx/v5 for connection pooling and JSONB for item documents.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/parley/pkg/storage"
)

// Store is a PostgreSQL-backed ItemStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.ItemStore at compile time.
var _ storage.ItemStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// GetItem retrieves one item document.
func (s *Store) GetItem(ctx context.Context, source, partition, id string) (storage.Item, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM items
		WHERE tenant_id = $1 AND source = $2 AND partition_key = $3 AND id = $4
	`, storage.GetTenant(ctx), storage.ResolveSource(source), partition, id).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying item: %w", err)
	}
	return decode(data)
}

// ListPartition returns the items of a partition, most recently updated
// first.
func (s *Store) ListPartition(ctx context.Context, source, partition string) ([]storage.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM items
		WHERE tenant_id = $1 AND source = $2 AND partition_key = $3
		ORDER BY seq DESC
	`, storage.GetTenant(ctx), storage.ResolveSource(source), partition)
	if err != nil {
		return nil, fmt.Errorf("querying partition: %w", err)
	}
	defer rows.Close()

	items := []storage.Item{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		item, err := decode(data)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating partition: %w", err)
	}
	return items, nil
}

// UpsertItem inserts or replaces an item. Replacing moves it to the front
// of its partition listing.
func (s *Store) UpsertItem(ctx context.Context, source string, item storage.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	now := time.Now()
	stamped := make(storage.Item, len(item)+1)
	for k, v := range item {
		stamped[k] = v
	}
	stamped.Stamp(now)

	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO items (tenant_id, source, partition_key, id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, source, partition_key, id) DO UPDATE
		SET data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at,
		    seq = nextval(pg_get_serial_sequence('items', 'seq'))
	`, storage.GetTenant(ctx), storage.ResolveSource(source), item.Partition(), item.ID(), data, now)
	if err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	return nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, source, partition, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM items
		WHERE tenant_id = $1 AND source = $2 AND partition_key = $3 AND id = $4
	`, storage.GetTenant(ctx), storage.ResolveSource(source), partition, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func decode(data []byte) (storage.Item, error) {
	var item storage.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling item: %w", err)
	}
	return item, nil
}
