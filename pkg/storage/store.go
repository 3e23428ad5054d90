package storage

import (
	"context"
	"time"
)

// Well-known sources and document keys.
const (
	// SourceChats holds session histories. It is used when no source is named.
	SourceChats = "chats"

	// SourceConfigs holds named chat configurations.
	SourceConfigs = "configs"

	// ConfigsAlias is the caller-facing name of SourceConfigs.
	ConfigsAlias = "_CONFIGS_"

	KeyID        = "id"
	KeyPartition = "partitionKey"

	// KeyTimestamp is stamped on every upsert, in Unix seconds.
	KeyTimestamp = "_ts"
)

// Item is a stored JSON document.
type Item map[string]any

// ID returns the item id or "".
func (i Item) ID() string {
	s, _ := i[KeyID].(string)
	return s
}

// Partition returns the item partition key or "".
func (i Item) Partition() string {
	s, _ := i[KeyPartition].(string)
	return s
}

// Validate checks that the addressing keys are present.
func (i Item) Validate() error {
	if i.ID() == "" || i.Partition() == "" {
		return ErrInvalidItem
	}
	return nil
}

// Stamp sets the update timestamp.
func (i Item) Stamp(t time.Time) {
	i[KeyTimestamp] = t.Unix()
}

// ResolveSource maps caller-facing source names to storage namespaces.
func ResolveSource(source string) string {
	switch source {
	case "":
		return SourceChats
	case ConfigsAlias:
		return SourceConfigs
	}
	return source
}

// ItemStore persists items grouped by source and partition.
type ItemStore interface {
	// GetItem returns ErrNotFound when the item does not exist.
	GetItem(ctx context.Context, source, partition, id string) (Item, error)

	// ListPartition returns the items of a partition, most recently
	// updated first.
	ListPartition(ctx context.Context, source, partition string) ([]Item, error)

	// UpsertItem inserts or replaces the item addressed by its id and
	// partitionKey members.
	UpsertItem(ctx context.Context, source string, item Item) error

	// DeleteItem returns ErrNotFound when the item does not exist.
	DeleteItem(ctx context.Context, source, partition, id string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

type tenantKey struct{}

// SetTenant scopes the item, session and config access made with ctx to
// tenantID. The auth middleware sets it from the authenticated identity.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant ctx is scoped to. Anonymous requests share
// the "" namespace.
func GetTenant(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	return tenant
}
