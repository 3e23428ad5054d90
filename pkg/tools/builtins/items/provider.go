// Package items provides functions that read and write documents in the
// item store: get_item, get_partition_items, upsert_item and delete_item.
// The same operations are exposed as HTTP routes for administration.
package items

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

var sourceParam = tools.Param{
	Name:        "source",
	Type:        "string",
	Description: "The name of the item source (container) to use",
}

// Provider exposes an ItemStore to the model.
type Provider struct {
	store storage.ItemStore
	ops   *prometheus.CounterVec
}

var _ registry.FunctionProvider = (*Provider)(nil)

// New creates a provider over store.
func New(store storage.ItemStore) *Provider {
	return &Provider{
		store: store,
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_item_operations_total",
				Help: "Item store operations issued through functions and routes",
			},
			[]string{"op", "status"},
		),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "items" }

// Functions returns the item functions.
func (p *Provider) Functions() []tools.Function {
	return []tools.Function{
		tools.NewFunction(tools.FunctionSpec{
			Name:        "get_item",
			Description: "Retrieve a specific item from a container",
			Params: []tools.Param{
				{Name: "item_id", Type: "string", Description: "The id of the item", Required: true},
				{Name: "partition_key", Type: "string", Description: "The partition key of the item", Required: true},
				sourceParam,
			},
		}, p.getItem),
		tools.NewFunction(tools.FunctionSpec{
			Name:        "get_partition_items",
			Description: "Get all the items within the specified partition from a container",
			Params: []tools.Param{
				{Name: "partition_key", Type: "string", Description: "The partition key to list", Required: true},
				sourceParam,
			},
		}, p.getPartitionItems),
		tools.NewFunction(tools.FunctionSpec{
			Name:        "upsert_item",
			Description: "Update or insert an item into a container",
			Params: []tools.Param{
				{Name: "item", Type: "object", Description: "The item, including its id and partitionKey", Required: true},
				sourceParam,
			},
		}, p.upsertItem),
		tools.NewFunction(tools.FunctionSpec{
			Name:        "delete_item",
			Description: "Delete an item from a container",
			Params: []tools.Param{
				{Name: "item_id", Type: "string", Description: "The id of the item", Required: true},
				{Name: "partition_key", Type: "string", Description: "The partition key of the item", Required: true},
				sourceParam,
			},
		}, p.deleteItem),
	}
}

func (p *Provider) record(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.ops.WithLabelValues(op, status).Inc()
}

func (p *Provider) getItem(ctx context.Context, args map[string]any) (result any, err error) {
	defer func() { p.record("get", err) }()

	id, err := tools.RequireString(args, "item_id")
	if err != nil {
		return nil, err
	}
	partition, err := tools.RequireString(args, "partition_key")
	if err != nil {
		return nil, err
	}
	return p.store.GetItem(ctx, tools.String(args, "source", ""), partition, id)
}

func (p *Provider) getPartitionItems(ctx context.Context, args map[string]any) (result any, err error) {
	defer func() { p.record("list", err) }()

	partition, err := tools.RequireString(args, "partition_key")
	if err != nil {
		return nil, err
	}
	return p.store.ListPartition(ctx, tools.String(args, "source", ""), partition)
}

func (p *Provider) upsertItem(ctx context.Context, args map[string]any) (result any, err error) {
	defer func() { p.record("upsert", err) }()

	item, ok := tools.Object(args, "item")
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", "item")
	}
	if err := p.store.UpsertItem(ctx, tools.String(args, "source", ""), storage.Item(item)); err != nil {
		return nil, err
	}
	return true, nil
}

func (p *Provider) deleteItem(ctx context.Context, args map[string]any) (result any, err error) {
	defer func() { p.record("delete", err) }()

	id, err := tools.RequireString(args, "item_id")
	if err != nil {
		return nil, err
	}
	partition, err := tools.RequireString(args, "partition_key")
	if err != nil {
		return nil, err
	}
	if err := p.store.DeleteItem(ctx, tools.String(args, "source", ""), partition, id); err != nil {
		return nil, err
	}
	return true, nil
}

// Routes returns the item administration API.
func (p *Provider) Routes() []registry.Route {
	return []registry.Route{
		{Method: "GET", Pattern: "/v1/items/{source}/{partition}", Handler: p.handleList},
		{Method: "GET", Pattern: "/v1/items/{source}/{partition}/{id}", Handler: p.handleGet},
		{Method: "PUT", Pattern: "/v1/items/{source}", Handler: p.handleUpsert},
		{Method: "DELETE", Pattern: "/v1/items/{source}/{partition}/{id}", Handler: p.handleDelete},
	}
}

// Collectors returns the operation counter.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.ops}
}

// Close is a no-op; the store is owned by the caller.
func (p *Provider) Close() error { return nil }
