package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
)

// Directory resolves agent names or ids. Lookups are case-insensitive and
// served from a cache that is refilled from ListAgents on a miss.
type Directory struct {
	svc Service

	mu    sync.RWMutex
	byKey map[string]Agent
}

// NewDirectory creates an empty directory over svc.
func NewDirectory(svc Service) *Directory {
	return &Directory{svc: svc, byKey: make(map[string]Agent)}
}

// Lookup returns the agent whose name or id matches ref.
func (d *Directory) Lookup(ctx context.Context, ref string) (Agent, error) {
	key := strings.ToLower(strings.TrimSpace(ref))

	d.mu.RLock()
	a, ok := d.byKey[key]
	d.mu.RUnlock()
	if ok {
		return a, nil
	}

	if err := d.Refresh(ctx); err != nil {
		return Agent{}, err
	}

	d.mu.RLock()
	a, ok = d.byKey[key]
	d.mu.RUnlock()
	if !ok {
		return Agent{}, api.NewNotFoundError(fmt.Sprintf("agent %q not found", ref))
	}
	return a, nil
}

// Name returns the display name of an agent, or the id itself when the
// agent is unknown.
func (d *Directory) Name(ctx context.Context, id string) string {
	a, err := d.Lookup(ctx, id)
	if err != nil || a.Name == "" {
		return id
	}
	return a.Name
}

// Refresh replaces the cache with the current agent list.
func (d *Directory) Refresh(ctx context.Context) error {
	list, err := d.svc.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	byKey := make(map[string]Agent, 2*len(list))
	for _, a := range list {
		if a.Name != "" {
			byKey[strings.ToLower(a.Name)] = a
		}
		byKey[strings.ToLower(a.ID)] = a
	}

	d.mu.Lock()
	d.byKey = byKey
	d.mu.Unlock()

	debug.Log("agents", "agent directory refreshed", "agents", len(list))
	return nil
}
