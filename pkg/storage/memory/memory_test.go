package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/storage"
)

func item(partition, id string, extra map[string]any) storage.Item {
	it := storage.Item{"id": id, "partitionKey": partition}
	for k, v := range extra {
		it[k] = v
	}
	return it
}

func TestUpsertAndGet(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, "", item("p1", "a", map[string]any{"name": "alpha"})); err != nil {
		t.Fatalf("UpsertItem: %v", err)
	}

	got, err := s.GetItem(ctx, "chats", "p1", "a")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got["name"] != "alpha" {
		t.Errorf("name = %v", got["name"])
	}
	if _, ok := got[storage.KeyTimestamp]; !ok {
		t.Error("upsert did not stamp _ts")
	}

	got["name"] = "mutated"
	again, _ := s.GetItem(ctx, "", "p1", "a")
	if again["name"] != "alpha" {
		t.Error("GetItem must return a copy")
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.UpsertItem(ctx, "x", item("p", "a", map[string]any{"v": 1}))
	s.UpsertItem(ctx, "x", item("p", "a", map[string]any{"v": 2}))

	got, _ := s.GetItem(ctx, "x", "p", "a")
	if got["v"] != 2.0 {
		t.Errorf("v = %v, want 2", got["v"])
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestUpsertRequiresKeys(t *testing.T) {
	s := New(0)
	err := s.UpsertItem(context.Background(), "", storage.Item{"id": "a"})
	if !errors.Is(err, storage.ErrInvalidItem) {
		t.Errorf("err = %v, want ErrInvalidItem", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(0)
	_, err := s.GetItem(context.Background(), "", "p", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.UpsertItem(ctx, "", item("p", "a", nil))

	if err := s.DeleteItem(ctx, "", "p", "a"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := s.GetItem(ctx, "", "p", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted item still readable: %v", err)
	}
	if err := s.DeleteItem(ctx, "", "p", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListPartitionNewestFirst(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.UpsertItem(ctx, "", item("p", "first", nil))
	s.UpsertItem(ctx, "", item("p", "second", nil))
	s.UpsertItem(ctx, "", item("other", "x", nil))
	s.UpsertItem(ctx, "", item("p", "first", map[string]any{"touched": true}))

	items, err := s.ListPartition(ctx, "", "p")
	if err != nil {
		t.Fatalf("ListPartition: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID() != "first" || items[1].ID() != "second" {
		t.Errorf("order = %s, %s", items[0].ID(), items[1].ID())
	}
}

func TestConfigsAlias(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.UpsertItem(ctx, storage.ConfigsAlias, item("support", "configs", nil))

	if _, err := s.GetItem(ctx, storage.SourceConfigs, "support", "configs"); err != nil {
		t.Errorf("alias and namespace should address the same item: %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	s.UpsertItem(ctx, "", item("p", "a", nil))
	s.UpsertItem(ctx, "", item("p", "b", nil))

	// Touch "a" so "b" becomes the eviction candidate.
	s.GetItem(ctx, "", "p", "a")
	s.UpsertItem(ctx, "", item("p", "c", nil))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if _, err := s.GetItem(ctx, "", "p", "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expected b to be evicted")
	}
	if _, err := s.GetItem(ctx, "", "p", "a"); err != nil {
		t.Error("expected a to survive")
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New(0)
	acme := storage.SetTenant(context.Background(), "acme")
	globex := storage.SetTenant(context.Background(), "globex")

	s.UpsertItem(acme, "", item("p", "a", nil))
	if _, err := s.GetItem(globex, "", "p", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("item leaked across tenants")
	}
	if err := s.DeleteItem(globex, "", "p", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("delete crossed tenants")
	}
	if _, err := s.GetItem(acme, "", "p", "a"); err != nil {
		t.Errorf("owner lost access: %v", err)
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	sessions := storage.NewSessionStore(New(0))
	ctx := context.Background()

	got, err := sessions.Get(ctx, "thread-1")
	if err != nil || got != nil {
		t.Fatalf("missing session: got %v, %v", got, err)
	}

	sess := &api.Session{ID: "thread-1"}
	sess.Append(api.NewTextMessage(api.RoleSystem, "be brief"))
	sess.Append(api.NewTextMessage(api.RoleUser, "What is 2+2?"))
	answer := api.NewTextMessage(api.RoleAssistant, "4")
	answer.Citations = []api.Citation{{Title: "arithmetic"}}
	sess.Append(answer)

	if err := sessions.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err = sessions.Get(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages", len(got.Messages))
	}
	if got.Messages[0].Role != api.RoleSystem || got.Messages[2].Text() != "4" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Messages[2].Timestamp == 0 {
		t.Error("timestamps were not persisted")
	}
	if len(got.Messages[2].Citations) != 1 {
		t.Error("citations were not persisted")
	}
}

func TestSessionStoreRequiresID(t *testing.T) {
	sessions := storage.NewSessionStore(New(0))
	err := sessions.Put(context.Background(), &api.Session{})
	if !api.IsConfiguration(err) {
		t.Errorf("err = %v, want configuration error", err)
	}
}
