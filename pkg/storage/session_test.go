package storage_test

import (
	"context"
	"testing"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/storage/memory"
)

func TestSessionStore_GetMissing(t *testing.T) {
	sessions := storage.NewSessionStore(memory.New(10))

	sess, err := sessions.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Errorf("Get = %+v, want nil", sess)
	}
}

func TestSessionStore_PutGet(t *testing.T) {
	items := memory.New(10)
	sessions := storage.NewSessionStore(items)
	ctx := context.Background()

	in := &api.Session{
		ID: "s1",
		Messages: []api.Message{
			api.NewTextMessage(api.RoleSystem, "be brief"),
			api.NewTextMessage(api.RoleUser, "hi"),
		},
		Metadata: map[string]any{"model": "gpt-4"},
	}
	if err := sessions.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	out, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out == nil || len(out.Messages) != 2 {
		t.Fatalf("Get = %+v", out)
	}
	if out.Messages[1].Text() != "hi" {
		t.Errorf("second message = %q", out.Messages[1].Text())
	}
	if out.Metadata["model"] != "gpt-4" {
		t.Errorf("metadata = %v", out.Metadata)
	}

	// The history is an ordinary item in the chats source.
	item, err := items.GetItem(ctx, storage.SourceChats, "s1", storage.HistoryItemID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item["type"] != "thread" {
		t.Errorf("type = %v, want thread", item["type"])
	}
}

func TestSessionStore_PutWithoutID(t *testing.T) {
	sessions := storage.NewSessionStore(memory.New(10))

	err := sessions.Put(context.Background(), &api.Session{})
	if !api.IsConfiguration(err) {
		t.Errorf("err = %v, want a configuration error", err)
	}
}

func TestSessionStore_TenantIsolation(t *testing.T) {
	sessions := storage.NewSessionStore(memory.New(10))
	acme := storage.SetTenant(context.Background(), "acme")
	globex := storage.SetTenant(context.Background(), "globex")

	if err := sessions.Put(acme, &api.Session{ID: "shared"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if sess, err := sessions.Get(globex, "shared"); err != nil || sess != nil {
		t.Errorf("other tenant Get = %+v, %v; want nil, nil", sess, err)
	}
	if sess, err := sessions.Get(acme, "shared"); err != nil || sess == nil {
		t.Errorf("owner Get = %+v, %v", sess, err)
	}
}

func TestTenant(t *testing.T) {
	ctx := context.Background()
	if got := storage.GetTenant(ctx); got != "" {
		t.Errorf("GetTenant(empty) = %q", got)
	}
	if got := storage.GetTenant(context.WithValue(ctx, "tenant", "x")); got != "" {
		t.Errorf("GetTenant(string key) = %q", got)
	}
	ctx = storage.SetTenant(storage.SetTenant(ctx, "a"), "b")
	if got := storage.GetTenant(ctx); got != "b" {
		t.Errorf("GetTenant = %q, want the innermost tenant", got)
	}
}
