package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rhuss/parley/pkg/api"
)

// HistoryItemID is the item id of a session's history document.
const HistoryItemID = "history"

// SessionStore loads and saves conversation sessions.
type SessionStore interface {
	// Get returns nil and no error when the session does not exist.
	Get(ctx context.Context, id string) (*api.Session, error)
	Put(ctx context.Context, s *api.Session) error
}

// ItemSessionStore keeps each session as the history item of its own
// partition in the chats source.
type ItemSessionStore struct {
	items ItemStore
}

var _ SessionStore = (*ItemSessionStore)(nil)

// NewSessionStore creates a session store over items.
func NewSessionStore(items ItemStore) *ItemSessionStore {
	return &ItemSessionStore{items: items}
}

type historyDoc struct {
	ID           string         `json:"id"`
	PartitionKey string         `json:"partitionKey"`
	Type         string         `json:"type"`
	Messages     []api.Message  `json:"messages"`
	Metadata     map[string]any `json:"metadata"`
}

// Get loads a session by id.
func (s *ItemSessionStore) Get(ctx context.Context, id string) (*api.Session, error) {
	item, err := s.items.GetItem(ctx, SourceChats, id, HistoryItemID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", id, err)
	}
	var doc historyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &api.Session{ID: id, Messages: doc.Messages, Metadata: doc.Metadata}, nil
}

// Put saves a session, replacing any previous history.
func (s *ItemSessionStore) Put(ctx context.Context, sess *api.Session) error {
	if sess.ID == "" {
		return api.NewConfigurationError("session", "cannot persist a session without an id")
	}
	doc := historyDoc{
		ID:           HistoryItemID,
		PartitionKey: sess.ID,
		Type:         "thread",
		Messages:     sess.Messages,
		Metadata:     sess.Metadata,
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	return s.items.UpsertItem(ctx, SourceChats, item)
}
