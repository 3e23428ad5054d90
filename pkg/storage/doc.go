// Package storage defines the item store contract shared by the storage
// adapters, and the session store that persists conversation history on
// top of it.
//
// Items are JSON documents addressed by source, partition key and id, in
// the manner of a partitioned document database. The conversation history
// of a session lives in the item with id "history" in the session's
// partition of the chats source. Named chat configurations live in the
// configs source.
//
// Adapters (memory, postgres) implement ItemStore. Tenant scoping is taken
// from the request context (see SetTenant).
package storage
