package items

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/storage"
)

func (p *Provider) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := p.store.GetItem(r.Context(), r.PathValue("source"), r.PathValue("partition"), r.PathValue("id"))
	p.record("get", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (p *Provider) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := p.store.ListPartition(r.Context(), r.PathValue("source"), r.PathValue("partition"))
	p.record("list", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": items})
}

func (p *Provider) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var item storage.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.NewInvalidRequestError("body", "invalid JSON body")})
		return
	}
	err := p.store.UpsertItem(r.Context(), r.PathValue("source"), item)
	p.record("upsert", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": item.ID(), "partitionKey": item.Partition(), "upserted": true})
}

func (p *Provider) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := p.store.DeleteItem(r.Context(), r.PathValue("source"), r.PathValue("partition"), id)
	p.record("delete", err)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.NewNotFoundError("item not found")})
	case errors.Is(err, storage.ErrInvalidItem):
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.NewInvalidRequestError("item", err.Error())})
	default:
		slog.Error("item store failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: api.NewServerError("item store failure")})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
