package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oliverpay/txregistry/internal/registry"
)

// maxRequestBody bounds request payloads well above the registry blob
// ceilings, leaving headroom for the scalar fields.
const maxRequestBody = 64 << 10

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	created, err := h.registry.Create(r.Context(), payload)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")

	tx, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction_not_found", "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handlers) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")

	fields, ok := decodePayload(w, r)
	if !ok {
		return
	}

	updated, err := h.registry.Update(r.Context(), id, fields)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")

	if _, err := h.registry.Delete(r.Context(), id); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *handlers) queryTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filters := map[string]any{}
	for _, key := range []string{
		"transactionId", "transaction_id",
		"customer_uid", "customerUid", "customerId",
		"order_type", "orderType",
		"status", "dateStart", "dateEnd",
		"ownerId", "owner_uuid", "owner", "ownerIds",
	} {
		if v := query.Get(key); v != "" {
			filters[key] = v
		}
	}
	if owners := query["owner_ids"]; len(owners) > 0 {
		filters["owner_ids"] = owners
	}

	page := registry.Page{
		Limit:  queryInt(query.Get("limit")),
		Offset: queryInt(query.Get("offset")),
	}

	result, err := h.registry.Query(r.Context(), filters, page)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) transactionStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"total": h.registry.CountAll(r.Context()),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		count, err := h.registry.CountByStatus(r.Context(), status)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		stats["by_status"] = map[string]int{status: count}
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodePayload reads a bounded JSON object body, replying 400 on failure.
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_value", "request body is not a JSON object")
		return nil, false
	}
	return payload, true
}

func queryInt(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
