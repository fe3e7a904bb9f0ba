// Package handler implements the HTTP handlers mounted by the router:
// ingestion, queue introspection, log retrieval/search, pre-aggregated
// metrics, and the real-time notification stream.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/ingest"
	"github.com/lumenstack/logflow/reqctx"
)

// IngestHandler serves the Ingest Front's HTTP surface.
type IngestHandler struct {
	front *ingest.Front
}

func NewIngestHandler(front *ingest.Front) *IngestHandler {
	return &IngestHandler{front: front}
}

// Single handles POST /api/v1/ingest/single.
func (h *IngestHandler) Single(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteJSON(w, apierr.Validation("failed to read request body"))
		return
	}

	_, err = h.front.Ingest(r.Context(), projectID, body)
	if err != nil {
		apierr.WriteJSON(w, err)
		return
	}
	apierr.WriteData(w, http.StatusAccepted, map[string]interface{}{"accepted": 1, "rejected": 0})
}

// batchRequest is the wire shape of a batch ingest request.
type batchRequest struct {
	Events []json.RawMessage `json:"events"`
}

// Batch handles POST /api/v1/ingest/batch.
func (h *IngestHandler) Batch(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteJSON(w, apierr.Validation("invalid batch payload"))
		return
	}
	if len(req.Events) == 0 {
		apierr.WriteJSON(w, apierr.Validation("events must be a non-empty array"))
		return
	}

	accepted, rejections := h.front.IngestBatch(r.Context(), projectID, req.Events)

	status := http.StatusAccepted
	if len(accepted) == 0 {
		status = http.StatusBadRequest
	}
	apierr.WriteData(w, status, map[string]interface{}{
		"accepted": len(accepted),
		"rejected": len(rejections),
		"errors":   rejections,
	})
}

// QueueDepth handles GET /api/v1/queue/depth.
func (h *IngestHandler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())

	depth, err := h.front.Depth(r.Context(), projectID)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal("failed to read queue depth"))
		return
	}
	apierr.WriteData(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"depth":      depth,
	})
}
