package handler

import (
	"net/http"

	"github.com/lumenstack/logflow/apierr"
	"github.com/lumenstack/logflow/notifyhub"
	"github.com/lumenstack/logflow/reqctx"
)

// NotificationsHandler serves the real-time error/critical notification
// stream over SSE.
type NotificationsHandler struct {
	hub *notifyhub.Hub
}

func NewNotificationsHandler(hub *notifyhub.Hub) *NotificationsHandler {
	return &NotificationsHandler{hub: hub}
}

// Stream handles GET /api/v1/notifications/stream.
func (h *NotificationsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	projectID := reqctx.ProjectID(r.Context())
	if projectID == "" {
		apierr.WriteJSON(w, apierr.Unauthorized("missing credential"))
		return
	}
	h.hub.ServeHTTP(w, r, projectID)
}
