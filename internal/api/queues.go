package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/management"
)

// QueueListResponse is the body of GET /api/v1/queues.
type QueueListResponse struct {
	VHost  string                       `json:"vhost"`
	Count  int                          `json:"count"`
	Queues []management.QueueDescriptor `json:"queues"`
}

// handleListQueues lists queues through the management API.
// The vhost query parameter overrides the configured virtual host.
func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		writeUnavailable(w, "queue directory not configured")
		return
	}

	vhost := r.URL.Query().Get("vhost")
	if vhost == "" {
		vhost = s.vhost
	}

	queues, err := s.directory.ListQueues(r.Context(), vhost)
	if err != nil {
		s.logger.Warn("queue listing failed", "vhost", vhost, "error", err)
		writeError(w, http.StatusBadGateway, directoryErrorCode(err), err.Error())
		return
	}
	if queues == nil {
		queues = []management.QueueDescriptor{}
	}

	writeJSON(w, http.StatusOK, QueueListResponse{VHost: vhost, Count: len(queues), Queues: queues})
}

// directoryErrorCode maps a directory error to its response code.
func directoryErrorCode(err error) string {
	switch {
	case errors.Is(err, management.ErrAuthentication):
		return ErrCodeDirectoryAuth
	case errors.Is(err, management.ErrMalformedResponse):
		return ErrCodeDirectoryMalformed
	case errors.Is(err, management.ErrVirtualHostNotFound):
		return ErrCodeDirectoryNotFound
	default:
		return ErrCodeDirectoryNetwork
	}
}
