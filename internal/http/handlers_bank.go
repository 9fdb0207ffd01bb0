package http

import (
	"net/http"
	"strings"

	"expensetracker/internal/amqp"
	"expensetracker/internal/log"
)

func (s *Server) handleStartLink(w http.ResponseWriter, r *http.Request) {
	var req startLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	consentURL, err := s.svc.Links.StartLink(r.Context(), UserIDFrom(r.Context()), req.toService())
	if err != nil {
		writeServiceError(w, r, log.OpStartLink, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "link": consentURL})
}

// handleCallback completes the link named by the provider's ref parameter.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		sendJSONError(w, "missing ref parameter", http.StatusBadRequest)
		return
	}

	link, err := s.svc.Links.CompleteLink(r.Context(), ref)
	if err != nil {
		writeServiceError(w, r, log.OpCompleteLink, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": link.Status})
}

func (s *Server) handleRefreshLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.svc.Links.RefreshLink(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, log.OpRefreshLink, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "link": newLinkResponse(link)})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.svc.Links.GetLink(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newLinkResponse(link))
}

func (s *Server) handleListInstitutions(w http.ResponseWriter, r *http.Request) {
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if len(country) != 2 {
		sendJSONError(w, "country must be a two letter ISO code", http.StatusBadRequest)
		return
	}

	institutions, err := s.svc.Links.ListInstitutions(r.Context(), country)
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"institutions": institutions})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseDateParam("dateFrom", req.DateFrom)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	to, err := parseDateParam("dateTo", req.DateTo)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}

	result, err := s.svc.Importer.Import(r.Context(), UserIDFrom(r.Context()), from, to)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Success:  true,
		Imported: result.Imported,
		Inserted: result.Inserted,
		Updated:  result.Updated,
	})
}

// handleImportAsync queues the import for the worker. Only the date format
// is checked here; the worker applies the full window rules.
func (s *Server) handleImportAsync(w http.ResponseWriter, r *http.Request) {
	if s.svc.Publisher == nil {
		sendJSONError(w, "queued imports are not enabled", http.StatusServiceUnavailable)
		return
	}

	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseDateParam("dateFrom", req.DateFrom)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	to, err := parseDateParam("dateTo", req.DateTo)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}

	msg := amqp.NewImportRequestMessage(UserIDFrom(r.Context()), from, to)
	if err := s.svc.Publisher.PublishImportRequest(r.Context(), msg); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to queue import",
			log.FieldOperation, log.OpImport,
			log.FieldError, err)
		sendJSONError(w, "could not queue import", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "requestId": msg.ID})
}
