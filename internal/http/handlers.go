package http

import (
	"net/http"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/services"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Categories.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		subs := c.SubCategories
		if subs == nil {
			subs = []string{}
		}
		out = append(out, categoryResponse{Name: c.Name, SubCategories: subs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

// handleSubCategories answers an unknown category with an empty list.
func (s *Server) handleSubCategories(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	subs, err := s.svc.Categories.SubCategories(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, log.OpRead, err)
		return
	}
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// handlePutUser registers the caller, or updates their name and email.
func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := services.EnsureUser(r.Context(), s.svc.Users, core.User{
		ID:    UserIDFrom(r.Context()),
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Name: u.Name, Email: u.Email})
}
