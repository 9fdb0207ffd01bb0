package http

import (
	"net/http"

	"expensetracker/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.Transactions.ListTransactions(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionResponse(&txs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		writeServiceError(w, r, log.OpCreate, err)
		return
	}

	tx, err := s.svc.Transactions.AddTransaction(r.Context(), UserIDFrom(r.Context()), entry)
	if err != nil {
		writeServiceError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	key, err := pathParam(r, "key")
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req transactionPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}

	tx, err := s.svc.Transactions.EditTransaction(r.Context(), UserIDFrom(r.Context()), key, patch)
	if err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	key, err := pathParam(r, "key")
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok, err := s.svc.Transactions.DeleteTransaction(r.Context(), UserIDFrom(r.Context()), key)
	if err != nil {
		writeServiceError(w, r, log.OpDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
