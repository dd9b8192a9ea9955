// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dsumanth/coach-me-sub008/internal/auth"
)

// HTTPHandlers exposes a Store over the coaching REST API
type HTTPHandlers struct {
	store   Store
	logger  *slog.Logger
	appName string
}

// NewHTTPHandlers creates a new instance of the REST handlers
func NewHTTPHandlers(store Store, appName string, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{store: store, logger: logger, appName: appName}
}

// Routes builds the router. Everything except /status requires a bearer token.
func (h *HTTPHandlers) Routes(jwtAuth *JWTAuth) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/profiles/{owner}", h.HandleGetProfile)
	api.HandleFunc("PUT /v1/profiles/{owner}", h.HandlePutProfile)
	api.HandleFunc("GET /v1/conversations", h.HandleListConversations)
	api.HandleFunc("POST /v1/conversations", h.HandleCreateConversation)
	api.HandleFunc("DELETE /v1/conversations", h.HandleDeleteAllConversations)
	api.HandleFunc("GET /v1/conversations/{id}", h.HandleGetConversation)
	api.HandleFunc("DELETE /v1/conversations/{id}", h.HandleDeleteConversation)
	api.HandleFunc("GET /v1/conversations/{id}/messages", h.HandleListMessages)
	api.HandleFunc("POST /v1/conversations/{id}/messages", h.HandleAppendMessage)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.Handle("/v1/", jwtAuth.Middleware(api))
	return mux
}

// HandleStatus reports service health; used by clients as a reachability probe
func (h *HTTPHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:      StatusHealthy,
		Version:     APIVersion,
		AppName:     h.appName,
		Collections: []string{CollectionProfiles, CollectionConversations, CollectionMessages},
		Features: map[string]bool{
			"conditional_profile_writes": true,
			"server_authored_history":    true,
		},
	})
}

func (h *HTTPHandlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}
	rec, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err, "get_profile", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandlers) HandlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}
	var req PutProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Payload) == 0 {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse profile request")
		return
	}
	rec, err := h.store.PutProfile(r.Context(), userID, req.Payload, req.BaseUpdatedAt)
	if err != nil {
		h.writeStoreError(w, err, "put_profile", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	recs, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err, "list_conversations", userID)
		return
	}
	if recs == nil {
		recs = []Record{}
	}
	h.writeJSON(w, http.StatusOK, ListResponse{Records: recs})
}

func (h *HTTPHandlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !json.Valid(req.Payload) {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse conversation request")
		return
	}
	rec, err := h.store.CreateConversation(r.Context(), userID, req.ID, req.Payload)
	if err != nil {
		h.writeStoreError(w, err, "create_conversation", userID)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *HTTPHandlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	rec, err := h.store.GetConversation(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "get_conversation", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteConversation(r.Context(), userID, r.PathValue("id")); err != nil {
		h.writeStoreError(w, err, "delete_conversation", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteResponse{Deleted: 1})
}

func (h *HTTPHandlers) HandleDeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	n, err := h.store.DeleteAllConversations(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err, "delete_all_conversations", userID)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *HTTPHandlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	recs, err := h.store.ListMessages(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err, "list_messages", userID)
		return
	}
	if recs == nil {
		recs = []Record{}
	}
	h.writeJSON(w, http.StatusOK, ListResponse{Records: recs})
}

func (h *HTTPHandlers) HandleAppendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUser(w, r)
	if !ok {
		return
	}
	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !json.Valid(req.Payload) {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse message request")
		return
	}
	rec, err := h.store.AppendMessage(r.Context(), userID, r.PathValue("id"), req.ID, req.Payload)
	if err != nil {
		h.writeStoreError(w, err, "append_message", userID)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *HTTPHandlers) authenticatedUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthFailed, "missing user identity")
		return "", false
	}
	return p.UserID, true
}

// ownerFromPath authenticates the request and checks that the path owner is the caller
func (h *HTTPHandlers) ownerFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthFailed, "missing user identity")
		return "", false
	}
	if !p.Owns(r.PathValue("owner")) {
		h.writeError(w, http.StatusForbidden, CodeForbidden, "profile belongs to another user")
		return "", false
	}
	return p.UserID, true
}

func (h *HTTPHandlers) writeStoreError(w http.ResponseWriter, err error, op, userID string) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   CodeConflict,
			Message: conflict.Error(),
			Current: conflict.Current,
		})
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	default:
		h.logger.Error("Store operation failed", "op", op, "user_id", userID, "error", err)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to process request")
	}
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, errorCode, message)
	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
