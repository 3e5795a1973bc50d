package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	InstructorID string               `json:"instructor_id"`
	Name         string               `json:"name"`
	Config       models.SessionConfig `json:"config"`
}

type CreateSessionResponse struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// SessionsHandler serves the instructor HTTP API for creating and listing
// sessions. Lifecycle commands go over the websocket.
type SessionsHandler struct {
	sessions Sessions
	defaults func(models.SessionConfig) models.SessionConfig
}

// NewSessionsHandler returns a handler. defaults, if set, fills unset fields
// of a requested configuration before validation.
func NewSessionsHandler(sessions Sessions, defaults func(models.SessionConfig) models.SessionConfig) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, defaults: defaults}
}

func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.CreateSession)
	mux.HandleFunc("GET /sessions", h.ListSessions)
	mux.HandleFunc("GET /sessions/{code}", h.GetSession)
}

func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "validation"})
		return
	}

	cfg := req.Config
	if h.defaults != nil {
		cfg = h.defaults(cfg)
	}

	code, err := h.sessions.CreateSession(r.Context(), req.InstructorID, req.Name, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{Code: code})
}

func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Info(r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeError(w http.ResponseWriter, err error) {
	kind := ErrorKind(err)
	status := http.StatusInternalServerError
	message := err.Error()
	switch kind {
	case "validation":
		status = http.StatusBadRequest
	case "precondition":
		status = http.StatusConflict
	case "not_found":
		status = http.StatusNotFound
	case "timeout":
		status = http.StatusGatewayTimeout
	default:
		log.Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
