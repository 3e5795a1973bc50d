package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/experiment/orchestrator"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Sessions is the part of the orchestrator registry the gateway drives.
type Sessions interface {
	CreateSession(ctx context.Context, instructorID, name string, cfg models.SessionConfig) (string, error)
	OpenLobby(ctx context.Context, code, instructorID string) error
	StartSession(ctx context.Context, code, instructorID string) error
	EndSession(ctx context.Context, code, instructorID string) error
	Join(ctx context.Context, code string, req orchestrator.JoinRequest) (orchestrator.JoinResult, error)
	Leave(ctx context.Context, code, connID string)
	Heartbeat(ctx context.Context, code, connID string) error
	SubmitDecision(ctx context.Context, code, connID string, role models.DecisionRole, value float64) error
	Info(code string) (orchestrator.Info, error)
	List() []orchestrator.Info
}

// Client message types.
const (
	MessageJoin           = "join"
	MessageSubmitDecision = "submit_decision"
	MessageHeartbeat      = "heartbeat"
	MessageOpenLobby      = "open_lobby"
	MessageStartSession   = "start_session"
	MessageEndSession     = "end_session"
)

// ClientMessage is the envelope clients send over the socket.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type submitDecisionData struct {
	Role  models.DecisionRole `json:"role"`
	Value *float64            `json:"value"`
}

type instructorData struct {
	InstructorID string `json:"instructor_id"`
}

// WebSocketHandler upgrades session connections and routes their messages to
// the registry. Replies and rejections go back only to the sender.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sessions          Sessions
	requestTimeout    time.Duration
}

func NewWebSocketHandler(cm *ConnectionManager, sessions Sessions, requestTimeout time.Duration) *WebSocketHandler {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	h := &WebSocketHandler{
		connectionManager: cm,
		sessions:          sessions,
		requestTimeout:    requestTimeout,
	}
	cm.SetHandler(h)
	return h
}

// HandleSessionConnection handles GET /ws?session=CODE.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	code, err := orchestrator.NormalizeCode(r.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.connectionManager.UpgradeConnection(w, r, code); err != nil {
		// The upgrader has already written the HTTP error.
		log.Error().Err(err).Str("session_code", code).Msg("failed to upgrade WebSocket connection")
		return
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

// HandleMessage runs on the connection's read goroutine, so requests from one
// client are processed in the order they were sent.
func (h *WebSocketHandler) HandleMessage(c *Connection, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.sendError(c, fmt.Errorf("%w: malformed message", models.ErrValidation))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MessageJoin:
		err = h.join(ctx, c, msg.Data)
	case MessageSubmitDecision:
		var data submitDecisionData
		if err = decode(msg.Data, &data); err == nil {
			if data.Value == nil {
				err = fmt.Errorf("%w: value is required", models.ErrValidation)
			} else {
				err = h.sessions.SubmitDecision(ctx, c.SessionCode, c.ID, data.Role, *data.Value)
			}
		}
	case MessageHeartbeat:
		err = h.sessions.Heartbeat(ctx, c.SessionCode, c.ID)
	case MessageOpenLobby, MessageStartSession, MessageEndSession:
		err = h.instructorCommand(ctx, c, msg.Type, msg.Data)
	default:
		err = fmt.Errorf("%w: unknown message type %q", models.ErrValidation, msg.Type)
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("conn_id", c.ID).
			Str("session_code", c.SessionCode).
			Str("message_type", msg.Type).
			Msg("client request rejected")
		h.sendError(c, err)
	}
}

// HandleClose marks the participant on the closed connection disconnected.
func (h *WebSocketHandler) HandleClose(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()
	h.sessions.Leave(ctx, c.SessionCode, c.ID)
}

func (h *WebSocketHandler) join(ctx context.Context, c *Connection, data json.RawMessage) error {
	var req orchestrator.JoinRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	req.ConnID = c.ID

	res, err := h.sessions.Join(ctx, c.SessionCode, req)
	if err != nil {
		return err
	}
	h.send(c, events.TypeJoined, res)
	return nil
}

func (h *WebSocketHandler) instructorCommand(ctx context.Context, c *Connection, typ string, data json.RawMessage) error {
	var cmd instructorData
	if err := decode(data, &cmd); err != nil {
		return err
	}
	switch typ {
	case MessageOpenLobby:
		return h.sessions.OpenLobby(ctx, c.SessionCode, cmd.InstructorID)
	case MessageStartSession:
		return h.sessions.StartSession(ctx, c.SessionCode, cmd.InstructorID)
	default:
		return h.sessions.EndSession(ctx, c.SessionCode, cmd.InstructorID)
	}
}

func (h *WebSocketHandler) send(c *Connection, typ events.Type, payload any) {
	evt, err := events.New(c.SessionCode, typ, payload, time.Now())
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to build event")
		return
	}
	h.connectionManager.SendTo(c.SessionCode, c.ID, evt)
}

func (h *WebSocketHandler) sendError(c *Connection, err error) {
	kind := ErrorKind(err)
	message := err.Error()
	if kind == "internal" {
		log.Error().Err(err).Str("conn_id", c.ID).Str("session_code", c.SessionCode).Msg("request failed")
		message = "internal error"
	}
	h.send(c, events.TypeError, events.ErrorPayload{Message: message, Kind: kind})
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed message data", models.ErrValidation)
	}
	return nil
}

// ErrorKind maps an error to the kind reported to clients.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrPrecondition):
		return "precondition"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
