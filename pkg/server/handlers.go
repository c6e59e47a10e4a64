package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/livecoord/pkg/connections"
	"github.com/go-go-golems/livecoord/pkg/live"
	"github.com/go-go-golems/livecoord/pkg/transport"
	"github.com/go-go-golems/livecoord/pkg/transport/wsconn"
)

type healthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	LiveInUse         int    `json:"live_in_use"`
	LiveMax           int    `json:"live_max"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		ActiveConnections: s.coord.ActiveCount(),
		LiveInUse:         s.coord.Limiter().InUse(),
		LiveMax:           s.coord.Limiter().Max(),
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, s.coord.Profiles().List())
}

// decodeOptional reads a JSON object body; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

type createConnectionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	if _, ok := s.coord.Profiles().Get(profile); !ok {
		transport.WriteDetail(w, http.StatusNotFound, "Unknown agent_key")
		return
	}
	var req createConnectionRequest
	if err := decodeOptional(r, &req); err != nil {
		transport.WriteDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		transport.WriteDetail(w, http.StatusBadRequest, "user_id is required")
		return
	}
	conn, err := s.coord.CreateConnection(r.Context(), profile, userID, strings.TrimSpace(req.SessionID))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, conn)
}

type sessionsResponse struct {
	Count    int      `json:"count"`
	Sessions []string `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.coord.Sessions().List(r.Context(), s.coord.AppName(), r.PathValue("user_id"))
	ids := make([]string, 0, len(list))
	for _, sess := range list {
		ids = append(ids, sess.ID)
	}
	transport.WriteJSON(w, http.StatusOK, sessionsResponse{Count: len(ids), Sessions: ids})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID := r.PathValue("user_id"), r.PathValue("session_id")
	if !s.coord.DeleteSession(r.Context(), userID, sessionID) {
		transport.WriteDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": sessionID})
}

type summarizeRequest struct {
	Hint string `json:"hint"`
}

type summarizeResponse struct {
	SessionID string `json:"session_id"`
	Metadata  string `json:"metadata"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var req summarizeRequest
	if err := decodeOptional(r, &req); err != nil {
		transport.WriteDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, err := s.coord.Summarize(r.Context(), sessionID, strings.TrimSpace(req.Hint))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, summarizeResponse{SessionID: sessionID, Metadata: text})
}

// handleWebSocket attaches a websocket to a registered connection. Attach failures are
// reported as a plain text message before the socket is closed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	profile, connID := r.PathValue("profile"), r.PathValue("connection_id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	writer := wsconn.NewWriter(connID, conn, s.wsOpts)
	lc, err := s.coord.Attach(r.Context(), connID, profile, writer)
	if err != nil {
		log.Warn().Err(err).Str("component", "server").Str("conn_id", connID).Msg("websocket attach rejected")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(attachDiagnostic(err)))
		_ = conn.Close()
		return
	}
	if err := lc.Run(func(ctx context.Context) error {
		return wsconn.Serve(ctx, connID, conn, writer, lc)
	}); err != nil {
		log.Warn().Err(err).Str("component", "server").Str("conn_id", connID).Msg("websocket connection ended with error")
	}
}

func attachDiagnostic(err error) string {
	switch {
	case errors.Is(err, connections.ErrNotFound):
		return "Unknown connection_id. Create stream first."
	case errors.Is(err, live.ErrProfileMismatch):
		return "agent_key mismatch for this connection_id"
	default:
		return err.Error()
	}
}
