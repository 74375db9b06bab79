package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/routing"
	"github.com/shepherd-ai/shepherd/internal/runtime"
	"github.com/shepherd-ai/shepherd/internal/sessions"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 45 * time.Second
	wsPingInterval    = 15 * time.Second
	wsOutboundBuffer  = 64
)

// wsInbound is a client-to-server frame. Type is "message" for a new
// conversational turn or "approval" to answer a pending confirmation.
type wsInbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Token   string `json:"token,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

// wsOutbound is a server-to-client frame.
type wsOutbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Agent          string `json:"agent,omitempty"`
	Content        string `json:"content,omitempty"`
	Token          string `json:"token,omitempty"`
	Payload        string `json:"payload,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Error          string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleWS upgrades the connection and serves one conversation over it.
// The conversation ID comes from the "conversation" query parameter; when
// absent a fresh one is assigned so event subscription can start before
// the first turn runs.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.verifier.Enabled() {
		token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
		subject, err := s.verifier.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.logger.Debug("websocket authenticated", "subject", subject)
	}

	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := &wsSession{
		server:         s,
		conn:           conn,
		conversationID: conversationID,
		outbound:       make(chan wsOutbound, wsOutboundBuffer),
		done:           make(chan struct{}),
	}
	session.serve(r.Context())
}

type wsSession struct {
	server         *Server
	conn           *websocket.Conn
	conversationID string
	outbound       chan wsOutbound
	done           chan struct{}
}

func (s *wsSession) serve(ctx context.Context) {
	defer s.conn.Close()

	events, unsubscribe := s.server.broadcaster.Subscribe(s.conversationID)
	defer unsubscribe()

	go s.writeLoop()
	go s.forwardEvents(events)
	defer close(s.done)

	s.send(wsOutbound{Type: "session", ConversationID: s.conversationID})

	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame wsInbound
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.server.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch frame.Type {
		case "message":
			s.handleMessage(ctx, frame)
		case "approval":
			s.handleApproval(ctx, frame)
		default:
			s.send(wsOutbound{Type: "error", Error: "unknown frame type: " + frame.Type})
		}
	}
}

func (s *wsSession) handleMessage(ctx context.Context, frame wsInbound) {
	outcome, err := s.server.runtime.HandleTurn(ctx, s.conversationID, frame.Content, frame.Agent)
	if err != nil {
		s.sendError(err)
		return
	}
	s.sendOutcome(outcome)
}

func (s *wsSession) handleApproval(ctx context.Context, frame wsInbound) {
	outcome, err := s.server.runtime.HandleApproval(ctx, s.conversationID, frame.Token, frame.Answer)
	if err != nil {
		s.sendError(err)
		return
	}
	s.sendOutcome(outcome)
}

func (s *wsSession) sendOutcome(outcome *runtime.TurnOutcome) {
	result := outcome.Result
	switch {
	case result.Suspension != nil:
		s.send(wsOutbound{
			Type:           "approval_required",
			ConversationID: outcome.ConversationID,
			Agent:          outcome.Agent,
			Token:          result.Suspension.Token,
			Payload:        result.Suspension.Payload,
		})
	case result.Cancelled:
		s.send(wsOutbound{
			Type:           "cancelled",
			ConversationID: outcome.ConversationID,
			Agent:          outcome.Agent,
			Content:        models.CancellationNotice,
		})
	default:
		var content string
		if result.Reply != nil {
			content = result.Reply.Content
		}
		s.send(wsOutbound{
			Type:           "reply",
			ConversationID: outcome.ConversationID,
			Agent:          outcome.Agent,
			Content:        content,
		})
	}
}

func (s *wsSession) sendError(err error) {
	frame := wsOutbound{Type: "error", ConversationID: s.conversationID, Error: err.Error()}
	switch {
	case errors.Is(err, sessions.ErrTurnInFlight):
		frame.Kind = "turn_in_flight"
	case errors.Is(err, runtime.ErrConversationSuspended):
		frame.Kind = "awaiting_approval"
	case errors.Is(err, routing.ErrUnknownAgent):
		frame.Kind = "unknown_agent"
	case errors.Is(err, agent.ErrApprovalTokenMismatch), errors.Is(err, agent.ErrNotSuspended):
		frame.Kind = "bad_approval"
	}
	s.send(frame)
}

func (s *wsSession) forwardEvents(events <-chan models.Event) {
	for {
		select {
		case event := <-events:
			s.send(wsOutbound{
				Type:           "event",
				ConversationID: event.ConversationID,
				Kind:           string(event.Kind),
				Content:        event.Content,
			})
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) send(frame wsOutbound) {
	select {
	case s.outbound <- frame:
	case <-s.done:
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
