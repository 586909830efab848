// Package gateway exposes the agent over a WebSocket endpoint. Inbound
// frames carry chat messages and consent events; replies stream back in
// chunks, with structural agent events interleaved on the same socket.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/contract"
	journeynode "github.com/tanpawarit/Xelora-Customer-Journey-Agent/agent/nodes"
)

// Agent is the conversational core behind the socket.
type Agent interface {
	HandleMessage(ctx context.Context, sessionID, text string) (string, error)
	HandleConsent(ctx context.Context, sessionID string, granted bool) (string, error)
}

type Config struct {
	Addr            string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" split_words:"true"`
	StreamChunkSize int           `envconfig:"STREAM_CHUNK_SIZE" split_words:"true" default:"80"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`
}

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Granted   bool   `json:"granted,omitempty"`
}

type outboundFrame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Name      string         `json:"name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

type Server struct {
	agent  Agent
	cfg    Config
	router chi.Router

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, frame outboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, frame)
}

func New(agent Agent, cfg Config) *Server {
	if cfg.StreamChunkSize <= 0 {
		cfg.StreamChunkSize = 80
	}

	s := &Server{
		agent:   agent,
		cfg:     cfg,
		clients: make(map[string]*client),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Bind attaches the agent after construction. The server is created first so
// its event sink can be handed to the orchestrator; Bind must run before the
// server starts accepting connections.
func (s *Server) Bind(agent Agent) {
	s.agent = agent
}

// Events returns the sink the orchestrator should emit into; events are
// forwarded to the socket currently bound to the event's session.
func (s *Server) Events() journeynode.EventSink {
	return func(name string, payload map[string]any) {
		sessionID, _ := payload["session_id"].(string)
		if sessionID == "" {
			return
		}
		s.mu.RLock()
		c := s.clients[sessionID]
		s.mu.RUnlock()
		if c == nil {
			return
		}
		if err := c.write(context.Background(), outboundFrame{
			Type:      "agent_event",
			SessionID: sessionID,
			Name:      name,
			Payload:   payload,
		}); err != nil {
			log.Debug().Str("session_id", sessionID).Err(err).Msg("drop agent event")
		}
	}
}

// ListenAndServe blocks until the context is cancelled, then drains open
// connections within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &client{conn: conn}
	ctx := r.Context()
	var boundSessions []string
	defer func() {
		s.mu.Lock()
		for _, id := range boundSessions {
			if s.clients[id] == c {
				delete(s.clients, id)
			}
		}
		s.mu.Unlock()
	}()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				return
			}
			log.Debug().Err(err).Msg("websocket read failed")
			return
		}

		sessionID := strings.TrimSpace(frame.SessionID)
		if sessionID == "" {
			_ = c.write(ctx, errorFrame("", "invalid_frame", "session_id is required"))
			continue
		}

		s.mu.Lock()
		if s.clients[sessionID] != c {
			s.clients[sessionID] = c
			boundSessions = append(boundSessions, sessionID)
		}
		s.mu.Unlock()

		switch frame.Type {
		case "chat":
			s.handleChat(ctx, c, sessionID, frame.Text)
		case "consent":
			s.handleConsent(ctx, c, sessionID, frame.Granted)
		default:
			_ = c.write(ctx, errorFrame(sessionID, "invalid_frame", "unknown frame type "+frame.Type))
		}
	}
}

func (s *Server) handleChat(ctx context.Context, c *client, sessionID, text string) {
	reply, err := s.agent.HandleMessage(ctx, sessionID, text)
	if err != nil {
		_ = c.write(ctx, agentErrorFrame(sessionID, err))
		return
	}
	s.streamReply(ctx, c, sessionID, reply)
}

func (s *Server) handleConsent(ctx context.Context, c *client, sessionID string, granted bool) {
	reply, err := s.agent.HandleConsent(ctx, sessionID, granted)
	if err != nil {
		_ = c.write(ctx, agentErrorFrame(sessionID, err))
		return
	}
	// A consent event with nothing pending produces no reply at all.
	if strings.TrimSpace(reply) == "" {
		return
	}
	s.streamReply(ctx, c, sessionID, reply)
}

func (s *Server) streamReply(ctx context.Context, c *client, sessionID, reply string) {
	if err := c.write(ctx, outboundFrame{Type: "msg_stream_start", SessionID: sessionID}); err != nil {
		return
	}
	for _, chunk := range chunkReply(reply, s.cfg.StreamChunkSize) {
		if err := c.write(ctx, outboundFrame{Type: "msg_stream", SessionID: sessionID, Text: chunk}); err != nil {
			return
		}
	}
	_ = c.write(ctx, outboundFrame{Type: "msg_stream_end", SessionID: sessionID})
}

func agentErrorFrame(sessionID string, err error) outboundFrame {
	code := "internal_error"
	switch {
	case errors.Is(err, contractx.ErrSessionBusy):
		code = "session_busy"
	case errors.Is(err, journeynode.ErrInvalidMessage), errors.Is(err, journeynode.ErrInvalidSession):
		code = "invalid_frame"
	}
	return errorFrame(sessionID, code, err.Error())
}

func errorFrame(sessionID, code, message string) outboundFrame {
	return outboundFrame{
		Type:      "error",
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	}
}

// chunkReply splits a reply on rune boundaries into stream-sized pieces.
func chunkReply(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
