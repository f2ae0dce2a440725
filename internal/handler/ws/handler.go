package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	chatHandler "github.com/zhouzirui/ragchat/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler drives a conversation over a WebSocket: the input bar sends input and submit
// frames, and every log or state change is pushed back.
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New creates the WebSocket handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the socket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textData struct {
	Text *string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

func (c *connection) sendError(message string) {
	if err := c.send("error", map[string]string{"message": message}); err != nil {
		log.Debug().Err(err).Str("component", "websocket").Msg("write error failed")
	}
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// close sends the close frame and drops the socket so a pending read returns at once.
func (c *connection) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
	_ = c.conn.Close()
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conv, err := h.chatSvc.Conversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "websocket").Msg("upgrade failed")
		return
	}
	defer raw.Close()
	conn := &connection{conn: raw}

	log.Info().Str("component", "websocket").Str("session", sessionID).Msg("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if err := conn.send("connected", map[string]any{
		"conversation": conv.ID(),
		"state":        conv.State(),
		"input":        conv.Input(),
		"messages":     conv.Messages(),
	}); err != nil {
		return
	}

	go h.pingLoop(ctx, conn)
	go h.forward(ctx, cancel, conn, events)

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("component", "websocket").Msg("read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
		_ = h.chatSvc.Touch(ctx, sessionID)
		h.handleMessage(conn, conv, &msg)
	}
}

func (h *Handler) handleMessage(conn *connection, conv *chatService.Conversation, msg *inboundMessage) {
	var data textData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			conn.sendError("invalid data payload")
			return
		}
	}

	switch msg.Type {
	case "input":
		if data.Text == nil {
			conn.sendError("text is required")
			return
		}
		if err := conv.SetInput(*data.Text); err != nil {
			conn.sendError(err.Error())
		}
	case "submit":
		var err error
		if data.Text != nil {
			_, err = conv.Submit(*data.Text)
		} else {
			_, err = conv.SubmitInput()
		}
		if err != nil && !errors.Is(err, chatService.ErrEmptyPrompt) {
			conn.sendError(err.Error())
		}
	default:
		conn.sendError("unknown message type: " + msg.Type)
	}
}

// forward relays conversation events until the conversation closes or the socket ends.
func (h *Handler) forward(ctx context.Context, cancel context.CancelFunc, conn *connection, events <-chan chatService.Event) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.close(websocket.CloseNormalClosure, "chat closed")
				return
			}

			var err error
			switch ev.Type {
			case chatService.EventMessage:
				err = conn.send("message", ev.Message)
			case chatService.EventState:
				err = conn.send("state", map[string]chatService.State{"state": ev.State})
			}
			if err != nil {
				log.Debug().Err(err).Str("component", "websocket").Msg("write event failed")
				return
			}
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
