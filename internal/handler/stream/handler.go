package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	chatHandler "github.com/zhouzirui/ragchat/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/pkg/utils"
)

// DefaultHeartbeat is the interval between keepalive events.
const DefaultHeartbeat = 15 * time.Second

// Handler pushes conversation changes to the browser via Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{chatSvc: chatSvc, heartbeat: heartbeat}
}

// RegisterRoutes mounts the event stream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleEvents)
}

type snapshot struct {
	State    chatService.State `json:"state"`
	Input    string            `json:"input"`
	Messages any               `json:"messages"`
}

// handleEvents streams a snapshot followed by every message and state change until the
// client goes away or the chat window closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conv, err := h.chatSvc.Conversation(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := conv.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	utils.SendSSEEvent(w, flusher, "snapshot", snapshot{
		State:    conv.State(),
		Input:    conv.Input(),
		Messages: conv.Messages(),
	})

	log.Debug().Str("component", "sse").Str("session", sessionID).Msg("event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "sse").Str("session", sessionID).Msg("event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				utils.SendSSEEvent(w, flusher, "closed", map[string]string{"session": sessionID})
				return
			}
			switch ev.Type {
			case chatService.EventMessage:
				utils.SendSSEEvent(w, flusher, "message", ev.Message)
			case chatService.EventState:
				utils.SendSSEEvent(w, flusher, "state", map[string]chatService.State{"state": ev.State})
			}
		case t := <-ticker.C:
			// A watched chat counts as used even when nobody types.
			_ = h.chatSvc.Touch(ctx, sessionID)
			utils.SendSSEChunk(w, flusher, map[string]string{
				"event": "heartbeat",
				"time":  t.UTC().Format(time.RFC3339),
			})
		}
	}
}
