package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
	chatService "github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/pkg/utils"
)

// MaxUploadBytes caps a knowledge document upload.
const MaxUploadBytes = 32 << 20

// Handler exposes widget sessions and their conversations as a JSON API.
type Handler struct {
	chatSvc     *chatService.Service
	waitTimeout time.Duration
}

// New creates the JSON API handler. waitTimeout bounds requests that wait for the reply.
func New(chatSvc *chatService.Service, waitTimeout time.Duration) *Handler {
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	return &Handler{chatSvc: chatSvc, waitTimeout: waitTimeout}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDeleteSession)
		r.Put("/host", h.handleConfigure)
		r.Post("/chat", h.handleOpenChat)
		r.Delete("/chat", h.handleCloseChat)
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSubmit)
		r.Put("/input", h.handleSetInput)
		r.Post("/documents", h.handleUpload)
	})
}

type sessionResponse struct {
	chat.Session
	KnowledgeSourceURL string `json:"knowledgeSourceUrl,omitempty"`
}

func newSessionResponse(s chat.Session) sessionResponse {
	return sessionResponse{Session: s, KnowledgeSourceURL: s.KnowledgeSourceURL()}
}

type conversationResponse struct {
	ID       string            `json:"id"`
	State    chatService.State `json:"state"`
	Input    string            `json:"input"`
	Messages []chat.Message    `json:"messages"`
}

func newConversationResponse(c *chatService.Conversation) conversationResponse {
	return conversationResponse{
		ID:       c.ID(),
		State:    c.State(),
		Input:    c.Input(),
		Messages: c.Messages(),
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MicroserviceHost string `json:"microserviceHost"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.MicroserviceHost)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, newSessionResponse(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MicroserviceHost string `json:"microserviceHost"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.Configure(r.Context(), chi.URLParam(r, "sessionID"), payload.MicroserviceHost)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(session))
}

func (h *Handler) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.OpenChat(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newConversationResponse(conv))
}

func (h *Handler) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseChat(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.Conversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newConversationResponse(conv))
}

func (h *Handler) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.Conversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if err := conv.SetInput(payload.Text); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit submits the body text, or the pending input when text is absent.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text *string `json:"text"`
		Wait bool    `json:"wait"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.Conversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var exchange *chatService.Exchange
	if payload.Text != nil {
		exchange, err = conv.Submit(*payload.Text)
	} else {
		exchange, err = conv.SubmitInput()
	}
	if errors.Is(err, chatService.ErrEmptyPrompt) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if !payload.Wait {
		utils.RespondJSON(w, http.StatusAccepted, exchange.Prompt)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()

	reply, err := exchange.Wait(ctx)
	if err != nil {
		log.Debug().Err(err).Str("component", "api").Str("conversation", conv.ID()).Msg("exchange settled without reply")
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"user":  exchange.Prompt,
			"reply": nil,
			"error": err.Error(),
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"user":  exchange.Prompt,
		"reply": reply,
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	resp, err := h.chatSvc.UploadDocument(r.Context(), chi.URLParam(r, "sessionID"), rag.UploadRequest{
		Filename: header.Filename,
		Content:  file,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidHost):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrHostNotConfigured),
		errors.Is(err, chatService.ErrChatClosed),
		errors.Is(err, chatService.ErrConversationClosed),
		errors.Is(err, chatService.ErrAwaitingResponse):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrUploadUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("component", "api").Msg("request failed")
	}
	utils.RespondError(w, status, err.Error())
}
