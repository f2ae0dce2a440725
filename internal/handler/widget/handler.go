package widget

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
	chatService "github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/internal/service/render"
)

// CookieName holds the widget session ID.
const CookieName = "ragchat_session"

const (
	configuredText   = "Microservice host configured successfully!"
	uploadFailedText = "Failed to upload document. Please try again."
	uploadMissing    = "Please choose a PDF file to upload."
	maxUploadBytes   = 32 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("widget.html").
		Funcs(template.FuncMap{"messageHTML": render.MessageHTML}).
		ParseFS(templateFS, "templates/widget.html"),
)

// Handler serves the server-rendered widget: the host configuration form, the knowledge
// source actions and the chat window with its message list and input bar.
type Handler struct {
	chatSvc     *chatService.Service
	waitTimeout time.Duration
}

// New creates the widget handler. waitTimeout bounds how long a form submit blocks for the reply.
func New(chatSvc *chatService.Service, waitTimeout time.Duration) *Handler {
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	return &Handler{chatSvc: chatSvc, waitTimeout: waitTimeout}
}

// RegisterRoutes mounts the widget pages.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/configure", h.handleConfigure)
	r.Post("/chat/open", h.handleOpen)
	r.Post("/chat/close", h.handleClose)
	r.Post("/chat/messages", h.handleSend)
	r.Post("/knowledge/upload", h.handleUpload)
}

type conversationView struct {
	Messages []chat.Message
	Input    string
}

type pageData struct {
	Session           chat.Session
	Conversation      *conversationView
	Awaiting          bool
	HostInput         string
	ConfigMessage     string
	ConfigMessageType string
	UploadMessage     string
	UploadMessageType string
}

// session resolves the caller's widget session, creating one and setting the cookie when needed.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (chat.Session, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		s, err := h.chatSvc.GetSession(r.Context(), cookie.Value)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, chatService.ErrSessionNotFound) {
			return chat.Session{}, err
		}
	}

	s, err := h.chatSvc.CreateSession(r.Context(), "")
	if err != nil {
		return chat.Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.renderPage(w, r, http.StatusOK, pageData{Session: s})
}

func (h *Handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	host := r.FormValue("host")
	updated, err := h.chatSvc.Configure(r.Context(), s.ID, host)
	if errors.Is(err, chat.ErrInvalidHost) {
		h.renderPage(w, r, http.StatusBadRequest, pageData{
			Session:           s,
			HostInput:         host,
			ConfigMessage:     "Please enter a valid microservice host URL.",
			ConfigMessageType: "error",
		})
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	h.renderPage(w, r, http.StatusOK, pageData{
		Session:           updated,
		ConfigMessage:     configuredText,
		ConfigMessageType: "success",
	})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	// Without a host the chat button is not offered; just show the page again.
	if _, err := h.chatSvc.OpenChat(r.Context(), s.ID); err != nil && !errors.Is(err, chatService.ErrHostNotConfigured) {
		h.fail(w, err)
		return
	}
	http.Redirect(w, r, "/#latest", http.StatusSeeOther)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.chatSvc.CloseChat(r.Context(), s.ID); err != nil {
		h.fail(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSend is the input bar: it stores the typed text as pending input, submits it and
// waits for the reply before re-rendering, so the page shows the answer without scripting.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	conv, err := h.chatSvc.Conversation(r.Context(), s.ID)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := conv.SetInput(r.FormValue("message")); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	exchange, err := conv.SubmitInput()
	switch {
	case err == nil:
		ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
		defer cancel()
		if _, err := exchange.Wait(ctx); err != nil {
			log.Debug().Err(err).Str("component", "widget").Str("session", s.ID).Msg("reply not available")
		}
	case errors.Is(err, chatService.ErrEmptyPrompt), errors.Is(err, chatService.ErrAwaitingResponse):
	default:
		log.Warn().Err(err).Str("component", "widget").Str("session", s.ID).Msg("submit failed")
	}

	http.Redirect(w, r, "/#latest", http.StatusSeeOther)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	data := pageData{Session: s, UploadMessageType: "error"}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		data.UploadMessage = uploadMissing
		h.renderPage(w, r, http.StatusBadRequest, data)
		return
	}
	defer file.Close()

	resp, err := h.chatSvc.UploadDocument(r.Context(), s.ID, rag.UploadRequest{Filename: header.Filename, Content: file})
	if err != nil {
		log.Warn().Err(err).Str("component", "widget").Str("session", s.ID).Msg("document upload failed")
		data.UploadMessage = uploadFailedText
		h.renderPage(w, r, http.StatusBadGateway, data)
		return
	}

	data.UploadMessage = resp.Message
	data.UploadMessageType = "success"
	h.renderPage(w, r, http.StatusOK, data)
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	if conv, err := h.chatSvc.Conversation(r.Context(), data.Session.ID); err == nil {
		data.Conversation = &conversationView{Messages: conv.Messages(), Input: conv.Input()}
		data.Awaiting = conv.State() == chatService.StateAwaiting
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Str("component", "widget").Msg("render page failed")
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	log.Error().Err(err).Str("component", "widget").Msg("request failed")
	http.Error(w, "something went wrong", http.StatusInternalServerError)
}
