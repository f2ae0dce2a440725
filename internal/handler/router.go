package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/ragchat/backend/internal/handler/chat"
	"github.com/zhouzirui/ragchat/backend/internal/handler/stream"
	"github.com/zhouzirui/ragchat/backend/internal/handler/widget"
	"github.com/zhouzirui/ragchat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/ragchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/ragchat/backend/internal/service/chat"
	"github.com/zhouzirui/ragchat/backend/pkg/utils"
)

// Options tunes the router.
type Options struct {
	// WaitTimeout bounds requests that block for a reply.
	WaitTimeout    time.Duration
	MetricsEnabled bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	widget.New(chatSvc, opts.WaitTimeout).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.CORS)

		chat.New(chatSvc, opts.WaitTimeout).RegisterRoutes(api)
		stream.New(chatSvc, stream.DefaultHeartbeat).RegisterRoutes(api)
		ws.New(chatSvc).RegisterRoutes(api)
	})

	return r
}
