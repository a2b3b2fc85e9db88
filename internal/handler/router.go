package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	"github.com/nyai-sathi/voice-chat/backend/internal/handler/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/handler/preference"
	"github.com/nyai-sathi/voice-chat/backend/internal/handler/stream"
	"github.com/nyai-sathi/voice-chat/backend/internal/handler/voice"
	middlewarePkg "github.com/nyai-sathi/voice-chat/backend/internal/middleware"
	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	preferenceService "github.com/nyai-sathi/voice-chat/backend/internal/service/preference"
	"github.com/nyai-sathi/voice-chat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, chatSvc *chatService.Service, theme *preferenceService.Theme) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	chatHandler := chat.New(chatSvc)
	preferenceHandler := preference.New(theme)
	streamHandler := stream.New(chatSvc.Store())

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		preferenceHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)

		if cfg.Voice.Enabled {
			voice.New(chatSvc, cfg.Voice).RegisterRoutes(api)
		}

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":        "ok",
				"queryBackend":  cfg.Query.Backend,
				"voiceEnabled":  cfg.Voice.Enabled,
				"activeSession": chatSvc.ActiveSessionID(),
				"sessionCount":  len(chatSvc.Sessions()),
				"time":          time.Now().UTC().Format(time.RFC3339),
			})
		})
	})

	return r
}
