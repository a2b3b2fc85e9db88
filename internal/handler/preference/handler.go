package preference

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	preferenceService "github.com/nyai-sathi/voice-chat/backend/internal/service/preference"
	"github.com/nyai-sathi/voice-chat/backend/pkg/utils"
)

// Handler serves display preferences.
type Handler struct {
	theme *preferenceService.Theme
}

// New creates a preference handler.
func New(theme *preferenceService.Theme) *Handler {
	return &Handler{theme: theme}
}

// RegisterRoutes mounts the preference routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/preferences/theme", h.handleGetTheme)
	r.Post("/preferences/theme/toggle", h.handleToggleTheme)
}

type themeResponse struct {
	DarkMode bool `json:"darkMode"`
}

func (h *Handler) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, themeResponse{DarkMode: h.theme.DarkMode()})
}

func (h *Handler) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	dark, err := h.theme.Toggle()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, themeResponse{DarkMode: dark})
}
