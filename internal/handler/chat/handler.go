package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	chatService "github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	"github.com/nyai-sathi/voice-chat/backend/pkg/utils"
)

// Handler serves the chat session API.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Post("/", h.handleCreateSession)
		r.Put("/active", h.handleSetActive)
		r.Get("/search", h.handleSearch)
		r.Get("/{sessionID}", h.handleGetSession)
		r.Patch("/{sessionID}", h.handleRenameSession)
		r.Delete("/{sessionID}", h.handleDeleteSession)
		r.Post("/{sessionID}/messages", h.handleSendMessage)
	})
}

type sessionList struct {
	Sessions        []chat.Session `json:"sessions"`
	ActiveSessionID string         `json:"activeSessionId"`
}

// handleListSessions returns every session, creating the first one when the
// collection is empty.
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	h.chatSvc.EnsureSession(r.Context())
	utils.RespondJSON(w, http.StatusOK, sessionList{
		Sessions:        h.chatSvc.Sessions(),
		ActiveSessionID: h.chatSvc.ActiveSessionID(),
	})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	matches := h.chatSvc.Search(r.URL.Query().Get("q"))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": matches})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.chatSvc.CreateSession(r.Context())
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.RenameSession(r.Context(), sessionID, payload.Title); err != nil {
		respondServiceError(w, err)
		return
	}

	session, err := h.chatSvc.Session(sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chatSvc.SetActiveSession(r.Context(), payload.SessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"activeSessionId": h.chatSvc.ActiveSessionID()})
}

// handleSendMessage appends the user turn and waits for the reply turn.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text     string `json:"text"`
		Mode     string `json:"mode"`
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode, err := query.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "mode must be laws or judgements")
		return
	}

	apiText := payload.Text
	if lang := strings.TrimSpace(payload.Language); lang != "" {
		parsed, ok := speech.ParseLanguage(lang)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		apiText = chatService.WithLanguageDirective(payload.Text, parsed.Name())
	}

	// The reply is stored even if the client goes away mid-request.
	ctx := context.WithoutCancel(r.Context())
	reply, err := h.chatSvc.SendUserMessage(ctx, chi.URLParam(r, "sessionID"), payload.Text, apiText, mode)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrRequestInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, query.ErrInvalidMode):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
