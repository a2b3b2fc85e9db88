package preference

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	preferenceService "github.com/nyai-sathi/voice-chat/backend/internal/service/preference"
	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

func decodeTheme(t *testing.T, resp *httptest.ResponseRecorder) bool {
	t.Helper()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body themeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body.DarkMode
}

func TestThemeRoutes(t *testing.T) {
	handler := New(preferenceService.NewTheme(storage.NewMemoryStorage()))
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/preferences/theme", nil))
	if decodeTheme(t, resp) {
		t.Fatal("expected light mode by default")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/preferences/theme/toggle", nil))
	if !decodeTheme(t, resp) {
		t.Fatal("expected dark mode after toggle")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/preferences/theme", nil))
	if !decodeTheme(t, resp) {
		t.Fatal("expected toggle to persist")
	}
}
