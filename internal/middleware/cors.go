package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows browser clients from the given origins. A "*" entry allows any
// origin; credentials are only allowed for an explicit list.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAny := false
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAny = true
		}
		allowed = append(allowed, strings.TrimRight(origin, "/"))
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !allowAny,
		MaxAge:           600,
	})
}
