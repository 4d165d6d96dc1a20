package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows the console origins to call the API. The tab and dev identity
// headers must be listed or browsers drop them on preflight.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Console-Tab", "X-Dev-Uid"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return c.Handler
}
