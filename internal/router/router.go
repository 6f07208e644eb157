// internal/router/router.go
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/contactbook/contactbook/internal/api/auth"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler            auth.AuthHandler
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to be
// applied before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// Routes that do not require a bearer token. The forgotten-password
		// pair is public on purpose: its caller has lost the ability to log in.
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/forgotten-password/send-email-code", cfg.AuthHandler.SendEmailCode)
			r.Put("/auth/forgotten-password/change-password", cfg.AuthHandler.ChangeForgottenPassword)
		})

		// Routes under this group require a valid bearer token.
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Get("/auth/account-data", cfg.AuthHandler.GetAccountData)
			r.Put("/auth/account-update", cfg.AuthHandler.PutUpdateAccount)
			r.Patch("/auth/account-update", cfg.AuthHandler.PatchUpdateAccount)
			r.Delete("/auth/delete-account", cfg.AuthHandler.DeleteAccount)
		})
	})

	return r
}
