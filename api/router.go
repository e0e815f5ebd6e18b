package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yashasviy/ledger-api/middleware"
	"github.com/yashasviy/ledger-api/users"
)

type Deps struct {
	Engine Transferer
	Users  *users.Service
	Tokens middleware.TokenVerifier
	// Redis enables Idempotency-Key handling on transfers when set.
	Redis          redis.Cmdable
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/signup", SignupHandler(d.Users))
		r.Post("/signin", SigninHandler(d.Users))
		r.With(middleware.RequireAuth(d.Tokens)).Get("/", ListUsersHandler(d.Users))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Tokens))
		if d.Redis != nil {
			r.Use(middleware.Idempotency(d.Redis))
		}
		r.Post("/transfer", TransferHandler(d.Engine))
	})

	return otelhttp.NewHandler(r, "ledger-api")
}
