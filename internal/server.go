package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sajilotask/sajilo/internal/auth"
	"github.com/sajilotask/sajilo/internal/category"
	"github.com/sajilotask/sajilo/internal/config"
	"github.com/sajilotask/sajilo/internal/notification"
	"github.com/sajilotask/sajilo/internal/settings"
	"github.com/sajilotask/sajilo/internal/task"
	"github.com/sajilotask/sajilo/internal/user"
	"github.com/sajilotask/sajilo/pkg/cerr"
	"github.com/sajilotask/sajilo/pkg/clog"
)

type Server struct {
	server             *http.Server
	env                *config.Env
	users              user.Repository
	taskServer         *task.Server
	categoryServer     *category.Server
	settingsServer     *settings.Server
	notificationServer *notification.Server
}

func NewServer(
	env *config.Env,
	users user.Repository,
	taskServer *task.Server,
	categoryServer *category.Server,
	settingsServer *settings.Server,
	notificationServer *notification.Server,
) *Server {
	return &Server{
		env:                env,
		users:              users,
		taskServer:         taskServer,
		categoryServer:     categoryServer,
		settingsServer:     settingsServer,
		notificationServer: notificationServer,
	}
}

// ListenAndServe starts the HTTP server. The provided context is the base
// context for all incoming requests, so cancelling it on shutdown also
// cancels in-flight request contexts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)

		// Settings snapshot is the only public read.
		r.Get("/settings", s.settingsServer.HandleGet)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.users))
			s.taskServer.Routes(r)
			s.categoryServer.Routes(r)
			s.notificationServer.Routes(r)
			r.With(auth.RequireAdmin).Put("/settings", s.settingsServer.HandlePut)
		})

		r.NotFound(func(w http.ResponseWriter, req *http.Request) {
			cerr.SetNewJSONError(req.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(mux), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
