package notification

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/sajilotask/sajilo/internal/auth"
	"github.com/sajilotask/sajilo/internal/config"
	"github.com/sajilotask/sajilo/internal/pushsubscription"
	"github.com/sajilotask/sajilo/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/push/vapid-public-key", s.handleVapidPublicKey)
	r.Post("/push/subscriptions", s.handleSubscribe)
	r.Delete("/push/subscriptions", s.handleUnsubscribe)
}

func (s *Server) handleVapidPublicKey(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"publicKey": s.vapidEnv.VAPIDPublicKey})
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
}

func (s *Server) handleSubscribe(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.P256dhKey == "" || req.AuthKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint, p256dhKey and authKey are required", nil)
		return
	}

	// Re-registering an endpoint replaces its keys.
	if existing, err := s.repo.FindByEndpoint(ctx, req.Endpoint); err == nil {
		if err := s.repo.Delete(ctx, existing.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		UserID:    caller.ID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"id": sub.ID})
}

func (s *Server) handleUnsubscribe(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if err := s.repo.DeleteByEndpoint(ctx, req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"ok": true})
}
