package task

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sajilotask/sajilo/internal/auth"
	"github.com/sajilotask/sajilo/pkg/cerr"
)

// Server exposes the engine over REST. Handlers hand their result to the
// response middleware via cerr.SetJSONResponse / SetJSONError.
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks", s.handleCreate)
	r.Get("/tasks/nearby", s.handleNearby)
	r.Get("/tasks/{taskID}", s.handleGet)
	r.Put("/tasks/{taskID}", s.handleEdit)
	r.Delete("/tasks/{taskID}", s.handleDelete)
	r.Post("/tasks/{taskID}/accept", s.handleAccept)
	r.Post("/tasks/{taskID}/offer", s.handleSubmitOffer)
	r.Get("/tasks/{taskID}/offers", s.handleListOffers)
	r.Post("/tasks/{taskID}/offers/{offerID}/accept", s.handleAcceptOffer)
	r.Post("/tasks/{taskID}/start", s.handleStart)
	r.Post("/tasks/{taskID}/complete", s.handleComplete)
	r.Post("/tasks/{taskID}/approve", s.handleApprove)
	r.Post("/tasks/{taskID}/reject", s.handleReject)
	r.Post("/tasks/{taskID}/review", s.handleReview)
	r.With(auth.RequireAdmin).Post("/tasks/{taskID}/refund", s.handleRefund)
	r.Post("/tasks/{taskID}/expenses", s.handleSubmitExpense)
	r.Get("/tasks/{taskID}/expenses", s.handleListExpenses)
	r.Post("/tasks/{taskID}/expenses/{expenseID}/review", s.handleReviewExpense)
	r.Post("/tasks/{taskID}/location", s.handleShareLocation)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}

func (s *Server) handleCreate(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req CreateRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Create(ctx, caller, &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{
		"taskId":    t.ID,
		"escrowRef": t.EscrowRef,
		"task":      t,
	})
}

func (s *Server) handleNearby(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "lat and lng are required", nil)
		return
	}
	radiusKm, _ := strconv.ParseFloat(r.URL.Query().Get("radiusKm"), 64)

	tasks, err := s.engine.Nearby(ctx, caller, lat, lng, radiusKm)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"tasks": tasks})
}

func (s *Server) handleGet(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Get(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleEdit(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req EditRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Edit(ctx, caller, chi.URLParam(r, "taskID"), &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleDelete(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	result, err := s.engine.Delete(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, result)
}

func (s *Server) handleAccept(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Accept(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleSubmitOffer(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		ProposedPrice int64  `json:"proposedPrice"`
		Message       string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	offer, err := s.engine.SubmitOffer(ctx, caller, chi.URLParam(r, "taskID"), req.ProposedPrice, req.Message)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"offer": offer})
}

func (s *Server) handleListOffers(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	offers, err := s.engine.ListOffers(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"offers": offers})
}

func (s *Server) handleAcceptOffer(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.AcceptOffer(ctx, caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "offerID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleStart(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Start(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleComplete(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		ProofURL string `json:"proofUrl"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Complete(ctx, caller, chi.URLParam(r, "taskID"), req.ProofURL)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleApprove(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Approve(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleReject(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Reject(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleReview(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Review(ctx, caller, chi.URLParam(r, "taskID"), req.Rating)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleRefund(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Refund(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t})
}

func (s *Server) handleSubmitExpense(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		Description string `json:"description"`
		Amount      int64  `json:"amount"`
		ReceiptURL  string `json:"receiptUrl"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	expense, err := s.engine.SubmitExpense(ctx, caller, chi.URLParam(r, "taskID"), req.Description, req.Amount, req.ReceiptURL)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"expense": expense})
}

func (s *Server) handleListExpenses(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	expenses, total, err := s.engine.ListExpenses(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{
		"expenses":      expenses,
		"totalExpenses": total,
	})
}

func (s *Server) handleReviewExpense(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		Approved bool `json:"approved"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	expense, err := s.engine.ReviewExpense(ctx, caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "expenseID"), req.Approved)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"expense": expense})
}

func (s *Server) handleShareLocation(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Heading float64 `json:"heading"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.engine.ShareLocation(ctx, caller, chi.URLParam(r, "taskID"), req.Lat, req.Lng, req.Heading); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"ok": true})
}
