package settings

import (
	"encoding/json"
	"net/http"

	"github.com/sajilotask/sajilo/pkg/cerr"
)

type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

func (s *Server) HandleGet(rw http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.store.Snapshot())
}

func (s *Server) HandlePut(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		PlatformFeePct  *float64 `json:"platformFeePct"`
		DefaultRadiusKm *float64 `json:"defaultRadiusKm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.PlatformFeePct != nil && (*req.PlatformFeePct < 0 || *req.PlatformFeePct > 100) {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "platform fee pct must be between 0 and 100", nil)
		return
	}
	if req.DefaultRadiusKm != nil && *req.DefaultRadiusKm <= 0 {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "default radius must be positive", nil)
		return
	}

	updated, err := s.store.Update(ctx, func(st *Settings) {
		if req.PlatformFeePct != nil {
			st.PlatformFeePct = *req.PlatformFeePct
		}
		if req.DefaultRadiusKm != nil {
			st.DefaultRadiusKm = *req.DefaultRadiusKm
		}
	})
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	cerr.SetJSONResponse(ctx, updated)
}
