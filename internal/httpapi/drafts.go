package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/safemind/internal/draft"
	"github.com/ent0n29/safemind/internal/intake"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/submission"
)

type locationRequest struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	// Denied reports that the device refused a position fix.
	Denied bool `json:"denied,omitempty"`
}

func (r locationRequest) source() location.PositionSource {
	if r.Latitude == nil || r.Longitude == nil {
		if r.Denied {
			return location.StaticPosition{Denied: true}
		}
		return nil
	}
	return location.StaticPosition{
		Coordinates: location.Coordinates{Latitude: *r.Latitude, Longitude: *r.Longitude},
		Denied:      r.Denied,
	}
}

func (s *Server) handleStartDraft(w http.ResponseWriter, r *http.Request) {
	var req intake.DraftRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	snap, err := s.intake.StartDraft(chi.URLParam(r, "id"), req)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	snap, err := s.intake.Submission(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var patch draft.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.UpdateDraft(chi.URLParam(r, "id"), patch)
	})
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.intake.DiscardDraft(chi.URLParam(r, "id")); err != nil {
		respondErr(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraftLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	snap, res, err := s.intake.ApplyCurrentLocation(r.Context(), chi.URLParam(r, "id"), req.source())
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"submission": snap, "location": res})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.Confirm(chi.URLParam(r, "id"))
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.Acknowledge(chi.URLParam(r, "id"))
	})
}

func (s *Server) handleCancelConfirmation(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.CancelConfirmation(chi.URLParam(r, "id"))
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.Submit(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) handleRetryAnchor(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.RetryAnchoring(r.Context(), chi.URLParam(r, "id"))
	})
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	s.respondStep(w, func() (submission.Snapshot, error) {
		return s.intake.ReviseDraft(chi.URLParam(r, "id"))
	})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	id := chi.URLParam(r, "id")
	snaps, err := s.intake.History(r.Context(), id, limit)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	if snaps == nil {
		snaps = []submission.Snapshot{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "submissions": snaps})
}

func (s *Server) respondStep(w http.ResponseWriter, fn func() (submission.Snapshot, error)) {
	snap, err := fn()
	if err != nil {
		respondErr(w, err, &snap)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"categories": draft.Categories()})
}

func (s *Server) handleResolveLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Denied {
		respondErr(w, location.ErrPermissionDenied, nil)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "lat and lon are required")
		return
	}
	res, err := s.intake.ResolveLocation(r.Context(), location.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude})
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEmergencyContacts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.intake.EscalationDirectory())
}
