package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/config"
	"github.com/ent0n29/safemind/internal/draft"
	"github.com/ent0n29/safemind/internal/intake"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/logging"
	"github.com/ent0n29/safemind/internal/observability"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/submission"
	"github.com/ent0n29/safemind/internal/triage"
)

type Server struct {
	cfg      config.Config
	intake   *intake.Service
	metrics  *observability.Metrics
	logger   *zap.Logger
	provider string
	upgrader websocket.Upgrader
}

// New builds the HTTP surface over svc. provider names the reasoning adapter
// reported by the health endpoints.
func New(cfg config.Config, svc *intake.Service, metrics *observability.Metrics, logger *zap.Logger, provider string) *Server {
	return &Server{
		cfg:      cfg,
		intake:   svc,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may attach to a session stream unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/setup/status", s.handleSetupStatus)
	r.Get("/v1/perf/stages", s.handlePerfStages)
	r.Delete("/v1/perf/stages", s.handleResetPerfStages)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/end", s.handleEndSession)
			r.Post("/turns", s.handleTurn)
			r.Post("/turns/cancel", s.handleCancelTurn)
			r.Get("/transcript", s.handleTranscript)
			r.Get("/ws", s.handleSessionWS)

			r.Post("/draft", s.handleStartDraft)
			r.Get("/draft", s.handleGetDraft)
			r.Patch("/draft", s.handleUpdateDraft)
			r.Delete("/draft", s.handleDiscardDraft)
			r.Post("/draft/location", s.handleDraftLocation)
			r.Post("/draft/confirm", s.handleConfirm)
			r.Post("/draft/acknowledge", s.handleAcknowledge)
			r.Post("/draft/cancel", s.handleCancelConfirmation)
			r.Post("/draft/submit", s.handleSubmit)
			r.Post("/draft/retry-anchor", s.handleRetryAnchor)
			r.Post("/draft/revise", s.handleRevise)
			r.Get("/submissions", s.handleListSubmissions)
		})
	})

	r.Get("/v1/categories", s.handleCategories)
	r.Post("/v1/location/resolve", s.handleResolveLocation)
	r.Get("/v1/emergency/contacts", s.handleEmergencyContacts)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"reasoning_adapter": s.provider,
		"store_mode":        s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.intake == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "intake service not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"reasoning_adapter": s.provider,
		"store_mode":        s.storeMode(),
		"active_sessions":   s.intake.Sessions().ActiveCount(),
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

type errorResponse struct {
	Error      string               `json:"error"`
	Code       string               `json:"code"`
	Submission *submission.Snapshot `json:"submission,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondErr maps a domain error to its status and code. snap, when set, is
// the submission state the failed step left behind.
func respondErr(w http.ResponseWriter, err error, snap *submission.Snapshot) {
	status, code := classify(err)
	if snap != nil && snap.ID == "" {
		snap = nil
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), Code: code, Submission: snap})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusNotFound, "session_ended"
	case errors.Is(err, intake.ErrNoDraft):
		return http.StatusNotFound, "no_draft"
	case errors.Is(err, triage.ErrEmptyInput):
		return http.StatusUnprocessableEntity, "empty_input"
	case errors.Is(err, triage.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, triage.ErrTriageUnavailable):
		return http.StatusServiceUnavailable, "triage_unavailable"
	case errors.Is(err, triage.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, submission.ErrValidationFailed),
		errors.Is(err, draft.ErrInvalid),
		errors.Is(err, draft.ErrUnknownCategory):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, draft.ErrNotReportable):
		return http.StatusUnprocessableEntity, "not_reportable"
	case errors.Is(err, submission.ErrSignatureRejected):
		return http.StatusConflict, "signature_rejected"
	case errors.Is(err, submission.ErrSigningUnavailable):
		return http.StatusServiceUnavailable, "signing_unavailable"
	case errors.Is(err, submission.ErrAnchoringFailed):
		return http.StatusServiceUnavailable, "anchoring_failed"
	case errors.Is(err, submission.ErrRetryTooSoon):
		return http.StatusTooManyRequests, "retry_too_soon"
	case errors.Is(err, submission.ErrRetryLimit):
		return http.StatusConflict, "retry_limit"
	case errors.Is(err, submission.ErrAlreadySubmitting):
		return http.StatusConflict, "already_submitting"
	case errors.Is(err, submission.ErrDraftLocked):
		return http.StatusConflict, "draft_locked"
	case errors.Is(err, submission.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, location.ErrInvalidCoordinates):
		return http.StatusUnprocessableEntity, "invalid_coordinates"
	case errors.Is(err, location.ErrPermissionDenied):
		return http.StatusForbidden, "location_permission_denied"
	case errors.Is(err, location.ErrUnsupported):
		return http.StatusUnprocessableEntity, "location_unsupported"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
