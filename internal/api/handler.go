package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"matchvideo-backend/internal/config"
	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/reconcile"
	"matchvideo-backend/internal/relay"
	"matchvideo-backend/internal/session"
	"matchvideo-backend/internal/store"
	"matchvideo-backend/internal/youtube"
)

// Handler wires HTTP routes to the upload services.
type Handler struct {
	cfg        *config.Config
	sessions   *session.Service
	reconciler *reconcile.Service
	relay      *relay.Relay
	log        *slog.Logger
}

// NewHandler creates a Handler instance.
func NewHandler(cfg *config.Config, sessions *session.Service, reconciler *reconcile.Service, rl *relay.Relay, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, sessions: sessions, reconciler: reconciler, relay: rl, log: log}
}

// Router returns a configured chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "Content-Range",
			"X-API-Key", "X-User-Id", relay.HeaderUploadURL, relay.HeaderSessionID,
		},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/upload", func(r chi.Router) {
		r.Post("/initiate", h.withAuth(h.handleInitiate))
		r.Put("/proxy", h.withAuth(h.handleProxy))
		r.Post("/finalize", h.withAuth(h.handleFinalize))
		r.Post("/resume/{sessionID}", h.withAuth(h.handleResume))
		r.Get("/pending", h.withAuth(h.handlePending))
		r.Post("/progress", h.withAuth(h.handleProgress))
		r.Post("/sync/{sessionID}", h.withAuth(h.handleSync))
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	var req domain.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := h.sessions.Initiate(r.Context(), user, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	h.relay.Forward(w, r, user)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	var req domain.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil || req.YouTubeVideoID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and youtubeVideoId are required")
		return
	}
	res, err := h.sessions.Finalize(r.Context(), user, sessionID, req.YouTubeVideoID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	res, err := h.sessions.Resume(r.Context(), user, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, resumeStatus(res), res)
}

// resumeStatus maps the resume outcome onto its HTTP code: expired
// sessions are Gone, failed ones a retryable Bad Request, the rest OK.
func resumeStatus(res *domain.ResumeResponse) int {
	switch res.Status {
	case domain.StatusExpired:
		return http.StatusGone
	case domain.StatusFailed:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	includeExpired := r.URL.Query().Get("includeExpired") == "true"
	res, err := h.sessions.Pending(r.Context(), user, includeExpired)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	var req domain.ProgressReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	// Progress persistence is advisory: a failed write is logged but the
	// uploader always gets an OK so a healthy upload is never aborted.
	if err := h.sessions.ReportProgress(r.Context(), user, sessionID, req.UploadedBytes); err != nil {
		h.log.Warn("progress report not persisted", "session", sessionID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	videoID, err := h.reconciler.Sync(r.Context(), user, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, domain.SyncResponse{Success: true, VideoID: videoID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrMissingParams),
		errors.Is(err, session.ErrNotResumable),
		errors.Is(err, reconcile.ErrInvalidState),
		errors.Is(err, reconcile.ErrMissingTitle):
		return http.StatusBadRequest
	case errors.Is(err, youtube.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, reconcile.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type authedHandler func(http.ResponseWriter, *http.Request, uuid.UUID)

func (h *Handler) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" || apiKey != h.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		userIDHeader := r.Header.Get("X-User-Id")
		if userIDHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing user id")
			return
		}
		userID, err := uuid.Parse(userIDHeader)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user id")
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
