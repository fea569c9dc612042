package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchvideo-backend/internal/cache"
	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/store"
	"matchvideo-backend/internal/youtube"
)

// ErrMissingParams indicates the initiate request lacked a required field.
var ErrMissingParams = errors.New("fileName, fileSize and metadata.title are required")

// ErrNotResumable indicates the session is in a status no resume path
// covers.
var ErrNotResumable = errors.New("session is not resumable")

const pendingCacheSize = 512

// Service manages the upload-session state machine: initiate → upload →
// finalize, with resume and expiry handling.
type Service struct {
	store      store.Store
	yt         youtube.Client
	pending    *cache.TTL[string, *domain.PendingListResponse]
	sessionTTL time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewService constructs a Service instance.
func NewService(st store.Store, yt youtube.Client, sessionTTL, pendingCacheTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:      st,
		yt:         yt,
		pending:    cache.NewTTL[string, *domain.PendingListResponse](pendingCacheSize, pendingCacheTTL),
		sessionTTL: sessionTTL,
		log:        log,
		now:        time.Now,
	}
}

// Initiate opens a resumable session with YouTube and persists a new
// session row for it.
func (s *Service) Initiate(ctx context.Context, userID uuid.UUID, req domain.InitiateRequest) (*domain.InitiateResponse, error) {
	if req.FileName == "" || req.FileSize <= 0 || strings.TrimSpace(req.Metadata.Title) == "" {
		return nil, ErrMissingParams
	}
	if !s.yt.Configured() {
		return nil, youtube.ErrNotConfigured
	}

	meta := req.Metadata
	meta.Privacy = domain.PrivacyUnlisted

	uploadURL, err := s.yt.CreateSession(ctx, meta, req.FileName, req.FileSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &domain.UploadSession{
		ID:           uuid.New(),
		UserID:       userID,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		SessionToken: sessionToken(uploadURL),
		UploadURL:    uploadURL,
		Status:       domain.StatusPending,
		VideoID:      domain.NoVideoID(),
		Metadata:     meta,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &domain.InitiateResponse{
		SessionID: sess.ID.String(),
		UploadURL: uploadURL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Finalize marks a session complete and links it to a game result when
// the metadata references one. Linking is best-effort: the session is
// already complete, so link failures are logged and swallowed.
func (s *Service) Finalize(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, videoID string) (*domain.FinalizeResponse, error) {
	sess, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	vid := domain.ParseVideoID(videoID)
	if err := s.store.CompleteSession(ctx, sessionID, vid); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	if vid.IsReal() && sess.Metadata.GameResultID != "" {
		s.linkGameMovie(ctx, sess, vid)
	}

	return &domain.FinalizeResponse{
		Success:   true,
		SessionID: sessionID.String(),
		VideoID:   vid.String(),
		Status:    domain.StatusCompleted,
	}, nil
}

func (s *Service) linkGameMovie(ctx context.Context, sess *domain.UploadSession, vid domain.VideoID) {
	movieID, err := s.store.InsertGameMovie(ctx, store.InsertMovieParams{
		UserID:      sess.UserID,
		VideoID:     vid.String(),
		Title:       sess.Metadata.Title,
		Description: sess.Metadata.Description,
	})
	if err != nil {
		s.log.Error("insert game movie failed",
			"session", sess.ID, "video", vid.String(), "error", err)
		return
	}
	if err := s.store.LinkMovieToGame(ctx, movieID, sess.Metadata.GameResultID); err != nil {
		s.log.Error("link movie to game result failed",
			"session", sess.ID, "movie", movieID, "game", sess.Metadata.GameResultID, "error", err)
	}
}

// Resume inspects a session and, when possible, reopens it for
// uploading. Completed sessions return their video id idempotently;
// expired ones are rewritten to expired and flagged for a new upload.
func (s *Service) Resume(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) (*domain.ResumeResponse, error) {
	sess, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	switch eff := domain.EffectiveStatus(sess, s.now()); eff {
	case domain.StatusCompleted:
		return &domain.ResumeResponse{
			Success:       true,
			Status:        domain.StatusCompleted,
			VideoID:       sess.VideoID.String(),
			UploadedBytes: sess.UploadedBytes,
			FileSize:      sess.FileSize,
		}, nil

	case domain.StatusFailed:
		return &domain.ResumeResponse{
			Success:   false,
			Status:    domain.StatusFailed,
			Error:     sess.LastError,
			Retryable: true,
		}, nil

	case domain.StatusExpired:
		if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.StatusExpired, "session expired before completion"); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		return &domain.ResumeResponse{
			Success:           false,
			Status:            domain.StatusExpired,
			Error:             "session expired before completion",
			NewUploadRequired: true,
		}, nil

	default:
		if !eff.Resumable() {
			return nil, ErrNotResumable
		}
		if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.StatusUploading, ""); err != nil {
			return nil, fmt.Errorf("reopen session: %w", err)
		}
		meta := sess.Metadata
		return &domain.ResumeResponse{
			Success:       true,
			Status:        domain.StatusUploading,
			UploadURL:     sess.UploadURL,
			UploadedBytes: sess.UploadedBytes,
			FileSize:      sess.FileSize,
			Metadata:      &meta,
		}, nil
	}
}

// Pending lists the caller's recoverable sessions. Results are cached
// per user for a short window to bound database load from polling; the
// cache is deliberately not invalidated on session mutation.
func (s *Service) Pending(ctx context.Context, userID uuid.UUID, includeExpired bool) (*domain.PendingListResponse, error) {
	key := fmt.Sprintf("%s|%t", userID, includeExpired)
	if cached, ok := s.pending.Get(key); ok {
		return cached, nil
	}

	sessions, err := s.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := &domain.PendingListResponse{
		Sessions:  []domain.PendingSession{},
		Stats:     map[domain.UploadStatus]int{},
		Timestamp: now,
	}
	for i := range sessions {
		sess := &sessions[i]
		eff := domain.EffectiveStatus(sess, now)
		expired := eff == domain.StatusExpired
		if expired && !includeExpired {
			continue
		}
		out.Stats[eff]++
		out.Sessions = append(out.Sessions, domain.PendingSession{
			SessionID:     sess.ID.String(),
			FileName:      sess.FileName,
			FileSize:      sess.FileSize,
			UploadedBytes: sess.UploadedBytes,
			Status:        eff,
			Progress:      sess.ProgressPercent(),
			IsExpired:     expired,
			CanResume:     !expired && (sess.Status == domain.StatusUploading || sess.Status == domain.StatusPending),
			Metadata:      sess.Metadata,
			CreatedAt:     sess.CreatedAt,
			ExpiresAt:     sess.ExpiresAt,
		})
	}

	s.pending.Set(key, out)
	return out, nil
}

// ReportProgress persists an uploaded-byte count from the uploader.
// Callers treat failures as advisory; a progress write must never abort
// an otherwise healthy upload.
func (s *Service) ReportProgress(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID, uploadedBytes int64) error {
	if _, err := s.store.GetSession(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.store.UpdateSessionProgress(ctx, sessionID, uploadedBytes)
}

// sessionToken extracts the upload_id query parameter YouTube embeds in
// the resumable URL, kept as an opaque token for diagnostics.
func sessionToken(uploadURL string) string {
	const marker = "upload_id="
	idx := strings.Index(uploadURL, marker)
	if idx < 0 {
		return ""
	}
	token := uploadURL[idx+len(marker):]
	if amp := strings.IndexByte(token, '&'); amp >= 0 {
		token = token[:amp]
	}
	return token
}
