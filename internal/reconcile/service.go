// Package reconcile recovers real video identifiers for sessions whose
// terminal upload response was lost. It searches the channel's recent
// uploads for an exact title match near the session's creation time.
// Precision over recall: a user-edited title yields a false negative,
// never a false positive.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/store"
	"matchvideo-backend/internal/youtube"
)

var (
	// ErrInvalidState indicates the session's video id is not a placeholder.
	ErrInvalidState = errors.New("session video id is not awaiting reconciliation")
	// ErrMissingTitle indicates the session metadata carries no title to match on.
	ErrMissingTitle = errors.New("session metadata has no title")
	// ErrNotFound indicates no catalog entry matched; the session is left
	// unchanged so a later retry can succeed.
	ErrNotFound = errors.New("no matching upload found")
)

const (
	// matchWindow bounds the search to uploads published within ±3 days
	// of the session's creation.
	matchWindow     = 72 * time.Hour
	catalogPageSize = 50
)

// Service backfills real video ids onto placeholder sessions.
type Service struct {
	store store.Store
	yt    youtube.Client
	log   *slog.Logger
	now   func() time.Time
}

// NewService constructs a reconciliation Service.
func NewService(st store.Store, yt youtube.Client, log *slog.Logger) *Service {
	return &Service{store: st, yt: yt, log: log, now: time.Now}
}

// Sync resolves the placeholder id of the given session into a real
// video id, persisting it and materializing a permanent game-movie
// record when possible. Returns the resolved id.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID, sessionID uuid.UUID) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	if !sess.VideoID.IsPlaceholder() {
		return "", ErrInvalidState
	}
	title := strings.TrimSpace(sess.Metadata.Title)
	if title == "" {
		return "", ErrMissingTitle
	}
	if !s.yt.Configured() {
		return "", youtube.ErrNotConfigured
	}

	entries, err := s.yt.RecentUploads(ctx, catalogPageSize)
	if err != nil {
		s.log.Warn("catalog query failed during reconciliation",
			"session", sessionID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	match, ok := findExactMatch(entries, title, sess.CreatedAt)
	if !ok {
		return "", ErrNotFound
	}

	vid := domain.RealVideoID(match.VideoID)
	if err := s.store.CompleteSession(ctx, sessionID, vid); err != nil {
		return "", fmt.Errorf("persist resolved id: %w", err)
	}

	// The session row is redundant once a permanent record exists;
	// removing it is a cleanup optimization, not required for
	// correctness, so failures below are logged only.
	s.materialize(ctx, sess, vid)

	return match.VideoID, nil
}

func (s *Service) materialize(ctx context.Context, sess *domain.UploadSession, vid domain.VideoID) {
	movieID, err := s.store.InsertGameMovie(ctx, store.InsertMovieParams{
		UserID:      sess.UserID,
		VideoID:     vid.String(),
		Title:       sess.Metadata.Title,
		Description: sess.Metadata.Description,
	})
	if err != nil {
		s.log.Error("materialize game movie failed", "session", sess.ID, "error", err)
		return
	}
	if sess.Metadata.GameResultID != "" {
		if err := s.store.LinkMovieToGame(ctx, movieID, sess.Metadata.GameResultID); err != nil {
			s.log.Error("link movie to game result failed",
				"session", sess.ID, "movie", movieID, "error", err)
		}
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		s.log.Warn("delete reconciled session failed", "session", sess.ID, "error", err)
	}
}

// findExactMatch returns the first entry published within the match
// window whose title equals the wanted title, compared case-insensitively
// after trimming surrounding whitespace.
func findExactMatch(entries []youtube.UploadEntry, title string, createdAt time.Time) (youtube.UploadEntry, bool) {
	from := createdAt.Add(-matchWindow)
	to := createdAt.Add(matchWindow)
	for _, e := range entries {
		if e.PublishedAt.Before(from) || e.PublishedAt.After(to) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(e.Title), title) {
			return e, true
		}
	}
	return youtube.UploadEntry{}, false
}
