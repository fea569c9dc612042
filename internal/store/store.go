package store

import (
	"context"

	"github.com/google/uuid"

	"matchvideo-backend/internal/domain"
)

// Store defines persistence behavior for upload sessions and the
// permanent game-movie records they produce.
type Store interface {
	CreateSession(ctx context.Context, s *domain.UploadSession) error
	GetSession(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) (*domain.UploadSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status domain.UploadStatus, lastError string) error
	UpdateSessionProgress(ctx context.Context, sessionID uuid.UUID, uploadedBytes int64) error
	CompleteSession(ctx context.Context, sessionID uuid.UUID, videoID domain.VideoID) error
	ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]domain.UploadSession, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	InsertGameMovie(ctx context.Context, params InsertMovieParams) (uuid.UUID, error)
	LinkMovieToGame(ctx context.Context, movieID uuid.UUID, gameResultID string) error
}

// InsertMovieParams creates a permanent game-movie record once a video
// id is known.
type InsertMovieParams struct {
	MovieID     uuid.UUID
	UserID      uuid.UUID
	VideoID     string
	Title       string
	Description string
}
