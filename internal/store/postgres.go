package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"matchvideo-backend/internal/domain"
)

// PostgresStore implements Store using a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database using the provided connection string.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) CreateSession(ctx context.Context, u *domain.UploadSession) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO upload_sessions (
			id, user_id, file_name, file_size, youtube_session_id, youtube_upload_url,
			uploaded_bytes, status, youtube_video_id, metadata, last_error,
			created_at, updated_at, expires_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,0,$7,$8,$9,'',now(),now(),$10
		)
	`
	_, err = s.pool.Exec(ctx, query,
		u.ID, u.UserID, u.FileName, u.FileSize, u.SessionToken, u.UploadURL,
		string(u.Status), u.VideoID.String(), meta, u.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) (*domain.UploadSession, error) {
	query := `
		SELECT id, user_id, file_name, file_size, youtube_session_id, youtube_upload_url,
		       uploaded_bytes, status, youtube_video_id, metadata, last_error,
		       created_at, updated_at, expires_at
		FROM upload_sessions
		WHERE id = $1 AND user_id = $2
	`
	row := s.pool.QueryRow(ctx, query, sessionID, userID)
	u, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status domain.UploadStatus, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions SET status=$2, last_error=$3, updated_at=now() WHERE id=$1
	`, sessionID, string(status), lastError)
	return err
}

// UpdateSessionProgress persists the acknowledged byte count. GREATEST
// keeps uploaded_bytes monotonic even if reports arrive out of order.
func (s *PostgresStore) UpdateSessionProgress(ctx context.Context, sessionID uuid.UUID, uploadedBytes int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET uploaded_bytes = GREATEST(uploaded_bytes, LEAST($2, file_size)),
		    status = CASE WHEN status = 'pending' THEN 'uploading' ELSE status END,
		    updated_at = now()
		WHERE id = $1
	`, sessionID, uploadedBytes)
	return err
}

func (s *PostgresStore) CompleteSession(ctx context.Context, sessionID uuid.UUID, videoID domain.VideoID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status='completed', youtube_video_id=$2, uploaded_bytes=file_size,
		    last_error='', updated_at=now()
		WHERE id=$1
	`, sessionID, videoID.String())
	return err
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]domain.UploadSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, file_name, file_size, youtube_session_id, youtube_upload_url,
		       uploaded_bytes, status, youtube_video_id, metadata, last_error,
		       created_at, updated_at, expires_at
		FROM upload_sessions
		WHERE user_id = $1 AND status IN ('pending','uploading','processing')
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.UploadSession
	for rows.Next() {
		u, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *u)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE id=$1`, sessionID)
	return err
}

func (s *PostgresStore) InsertGameMovie(ctx context.Context, params InsertMovieParams) (uuid.UUID, error) {
	if params.MovieID == uuid.Nil {
		params.MovieID = uuid.New()
	}
	query := `
		INSERT INTO game_movies (id, user_id, youtube_video_id, title, description, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query,
		params.MovieID, params.UserID, params.VideoID, params.Title, params.Description,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) LinkMovieToGame(ctx context.Context, movieID uuid.UUID, gameResultID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_movie_links (movie_id, game_result_id, created_at)
		VALUES ($1,$2,now())
		ON CONFLICT (movie_id) DO UPDATE SET game_result_id = EXCLUDED.game_result_id
	`, movieID, gameResultID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.UploadSession, error) {
	var u domain.UploadSession
	var status, videoID string
	var meta []byte
	err := row.Scan(
		&u.ID,
		&u.UserID,
		&u.FileName,
		&u.FileSize,
		&u.SessionToken,
		&u.UploadURL,
		&u.UploadedBytes,
		&status,
		&videoID,
		&meta,
		&u.LastError,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	u.Status = domain.UploadStatus(status)
	u.VideoID = domain.ParseVideoID(videoID)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, err
		}
	}
	return &u, nil
}
