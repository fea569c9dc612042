package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/store"
	"matchvideo-backend/internal/youtube"
)

type storeStub struct {
	sessions map[uuid.UUID]*domain.UploadSession

	created       *domain.UploadSession
	statusUpdates []domain.UploadStatus
	lastErrors    []string
	progress      int64
	completedWith domain.VideoID
	movieInserted bool
	movieLinked   bool
	insertErr     error
	linkErr       error
}

func newStoreStub() *storeStub {
	return &storeStub{sessions: map[uuid.UUID]*domain.UploadSession{}}
}

func (s *storeStub) CreateSession(_ context.Context, sess *domain.UploadSession) error {
	s.created = sess
	s.sessions[sess.ID] = sess
	return nil
}

func (s *storeStub) GetSession(_ context.Context, sessionID, userID uuid.UUID) (*domain.UploadSession, error) {
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, store.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *storeStub) UpdateSessionStatus(_ context.Context, sessionID uuid.UUID, status domain.UploadStatus, lastError string) error {
	s.statusUpdates = append(s.statusUpdates, status)
	s.lastErrors = append(s.lastErrors, lastError)
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Status = status
		sess.LastError = lastError
	}
	return nil
}

func (s *storeStub) UpdateSessionProgress(_ context.Context, sessionID uuid.UUID, uploadedBytes int64) error {
	s.progress = uploadedBytes
	return nil
}

func (s *storeStub) CompleteSession(_ context.Context, sessionID uuid.UUID, videoID domain.VideoID) error {
	s.completedWith = videoID
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Status = domain.StatusCompleted
		sess.VideoID = videoID
	}
	return nil
}

func (s *storeStub) ListActiveSessions(_ context.Context, userID uuid.UUID) ([]domain.UploadSession, error) {
	var out []domain.UploadSession
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status != domain.StatusCompleted {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *storeStub) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	delete(s.sessions, sessionID)
	return nil
}

func (s *storeStub) InsertGameMovie(_ context.Context, _ store.InsertMovieParams) (uuid.UUID, error) {
	if s.insertErr != nil {
		return uuid.Nil, s.insertErr
	}
	s.movieInserted = true
	return uuid.New(), nil
}

func (s *storeStub) LinkMovieToGame(_ context.Context, _ uuid.UUID, _ string) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	s.movieLinked = true
	return nil
}

type ytStub struct {
	configured bool
	uploadURL  string
	createErr  error
	meta       domain.VideoMetadata
	entries    []youtube.UploadEntry
}

func (y *ytStub) Configured() bool { return y.configured }

func (y *ytStub) CreateSession(_ context.Context, meta domain.VideoMetadata, _ string, _ int64) (string, error) {
	y.meta = meta
	if y.createErr != nil {
		return "", y.createErr
	}
	return y.uploadURL, nil
}

func (y *ytStub) RecentUploads(_ context.Context, _ int64) ([]youtube.UploadEntry, error) {
	return y.entries, nil
}

func newTestService(st store.Store, yt youtube.Client) *Service {
	return NewService(st, yt, 24*time.Hour, time.Minute, slog.New(slog.DiscardHandler))
}

func TestInitiate(t *testing.T) {
	st := newStoreStub()
	yt := &ytStub{configured: true, uploadURL: "https://upload.example/resumable?upload_id=tok123&x=1"}
	svc := newTestService(st, yt)
	user := uuid.New()

	res, err := svc.Initiate(context.Background(), user, domain.InitiateRequest{
		FileName: "final.mp4",
		FileSize: 1 << 20,
		Metadata: domain.VideoMetadata{Title: "Club Final 2026", Privacy: "public"},
	})
	require.NoError(t, err)
	require.Equal(t, yt.uploadURL, res.UploadURL)
	require.NotEmpty(t, res.SessionID)

	require.NotNil(t, st.created)
	require.Equal(t, domain.StatusPending, st.created.Status)
	require.Equal(t, "tok123", st.created.SessionToken)
	// privacy is forced to unlisted no matter what the caller sent
	require.Equal(t, domain.PrivacyUnlisted, yt.meta.Privacy)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), res.ExpiresAt, time.Minute)
}

func TestInitiateValidation(t *testing.T) {
	svc := newTestService(newStoreStub(), &ytStub{configured: true})
	user := uuid.New()

	cases := []domain.InitiateRequest{
		{FileSize: 10, Metadata: domain.VideoMetadata{Title: "t"}},
		{FileName: "a.mp4", Metadata: domain.VideoMetadata{Title: "t"}},
		{FileName: "a.mp4", FileSize: 10, Metadata: domain.VideoMetadata{Title: "   "}},
	}
	for _, req := range cases {
		_, err := svc.Initiate(context.Background(), user, req)
		require.ErrorIs(t, err, ErrMissingParams)
	}
}

func TestInitiateUnconfigured(t *testing.T) {
	svc := newTestService(newStoreStub(), &ytStub{configured: false})
	_, err := svc.Initiate(context.Background(), uuid.New(), domain.InitiateRequest{
		FileName: "a.mp4",
		FileSize: 10,
		Metadata: domain.VideoMetadata{Title: "t"},
	})
	require.ErrorIs(t, err, youtube.ErrNotConfigured)
}

func seedSession(st *storeStub, status domain.UploadStatus, expiresAt time.Time) *domain.UploadSession {
	sess := &domain.UploadSession{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		FileName:      "match.mp4",
		FileSize:      1000,
		UploadURL:     "https://upload.example/resumable?upload_id=tok",
		UploadedBytes: 400,
		Status:        status,
		Metadata:      domain.VideoMetadata{Title: "Semifinal"},
		CreatedAt:     time.Now().Add(-time.Hour),
		ExpiresAt:     expiresAt,
	}
	st.sessions[sess.ID] = sess
	return sess
}

func TestResumeActiveSession(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Resume(context.Background(), sess.UserID, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, domain.StatusUploading, res.Status)
	require.Equal(t, sess.UploadURL, res.UploadURL)
	require.EqualValues(t, 400, res.UploadedBytes)
	require.NotNil(t, res.Metadata)
	require.Equal(t, "Semifinal", res.Metadata.Title)
	require.Equal(t, []domain.UploadStatus{domain.StatusUploading}, st.statusUpdates)
}

func TestResumeCompletedIsIdempotent(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusCompleted, time.Now().Add(-time.Hour))
	sess.VideoID = domain.RealVideoID("vid42")
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Resume(context.Background(), sess.UserID, sess.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Equal(t, "vid42", res.VideoID)
	require.Empty(t, st.statusUpdates)
}

func TestResumeExpiredSession(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(-time.Minute))
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Resume(context.Background(), sess.UserID, sess.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, domain.StatusExpired, res.Status)
	require.True(t, res.NewUploadRequired)
	// the expiry is now persisted
	require.Equal(t, []domain.UploadStatus{domain.StatusExpired}, st.statusUpdates)
}

func TestResumeFailedSession(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusFailed, time.Now().Add(time.Hour))
	sess.LastError = "network interrupted"
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Resume(context.Background(), sess.UserID, sess.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.Retryable)
	require.Equal(t, "network interrupted", res.Error)
}

func TestResumeUnknownSession(t *testing.T) {
	svc := newTestService(newStoreStub(), &ytStub{configured: true})
	_, err := svc.Resume(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestFinalizeLinksGameMovie(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	sess.Metadata.GameResultID = "game-77"
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Finalize(context.Background(), sess.UserID, sess.ID, "vid42")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Equal(t, "vid42", st.completedWith.String())
	require.True(t, st.movieInserted)
	require.True(t, st.movieLinked)
}

func TestFinalizeSwallowsLinkFailure(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	sess.Metadata.GameResultID = "game-77"
	st.insertErr = errors.New("movies table unavailable")
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Finalize(context.Background(), sess.UserID, sess.ID, "vid42")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestFinalizePlaceholderSkipsLink(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	sess.Metadata.GameResultID = "game-77"
	svc := newTestService(st, &ytStub{configured: true})

	_, err := svc.Finalize(context.Background(), sess.UserID, sess.ID, "pending_"+sess.ID.String())
	require.NoError(t, err)
	require.True(t, st.completedWith.IsPlaceholder())
	require.False(t, st.movieInserted)
}

func TestPendingAnnotations(t *testing.T) {
	st := newStoreStub()
	active := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	stale := seedSession(st, domain.StatusUploading, time.Now().Add(-time.Hour))
	stale.UserID = active.UserID
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Pending(context.Background(), active.UserID, false)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	got := res.Sessions[0]
	require.Equal(t, active.ID.String(), got.SessionID)
	require.Equal(t, 40.0, got.Progress)
	require.True(t, got.CanResume)
	require.Equal(t, map[domain.UploadStatus]int{domain.StatusUploading: 1}, res.Stats)

	withExpired, err := svc.Pending(context.Background(), active.UserID, true)
	require.NoError(t, err)
	require.Len(t, withExpired.Sessions, 2)
	require.Equal(t, 1, withExpired.Stats[domain.StatusExpired])
	for _, s := range withExpired.Sessions {
		if s.SessionID == stale.ID.String() {
			require.True(t, s.IsExpired)
			require.False(t, s.CanResume)
		}
	}
}

func TestPendingFreshSessionResumable(t *testing.T) {
	st := newStoreStub()
	fresh := seedSession(st, domain.StatusPending, time.Now().Add(time.Hour))
	fresh.UploadedBytes = 0
	svc := newTestService(st, &ytStub{configured: true})

	res, err := svc.Pending(context.Background(), fresh.UserID, false)
	require.NoError(t, err)
	require.Len(t, res.Sessions, 1)
	require.True(t, res.Sessions[0].CanResume)
	require.Equal(t, 0.0, res.Sessions[0].Progress)
	require.Equal(t, domain.StatusPending, res.Sessions[0].Status)
}

func TestPendingCached(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	svc := newTestService(st, &ytStub{configured: true})

	first, err := svc.Pending(context.Background(), sess.UserID, false)
	require.NoError(t, err)

	// mutate behind the cache; the stale snapshot is still served
	sess.UploadedBytes = 999
	second, err := svc.Pending(context.Background(), sess.UserID, false)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestReportProgress(t *testing.T) {
	st := newStoreStub()
	sess := seedSession(st, domain.StatusUploading, time.Now().Add(time.Hour))
	svc := newTestService(st, &ytStub{configured: true})

	require.NoError(t, svc.ReportProgress(context.Background(), sess.UserID, sess.ID, 800))
	require.EqualValues(t, 800, st.progress)

	err := svc.ReportProgress(context.Background(), uuid.New(), sess.ID, 800)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSessionToken(t *testing.T) {
	require.Equal(t, "abc", sessionToken("https://u.example/up?upload_id=abc"))
	require.Equal(t, "abc", sessionToken("https://u.example/up?upload_id=abc&x=1"))
	require.Equal(t, "", sessionToken("https://u.example/up"))
}
