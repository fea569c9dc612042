package uploader

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/quota"
	"matchvideo-backend/internal/relay"
)

// zeroReaderAt pretends to be a file of the given size filled with
// zeros, so large-upload tests need no real file.
type zeroReaderAt struct{ size int64 }

func (z zeroReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= z.size {
		return 0, fmt.Errorf("read past end at %d", off)
	}
	n := int64(len(p))
	if off+n > z.size {
		n = z.size - off
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	return int(n), nil
}

type chunkRange struct {
	start, end, total int64
}

// fakeServer stands in for the whole service API: initiate, chunk
// proxy, finalize, progress and resume.
type fakeServer struct {
	t *testing.T

	mu         sync.Mutex
	ranges     []chunkRange
	acked      int64
	finalID    string
	finalized  string
	progress   []int64
	resumeBody *domain.ResumeResponse
	resumeCode int
	resumeErr  string

	// respond lets a test override the per-chunk behavior; returning
	// false falls through to the default ack-everything handler.
	respond func(w http.ResponseWriter, cr chunkRange, n int) bool

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, finalID: "vid42", resumeCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload/initiate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.InitiateResponse{
			SessionID: "11111111-1111-1111-1111-111111111111",
			UploadURL: "https://upload.example/resumable?upload_id=tok",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		})
	})
	mux.HandleFunc("PUT /api/upload/proxy", f.handleChunk)
	mux.HandleFunc("POST /api/upload/finalize", func(w http.ResponseWriter, r *http.Request) {
		var req domain.FinalizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.finalized = req.YouTubeVideoID
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, domain.FinalizeResponse{Success: true})
	})
	mux.HandleFunc("POST /api/upload/progress", func(w http.ResponseWriter, r *http.Request) {
		var rep domain.ProgressReport
		_ = json.NewDecoder(r.Body).Decode(&rep)
		f.mu.Lock()
		f.progress = append(f.progress, rep.UploadedBytes)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /api/upload/resume/", func(w http.ResponseWriter, r *http.Request) {
		if f.resumeErr != "" {
			writeJSON(w, f.resumeCode, map[string]string{"error": f.resumeErr})
			return
		}
		writeJSON(w, f.resumeCode, f.resumeBody)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	require.Equal(f.t, "11111111-1111-1111-1111-111111111111", r.Header.Get(relay.HeaderSessionID))
	require.NotEmpty(f.t, r.Header.Get(relay.HeaderUploadURL))

	cr, err := parseContentRange(r.Header.Get("Content-Range"))
	require.NoError(f.t, err)

	f.mu.Lock()
	f.ranges = append(f.ranges, cr)
	n := len(f.ranges)
	f.mu.Unlock()

	if f.respond != nil && f.respond(w, cr, n) {
		return
	}

	f.mu.Lock()
	f.acked = cr.end + 1
	acked := f.acked
	f.mu.Unlock()
	if acked < cr.total {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", acked-1))
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": f.finalID})
}

func parseContentRange(header string) (chunkRange, error) {
	var cr chunkRange
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return cr, fmt.Errorf("bad content range %q", header)
	}
	span, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return cr, fmt.Errorf("bad content range %q", header)
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return cr, err
	}
	cr.total = total
	if span == "*" {
		cr.start, cr.end = -1, -1
		return cr, nil
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return cr, fmt.Errorf("bad content range %q", header)
	}
	if cr.start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
		return cr, err
	}
	if cr.end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
		return cr, err
	}
	return cr, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PacingInterval = time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, f *fakeServer, cfg Config) *Client {
	api := NewAPI(f.srv.URL, "key", "22222222-2222-2222-2222-222222222222")
	local, err := NewStateStore(filepath.Join(t.TempDir(), "uploads.json"))
	require.NoError(t, err)
	return New(api, quota.NewTracker(), local, cfg, slog.New(slog.DiscardHandler))
}

func TestUploadChunkSequence(t *testing.T) {
	const fileSize = int64(300_000_000)
	f := newFakeServer(t)
	client := newTestClient(t, f, testConfig())

	var last Progress
	videoID, err := client.Upload(t.Context(), zeroReaderAt{size: fileSize}, fileSize, "final.mp4",
		domain.VideoMetadata{Title: "Club Final 2026"}, func(p Progress) { last = p })
	require.NoError(t, err)
	require.Equal(t, "vid42", videoID)
	require.Equal(t, "vid42", f.finalized)

	// 300,000,000 bytes at 32,000,000 per chunk: nine full chunks and a
	// 12,000,000-byte tail.
	require.Len(t, f.ranges, 10)
	require.EqualValues(t, 0, f.ranges[0].start)
	require.EqualValues(t, 31_999_999, f.ranges[0].end)
	tail := f.ranges[9]
	require.EqualValues(t, 288_000_000, tail.start)
	require.EqualValues(t, fileSize-1, tail.end)
	require.EqualValues(t, fileSize, tail.total)

	require.Equal(t, 100.0, last.Percent)
	require.Equal(t, fileSize, last.BytesSent)
}

func TestUploadHonorsServerAckOffset(t *testing.T) {
	const fileSize = int64(64_000_000)
	f := newFakeServer(t)
	// The platform acknowledges only part of the first chunk; the next
	// chunk must restart from the acknowledged offset, not our own.
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		if n == 1 {
			w.Header().Set("Range", "bytes=0-9999999")
			w.WriteHeader(http.StatusPermanentRedirect)
			return true
		}
		return false
	}
	client := newTestClient(t, f, testConfig())

	_, err := client.Upload(t.Context(), zeroReaderAt{size: fileSize}, fileSize, "m.mp4",
		domain.VideoMetadata{Title: "t"}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(f.ranges), 2)
	require.EqualValues(t, 10_000_000, f.ranges[1].start)
}

func TestUploadHalvesChunkAfterConsecutiveFailures(t *testing.T) {
	const fileSize = int64(4096)
	f := newFakeServer(t)
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}
	cfg := testConfig()
	cfg.InitialChunkSize = 1024
	cfg.MinChunkSize = 256
	client := newTestClient(t, f, cfg)

	_, err := client.Upload(t.Context(), zeroReaderAt{size: fileSize}, fileSize, "m.mp4",
		domain.VideoMetadata{Title: "t"}, nil)
	require.NoError(t, err)

	// two failed attempts at 1024, then the halved 512-byte chunk
	require.EqualValues(t, 1023, f.ranges[0].end)
	require.EqualValues(t, 1023, f.ranges[1].end)
	require.EqualValues(t, 511, f.ranges[2].end)
}

func TestUploadChunkNeverBelowFloor(t *testing.T) {
	const fileSize = int64(4096)
	f := newFakeServer(t)
	fails := 6
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		if n <= fails {
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	}
	cfg := testConfig()
	cfg.InitialChunkSize = 1024
	cfg.MinChunkSize = 512
	cfg.MaxRetries = 10
	client := newTestClient(t, f, cfg)

	_, err := client.Upload(t.Context(), zeroReaderAt{size: fileSize}, fileSize, "m.mp4",
		domain.VideoMetadata{Title: "t"}, nil)
	require.NoError(t, err)
	first := f.ranges[fails]
	require.EqualValues(t, 511, first.end)
}

func TestUploadValidation(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig()
	cfg.MaxFileSize = 1000
	client := newTestClient(t, f, cfg)

	_, err := client.Upload(t.Context(), zeroReaderAt{}, 0, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	require.ErrorIs(t, err, ErrInvalidFile)

	_, err = client.Upload(t.Context(), zeroReaderAt{size: 2000}, 2000, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Empty(t, f.ranges)
}

func TestUploadRefusedOnQuota(t *testing.T) {
	f := newFakeServer(t)
	api := NewAPI(f.srv.URL, "key", "22222222-2222-2222-2222-222222222222")
	tracker := quota.NewTrackerWithLimits(1000, 1600)
	client := New(api, tracker, nil, testConfig(), slog.New(slog.DiscardHandler))

	_, err := client.Upload(t.Context(), zeroReaderAt{size: 10}, 10, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Empty(t, f.ranges)
}

func TestUploadGoneSession(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		w.WriteHeader(http.StatusGone)
		return true
	}
	client := newTestClient(t, f, testConfig())

	_, err := client.Upload(t.Context(), zeroReaderAt{size: 10}, 10, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestUploadTerminalFailure(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("quota exhausted upstream"))
		return true
	}
	client := newTestClient(t, f, testConfig())

	_, err := client.Upload(t.Context(), zeroReaderAt{size: 10}, 10, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	require.Equal(t, http.StatusForbidden, uploadErr.StatusCode)
	require.Contains(t, uploadErr.Message, "quota exhausted")
}

func TestUploadPlaceholderWhenResponseUnparsable(t *testing.T) {
	f := newFakeServer(t)
	f.respond = func(w http.ResponseWriter, cr chunkRange, n int) bool {
		w.WriteHeader(http.StatusOK) // terminal, but no id anywhere
		return true
	}
	client := newTestClient(t, f, testConfig())

	videoID, err := client.Upload(t.Context(), zeroReaderAt{size: 10}, 10, "m.mp4", domain.VideoMetadata{Title: "t"}, nil)
	require.NoError(t, err)
	require.Equal(t, "pending_11111111-1111-1111-1111-111111111111", videoID)
	require.Equal(t, videoID, f.finalized)
}

func TestResumeUploadCompleted(t *testing.T) {
	f := newFakeServer(t)
	f.resumeBody = &domain.ResumeResponse{Success: true, Status: domain.StatusCompleted, VideoID: "vid42"}
	client := newTestClient(t, f, testConfig())

	videoID, err := client.ResumeUpload(t.Context(), "s1", nil, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "vid42", videoID)
}

func TestResumeUploadExpired(t *testing.T) {
	f := newFakeServer(t)
	f.resumeCode = http.StatusGone
	f.resumeBody = &domain.ResumeResponse{Status: domain.StatusExpired, NewUploadRequired: true}
	client := newTestClient(t, f, testConfig())

	_, err := client.ResumeUpload(t.Context(), "s1", nil, 0, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestResumeUploadServerError(t *testing.T) {
	f := newFakeServer(t)
	f.resumeCode = http.StatusInternalServerError
	f.resumeErr = "reopen session: database unavailable"
	client := newTestClient(t, f, testConfig())

	_, err := client.ResumeUpload(t.Context(), "s1", nil, 0, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database unavailable")
	require.NotContains(t, err.Error(), "no upload url")
}

func TestResumeUploadContinuesFromOffset(t *testing.T) {
	const fileSize = int64(2048)
	f := newFakeServer(t)
	f.resumeBody = &domain.ResumeResponse{
		Success:       true,
		Status:        domain.StatusUploading,
		UploadURL:     "https://upload.example/resumable?upload_id=tok",
		UploadedBytes: 1024,
		FileSize:      fileSize,
	}
	cfg := testConfig()
	cfg.InitialChunkSize = 4096
	client := newTestClient(t, f, cfg)

	videoID, err := client.ResumeUpload(t.Context(), "11111111-1111-1111-1111-111111111111",
		zeroReaderAt{size: fileSize}, fileSize, nil)
	require.NoError(t, err)
	require.Equal(t, "vid42", videoID)
	require.Len(t, f.ranges, 1)
	require.EqualValues(t, 1024, f.ranges[0].start)
	require.EqualValues(t, fileSize-1, f.ranges[0].end)
}

func TestParseAckedBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"bytes=0-104857599", 104857600, true},
		{"bytes=0-0", 1, true},
		{"", 0, false},
		{"bytes=0", 0, false},
		{"bytes=0-x", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAckedBytes(tt.in)
		require.Equal(t, tt.ok, ok, "input %q", tt.in)
		if ok {
			require.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}

func TestVideoIDFromResponse(t *testing.T) {
	res := &ChunkResponse{Body: []byte(`{"id":"vid42"}`), Header: http.Header{}}
	require.Equal(t, "vid42", videoIDFromResponse(res, "s1").String())

	res = &ChunkResponse{Header: http.Header{"Location": []string{"https://youtube.example/videos/vid99"}}}
	require.Equal(t, "vid99", videoIDFromResponse(res, "s1").String())

	res = &ChunkResponse{Header: http.Header{}}
	require.Equal(t, "pending_s1", videoIDFromResponse(res, "s1").String())
}
