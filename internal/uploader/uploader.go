// Package uploader drives the chunked, resumable upload of a local
// video file through the server relay to YouTube. Chunks are submitted
// strictly sequentially so pacing and adaptive sizing can react to the
// immediately preceding result.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/quota"
)

var (
	// ErrInvalidFile indicates the file has no readable content.
	ErrInvalidFile = errors.New("file is empty or unreadable")
	// ErrFileTooLarge indicates the file exceeds the configured ceiling.
	ErrFileTooLarge = errors.New("file exceeds the maximum upload size")
	// ErrSessionExpired indicates the resumable session is gone; a new
	// upload must be started.
	ErrSessionExpired = errors.New("upload session expired; start a new upload")
)

// UploadError is a terminal, non-retryable platform failure.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, e.Message)
}

// Config holds the chunk-loop tuning knobs.
type Config struct {
	InitialChunkSize int64
	MinChunkSize     int64
	MaxFileSize      int64
	// PacingInterval is the minimum delay between chunk submissions.
	// It must stay well below ProgressInterval, the cadence at which
	// acknowledged bytes are synced to the server.
	PacingInterval   time.Duration
	ProgressInterval time.Duration
	MaxRetries       uint64
	RetryBackoff     time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		InitialChunkSize: 32_000_000,
		MinChunkSize:     256 << 10,
		MaxFileSize:      128 << 30,
		PacingInterval:   500 * time.Millisecond,
		ProgressInterval: 5 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     2 * time.Second,
	}
}

// Client uploads files chunk by chunk through the relay.
type Client struct {
	api   *API
	quota *quota.Tracker
	local *StateStore
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// New constructs an upload Client. The state store may be nil when
// resume-across-restarts is not wanted.
func New(api *API, q *quota.Tracker, local *StateStore, cfg Config, log *slog.Logger) *Client {
	return &Client{api: api, quota: q, local: local, cfg: cfg, log: log, now: time.Now}
}

type runState struct {
	sessionID string
	uploadURL string
	fileName  string
	size      int64
	offset    int64
}

// Upload moves the file to YouTube and returns the assigned video id.
// The caller's progress callback runs after every chunk.
func (c *Client) Upload(ctx context.Context, r io.ReaderAt, size int64, fileName string, meta domain.VideoMetadata, onProgress func(Progress)) (string, error) {
	if size <= 0 {
		return "", ErrInvalidFile
	}
	if c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize {
		return "", ErrFileTooLarge
	}
	if err := c.quota.Check(); err != nil {
		return "", err
	}

	init, err := c.api.Initiate(ctx, domain.InitiateRequest{
		FileName: fileName,
		FileSize: size,
		Metadata: meta,
	})
	if err != nil {
		return "", err
	}

	st := &runState{
		sessionID: init.SessionID,
		uploadURL: init.UploadURL,
		fileName:  fileName,
		size:      size,
	}
	c.saveLocal(st)
	return c.run(ctx, st, r, onProgress)
}

// ResumeUpload continues an interrupted session from the last byte the
// platform acknowledged.
func (c *Client) ResumeUpload(ctx context.Context, sessionID string, r io.ReaderAt, size int64, onProgress func(Progress)) (string, error) {
	res, err := c.api.Resume(ctx, sessionID)
	if err != nil {
		return "", err
	}
	switch res.Status {
	case domain.StatusCompleted:
		return res.VideoID, nil
	case domain.StatusExpired:
		if c.local != nil {
			_ = c.local.Delete(sessionID)
		}
		return "", ErrSessionExpired
	case domain.StatusFailed:
		return "", fmt.Errorf("previous attempt failed: %s", res.Error)
	}
	if res.UploadURL == "" {
		return "", fmt.Errorf("resume returned no upload url for session %s", sessionID)
	}

	st := &runState{
		sessionID: sessionID,
		uploadURL: res.UploadURL,
		size:      size,
		offset:    res.UploadedBytes,
	}
	if c.local != nil {
		if ls, ok := c.local.Get(sessionID); ok {
			st.fileName = ls.FileName
			if ls.UploadedBytes > st.offset {
				st.offset = ls.UploadedBytes
			}
		}
	}
	return c.run(ctx, st, r, onProgress)
}

func (c *Client) run(ctx context.Context, st *runState, r io.ReaderAt, onProgress func(Progress)) (string, error) {
	limiter := rate.NewLimiter(rate.Every(c.cfg.PacingInterval), 1)
	chunkSize := c.cfg.InitialChunkSize
	if chunkSize < c.cfg.MinChunkSize {
		chunkSize = c.cfg.MinChunkSize
	}
	failures := 0
	tracker := newProgressTracker(st.size, c.now)
	tracker.observe(st.offset)
	var lastReport time.Time

	for {
		if err := limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("upload cancelled: %w", err)
		}

		var res *ChunkResponse
		var sentEnd int64
		attempt := func() error {
			n := min(chunkSize, st.size-st.offset)
			var body io.Reader
			var contentRange string
			if n > 0 {
				body = io.NewSectionReader(r, st.offset, n)
				contentRange = fmt.Sprintf("bytes %d-%d/%d", st.offset, st.offset+n-1, st.size)
			} else {
				// All bytes acknowledged but no terminal response yet:
				// zero-length status probe.
				contentRange = fmt.Sprintf("bytes */%d", st.size)
			}
			sentEnd = st.offset + n

			resp, err := c.api.UploadChunk(ctx, st.sessionID, st.uploadURL, contentRange, body, n)
			if err != nil {
				c.noteFailure(&chunkSize, &failures)
				return err
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				c.noteFailure(&chunkSize, &failures)
				return fmt.Errorf("relay returned status %d", resp.StatusCode)
			}
			res = resp
			return nil
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryBackoff), c.cfg.MaxRetries), ctx)
		if err := backoff.Retry(attempt, policy); err != nil {
			return "", err
		}
		failures = 0

		switch {
		case res.StatusCode == http.StatusPermanentRedirect:
			// Resume-incomplete: always continue from the offset the
			// platform acknowledged, not our own assumed one, so a
			// partially received chunk cannot leave a silent gap.
			acked, ok := parseAckedBytes(res.Header.Get("Range"))
			if !ok {
				acked = sentEnd
			}
			st.offset = acked
			tracker.observe(st.offset)
			c.saveLocal(st)
			if onProgress != nil {
				onProgress(tracker.snapshot())
			}
			if now := c.now(); now.Sub(lastReport) >= c.cfg.ProgressInterval {
				if err := c.api.ReportProgress(ctx, st.sessionID, st.offset); err != nil {
					c.log.Warn("progress sync failed", "session", st.sessionID, "error", err)
				}
				lastReport = now
			}

		case res.StatusCode >= 200 && res.StatusCode < 300:
			vid := videoIDFromResponse(res, st.sessionID)
			c.quota.Record()
			if _, err := c.api.Finalize(ctx, st.sessionID, vid.String()); err != nil {
				return "", fmt.Errorf("finalize: %w", err)
			}
			if c.local != nil {
				_ = c.local.Delete(st.sessionID)
			}
			st.offset = st.size
			tracker.observe(st.offset)
			if onProgress != nil {
				onProgress(tracker.snapshot())
			}
			return vid.String(), nil

		case res.StatusCode == http.StatusGone:
			return "", ErrSessionExpired

		default:
			return "", &UploadError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(res.Body))}
		}
	}
}

// noteFailure halves the chunk size after two consecutive failures,
// never below the configured floor.
func (c *Client) noteFailure(chunkSize *int64, failures *int) {
	*failures++
	if *failures >= 2 {
		*chunkSize = max(*chunkSize/2, c.cfg.MinChunkSize)
		*failures = 0
	}
}

func (c *Client) saveLocal(st *runState) {
	if c.local == nil {
		return
	}
	if err := c.local.Put(LocalState{
		SessionID:     st.sessionID,
		FileName:      st.fileName,
		UploadedBytes: st.offset,
		TotalBytes:    st.size,
		UploadURL:     st.uploadURL,
		UpdatedAt:     c.now(),
	}); err != nil {
		c.log.Warn("local upload state not saved", "session", st.sessionID, "error", err)
	}
}

// parseAckedBytes extracts the acknowledged byte count from a Range
// header of the form "bytes=0-104857599" (meaning 104857600 bytes).
func parseAckedBytes(rangeHeader string) (int64, bool) {
	if rangeHeader == "" {
		return 0, false
	}
	value := strings.TrimPrefix(rangeHeader, "bytes=")
	idx := strings.IndexByte(value, '-')
	if idx < 0 {
		return 0, false
	}
	end, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil || end < 0 {
		return 0, false
	}
	return end + 1, true
}

// videoIDFromResponse extracts the platform-assigned id from a terminal
// response: the JSON body's id field, then best-effort recovery from
// the Location header, then a placeholder id pending reconciliation.
func videoIDFromResponse(res *ChunkResponse, sessionID string) domain.VideoID {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.Body, &body); err == nil && body.ID != "" {
		return domain.RealVideoID(body.ID)
	}
	if loc := res.Header.Get("Location"); loc != "" {
		if id := path.Base(loc); id != "" && id != "." && id != "/" {
			return domain.RealVideoID(id)
		}
	}
	return domain.PlaceholderVideoID(sessionID)
}
