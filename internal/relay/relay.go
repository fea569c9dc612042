// Package relay forwards byte-range chunks from the browser to the
// YouTube resumable-upload URL. The browser cannot call that URL
// directly because of cross-origin restrictions, so the server relays
// each chunk verbatim and passes the platform's response back.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchvideo-backend/internal/store"
)

// Header names the uploader uses to address the relay. The upload URL
// travels in a header rather than the query string to dodge URL-length
// limits.
const (
	HeaderUploadURL = "X-Upload-Url"
	HeaderSessionID = "X-Session-Id"
)

// Relay forwards a single chunk per request. It never mutates session
// state; progress persistence is a separate call made by the uploader.
type Relay struct {
	store   store.Store
	client  *http.Client
	limiter *RateLimiter
	log     *slog.Logger
}

// New constructs a Relay. The outbound client timeout bounds one chunk
// transfer, not the whole upload.
func New(st store.Store, limiter *RateLimiter, log *slog.Logger) *Relay {
	return &Relay{
		store:   st,
		client:  &http.Client{Timeout: 5 * time.Minute},
		limiter: limiter,
		log:     log,
	}
}

// Forward relays one chunk (or a zero-length status probe) for an
// authenticated caller who owns the addressed session.
func (rl *Relay) Forward(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	uploadURL := r.Header.Get(HeaderUploadURL)
	sessionHeader := r.Header.Get(HeaderSessionID)
	if uploadURL == "" || sessionHeader == "" {
		writeError(w, http.StatusBadRequest, "missing X-Upload-Url or X-Session-Id header")
		return
	}
	sessionID, err := uuid.Parse(sessionHeader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if rl.limiter != nil && !rl.limiter.Allow(userID.String()) {
		writeError(w, http.StatusTooManyRequests, "too many chunk requests")
		return
	}

	ctx := r.Context()
	if _, err := rl.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "invalid session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp, err := rl.forward(ctx, uploadURL, r)
	if err != nil {
		rl.log.Error("relay transport failure", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	copyFilteredHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	// 204 and 308 carry their meaning in status and headers alone.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusPermanentRedirect {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		rl.log.Warn("relay response copy interrupted", "session", sessionID, "error", err)
	}
}

func (rl *Relay) forward(ctx context.Context, uploadURL string, r *http.Request) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, r.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength
	for _, h := range []string{"Content-Range", "Content-Type"} {
		if v := r.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}
	return rl.client.Do(out)
}

// Headers never forwarded back to the browser: hop-by-hop headers plus
// anything that would identify the platform or fight the real CORS
// layer.
var strippedHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Content-Length":    {},
	"Server":            {},
	"Set-Cookie":        {},
	"Alt-Svc":           {},
	"Vary":              {},
}

func copyFilteredHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, strip := strippedHeaders[name]; strip {
			continue
		}
		if strings.HasPrefix(name, "Access-Control-") || strings.HasPrefix(name, "X-Goog") || strings.HasPrefix(name, "X-Guploader") {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
