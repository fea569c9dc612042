package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/relay"
)

// API is the uploader's HTTP client for the matchvideo server.
type API struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
}

// NewAPI creates a server client for one authenticated user.
func NewAPI(baseURL, apiKey, userID string) *API {
	return &API{
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// ChunkResponse is the platform response relayed back for one chunk.
type ChunkResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Initiate opens a new upload session.
func (a *API) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResponse, error) {
	var res domain.InitiateResponse
	if err := a.postJSON(ctx, "/api/upload/initiate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UploadChunk relays one byte range to the platform through the proxy.
// A transport-level failure returns an error; any platform status code
// comes back in the ChunkResponse for the caller to interpret.
func (a *API) UploadChunk(ctx context.Context, sessionID, uploadURL, contentRange string, body io.Reader, length int64) (*ChunkResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.baseURL+"/api/upload/proxy", body)
	if err != nil {
		return nil, err
	}
	a.setAuth(req)
	req.ContentLength = length
	req.Header.Set(relay.HeaderUploadURL, uploadURL)
	req.Header.Set(relay.HeaderSessionID, sessionID)
	req.Header.Set("Content-Range", contentRange)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &ChunkResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Finalize marks the session complete on the server.
func (a *API) Finalize(ctx context.Context, sessionID, videoID string) (*domain.FinalizeResponse, error) {
	var res domain.FinalizeResponse
	req := domain.FinalizeRequest{SessionID: sessionID, YouTubeVideoID: videoID}
	if err := a.postJSON(ctx, "/api/upload/finalize", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReportProgress syncs the acknowledged byte count to the server.
func (a *API) ReportProgress(ctx context.Context, sessionID string, uploadedBytes int64) error {
	report := domain.ProgressReport{SessionID: sessionID, UploadedBytes: uploadedBytes}
	return a.postJSON(ctx, "/api/upload/progress", report, nil)
}

// Resume asks the server whether and where the session can continue.
func (a *API) Resume(ctx context.Context, sessionID string) (*domain.ResumeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/upload/resume/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	a.setAuth(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("resume: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("resume returned status %d", resp.StatusCode)
	}

	// Resume outcomes travel in the body for 200, 400 and 410 alike.
	var res domain.ResumeResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("resume response: %w", err)
	}
	return &res, nil
}

// Pending fetches the server's list of recoverable sessions.
func (a *API) Pending(ctx context.Context, includeExpired bool) (*domain.PendingListResponse, error) {
	url := a.baseURL + "/api/upload/pending"
	if includeExpired {
		url += "?includeExpired=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	a.setAuth(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pending list returned status %d", resp.StatusCode)
	}
	var res domain.PendingListResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) postJSON(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	a.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (status %d)", path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *API) setAuth(req *http.Request) {
	req.Header.Set("X-API-Key", a.apiKey)
	req.Header.Set("X-User-Id", a.userID)
}
