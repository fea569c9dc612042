package domain

import "time"

// Wire types shared by the HTTP handlers and the upload client.

// InitiateRequest opens a new upload session.
type InitiateRequest struct {
	FileName string        `json:"fileName"`
	FileSize int64         `json:"fileSize"`
	Metadata VideoMetadata `json:"metadata"`
}

// InitiateResponse carries the resumable upload coordinates back to the
// client.
type InitiateResponse struct {
	SessionID string    `json:"sessionId"`
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FinalizeRequest marks a session complete with its platform video id.
type FinalizeRequest struct {
	SessionID      string `json:"sessionId"`
	YouTubeVideoID string `json:"youtubeVideoId"`
}

// FinalizeResponse acknowledges session completion.
type FinalizeResponse struct {
	Success   bool         `json:"success"`
	SessionID string       `json:"sessionId"`
	VideoID   string       `json:"videoId"`
	Status    UploadStatus `json:"status"`
}

// ProgressReport is the uploader's periodic byte-count sync.
type ProgressReport struct {
	SessionID     string `json:"sessionId"`
	UploadedBytes int64  `json:"uploadedBytes"`
}

// ResumeResponse describes what a resume attempt found. Status carries
// the effective status; the remaining fields depend on it.
type ResumeResponse struct {
	Success           bool           `json:"success"`
	Status            UploadStatus   `json:"status"`
	VideoID           string         `json:"videoId,omitempty"`
	UploadURL         string         `json:"uploadUrl,omitempty"`
	UploadedBytes     int64          `json:"uploadedBytes"`
	FileSize          int64          `json:"fileSize"`
	Metadata          *VideoMetadata `json:"metadata,omitempty"`
	Error             string         `json:"error,omitempty"`
	Retryable         bool           `json:"retryable,omitempty"`
	NewUploadRequired bool           `json:"newUploadRequired,omitempty"`
}

// PendingSession is one recoverable session in the pending listing.
type PendingSession struct {
	SessionID     string        `json:"sessionId"`
	FileName      string        `json:"fileName"`
	FileSize      int64         `json:"fileSize"`
	UploadedBytes int64         `json:"uploadedBytes"`
	Status        UploadStatus  `json:"status"`
	Progress      float64       `json:"progress"`
	IsExpired     bool          `json:"isExpired"`
	CanResume     bool          `json:"canResume"`
	Metadata      VideoMetadata `json:"metadata"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// PendingListResponse lists a caller's recoverable sessions with
// per-status counts.
type PendingListResponse struct {
	Sessions  []PendingSession     `json:"sessions"`
	Stats     map[UploadStatus]int `json:"stats"`
	Timestamp time.Time            `json:"timestamp"`
}

// SyncResponse reports a reconciled video id.
type SyncResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"videoId"`
}
