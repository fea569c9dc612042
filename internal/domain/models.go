package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus captures the lifecycle of an upload session.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusUploading  UploadStatus = "uploading"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
	StatusExpired    UploadStatus = "expired"
)

// Resumable reports whether an upload in this status may continue.
func (s UploadStatus) Resumable() bool {
	return s == StatusPending || s == StatusUploading || s == StatusProcessing
}

// Terminal reports whether the status is an absorbing state.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// PrivacyUnlisted is the only privacy level the club uses; every upload
// is visible by link only.
const PrivacyUnlisted = "unlisted"

// VideoMetadata describes the video being uploaded. GameResultID, when
// set, links the finished video to a recorded match result.
type VideoMetadata struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags,omitempty"`
	CategoryID   string   `json:"categoryId,omitempty"`
	Privacy      string   `json:"privacy,omitempty"`
	GameResultID string   `json:"gameResultId,omitempty"`
}

// UploadSession tracks one attempt to move a local file to YouTube,
// from initiation through completion or failure/expiry.
type UploadSession struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	FileName      string
	FileSize      int64
	SessionToken  string // YouTube resumable session token
	UploadURL     string // YouTube resumable upload URL, immutable once set
	UploadedBytes int64
	Status        UploadStatus
	VideoID       VideoID
	Metadata      VideoMetadata
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// EffectiveStatus folds expiry into the displayed status. The persisted
// status is only rewritten to expired when a resume is attempted, so
// reads must derive it: any session past its expiry is expired unless it
// already completed.
func EffectiveStatus(s *UploadSession, now time.Time) UploadStatus {
	if s.Status == StatusCompleted {
		return StatusCompleted
	}
	if now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}

// ProgressPercent returns completion as a percentage of the file size.
func (s *UploadSession) ProgressPercent() float64 {
	if s.FileSize <= 0 {
		return 0
	}
	return float64(s.UploadedBytes) / float64(s.FileSize) * 100
}
