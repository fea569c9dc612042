package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"matchvideo-backend/internal/domain"
)

const (
	tokenURL          = "https://oauth2.googleapis.com/token"
	resumableEndpoint = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
)

var (
	// ErrNotConfigured indicates the YouTube credentials are absent.
	ErrNotConfigured = errors.New("youtube credentials not configured")
	// ErrUnauthorized indicates the stored refresh credential was rejected.
	ErrUnauthorized = errors.New("youtube authorization failed")
)

// UploadEntry is one entry from the channel's uploads listing.
type UploadEntry struct {
	VideoID     string
	Title       string
	PublishedAt time.Time
}

// Client exposes the subset of YouTube functionality the upload
// pipeline needs.
type Client interface {
	Configured() bool
	CreateSession(ctx context.Context, meta domain.VideoMetadata, fileName string, fileSize int64) (uploadURL string, err error)
	RecentUploads(ctx context.Context, maxResults int64) ([]UploadEntry, error)
}

// APIClient is the default implementation backed by the YouTube Data API.
type APIClient struct {
	oauth        oauth2.Config
	refreshToken string
	channelID    string
}

// NewAPIClient creates a client that exchanges the long-lived refresh
// token for access tokens on demand.
func NewAPIClient(clientID, clientSecret, refreshToken, channelID string) *APIClient {
	return &APIClient{
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		refreshToken: refreshToken,
		channelID:    channelID,
	}
}

// Configured reports whether the credential triple is present.
func (c *APIClient) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.refreshToken != ""
}

func (c *APIClient) httpClient(ctx context.Context) *http.Client {
	ts := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken})
	return oauth2.NewClient(ctx, ts)
}

// CreateSession opens a resumable upload session and returns the upload
// URL from the Location header.
func (c *APIClient) CreateSession(ctx context.Context, meta domain.VideoMetadata, fileName string, fileSize int64) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	body := map[string]any{
		"snippet": map[string]any{
			"title":       meta.Title,
			"description": meta.Description,
			"tags":        meta.Tags,
			"categoryId":  meta.CategoryID,
		},
		"status": map[string]any{
			"privacyStatus": domain.PrivacyUnlisted,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resumableEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", fileSize))
	req.Header.Set("X-Upload-Content-Type", "video/*")

	resp, err := c.httpClient(ctx).Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: session create returned %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resumable session create failed with status %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("resumable session response missing Location header")
	}
	return location, nil
}

// RecentUploads lists the most recent entries of the channel's uploads
// playlist, newest first.
func (c *APIClient) RecentUploads(ctx context.Context, maxResults int64) ([]UploadEntry, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.channelID == "" {
		return nil, errors.New("youtube channel id not configured")
	}

	svc, err := yt.NewService(ctx, option.WithHTTPClient(c.httpClient(ctx)))
	if err != nil {
		return nil, err
	}

	channels, err := svc.Channels.List([]string{"contentDetails"}).Id(c.channelID).Do()
	if err != nil {
		return nil, err
	}
	if len(channels.Items) == 0 {
		return nil, fmt.Errorf("channel %s not found", c.channelID)
	}
	uploadsID := channels.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploadsID == "" {
		return nil, errors.New("channel has no uploads playlist")
	}

	items, err := svc.PlaylistItems.List([]string{"snippet"}).
		PlaylistId(uploadsID).
		MaxResults(maxResults).
		Do()
	if err != nil {
		return nil, err
	}

	entries := make([]UploadEntry, 0, len(items.Items))
	for _, item := range items.Items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil {
			continue
		}
		published, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		entries = append(entries, UploadEntry{
			VideoID:     item.Snippet.ResourceId.VideoId,
			Title:       item.Snippet.Title,
			PublishedAt: published,
		})
	}
	return entries, nil
}
