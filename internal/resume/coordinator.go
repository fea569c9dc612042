// Package resume decides which uploads look resumable by merging the
// server's pending-session list with locally cached upload state, so an
// interrupted upload can be offered for continuation even after a
// restart.
package resume

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/uploader"
)

// PendingLister is the server-side view the coordinator polls;
// *uploader.API satisfies it.
type PendingLister interface {
	Pending(ctx context.Context, includeExpired bool) (*domain.PendingListResponse, error)
}

// Entry is one resumable upload candidate.
type Entry struct {
	SessionID     string
	FileName      string
	UploadedBytes int64
	TotalBytes    int64
	Status        domain.UploadStatus
	Progress      float64
	CanResume     bool
	LocalOnly     bool
}

// Coordinator polls the server and local state on a timer, keeping a
// merged list of resumable uploads. Polling slows to double the base
// interval while nothing is resumable.
type Coordinator struct {
	api      PendingLister
	local    *uploader.StateStore
	interval time.Duration
	log      *slog.Logger

	mu        sync.RWMutex
	resumable []Entry

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Coordinator with the given base polling interval.
func New(api PendingLister, local *uploader.StateStore, interval time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		api:      api,
		local:    local,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins background polling.
func (c *Coordinator) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn("initial resume poll failed", "error", err)
	}
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts background polling and waits for the loop to exit.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("resume poll failed", "error", err)
			}
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *Coordinator) nextInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.resumable) > 0 {
		return c.interval
	}
	return 2 * c.interval
}

// Refresh fetches both sources and rebuilds the merged list. Server
// records win over local ones for the same session.
func (c *Coordinator) Refresh(ctx context.Context) error {
	merged := map[string]Entry{}

	if c.local != nil {
		for _, st := range c.local.List() {
			// Local-only state carries no server status; present it as an
			// in-flight upload using its last-known byte counts.
			e := Entry{
				SessionID:     st.SessionID,
				FileName:      st.FileName,
				UploadedBytes: st.UploadedBytes,
				TotalBytes:    st.TotalBytes,
				Status:        domain.StatusUploading,
				CanResume:     true,
				LocalOnly:     true,
			}
			if st.TotalBytes > 0 {
				e.Progress = float64(st.UploadedBytes) / float64(st.TotalBytes) * 100
			}
			merged[st.SessionID] = e
		}
	}

	list, err := c.api.Pending(ctx, false)
	if err != nil {
		return err
	}
	for _, s := range list.Sessions {
		merged[s.SessionID] = Entry{
			SessionID:     s.SessionID,
			FileName:      s.FileName,
			UploadedBytes: s.UploadedBytes,
			TotalBytes:    s.FileSize,
			Status:        s.Status,
			Progress:      s.Progress,
			CanResume:     s.CanResume,
		}
	}

	var out []Entry
	for _, e := range merged {
		if e.Status == domain.StatusExpired || !e.Status.Resumable() {
			continue
		}
		if e.UploadedBytes <= 0 {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })

	c.mu.Lock()
	c.resumable = out
	c.mu.Unlock()
	return nil
}

// Resumable returns a snapshot of the current candidates.
func (c *Coordinator) Resumable() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.resumable))
	copy(out, c.resumable)
	return out
}

// Delete forgets a session locally. It clears the local-state entry and
// the in-memory candidate; the server-side session row is untouched.
func (c *Coordinator) Delete(sessionID string) {
	if c.local != nil {
		if err := c.local.Delete(sessionID); err != nil {
			c.log.Warn("local state delete failed", "session", sessionID, "error", err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.resumable[:0]
	for _, e := range c.resumable {
		if e.SessionID != sessionID {
			kept = append(kept, e)
		}
	}
	c.resumable = kept
}
