// Command upload pushes a match video to YouTube through the match
// video service, resuming interrupted sessions where possible.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"matchvideo-backend/internal/domain"
	"matchvideo-backend/internal/quota"
	"matchvideo-backend/internal/resume"
	"matchvideo-backend/internal/uploader"
)

func main() {
	var (
		file        = flag.String("file", "", "path to the video file")
		title       = flag.String("title", "", "video title")
		description = flag.String("desc", "", "video description")
		gameID      = flag.String("game", "", "game result id to link the video to")
		server      = flag.String("server", envOr("MATCHVIDEO_SERVER", "http://localhost:8080"), "match video service base url")
		apiKey      = flag.String("api-key", os.Getenv("MATCHVIDEO_API_KEY"), "service api key")
		userID      = flag.String("user", os.Getenv("MATCHVIDEO_USER_ID"), "user id")
		resumeID    = flag.String("resume", "", "session id to resume instead of starting fresh")
		list        = flag.Bool("list", false, "list resumable uploads and exit")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *apiKey == "" || *userID == "" {
		fatal("api key and user id are required (flags or MATCHVIDEO_API_KEY / MATCHVIDEO_USER_ID)")
	}

	apiClient := uploader.NewAPI(*server, *apiKey, *userID)
	local, err := uploader.NewStateStore(statePath())
	if err != nil {
		logger.Warn("local upload state unavailable", "error", err)
	}

	if *list {
		coord := resume.New(apiClient, local, 30*time.Second, logger)
		if err := coord.Refresh(ctx); err != nil {
			fatal("could not fetch resumable uploads: %v", err)
		}
		entries := coord.Resumable()
		if len(entries) == 0 {
			fmt.Println("no resumable uploads")
			return
		}
		for _, e := range entries {
			origin := "server"
			if e.LocalOnly {
				origin = "local"
			}
			fmt.Printf("%s  %-30s %6.1f%%  %s (%s)\n",
				e.SessionID, e.FileName, e.Progress, e.Status, origin)
		}
		return
	}

	if *file == "" {
		fatal("-file is required")
	}
	f, err := os.Open(*file)
	if err != nil {
		fatal("open %s: %v", *file, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fatal("stat %s: %v", *file, err)
	}

	client := uploader.New(apiClient, quota.NewTracker(), local, uploader.DefaultConfig(), logger)
	onProgress := func(p uploader.Progress) {
		line := fmt.Sprintf("\r%6.2f%%  %s/s  eta %s",
			p.Percent, formatBytes(int64(p.Speed)), formatETA(p.ETA))
		if p.Stalled {
			line += "  (stalled)"
		}
		fmt.Fprint(os.Stderr, line)
	}

	var videoID string
	if *resumeID != "" {
		videoID, err = client.ResumeUpload(ctx, *resumeID, f, info.Size(), onProgress)
	} else {
		if *title == "" {
			fatal("-title is required for a new upload")
		}
		meta := domain.VideoMetadata{
			Title:        *title,
			Description:  *description,
			GameResultID: *gameID,
		}
		videoID, err = client.Upload(ctx, f, info.Size(), filepath.Base(*file), meta, onProgress)
	}
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("upload failed: %v", err)
	}
	fmt.Printf("uploaded: %s\n", videoID)
}

func statePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "matchvideo", "uploads.json")
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return d.Round(time.Second).String()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
