package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/events"
)

// Download fetches a URL and writes the body under the session's data
// directory, creating parent directories as needed. Unlike Navigate and
// SubmitForm it propagates failures as errors: a partial or missing
// file has no useful result shape. Returns the absolute path written.
func (s *Session) Download(ctx context.Context, rawURL, relPath string) (string, error) {
	if !s.IsActive() {
		return "", fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	if relPath == "" {
		return "", fmt.Errorf("download path cannot be empty")
	}

	dest, err := s.resolveDownloadPath(relPath)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	s.countRequest("GET")

	req := s.client.R().SetContext(ctx)
	if u := parseHost(rawURL); u != "" {
		if header := s.jar.HeaderFor(u); header != "" {
			req.SetHeader("Cookie", header)
		}
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		s.publish(events.BrowserError, map[string]any{"url": rawURL, "error": err.Error()})
		return "", fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		s.publish(events.BrowserError, map[string]any{"url": rawURL, "status": resp.StatusCode()})
		return "", fmt.Errorf("download failed: HTTP %d for %s", resp.StatusCode(), rawURL)
	}

	body := resp.Body()

	// A bare name like "archive" gets the extension the content says it
	// should have.
	if filepath.Ext(dest) == "" {
		if ext := mimetype.Detect(body).Extension(); ext != "" {
			dest += ext
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write download: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DownloadsTotal.Inc()
		s.metrics.DownloadBytes.Add(float64(len(body)))
	}

	s.publish(events.BrowserDownloaded, map[string]any{
		"url":  rawURL,
		"path": dest,
		"size": len(body),
	})
	s.logger.Info("file downloaded", zap.String("url", rawURL), zap.String("path", dest), zap.Int("bytes", len(body)))

	return dest, nil
}

// resolveDownloadPath anchors relPath under dataDir and rejects
// anything that would escape it.
func (s *Session) resolveDownloadPath(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("download path must be relative, got %q", relPath)
	}

	dest := filepath.Join(s.dataDir, relPath)

	root := filepath.Clean(s.dataDir)
	if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return "", fmt.Errorf("download path %q escapes the session data directory", relPath)
	}
	return dest, nil
}

func parseHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
