package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

// Compile-time interface check.
var _ domain.Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher loads album art from HTTP/HTTPS URLs, file:// URLs and local paths.
// Players like VLC and mpv report cover art as files in their cache.
type HTTPFetcher struct {
	logger *zap.Logger
	client *http.Client
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch returns the image bytes behind location
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.fetchHTTP(ctx, location)
	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid file url: %w", err)
		}
		return f.readFile(u.Path)
	case strings.HasPrefix(location, "/"):
		return f.readFile(location)
	default:
		return nil, fmt.Errorf("unsupported art location: %q", location)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "mediapanel/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil, fmt.Errorf("url is not an image: %s", resp.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	f.logger.Debug("Image fetched successfully", zap.Int("bytes", len(data)), zap.String("url", url))
	return data, nil
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open art file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read art file: %w", err)
	}

	f.logger.Debug("Image read from disk", zap.Int("bytes", len(data)), zap.String("path", path))
	return data, nil
}
