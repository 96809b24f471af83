package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sunny-osprey/osprey/internal/retry"
)

// Permanent input failures. These never retry and fail the incident
// immediately.
var (
	ErrNotFound = errors.New("clip not found")
	ErrEmpty    = errors.New("clip is empty")
	ErrTooLarge = errors.New("clip exceeds max size")
)

// Handle is a downloaded clip on local disk.
type Handle struct {
	Path string
	Size int64
}

// Cleanup removes the downloaded temp file. Safe to call twice.
func (h *Handle) Cleanup() {
	if h == nil || h.Path == "" {
		return
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Clip] Cleanup failed for %s: %v", h.Path, err)
	}
}

// Client resolves event ids to clips via the recorder API and downloads
// them with bounded retry. Transient errors (timeouts, 5xx) retry with
// exponential backoff; 404 and invalid downloads fail immediately.
type Client struct {
	baseURL  string
	http     *http.Client
	maxBytes int64
	policy   retry.Policy
}

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxClipBytes int64
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.MaxClipBytes == 0 {
		cfg.MaxClipBytes = 100 << 20 // 100 MiB
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxClipBytes,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			Jitter:      200 * time.Millisecond,
		},
	}
}

// Acquire downloads the clip for an event id into a temp file.
// The caller owns the returned handle and must Cleanup it.
func (c *Client) Acquire(ctx context.Context, eventID string) (*Handle, error) {
	url := fmt.Sprintf("%s/api/events/%s/clip.mp4", c.baseURL, eventID)

	var handle *Handle
	err := c.policy.Do(ctx, func() error {
		h, err := c.download(ctx, url)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Clip] Downloaded %s (%d bytes) to %s", eventID, handle.Size, handle.Path)
	return handle, nil
}

func (c *Client) download(ctx context.Context, url string) (*Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip download: %w", err) // network/timeout: transient
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("clip download: status %d", resp.StatusCode)
	default:
		return nil, retry.Permanent(fmt.Errorf("clip download: status %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp("", "osprey_clip_*.mp4")
	if err != nil {
		return nil, retry.Permanent(err)
	}

	// Read one byte past the cap so oversize is detectable.
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("clip write: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("clip write: %w", closeErr)
	}
	if n == 0 {
		os.Remove(tmp.Name())
		return nil, retry.Permanent(ErrEmpty)
	}
	if n > c.maxBytes {
		os.Remove(tmp.Name())
		return nil, retry.Permanent(ErrTooLarge)
	}

	return &Handle{Path: tmp.Name(), Size: n}, nil
}
