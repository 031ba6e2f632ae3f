// Package media downloads remote videos and computes the content digest used
// to deduplicate reposts.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// chunkSize is the buffer used for both the download copy and the hash pass.
const chunkSize = 8192

// writerOnly and readerOnly hide ReadFrom and WriteTo so io.CopyBuffer
// keeps to the chunkSize buffer instead of handing the copy to *os.File.
type writerOnly struct{ io.Writer }

type readerOnly struct{ io.Reader }

// ErrTooLarge is wrapped in a HashError when a download exceeds MaxBytes.
var ErrTooLarge = errors.New("download exceeds size limit")

// DownloadError reports a non-success status from the video host.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download video, status code: %d", e.StatusCode)
}

// HashError reports a local I/O failure while buffering or hashing.
type HashError struct {
	Op  string
	Err error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash video: %s: %v", e.Op, e.Err)
}

func (e *HashError) Unwrap() error { return e.Err }

type Options struct {
	// TempDir is where downloads are buffered; empty means os.TempDir().
	TempDir string
	// MaxBytes bounds a single download; zero disables the limit.
	MaxBytes int64
	Timeout  time.Duration
}

type Hasher struct {
	client  *http.Client
	options Options
	logger  *zap.Logger
	group   singleflight.Group
}

func NewHasher(opts Options, logger *zap.Logger) *Hasher {
	return NewHasherWithClient(&http.Client{Timeout: opts.Timeout}, opts, logger)
}

// NewHasherWithClient lets callers supply the transport, mainly for tests.
func NewHasherWithClient(client *http.Client, opts Options, logger *zap.Logger) *Hasher {
	return &Hasher{
		client:  client,
		options: opts,
		logger:  logger,
	}
}

// Hash downloads url to a temporary file and returns the hex SHA-256 of its
// bytes. Concurrent calls for the same url share one download; a caller
// whose ctx ends stops waiting without failing the others.
func (h *Hasher) Hash(ctx context.Context, url string) (string, error) {
	ch := h.group.DoChan(url, func() (any, error) {
		shared, cancel := h.sharedContext(ctx)
		defer cancel()
		return h.hash(shared, url)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			h.logger.Debug("Reused in-flight video hash", zap.String("url", url))
		}
		return res.Val.(string), nil
	}
}

// sharedContext keeps the values of the first caller's ctx but not its
// cancellation. The download is bounded by Timeout instead.
func (h *Hasher) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if h.options.Timeout > 0 {
		return context.WithTimeout(detached, h.options.Timeout)
	}
	return context.WithCancel(detached)
}

func (h *Hasher) hash(ctx context.Context, url string) (string, error) {
	start := time.Now()

	file, err := os.CreateTemp(h.options.TempDir, "lolify-*.video")
	if err != nil {
		return "", &HashError{Op: "create temp file", Err: err}
	}
	defer func() {
		file.Close()
		if err := os.Remove(file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to remove temp video", zap.String("path", file.Name()), zap.Error(err))
		}
	}()

	size, err := h.download(ctx, url, file)
	if err != nil {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", &HashError{Op: "rewind temp file", Err: err}
	}

	digest, err := HashReader(file)
	if err != nil {
		return "", err
	}

	h.logger.Info("Hashed video",
		zap.String("hash", digest),
		zap.Int64("bytes", size),
		zap.Duration("duration", time.Since(start)))

	return digest, nil
}

func (h *Hasher) download(ctx context.Context, url string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	var src io.Reader = resp.Body
	if h.options.MaxBytes > 0 {
		// Read one byte past the limit so an oversize body is detectable.
		src = io.LimitReader(resp.Body, h.options.MaxBytes+1)
	}

	n, err := io.CopyBuffer(writerOnly{dst}, readerOnly{src}, make([]byte, chunkSize))
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return n, &HashError{Op: "write temp file", Err: err}
		}
		return n, fmt.Errorf("failed to read video body: %w", err)
	}
	if h.options.MaxBytes > 0 && n > h.options.MaxBytes {
		return n, &HashError{Op: "write temp file", Err: ErrTooLarge}
	}

	return n, nil
}

// HashReader returns the hex SHA-256 of everything read from r, reading in
// fixed-size chunks.
func HashReader(r io.Reader) (string, error) {
	sum := sha256.New()
	if _, err := io.CopyBuffer(sum, readerOnly{r}, make([]byte, chunkSize)); err != nil {
		return "", &HashError{Op: "read temp file", Err: err}
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
