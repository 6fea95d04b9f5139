// Package artifact makes sure model files are present on local disk.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
)

// ErrNoSource is returned when a file is missing and no URL is configured.
var ErrNoSource = errors.New("artifact missing and no download url configured")

// StatusError is a non-2xx answer from the artifact host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher downloads artifacts over HTTP.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a fetcher whose downloads are bounded by timeout.
// A zero timeout means no limit.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewFetcherWithClient is used when the caller owns the transport.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{httpClient: client}
}

// EnsureLocal downloads url to dest unless dest already exists.
// An existing file is trusted as is: no checksum, no staleness check.
func (f *Fetcher) EnsureLocal(ctx context.Context, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		log.WithField("path", dest).Debug("artifact already present")
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dest, err)
	}

	if url == "" {
		return fmt.Errorf("%s: %w", dest, ErrNoSource)
	}

	started := time.Now()
	data, err := f.download(ctx, url)
	if err != nil {
		return err
	}

	if err := writeFile(dest, data); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"url":      url,
		"path":     dest,
		"bytes":    len(data),
		"duration": time.Since(started).String(),
	}).Info("artifact downloaded")
	return nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	log.WithField("url", url).Info("downloading artifact")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

// writeFile writes through a temp file in the same directory so the final
// path only ever holds a complete artifact.
func writeFile(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename into %s: %w", dest, err)
	}
	return nil
}
