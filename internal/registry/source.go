package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultMaxBytes int64 = 1 << 20

// Source loads the current registry.
type Source interface {
	Load(ctx context.Context) (Registry, error)
}

// FileSource reads the registry from a local path on every load.
type FileSource struct {
	path string
}

// NewFileSource returns a Source backed by a file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) (Registry, error) {
	if err := ctx.Err(); err != nil {
		return Registry{}, err
	}
	body, err := os.ReadFile(s.path)
	if err != nil {
		return Registry{}, fmt.Errorf("%w: read %s: %v", ErrInvalidRegistry, s.path, err)
	}
	return Parse(ctx, s.path, body)
}

// HTTPSource fetches the registry over HTTP and reuses the last parse on 304 responses.
type HTTPSource struct {
	url      string
	client   *http.Client
	maxBytes int64

	mu   sync.Mutex
	etag string
	last *Registry
}

// NewHTTPSource constructs an HTTPSource with the given URL and timeout.
func NewHTTPSource(url string, timeout time.Duration, maxBytes int64) (*HTTPSource, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("registry url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}, nil
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context) (Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return Registry{}, fmt.Errorf("create request: %w", err)
	}
	if s.etag != "" && s.last != nil {
		req.Header.Set("If-None-Match", s.etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Registry{}, fmt.Errorf("%w: fetch registry: %v", ErrInvalidRegistry, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && s.last != nil {
		return *s.last, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Registry{}, fmt.Errorf("%w: unexpected status: %s", ErrInvalidRegistry, resp.Status)
	}

	body, err := readWithLimit(resp.Body, s.maxBytes)
	if err != nil {
		return Registry{}, err
	}

	reg, err := Parse(ctx, req.URL.Path, body)
	if err != nil {
		return Registry{}, err
	}

	s.etag = resp.Header.Get("ETag")
	s.last = &reg
	return reg, nil
}

// NewSource picks an HTTP or file source for the location.
func NewSource(location string, timeout time.Duration) (Source, error) {
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return NewHTTPSource(location, timeout, 0)
	}
	return NewFileSource(location), nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: registry body exceeds %d bytes", ErrInvalidRegistry, maxBytes)
	}
	return body, nil
}

// StaticSource serves a fixed registry.
type StaticSource struct {
	registry Registry
}

// NewStaticSource validates services and wraps them as a Source.
func NewStaticSource(services ...Service) (*StaticSource, error) {
	if err := Validate(services); err != nil {
		return nil, err
	}
	return &StaticSource{registry: Registry{Services: services}}, nil
}

// Load implements Source.
func (s *StaticSource) Load(ctx context.Context) (Registry, error) {
	if err := ctx.Err(); err != nil {
		return Registry{}, err
	}
	return s.registry, nil
}
