package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPSource_LoadAndReuseOnNotModified(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count > 1 {
			if got := r.Header.Get("If-None-Match"); got != "etag-1" {
				t.Errorf("expected If-None-Match header, got %q", got)
			}
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", "etag-1")
		_, _ = w.Write([]byte(sampleJSON))
	}))
	defer server.Close()

	source, err := NewHTTPSource(server.URL+"/services.json", time.Second, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("expected cached registry on 304")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestHTTPSource_RejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	source, err := NewHTTPSource(server.URL, time.Second, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := source.Load(context.Background()); !errors.Is(err, ErrInvalidRegistry) {
		t.Fatalf("expected ErrInvalidRegistry, got %v", err)
	}
}

func TestHTTPSource_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	source, err := NewHTTPSource(server.URL, time.Second, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := source.Load(context.Background()); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestNewHTTPSource_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPSource(" ", time.Second, 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewHTTPSource("http://example.com", 0, 0); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}

func TestNewSource_PicksBackend(t *testing.T) {
	t.Parallel()

	src, err := NewSource("https://example.com/services.json", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*HTTPSource); !ok {
		t.Fatalf("expected HTTPSource, got %T", src)
	}

	src, err = NewSource("services.json", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*FileSource); !ok {
		t.Fatalf("expected FileSource, got %T", src)
	}
}
