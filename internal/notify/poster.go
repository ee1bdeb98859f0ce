package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

// timing controls pacing and retries of webhook deliveries.
type timing struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timing{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// poster delivers JSON payloads to one webhook URL. Deliveries are paced per source so a
// burst of deploy failures cannot starve monitor alerts.
type poster struct {
	logger      zerolog.Logger
	name        string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timing

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(logger zerolog.Logger, name, url string, t timing) *poster {
	client := retryablehttp.NewClient()
	// Retries happen in deliver so Retry-After and context cancellation are honoured.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: t.timeout}

	return &poster{
		logger:      logger.With().Str("notifier", name).Logger(),
		name:        name,
		url:         url,
		contentType: "application/json",
		client:      client,
		timing:      t,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// deliver waits for the source's rate limit, then posts each payload in order.
func (p *poster) deliver(ctx context.Context, source string, payloads ...[]byte) error {
	if err := p.limiter(source).Wait(ctx); err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := p.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *poster) limiter(source string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.timing.rateInterval), p.timing.rateBurst)
		p.limiters[source] = limiter
	}
	return limiter
}

func (p *poster) postWithRetry(ctx context.Context, payload []byte) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.timing.backoffInitial
	exp.MaxInterval = p.timing.backoffMax
	exp.MaxElapsedTime = p.timing.backoffMaxElapsed
	policy := &retryAfterBackOff{BackOff: exp}

	operation := func() error {
		err := p.postOnce(ctx, payload)
		var retryAfter *retryAfterError
		var transient *transientError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &retryAfter):
			policy.next = retryAfter.Duration
			return err
		case errors.As(err, &transient):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	onRetry := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Dur("retry_in", wait).Msg("notification delivery failed, retrying")
	}
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), onRetry)
}

func (p *poster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("%s request failed: %w", p.name, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", p.name, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return &transientError{err: limited}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &transientError{err: fmt.Errorf("%s server error: %s", p.name, resp.Status)}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return fmt.Errorf("%s request failed: %s (%s)", p.name, resp.Status, text)
	}
	return fmt.Errorf("%s request failed: %s", p.name, resp.Status)
}

// retryAfterBackOff prefers a server supplied Retry-After over the exponential schedule.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.next > 0 {
		wait := b.next
		b.next = 0
		return wait
	}
	return b.BackOff.NextBackOff()
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.Duration)
}

func (e *retryAfterError) Unwrap() error {
	return e.err
}
