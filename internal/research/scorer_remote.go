package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RemoteScorer calls a standalone scoring service over HTTP. Every call
// carries a fixed timeout; network failures, timeouts and 5xx responses are
// transient and retried with exponential backoff (delays doubling from
// Backoff) up to MaxAttempts before a TransientBackendError surfaces.
type RemoteScorer struct {
	Endpoint    string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTP        *http.Client
	Log         zerolog.Logger
}

func NewRemoteScorer(endpoint string, timeout time.Duration, maxAttempts int, backoff time.Duration, log zerolog.Logger) *RemoteScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &RemoteScorer{
		Endpoint:    endpoint,
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		HTTP:        &http.Client{Timeout: timeout},
		Log:         log,
	}
}

func (r *RemoteScorer) Name() string { return "remote" }

func (r *RemoteScorer) Score(ctx context.Context, req ScoreRequest) (ScoreReport, error) {
	var lastErr error
	delay := r.Backoff

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.Log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying remote scorer")
			select {
			case <-ctx.Done():
				return ScoreReport{}, &TransientBackendError{Backend: r.Name(), Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		report, err := r.scoreOnce(ctx, req)
		if err == nil {
			return report, nil
		}
		if !IsTransient(err) {
			return ScoreReport{}, err
		}
		lastErr = err
	}
	return ScoreReport{}, &TransientBackendError{
		Backend: r.Name(),
		Err:     fmt.Errorf("%d attempts exhausted: %w", r.MaxAttempts, lastErr),
	}
}

func (r *RemoteScorer) scoreOnce(ctx context.Context, req ScoreRequest) (ScoreReport, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ScoreReport{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ScoreReport{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		return ScoreReport{}, &TransientBackendError{Backend: r.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ScoreReport{}, &TransientBackendError{Backend: r.Name(), Err: err}
	}
	if resp.StatusCode >= 500 {
		return ScoreReport{}, &TransientBackendError{
			Backend: r.Name(),
			Err:     fmt.Errorf("scorer returned status %d: %s", resp.StatusCode, body),
		}
	}
	if resp.StatusCode >= 300 {
		return ScoreReport{}, fmt.Errorf("scorer rejected request: status %d: %s", resp.StatusCode, body)
	}

	var report ScoreReport
	if err := json.Unmarshal(body, &report); err != nil {
		return ScoreReport{}, fmt.Errorf("invalid scorer response: %w", err)
	}
	return report, nil
}
