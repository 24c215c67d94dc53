// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file implements the client of the external processing services (audio
// extractor, scene extractor, audio cleaner, video merger). Every service
// speaks JSON over HTTP: the step job is POSTed and the response body is the
// step result.
//
// The client is a decorator around net/http that adds:
//   - Rate Limiting: processors are sized for a handful of concurrent jobs.
//     Requests wait on a token bucket before they are sent.
//   - Retry Logic: connection failures and 5xx answers are retried a few
//     times with a short pause. 4xx answers are returned immediately.
//   - Deadlines: every call carries the configured timeout, clamped to
//     [30s, 60m].
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// MaxProcessorRetries is the number of extra attempts made on a transient failure.
const MaxProcessorRetries = 2

// ErrProcessorTimeout is returned when a processor does not answer in time.
var ErrProcessorTimeout = errors.New("processor timed out")

// ProcessorError is returned for a non 2xx answer.
type ProcessorError struct {
	Processor  string
	StatusCode int
	Body       string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s returned %d: %s", e.Processor, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is on the processor side.
func (e *ProcessorError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// QuotaAwareProcessor is a rate limited JSON client of one processor.
type QuotaAwareProcessor struct {
	Name       string
	URL        string
	Timeout    time.Duration
	RateLimit  *rate.Limiter
	HTTPClient *http.Client
	RetryDelay time.Duration
}

// NewQuotaAwareProcessor builds the client of one `[processors.<name>]` entry.
// A zero rate limit means one request per second with a burst of one.
func NewQuotaAwareProcessor(name string, config Processor) *QuotaAwareProcessor {
	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Every(time.Second)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &QuotaAwareProcessor{
		Name:       name,
		URL:        config.URL,
		Timeout:    config.Timeout(),
		RateLimit:  rate.NewLimiter(limit, burst),
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		RetryDelay: 2 * time.Second,
	}
}

// Invoke POSTs request as JSON and decodes the answer into response.
//
// Inputs:
//   - ctx: The caller's context; cancellation aborts waiting and the request.
//   - request: Any JSON serializable payload.
//   - response: A pointer receiving the decoded body; may be nil.
//
// Outputs:
//   - error: ErrProcessorTimeout, a *ProcessorError or a transport error.
func (q *QuotaAwareProcessor) Invoke(ctx context.Context, request interface{}, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", q.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= MaxProcessorRetries; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying processor call", "processor", q.Name, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.RetryDelay):
			}
		}
		if err := q.RateLimit.Wait(ctx); err != nil {
			return err
		}
		lastErr = q.call(ctx, body, response)
		if lastErr == nil {
			return nil
		}
		var pe *ProcessorError
		if errors.As(lastErr, &pe) && !pe.Retryable() {
			return lastErr
		}
		if errors.Is(lastErr, ErrProcessorTimeout) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (q *QuotaAwareProcessor) call(ctx context.Context, body []byte, response interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, q.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrProcessorTimeout, q.Name, q.Timeout)
		}
		return fmt.Errorf("processor %s unreachable: %w", q.Name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", q.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProcessorError{Processor: q.Name, StatusCode: resp.StatusCode, Body: truncate(string(payload), 512)}
	}
	if response == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, response); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", q.Name, err)
	}
	return nil
}

func truncate(in string, n int) string {
	if len(in) <= n {
		return in
	}
	return in[:n] + "..."
}
