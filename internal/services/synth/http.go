package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"multitalk/internal/services"
)

// HTTP posts jobs to a remote worker that reports back on a callback URL.
type HTTP struct {
	endpoint    string
	callbackURL string
	token       string
	client      *http.Client
	policy      retrypolicy.RetryPolicy[struct{}]
}

type dispatchRequest struct {
	Job
	CallbackURL string `json:"callback_url"`
}

// NewHTTP builds an HTTP dispatcher. callbackBase is the daemon's externally
// reachable base URL; token, when set, is forwarded for the callback.
func NewHTTP(endpoint, callbackBase, token string, retry services.RetrySettings, timeout time.Duration) (*HTTP, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("synth: invalid worker endpoint %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint:    parsed.String(),
		callbackURL: strings.TrimRight(callbackBase, "/"),
		token:       token,
		client:      &http.Client{Timeout: timeout},
		policy:      services.NewTransientRetryPolicy[struct{}](retry),
	}, nil
}

// Dispatch posts job, retrying connection failures and 5xx answers.
func (h *HTTP) Dispatch(ctx context.Context, job Job) error {
	body, err := json.Marshal(dispatchRequest{
		Job:         job,
		CallbackURL: fmt.Sprintf("%s/api/jobs/%s/result", h.callbackURL, url.PathEscape(job.ID)),
	})
	if err != nil {
		return fmt.Errorf("synth: encode job: %w", err)
	}
	_, err = services.RetryTransient(ctx, h.policy, func() (struct{}, error) {
		return struct{}{}, h.post(ctx, body)
	})
	return err
}

func (h *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrFatal, "synth", "dispatch", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MultiTalk-Go/0.1.0")
	if h.token != "" {
		req.Header.Set("X-Callback-Token", h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "synth", "dispatch", "worker unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "synth", "dispatch", fmt.Sprintf("worker returned %s", resp.Status), nil)
	default:
		return services.Wrap(services.ErrFatal, "synth", "dispatch", fmt.Sprintf("worker rejected job: %s", resp.Status), nil)
	}
}
