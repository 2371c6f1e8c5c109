package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"multitalk/internal/config"
	"multitalk/internal/services"
)

const userAgent = "MultiTalk-Go/0.1.0"

// Service defines the notification surface exposed to the credit engine.
type Service interface {
	NotifyFatal(ctx context.Context, err error, contextLabel string) error
	NotifyReplenishFailures(ctx context.Context, plan string, matched, failed int) error
	NotifyJobFailed(ctx context.Context, jobID, accountID, detail string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		jobFailures: cfg.Notifications.JobFailures,
		retry: services.NewTransientRetryPolicy[struct{}](services.RetrySettings{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay(),
			MaxDelay:   cfg.RetryMaxDelay(),
		}),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	jobFailures bool
	retry       retrypolicy.RetryPolicy[struct{}]
}

func (n *ntfyService) NotifyFatal(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Invariant violation")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "MultiTalk - Fatal",
		message:  builder.String(),
		tags:     []string{"multitalk", "fatal", "alert"},
		priority: "urgent",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReplenishFailures(ctx context.Context, plan string, matched, failed int) error {
	if failed <= 0 {
		return nil
	}
	plan = strings.TrimSpace(plan)
	data := payload{
		title:    "MultiTalk - Replenish Incomplete",
		message:  fmt.Sprintf("Replenish for %s: %d of %d accounts failed", plan, failed, matched),
		tags:     []string{"multitalk", "replenish", plan},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, accountID, detail string) error {
	if !n.jobFailures {
		return nil
	}
	message := fmt.Sprintf("Job %s for %s failed", strings.TrimSpace(jobID), strings.TrimSpace(accountID))
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	data := payload{
		title:   "MultiTalk - Job Failed",
		message: message,
		tags:    []string{"multitalk", "job", "failed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "MultiTalk - Test",
		message:  "Notification system test",
		tags:     []string{"multitalk", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// send posts data to the topic. Transport errors and 5xx responses are
// retried under the configured backoff; other statuses fail immediately.
func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	_, err := services.RetryTransient(ctx, n.retry, func() (struct{}, error) {
		return struct{}{}, n.post(ctx, data)
	})
	return err
}

func (n *ntfyService) post(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	headers := map[string]string{"Title": data.title, "Priority": data.priority, "Tags": strings.Join(data.tags, ",")}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, "notifications", "send", "ntfy unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	statusErr := fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return services.Wrap(services.ErrTransient, "notifications", "send", statusErr.Error(), nil)
	}
	return statusErr
}

type noopService struct{}

func (noopService) NotifyFatal(context.Context, error, string) error                { return nil }
func (noopService) NotifyReplenishFailures(context.Context, string, int, int) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error   { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }

// NewNoop returns a Service that discards every notification.
func NewNoop() Service {
	return noopService{}
}
