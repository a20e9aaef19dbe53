package webhook

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/filter"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

// EndpointResolver looks up the callback URL of a session for a category.
type EndpointResolver interface {
	WebhookEndpoint(sessionID string, category domain.WebhookCategory) (string, bool)
}

// Options bounds the delivery of a single webhook.
type Options struct {
	Timeout        time.Duration
	Retries        int // extra attempts after the first
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func OptionsFromConfig(c config.WebhookConfig) Options {
	return Options{
		Timeout:        c.Timeout(),
		Retries:        c.Retries,
		BackoffInitial: c.BackoffInitial(),
		BackoffMax:     c.BackoffMax(),
	}
}

// Attempt describes one dispatch, logged once it finishes.
type Attempt struct {
	ID       string
	URL      string
	Category domain.WebhookCategory
	Payload  []byte
	Success  bool
	Retries  int
	Status   int
}

// Dispatcher delivers canonical documents to tenant endpoints. Delivery is
// best effort: failures are logged and dropped.
type Dispatcher struct {
	resolver EndpointResolver
	opts     Options
	client   *http.Client
	ids      *snowflake.Node
}

func NewDispatcher(resolver EndpointResolver, opts Options) (*Dispatcher, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errors.Wrap(err, "create delivery id node")
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	// Timeout bounds each attempt; the caller's context bounds the whole delivery
	client := &http.Client{Timeout: opts.Timeout}
	return &Dispatcher{
		resolver: resolver,
		opts:     opts,
		client:   client,
		ids:      node,
	}, nil
}

// Dispatch posts payload to the endpoint configured for category. A missing
// endpoint is not an error and performs no I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, category domain.WebhookCategory, payload interface{}) error {
	url, ok := d.resolver.WebhookEndpoint(sessionID, category)
	if !ok {
		return nil
	}
	return d.Deliver(ctx, url, sessionID, category, payload)
}

// Deliver posts payload to url with the configured retry budget. An empty url is a no-op.
func (d *Dispatcher) Deliver(ctx context.Context, url, sessionID string, category domain.WebhookCategory, payload interface{}) error {
	if url == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "webhook %s for session %s", category, sessionID)
	}

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode webhook payload")
	}
	att := &Attempt{
		ID:       d.ids.Generate().String(),
		URL:      url,
		Category: category,
		Payload:  body,
	}

	start := time.Now()
	calls := 0
	var lastErr error
	err = gout.New(d.client).
		POST(url).
		WithContext(ctx).
		SetHeader(gout.H{
			"Content-Type":      "application/json",
			"X-Wagate-Delivery": att.ID,
			"X-Wagate-Category": string(category),
			"X-Wagate-Session":  sessionID,
		}).
		SetBody(body).
		F().Retry().
		Attempt(d.opts.Retries + 1).
		WaitTime(d.opts.BackoffInitial).
		MaxWaitTime(d.opts.BackoffMax).
		Func(func(c *gout.Context) error {
			calls++
			att.Status = c.Code
			lastErr = c.Error
			if ctx.Err() != nil {
				return nil
			}
			if c.Error != nil {
				if isTimeout(c.Error) {
					return filter.ErrRetry
				}
				return nil
			}
			if c.Code >= http.StatusInternalServerError {
				return filter.ErrRetry
			}
			return nil
		}).
		Do()

	if calls > 0 {
		att.Retries = calls - 1
	}
	if err == nil {
		err = lastErr
	}
	att.Success = err == nil && att.Status >= 200 && att.Status < 300
	metrics.Observe("webhook_latency_ms", float64(time.Since(start).Milliseconds()))

	if !att.Success {
		metrics.Incr("webhook_failed")
		if err == nil {
			err = fmt.Errorf("endpoint returned status %d", att.Status)
		}
		zap.L().Warn("webhook: delivery failed",
			zap.String("delivery_id", att.ID),
			zap.String("session_id", sessionID),
			zap.String("category", string(category)),
			zap.String("url", url),
			zap.Int("status", att.Status),
			zap.Int("retries", att.Retries),
			zap.Error(err))
		return errors.Wrapf(err, "webhook %s for session %s", category, sessionID)
	}

	metrics.Incr("webhook_delivered")
	zap.L().Debug("webhook: delivered",
		zap.String("delivery_id", att.ID),
		zap.String("session_id", sessionID),
		zap.String("category", string(category)),
		zap.Int("status", att.Status),
		zap.Int("retries", att.Retries))
	return nil
}

// isTimeout reports whether a transport error is worth another attempt. Refused
// connections and resolution failures are not retried.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
