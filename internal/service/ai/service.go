// Package ai asks a Gemini model for a structured diagnosis of an image.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"carcare/internal/config"
	"carcare/internal/metrics"
	"carcare/internal/models"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Generator is the part of genai.Models the client uses.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	models  Generator
	model   string
	timeout time.Duration
	retry   RetryPolicy
	logger  *zap.SugaredLogger
}

// New builds a client backed by the Gemini API.
func New(ctx context.Context, provider config.ProviderConfig, cfg config.AIConfig, logger *zap.SugaredLogger) (*Client, error) {
	if provider.APIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	cc := &genai.ClientConfig{
		APIKey:  provider.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if provider.BaseURL != "" {
		cc.HTTPOptions.BaseURL = provider.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return NewWithGenerator(client.Models, provider.Model, cfg, logger), nil
}

// NewWithGenerator wires any Generator, e.g. a test double.
func NewWithGenerator(gen Generator, model string, cfg config.AIConfig, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		models:  gen,
		model:   model,
		timeout: cfg.Timeout(),
		retry: RetryPolicy{
			MaxRetries:     retries,
			InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		},
		logger: logger,
	}
}

// Diagnose sends image with the prompt for kind and parses the reply. The raw
// reply text is returned whenever the model answered, even on error.
func (c *Client) Diagnose(ctx context.Context, kind models.Kind, image []byte, mimeType string) (*models.Diagnosis, string, error) {
	if len(image) == 0 {
		return nil, "", errors.New("no image to diagnose")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(Prompt(kind)),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	attempts := 0
	op := func() (string, error) {
		attempts++
		resp, err := c.models.GenerateContent(ctx, c.model, contents, genCfg)
		if err != nil {
			if ctx.Err() != nil || !isTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return resp.Text(), nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.AIRetries.Inc()
		c.logger.Warnw("model call failed, retrying", "kind", kind, "attempt", attempts, "wait", wait.String(), "error", err)
	}

	raw, err := backoff.RetryNotifyWithData(op, c.backoff(ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, "", &ServiceError{Attempts: attempts, Status: statusOf(err), Err: err}
	}

	diagnosis, err := ParseDiagnosis(raw)
	if err != nil {
		c.logger.Warnw("model reply rejected", "kind", kind, "error", err, "raw", raw)
		return nil, raw, err
	}
	return diagnosis, raw, nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.retry.InitialBackoff),
		backoff.WithMaxInterval(c.retry.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxRetries)), ctx)
}

// isTransient reports failures worth another attempt: throttling, server
// errors, and network trouble.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusRequestTimeout || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
