// Package tutorial looks up a repair video for a diagnosis. Lookups are best
// effort: every failure degrades to "no tutorial".
package tutorial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carcare/internal/config"
	"carcare/internal/metrics"
	"carcare/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	watchURL    = "https://www.youtube.com/watch?v="
	querySuffix = " car repair tutorial"
)

var genericSeeds = map[models.Kind]string{
	models.KindEngineSound: "engine noise",
	models.KindDashboard:   "dashboard warning light",
}

// Query derives the search text: fault, else summary, else the first
// indicator, else a generic seed for the input kind.
func Query(kind models.Kind, d *models.Diagnosis) string {
	seed := ""
	if d != nil {
		seed = firstNonEmpty(d.Fault, d.Summary)
		if seed == "" && len(d.Indicators) > 0 {
			seed = strings.TrimSpace(d.Indicators[0].Name)
		}
	}
	if seed == "" {
		seed = genericSeeds[kind]
		if seed == "" {
			seed = "car engine"
		}
	}
	return seed + querySuffix
}

type Client struct {
	svc     *youtube.Service
	timeout time.Duration
	cache   *expirable.LRU[string, string]
	logger  *zap.SugaredLogger
}

// New builds a YouTube search client. Without an API key (and no explicit
// client options) the returned client is disabled and Find always yields nil.
func New(ctx context.Context, provider config.ProviderConfig, cfg config.TutorialConfig, logger *zap.SugaredLogger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Client{
		timeout: cfg.Timeout(),
		cache:   expirable.NewLRU[string, string](max(cfg.CacheSize, 1), nil, time.Duration(cfg.CacheTTLMinutes)*time.Minute),
		logger:  logger,
	}
	if provider.APIKey == "" && len(opts) == 0 {
		logger.Infow("youtube api key not configured, tutorial lookup disabled")
		return c, nil
	}
	if provider.APIKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(provider.APIKey)}, opts...)
	}
	if provider.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(provider.BaseURL))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	c.svc = svc
	return c, nil
}

func (c *Client) Enabled() bool { return c != nil && c.svc != nil }

// Find returns a watch URL for the top video matching the diagnosis, or nil.
// It never waits longer than the configured timeout.
func (c *Client) Find(ctx context.Context, kind models.Kind, d *models.Diagnosis) *string {
	if !c.Enabled() {
		return nil
	}
	query := Query(kind, d)
	if id, ok := c.cache.Get(query); ok {
		metrics.TutorialLookups.WithLabelValues("hit").Inc()
		return watch(id)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.svc.Search.List([]string{"id"}).
		Q(query).
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		metrics.TutorialLookups.WithLabelValues("error").Inc()
		c.logger.Warnw("tutorial lookup failed", "query", query, "error", err)
		return nil
	}
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			metrics.TutorialLookups.WithLabelValues("found").Inc()
			c.cache.Add(query, item.Id.VideoId)
			return watch(item.Id.VideoId)
		}
	}
	metrics.TutorialLookups.WithLabelValues("none").Inc()
	return nil
}

func watch(id string) *string {
	u := watchURL + id
	return &u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
