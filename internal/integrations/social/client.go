// Package social publishes posts to the social platforms
package social

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/drumcap/hooklabs-elite-sub003/internal/integrations"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

const postsPath = "/v1/posts"

// PlatformConfig holds the endpoint and OAuth2 client credentials of one
// platform. An empty TokenURL sends requests unauthenticated.
type PlatformConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Config holds the settings of every platform
type Config struct {
	Platforms map[types.Platform]PlatformConfig
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client publishes posts through one resty client per configured platform
type Client struct {
	platforms map[types.Platform]*resty.Client
	logger    *logging.Logger
}

type postRequest struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

type postResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// NewClient creates a publish client. Platforms without a base URL are
// skipped and fail at publish time.
func NewClient(ctx context.Context, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	base := config.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	c := &Client{
		platforms: make(map[types.Platform]*resty.Client),
		logger:    logging.GetLogger(),
	}

	for platform, pc := range config.Platforms {
		if pc.BaseURL == "" {
			continue
		}

		transport := base
		if pc.TokenURL != "" {
			transport = &oauth2.Transport{
				Source: tokenSource(ctx, pc, base),
				Base:   base,
			}
		}

		c.platforms[platform] = resty.NewWithClient(&http.Client{Transport: transport}).
			SetBaseURL(strings.TrimRight(pc.BaseURL, "/")).
			SetTimeout(config.Timeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}

	return c
}

// tokenSource caches client-credentials tokens. Token requests go through
// base so they share its tracing.
func tokenSource(ctx context.Context, pc PlatformConfig, base http.RoundTripper) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		TokenURL:     pc.TokenURL,
		Scopes:       pc.Scopes,
	}
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Transport: base})
	return cc.TokenSource(ctx)
}

// Platforms returns the configured platforms
func (c *Client) Platforms() []types.Platform {
	platforms := make([]types.Platform, 0, len(c.platforms))
	for platform := range c.platforms {
		platforms = append(platforms, platform)
	}
	return platforms
}

// Publish posts params to platform and returns the PublishReceipt as JSON
func (c *Client) Publish(ctx context.Context, platform types.Platform, params types.PublishParams) (json.RawMessage, error) {
	service := string(platform.Dependency())

	client, ok := c.platforms[platform]
	if !ok {
		return nil, errors.NewValidationError("platform is not configured").
			WithDetail("platform", string(platform))
	}

	resp, err := client.R().
		SetContext(ctx).
		SetBody(postRequest{
			Text:      params.Text,
			MediaURLs: params.MediaURLs,
			AccountID: params.AccountID,
		}).
		Post(postsPath)
	if err := integrations.Classify(service, resp, err); err != nil {
		return nil, err
	}

	var post postResponse
	if err := integrations.Decode(service, resp.Body(), &post); err != nil {
		return nil, err
	}
	if post.ID == "" {
		return nil, errors.NewMalformedResponseError(service, "response has no post id")
	}

	receipt := types.PublishReceipt{
		Platform:    platform,
		PostID:      post.ID,
		URL:         post.URL,
		PublishedAt: post.CreatedAt,
	}
	if receipt.PublishedAt.IsZero() {
		receipt.PublishedAt = time.Now().UTC()
	}

	c.logger.Debug("Post published",
		"platform", string(platform),
		"post_id", receipt.PostID,
	)

	data, err := json.Marshal(receipt)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode publish receipt").WithCause(err)
	}
	return data, nil
}
