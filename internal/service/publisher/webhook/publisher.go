// Package webhook implements the Publisher contract against an internal
// per-platform gateway: the orchestrator posts neutral content to the
// gateway endpoint and the gateway owns the network-specific API client
// and its credentials.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service/publisher"
)

// WebhookPublisher forwards publish calls to one platform's gateway.
type WebhookPublisher struct {
	platform string
	logger   *zap.Logger
	client   *http.Client
	endpoint string
	token    string
}

type publishRequest struct {
	AccountRef string                   `json:"account_ref"`
	Content    publisher.PublishContent `json:"content"`
}

type publishResponse struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

func NewWebhookPublisher(platform string, logger *zap.Logger) publisher.Publisher {
	return &WebhookPublisher{
		platform: platform,
		logger:   logger,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (p *WebhookPublisher) PlatformName() string {
	return p.platform
}

func (p *WebhookPublisher) ValidateConfig(config publisher.PublishConfig) error {
	if config.Config["endpoint"] == "" {
		return fmt.Errorf("webhook publisher for %s requires an endpoint", p.platform)
	}
	return nil
}

func (p *WebhookPublisher) Initialize(ctx context.Context, config publisher.PublishConfig) error {
	if err := p.ValidateConfig(config); err != nil {
		return err
	}

	p.endpoint = config.Config["endpoint"]
	p.token = config.Config["token"]

	p.logger.Info("Webhook publisher initialized",
		zap.String("platform", p.platform),
		zap.String("endpoint", p.endpoint))
	return nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, content publisher.PublishContent, accountRef string) (*publisher.PublishResult, error) {
	body, err := json.Marshal(publishRequest{
		AccountRef: accountRef,
		Content:    content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/publish", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport failures include context deadline expiry; the
		// dispatcher classifies those as the timeout kind.
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed publishResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
		if parsed.ExternalID == "" {
			return nil, &models.PlatformError{
				Kind:    models.ErrKindUnknown,
				Message: "gateway accepted the post but returned no external id",
			}
		}
		return &publisher.PublishResult{
			Success:     true,
			ExternalID:  parsed.ExternalID,
			PublishedAt: time.Now(),
		}, nil
	}

	var parsed publishResponse
	_ = json.Unmarshal(respBody, &parsed)
	message := parsed.Message
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}

	return nil, &models.PlatformError{
		Kind:    classifyStatus(resp.StatusCode),
		Message: message,
	}
}

func (p *WebhookPublisher) CheckAuthorization(ctx context.Context, accountRef string) bool {
	url := fmt.Sprintf("%s/accounts/%s/authorization", p.endpoint, accountRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Authorization check failed",
			zap.String("platform", p.platform),
			zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func classifyStatus(status int) models.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return models.ErrKindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.ErrKindUnauthorized
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return models.ErrKindContentRejected
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return models.ErrKindTimeout
	default:
		return models.ErrKindUnknown
	}
}
