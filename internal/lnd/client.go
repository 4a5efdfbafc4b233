package lnd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

// MacaroonHeader заголовок авторизации REST API узла
const MacaroonHeader = "Grpc-Metadata-macaroon"

// Client REST клиент управляющего API узлов
type Client struct {
	baseURL   string
	macaroon  string
	resources []string
	client    *http.Client
	limiter   *rate.Limiter
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type resourcesResponse struct {
	Resources []string `json:"resources"`
}

type snapshotResponse struct {
	Channels         []domain.Channel `json:"channels"`
	SuccessRate      *float64         `json:"success_rate"`
	ForwardVolumeSat *float64         `json:"forward_volume_sat"`
	ForwardCount     *float64         `json:"forward_count"`
	UptimeRatio      *float64         `json:"uptime_ratio"`
}

type chanPolicyRequest struct {
	Policies map[string]FeePolicy `json:"policies"`
}

type rebalanceRequest struct {
	Legs []RebalanceLeg `json:"legs"`
}

type openChannelRequest struct {
	Peer               string `json:"node_pubkey_string"`
	LocalFundingAmount int64  `json:"local_funding_amount"`
}

// NewClient создает клиента по конфигурации
func NewClient(cfg config.LNDConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		macaroon:  cfg.MacaroonHex,
		resources: cfg.Resources,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Resources список узлов: из конфигурации или от API
func (c *Client) Resources(ctx context.Context) ([]string, error) {
	if len(c.resources) > 0 {
		return append([]string(nil), c.resources...), nil
	}

	var resp resourcesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/resources", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Resources, nil
}

// Snapshot получает каналы и метрики узла
func (c *Client) Snapshot(ctx context.Context, resourceID string) (*domain.ResourceSnapshot, error) {
	var resp snapshotResponse
	if err := c.do(ctx, http.MethodGet, resourcePath(resourceID, "snapshot"), nil, &resp); err != nil {
		return nil, err
	}

	return &domain.ResourceSnapshot{
		ResourceID:       resourceID,
		Channels:         resp.Channels,
		SuccessRate:      resp.SuccessRate,
		ForwardVolumeSat: resp.ForwardVolumeSat,
		ForwardCount:     resp.ForwardCount,
		UptimeRatio:      resp.UptimeRatio,
		ObservedAt:       time.Now(),
	}, nil
}

// UpdateChannelFees обновляет комиссии каналов одним запросом
func (c *Client) UpdateChannelFees(ctx context.Context, resourceID string, fees map[string]FeePolicy) (*Result, error) {
	var result Result
	err := c.do(ctx, http.MethodPost, resourcePath(resourceID, "chanpolicy"), chanPolicyRequest{Policies: fees}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RebalanceChannels запускает круговой платеж между каналами
func (c *Client) RebalanceChannels(ctx context.Context, resourceID string, legs []RebalanceLeg) (*Result, error) {
	var result Result
	err := c.do(ctx, http.MethodPost, resourcePath(resourceID, "rebalance"), rebalanceRequest{Legs: legs}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// OpenChannel открывает канал к пиру
func (c *Client) OpenChannel(ctx context.Context, resourceID, peer string, amountSat int64) (*Result, error) {
	var result Result
	body := openChannelRequest{Peer: peer, LocalFundingAmount: amountSat}
	if err := c.do(ctx, http.MethodPost, resourcePath(resourceID, "channels"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseChannel закрывает канал
func (c *Client) CloseChannel(ctx context.Context, resourceID, channelID string) (*Result, error) {
	var result Result
	path := resourcePath(resourceID, "channels") + "/" + url.PathEscape(channelID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func resourcePath(resourceID, suffix string) string {
	return "/v1/resources/" + url.PathEscape(resourceID) + "/" + suffix
}

// do выполняет запрос и разбирает ответ. Сетевые ошибки, 429 и 5xx
// возвращаются как *domain.TransientError, остальные 4xx как ErrControlPlane.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.macaroon != "" {
		req.Header.Set(MacaroonHeader, c.macaroon)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransientError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 300 {
		msg := resp.Status
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil {
			if apiErr.Error != "" {
				msg = apiErr.Error
			} else if apiErr.Message != "" {
				msg = apiErr.Message
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &domain.TransientError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
		}
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrControlPlane, op, resp.StatusCode, msg)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
