package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"questchat/internal/metrics"
)

const defaultTimeout = 15 * time.Second

var (
	// ErrUnauthorized indicates Whop rejected the provided API key.
	ErrUnauthorized = errors.New("whop invalid api key")
	// ErrChatNotFound indicates the chat feed does not exist for the channel.
	ErrChatNotFound = errors.New("whop chat feed not found")
)

// Client provides typed access to the Whop platform API: chat messaging and
// promo-code issuance.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	apiKey      string
	appID       string
	agentUserID string
	http        *http.Client
	metrics     *metrics.Metrics
}

// Config holds Whop client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	AppID       string
	AgentUserID string
	Timeout     time.Duration
}

// New creates a new Whop client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.whop.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		logger:      logger.With("component", "whop"),
		baseURL:     base,
		apiKey:      cfg.APIKey,
		appID:       cfg.AppID,
		agentUserID: cfg.AgentUserID,
		http:        &http.Client{Timeout: timeout},
		metrics:     metricRegistry,
	}
}

// SendChatMessage posts a message into the chat feed of a channel.
func (c *Client) SendChatMessage(ctx context.Context, channelID, text string) error {
	payload := map[string]any{
		"experience_id": channelID,
		"message":       text,
	}
	if c.agentUserID != "" {
		payload["send_as_agent_user_id"] = c.agentUserID
	}
	if _, err := c.postJSON(ctx, "/api/v5/app/messages", payload); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// ListChatMessages fetches the messages of a channel's chat feed, normalised
// into the canonical ChatMessage shape and sorted ascending by timestamp. The
// API exposes no "since" filter; callers cut by timestamp themselves.
func (c *Client) ListChatMessages(ctx context.Context, channelID string) ([]ChatMessage, error) {
	endpoint := "/api/v5/app/messages?chat_experience_id=" + channelID
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	msgs, err := parseMessages(body)
	if err != nil {
		return nil, fmt.Errorf("parse chat messages: %w", err)
	}
	SortByTimestamp(msgs)
	return msgs, nil
}

// FindOrCreateChat resolves the chat feed for an access pass, creating one
// when none exists, and returns its channel id.
func (c *Client) FindOrCreateChat(ctx context.Context, accessPassID, name string) (string, error) {
	payload := map[string]any{
		"access_pass_id": accessPassID,
		"name":           name,
	}
	body, err := c.postJSON(ctx, "/api/v5/app/chats/find_or_create", payload)
	if err != nil {
		return "", fmt.Errorf("find or create chat: %w", err)
	}

	var resp struct {
		ID           string `json:"id"`
		ExperienceID string `json:"experience_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if resp.ExperienceID != "" {
		return resp.ExperienceID, nil
	}
	if resp.ID != "" {
		return resp.ID, nil
	}
	return "", fmt.Errorf("find or create chat: empty channel id in response")
}

// PromoCodeRequest holds parameters for creating a discount code.
type PromoCodeRequest struct {
	AccessPassID string
	Code         string
	Percentage   int
	Stock        int
	ExpiryDays   int
}

// CreatePromoCode creates a percentage-off promo code bound to an access pass
// and returns the platform promo id.
func (c *Client) CreatePromoCode(ctx context.Context, req PromoCodeRequest) (string, error) {
	expiration := time.Now().Add(time.Duration(req.ExpiryDays) * 24 * time.Hour).Unix()
	payload := map[string]any{
		"access_pass_id":      req.AccessPassID,
		"promo_type":          "percentage",
		"amount_off":          req.Percentage,
		"base_currency":       "usd",
		"code":                req.Code,
		"number_of_intervals": 1,
		"stock":               req.Stock,
		"expiration_datetime": expiration,
		"one_per_customer":    true,
		"new_users_only":      false,
	}
	body, err := c.postJSON(ctx, "/api/v5/app/promo_codes", payload)
	if err != nil {
		return "", fmt.Errorf("create promo code: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode promo response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create promo code: empty promo id in response")
	}
	return resp.ID, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "questchat/whop-client")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.appID != "" {
		req.Header.Set("X-App-Id", c.appID)
	}

	metricEndpoint := metricLabel(endpoint)
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.WhopRequests.WithLabelValues(metricEndpoint, "error").Inc()
		}
		return nil, fmt.Errorf("whop request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.WhopRequests.WithLabelValues(metricEndpoint, statusLabel).Inc()
		c.metrics.WhopLatency.WithLabelValues(metricEndpoint, statusLabel).Observe(duration)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return nil, classifyHTTPError(res.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

// metricLabel strips query strings so metric cardinality stays bounded.
func metricLabel(endpoint string) string {
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		return endpoint[:idx]
	}
	return endpoint
}

func classifyHTTPError(status int, body string) error {
	snippet := strings.TrimSpace(body)
	lower := strings.ToLower(snippet)
	if status == http.StatusUnauthorized || strings.Contains(lower, "invalid api key") {
		return fmt.Errorf("%w: %s", ErrUnauthorized, snippet)
	}
	if status == http.StatusNotFound || strings.Contains(lower, "chatfeed was not found") {
		return fmt.Errorf("%w: %s", ErrChatNotFound, snippet)
	}
	return fmt.Errorf("whop error: status=%d body=%s", status, snippet)
}
