// Package botapi reports session status and logs to the backend bot API.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/version"
	"github.com/sirupsen/logrus"
)

const (
	statusPath = "/meeting/app/bot/status"
	logPath    = "/meeting/app/bot/log"

	// ServiceKeyHeader authenticates the bot service itself.
	ServiceKeyHeader = "x-service-key"

	defaultTimeout = 15 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	ServiceKey  string
	BearerToken string
	Timeout     time.Duration
	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Client calls the status and log endpoints. Every call is best effort:
// failures are logged and reported as false, never returned.
type Client struct {
	baseURL     string
	serviceKey  string
	bearerToken string
	httpClient  *http.Client
	logger      *logrus.Entry
}

// New creates a Client. An empty BaseURL yields a client that skips every call.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		serviceKey:  opts.ServiceKey,
		bearerToken: opts.BearerToken,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// PatchStatus sends the full status history of a session.
func (c *Client) PatchStatus(ctx context.Context, update models.StatusUpdate) bool {
	return c.patch(ctx, statusPath, update, logrus.Fields{
		"bot_id": update.BotID,
		"status": update.Status,
	})
}

// AddLog sends one categorized log entry.
func (c *Client) AddLog(ctx context.Context, entry models.LogEntry) bool {
	return c.patch(ctx, logPath, entry, logrus.Fields{
		"bot_id":       entry.BotID,
		"category":     entry.Category,
		"sub_category": entry.SubCategory,
	})
}

func (c *Client) patch(ctx context.Context, path string, body interface{}, fields logrus.Fields) bool {
	log := c.logger.WithFields(fields).WithField("endpoint", path)
	if !c.Enabled() {
		log.Debug("Bot API not configured, skipping")
		return false
	}

	resp, err := c.do(ctx, path, body)
	if err != nil {
		if isConnRefused(err) {
			log.Warn("Bot API service unavailable, skipping")
			return false
		}
		log.WithError(err).Error("Bot API request failed")
		return false
	}
	if !resp.Success {
		log.WithField("message", resp.Message).Error("Bot API rejected request")
		return false
	}
	log.Debug("Bot API request succeeded")
	return true
}

func (c *Client) do(ctx context.Context, path string, body interface{}) (*models.APIResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.serviceKey != "" {
		req.Header.Set(ServiceKeyHeader, c.serviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bot API returned status %d", resp.StatusCode)
	}

	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
