// Package provider wraps the push provider's HTTP API. One endpoint and one
// authentication scheme are resolved once at construction; callers never
// pick headers or hosts per request.
package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	AuthSchemeKey   = "key"
	AuthSchemeToken = "token"
	AuthSchemeOAuth = "oauth"

	pushScope = "https://www.googleapis.com/auth/cloud-platform"
)

type Config struct {
	AppID      string
	BaseURL    string
	AuthScheme string

	// key scheme
	APIKey string

	// token scheme
	KeyID      string
	TeamID     string
	SigningKey []byte

	// oauth scheme
	ServiceAccountJSON []byte

	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	authorize  func(*http.Request) error
	logger     *zap.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("push provider app id is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		appID:      cfg.AppID,
		logger:     logger,
	}

	switch cfg.AuthScheme {
	case AuthSchemeKey:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key required for key auth")
		}
		header := "Key " + cfg.APIKey
		c.authorize = func(req *http.Request) error {
			req.Header.Set("Authorization", header)
			return nil
		}
	case AuthSchemeToken:
		key, err := jwt.ParseECPrivateKeyFromPEM(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("could not parse signing key: %w", err)
		}
		c.authorize = tokenAuthorizer(key, cfg.KeyID, cfg.TeamID)
	case AuthSchemeOAuth:
		creds, err := google.CredentialsFromJSON(ctx, cfg.ServiceAccountJSON, pushScope)
		if err != nil {
			return nil, fmt.Errorf("could not load service account: %w", err)
		}
		c.httpClient = oauth2.NewClient(ctx, creds.TokenSource)
		c.httpClient.Timeout = timeout
		c.authorize = func(*http.Request) error { return nil }
	default:
		return nil, fmt.Errorf("unknown auth scheme %q", cfg.AuthScheme)
	}

	return c, nil
}

func tokenAuthorizer(key *ecdsa.PrivateKey, keyID, teamID string) func(*http.Request) error {
	return func(req *http.Request) error {
		token := jwt.New(jwt.SigningMethodES256)

		claims := token.Claims.(jwt.MapClaims)
		claims["iss"] = teamID
		claims["iat"] = time.Now().Unix()
		claims["exp"] = time.Now().Add(time.Hour).Unix()
		token.Header["kid"] = keyID

		signed, err := token.SignedString(key)
		if err != nil {
			return fmt.Errorf("could not sign provider token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+signed)
		return nil
	}
}

// DeviceStatus is the provider's view of one device registration.
type DeviceStatus struct {
	Identifier        string `json:"identifier"`
	InvalidIdentifier bool   `json:"invalid_identifier"`
	NotificationTypes *int   `json:"notification_types"`
	LastActive        int64  `json:"last_active"`
}

// Subscribed classifies the provider state. Explicit positive types mean
// subscribed; explicit negative types mean an opt-out or disabled device.
// An unset/zero state with a valid identifier counts as subscribed, to
// tolerate SDKs that have registered a token but not yet reported status.
func (d *DeviceStatus) Subscribed() bool {
	if d.NotificationTypes != nil {
		if *d.NotificationTypes > 0 {
			return true
		}
		if *d.NotificationTypes < 0 {
			return false
		}
	}
	return d.Identifier != "" && !d.InvalidIdentifier
}

func (c *Client) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	u := fmt.Sprintf("%s/devices/%s?app_id=%s", c.baseURL, url.PathEscape(deviceID), url.QueryEscape(c.appID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device status check failed: %s", resp.Status)
	}

	var status DeviceStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("could not decode device status: %w", err)
	}
	return &status, nil
}

type SendRequest struct {
	DeviceIDs  []string
	Title      string
	Body       string
	Data       map[string]string
	URL        string
	CollapseID string
	ThreadID   string
	BadgeCount *int
}

type DeviceError struct {
	DeviceID string `json:"device_id"`
	Message  string `json:"message"`
}

type SendResult struct {
	AcceptedCount int           `json:"accepted_count"`
	DeviceErrors  []DeviceError `json:"errors"`
}

type sendBody struct {
	AppID      string            `json:"app_id"`
	DeviceIDs  []string          `json:"device_ids"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	URL        string            `json:"url,omitempty"`
	CollapseID string            `json:"collapse_id,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
	BadgeCount *int              `json:"badge_count,omitempty"`
}

func (c *Client) Send(ctx context.Context, sendReq *SendRequest) (*SendResult, error) {
	body := sendBody{
		AppID:      c.appID,
		DeviceIDs:  sendReq.DeviceIDs,
		Title:      sendReq.Title,
		Body:       sendReq.Body,
		Data:       sendReq.Data,
		URL:        sendReq.URL,
		CollapseID: sendReq.CollapseID,
		ThreadID:   sendReq.ThreadID,
		BadgeCount: sendReq.BadgeCount,
	}

	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("failed to send notification: %s: %s", resp.Status, raw)
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode send result: %w", err)
	}
	return &result, nil
}
