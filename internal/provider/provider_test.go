package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func keyClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		AppID:      "app-1",
		BaseURL:    baseURL,
		AuthScheme: AuthSchemeKey,
		APIKey:     "secret-key",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewClient(context.Background(), Config{BaseURL: "x", AuthScheme: AuthSchemeKey, APIKey: "k"}, logger)
	require.Error(t, err, "app id is required")

	_, err = NewClient(context.Background(), Config{AppID: "a", AuthScheme: AuthSchemeKey}, logger)
	require.Error(t, err, "api key required for key auth")

	_, err = NewClient(context.Background(), Config{AppID: "a", AuthScheme: "basic"}, logger)
	require.Error(t, err, "unknown scheme rejected")
}

func TestGetDeviceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/devices/dev-1", r.URL.Path)
		require.Equal(t, "app-1", r.URL.Query().Get("app_id"))
		require.Equal(t, "Key secret-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"identifier":         "tok-1",
			"invalid_identifier": false,
			"notification_types": 1,
			"last_active":        1724800000,
		})
	}))
	defer srv.Close()

	client := keyClient(t, srv.URL)
	status, err := client.GetDeviceStatus(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, "tok-1", status.Identifier)
	require.NotNil(t, status.NotificationTypes)
	require.Equal(t, 1, *status.NotificationTypes)
	require.True(t, status.Subscribed())
}

func TestGetDeviceStatusHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	client := keyClient(t, srv.URL)
	_, err := client.GetDeviceStatus(context.Background(), "dev-1")
	require.Error(t, err)
}

func TestDeviceStatusClassification(t *testing.T) {
	neg := -2
	zero := 0
	pos := 1

	tests := []struct {
		name   string
		status DeviceStatus
		want   bool
	}{
		{"explicit subscribed", DeviceStatus{Identifier: "t", NotificationTypes: &pos}, true},
		{"explicit opt-out", DeviceStatus{Identifier: "t", NotificationTypes: &neg}, false},
		{"unset with valid token", DeviceStatus{Identifier: "t"}, true},
		{"zero with valid token", DeviceStatus{Identifier: "t", NotificationTypes: &zero}, true},
		{"unset without token", DeviceStatus{}, false},
		{"unset but invalid", DeviceStatus{Identifier: "t", InvalidIdentifier: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.status.Subscribed())
		})
	}
}

func TestSend(t *testing.T) {
	badge := 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/notifications", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "app-1", body["app_id"])
		require.Len(t, body["device_ids"], 2)
		require.Equal(t, "Kick-off soon", body["title"])
		require.Equal(t, "fixture:f1", body["collapse_id"])
		require.Equal(t, float64(4), body["badge_count"])

		json.NewEncoder(w).Encode(map[string]any{
			"accepted_count": 1,
			"errors": []map[string]string{
				{"device_id": "dev-2", "message": "invalid player id"},
			},
		})
	}))
	defer srv.Close()

	client := keyClient(t, srv.URL)
	result, err := client.Send(context.Background(), &SendRequest{
		DeviceIDs:  []string{"dev-1", "dev-2"},
		Title:      "Kick-off soon",
		Body:       "Get your picks in",
		CollapseID: "fixture:f1",
		BadgeCount: &badge,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.AcceptedCount)
	require.Len(t, result.DeviceErrors, 1)
	require.Equal(t, "dev-2", result.DeviceErrors[0].DeviceID)
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := keyClient(t, srv.URL)
	_, err := client.Send(context.Background(), &SendRequest{DeviceIDs: []string{"dev-1"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestTokenAuthScheme(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(SendResult{AcceptedCount: 1})
	}))
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{
		AppID:      "app-1",
		BaseURL:    srv.URL,
		AuthScheme: AuthSchemeToken,
		KeyID:      "KEY123",
		TeamID:     "TEAM456",
		SigningKey: pemBytes,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.Send(context.Background(), &SendRequest{DeviceIDs: []string{"dev-1"}})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(authHeader, "Bearer "))
	raw := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		return &ecKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.Equal(t, "KEY123", token.Header["kid"])
	claims := token.Claims.(jwt.MapClaims)
	require.Equal(t, "TEAM456", claims["iss"])
}

func TestTokenAuthRejectsBadKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{
		AppID:      "app-1",
		AuthScheme: AuthSchemeToken,
		SigningKey: []byte("not a pem key"),
	}, zaptest.NewLogger(t))
	require.Error(t, err)
}
