package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/totl433/pushgate/internal/storage"
)

// Environment namespaces dedup keys so non-production sends never collide
// with production send history.
type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
	Preview    Environment = "preview"
)

func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Production, Staging, Preview:
		return Environment(s), nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Client tracks exactly-once acceptance per (event, recipient, environment).
// Uniqueness is enforced by the storage layer, not in process, so concurrent
// replicated dispatchers cannot both win a reservation.
type Client struct {
	store storage.Store
	env   Environment
}

func NewClient(store storage.Store, env Environment) *Client {
	return &Client{store: store, env: env}
}

func (c *Client) Environment() Environment {
	return c.env
}

// TryRecord reserves the (eventID, recipientID) pair in the current
// environment. false means another dispatch already holds or confirmed it.
func (c *Client) TryRecord(ctx context.Context, eventID, recipientID string) (bool, error) {
	inserted, err := c.store.ReserveSend(ctx, eventID, recipientID, string(c.env))
	if err != nil {
		return false, fmt.Errorf("error recording send: %w", err)
	}
	return inserted, nil
}

// Confirm marks a reserved pair as sent once the provider accepted it.
func (c *Client) Confirm(ctx context.Context, eventID, recipientID string) error {
	return c.store.ConfirmSend(ctx, eventID, recipientID, string(c.env), time.Now().UTC())
}

// Release frees a reservation whose send never reached the provider, so a
// later retry may attempt delivery again.
func (c *Client) Release(ctx context.Context, eventID, recipientID string) error {
	return c.store.ReleaseSend(ctx, eventID, recipientID, string(c.env))
}
