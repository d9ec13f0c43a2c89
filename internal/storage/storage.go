package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var Errors = struct {
	NotFound      error
	AlreadyExists error
}{
	NotFound:      errors.New("not found"),
	AlreadyExists: errors.New("already exists"),
}

// DeviceSubscription is one push-registered device for a recipient. The
// health columns (subscribed, invalid, last_checked_at) are written back by
// the subscription verifier on every dispatch that touches the device.
type DeviceSubscription struct {
	RecipientID   string
	DeviceID      string
	Platform      string
	IsActive      bool
	Subscribed    bool
	Invalid       bool
	LastCheckedAt time.Time
}

type DeviceBatch struct {
	Devices    []DeviceSubscription
	HasMore    bool
	NextCursor string
}

// DispatchReceipt is the audit record of one per-recipient dispatch outcome.
type DispatchReceipt struct {
	ID           string
	EventID      string
	RecipientID  string
	Environment  string
	Outcome      string
	Reason       string
	DispatchedAt time.Time
}

type Store interface {
	// Subscriptions
	GetActiveSubscriptions(ctx context.Context, recipientIDs []string) ([]DeviceSubscription, error)
	UpdateSubscriptionHealth(ctx context.Context, deviceID string, subscribed, invalid bool, checkedAt time.Time) error
	GetSubscribedDeviceBatch(ctx context.Context, cursor string, batchSize int) (*DeviceBatch, error)

	// Policy reads
	GetPreferences(ctx context.Context, recipientID string) (map[string]bool, error)
	IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error)

	// Send log. ReserveSend inserts a reserved row guarded by the unique
	// constraint on (event_id, recipient_id, environment); false means a row
	// already exists. ConfirmSend marks the row sent; ReleaseSend removes a
	// still-reserved row so a later retry may send.
	ReserveSend(ctx context.Context, eventID, recipientID, environment string) (bool, error)
	ConfirmSend(ctx context.Context, eventID, recipientID, environment string, sentAt time.Time) error
	ReleaseSend(ctx context.Context, eventID, recipientID, environment string) error

	// Audit
	BulkInsertReceipts(ctx context.Context, receipts []DispatchReceipt) error

	Close() error
}

// unmarshalPreferences decodes the JSON preferences column shared by both
// store implementations.
func unmarshalPreferences(raw []byte, out *map[string]bool) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
