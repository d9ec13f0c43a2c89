package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PreferenceStore is the slice of the relational store the policy engine
// reads from.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, recipientID string) (map[string]bool, error)
	IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error)
}

// RecentSends records that a (notification, recipient, subject) triple was
// sent, expiring after the cooldown window.
type RecentSends interface {
	MarkSent(ctx context.Context, key string, ttl time.Duration) error
	WasSent(ctx context.Context, key string) (bool, error)
}

// Engine answers the preference, mute, and cooldown suppression questions
// for a single recipient.
type Engine struct {
	store   PreferenceStore
	recents RecentSends
	logger  *zap.Logger
}

func NewEngine(store PreferenceStore, recents RecentSends, logger *zap.Logger) *Engine {
	return &Engine{store: store, recents: recents, logger: logger}
}

func (e *Engine) LoadPreferences(ctx context.Context, recipientID string) (map[string]bool, error) {
	return e.store.GetPreferences(ctx, recipientID)
}

func (e *Engine) IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error) {
	return e.store.IsMuted(ctx, leagueID, recipientID)
}

// IsWithinCooldown reports whether a recent send exists for the same
// (notificationKey, recipientID, fingerprint) inside the window. The
// fingerprint scopes the cooldown to a logical subject (a fixture, a
// league) rather than globally per notification type.
func (e *Engine) IsWithinCooldown(ctx context.Context, notificationKey, recipientID, fingerprint string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return false, nil
	}
	sent, err := e.recents.WasSent(ctx, cooldownKey(notificationKey, recipientID, fingerprint))
	if err != nil {
		return false, fmt.Errorf("error checking cooldown: %w", err)
	}
	return sent, nil
}

// MarkCooldown records a successful send so later dispatches for the same
// subject are suppressed until the window expires.
func (e *Engine) MarkCooldown(ctx context.Context, notificationKey, recipientID, fingerprint string, cooldown time.Duration) error {
	if cooldown <= 0 {
		return nil
	}
	if err := e.recents.MarkSent(ctx, cooldownKey(notificationKey, recipientID, fingerprint), cooldown); err != nil {
		e.logger.Warn("could not record cooldown",
			zap.String("notification_key", notificationKey),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return err
	}
	return nil
}

func cooldownKey(notificationKey, recipientID, fingerprint string) string {
	return "cooldown:" + notificationKey + ":" + recipientID + ":" + fingerprint
}

// Fingerprint derives the cooldown/collapse scoping key from an intent's
// grouping params. Deterministic across map iteration order.
func Fingerprint(groupingParams map[string]string) string {
	if len(groupingParams) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(groupingParams))
	for k := range groupingParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+groupingParams[k])
	}
	return strings.Join(pairs, "|")
}
