package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/totl433/pushgate/internal/catalog"
	"github.com/totl433/pushgate/internal/idempotency"
	"github.com/totl433/pushgate/internal/policy"
	"github.com/totl433/pushgate/internal/provider"
	"github.com/totl433/pushgate/internal/storage"
	"github.com/totl433/pushgate/internal/targeting"
	"github.com/totl433/pushgate/internal/verifier"
)

type SendProvider interface {
	Send(ctx context.Context, req *provider.SendRequest) (*provider.SendResult, error)
}

type DeviceVerifier interface {
	Verify(ctx context.Context, deviceIDs []string) *verifier.Result
}

type RecipientResolver interface {
	Resolve(ctx context.Context, recipientIDs []string) (*targeting.Result, error)
}

type PolicyEngine interface {
	LoadPreferences(ctx context.Context, recipientID string) (map[string]bool, error)
	IsMuted(ctx context.Context, leagueID, recipientID string) (bool, error)
	IsWithinCooldown(ctx context.Context, notificationKey, recipientID, fingerprint string, cooldown time.Duration) (bool, error)
	MarkCooldown(ctx context.Context, notificationKey, recipientID, fingerprint string, cooldown time.Duration) error
}

// SendLedger is the two-phase send log: reserve on acceptance into the
// pipeline, confirm once the provider took the send, release when it never
// went out.
type SendLedger interface {
	Environment() idempotency.Environment
	TryRecord(ctx context.Context, eventID, recipientID string) (bool, error)
	Confirm(ctx context.Context, eventID, recipientID string) error
	Release(ctx context.Context, eventID, recipientID string) error
}

type AuditStore interface {
	BulkInsertReceipts(ctx context.Context, receipts []storage.DispatchReceipt) error
	GetSubscribedDeviceBatch(ctx context.Context, cursor string, batchSize int) (*storage.DeviceBatch, error)
}

type Options struct {
	SuppressConcurrency int
	BroadcastBatchSize  int
}

// Orchestrator composes the catalog, send ledger, policy engine, targeting
// resolver, subscription verifier, and provider client into the dispatch
// entry points.
type Orchestrator struct {
	catalog   *catalog.Catalog
	ledger    SendLedger
	policy    PolicyEngine
	targeting RecipientResolver
	verifier  DeviceVerifier
	sender    SendProvider
	audit     AuditStore
	logger    *zap.Logger
	opts      Options
}

func NewOrchestrator(
	cat *catalog.Catalog,
	ledger SendLedger,
	pol PolicyEngine,
	resolver RecipientResolver,
	ver DeviceVerifier,
	sender SendProvider,
	audit AuditStore,
	logger *zap.Logger,
	opts Options,
) *Orchestrator {
	if opts.SuppressConcurrency <= 0 {
		opts.SuppressConcurrency = 8
	}
	if opts.BroadcastBatchSize <= 0 {
		opts.BroadcastBatchSize = 1000
	}
	return &Orchestrator{
		catalog:   cat,
		ledger:    ledger,
		policy:    pol,
		targeting: resolver,
		verifier:  ver,
		sender:    sender,
		audit:     audit,
		logger:    logger,
		opts:      opts,
	}
}

// decision is the outcome of the suppression stage for one recipient. An
// empty outcome means the recipient survived every check.
type decision struct {
	recipientID string
	outcome     Outcome
	reason      string
	err         error
	reserved    bool
}

// DispatchNotification runs the full pipeline for one notification
// occurrence: catalog lookup, per-recipient suppression, device targeting,
// subscription verification, grouped provider sends, and result
// correlation. A catalog problem aborts the whole call before any side
// effect; everything downstream is per-recipient and reported, never
// raised.
func (o *Orchestrator) DispatchNotification(ctx context.Context, intent *Intent) (*BatchResult, error) {
	entry, ok := o.catalog.Get(intent.NotificationKey)
	if !ok {
		return nil, &catalog.ConfigError{Key: intent.NotificationKey, Reason: "unknown notification key"}
	}
	if !entry.Enabled {
		return nil, &catalog.ConfigError{Key: intent.NotificationKey, Reason: "notification type disabled"}
	}

	eventID := intent.EventID
	if eventID == "" {
		var err error
		eventID, err = o.catalog.FormatEventID(intent.NotificationKey, intent.GroupingParams)
		if err != nil {
			return nil, err
		}
	}

	result := &BatchResult{}
	recipients := intent.distinctRecipients()
	result.TotalRecipients = len(recipients)
	if len(recipients) == 0 {
		return result, nil
	}

	// Collapse and thread ids are provider-side grouping hints; a broken
	// template degrades stacking but never blocks delivery.
	collapseID, err := o.catalog.FormatCollapseID(intent.NotificationKey, intent.GroupingParams)
	if err != nil {
		result.addError(err)
		collapseID = ""
	}
	threadID, err := o.catalog.FormatThreadID(intent.NotificationKey, intent.GroupingParams)
	if err != nil {
		result.addError(err)
		threadID = ""
	}

	fingerprint := policy.Fingerprint(intent.GroupingParams)
	cooldown := time.Duration(entry.CooldownSeconds) * time.Second

	survivors := o.runSuppression(ctx, entry, intent, eventID, fingerprint, cooldown, recipients, result)

	accepted := o.deliver(ctx, intent, eventID, collapseID, threadID, survivors, result)

	for _, recipientID := range accepted {
		if err := o.ledger.Confirm(ctx, eventID, recipientID); err != nil {
			o.logger.Warn("could not confirm send",
				zap.String("event_id", eventID),
				zap.String("recipient_id", recipientID),
				zap.Error(err))
			result.addError(err)
		}
		if cooldown > 0 {
			if err := o.policy.MarkCooldown(ctx, intent.NotificationKey, recipientID, fingerprint, cooldown); err != nil {
				result.addError(err)
			}
		}
	}

	o.writeReceipts(ctx, eventID, result)

	o.logger.Info("dispatch complete",
		zap.String("notification_key", intent.NotificationKey),
		zap.String("event_id", eventID),
		zap.Int("total", result.TotalRecipients),
		zap.Int("accepted", result.Accepted),
		zap.Int("failed", result.Failed))

	return result, nil
}

// runSuppression evaluates the duplicate, preference, mute, and cooldown
// checks concurrently across recipients and records every suppressed
// recipient into result. Returns the survivors in input order.
func (o *Orchestrator) runSuppression(
	ctx context.Context,
	entry catalog.Entry,
	intent *Intent,
	eventID, fingerprint string,
	cooldown time.Duration,
	recipients []string,
	result *BatchResult,
) []string {
	decisions := make([]decision, len(recipients))
	sem := make(chan struct{}, o.opts.SuppressConcurrency)

	var wg sync.WaitGroup
	for i, recipientID := range recipients {
		wg.Add(1)
		go func(i int, recipientID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			decisions[i] = o.evaluateRecipient(ctx, entry, intent, eventID, fingerprint, cooldown, recipientID)
		}(i, recipientID)
	}
	wg.Wait()

	var survivors []string
	for _, d := range decisions {
		if d.err != nil {
			result.addError(d.err)
		}
		if d.outcome == "" {
			survivors = append(survivors, d.recipientID)
			continue
		}
		if d.reserved {
			o.releaseReservation(ctx, eventID, d.recipientID)
		}
		result.record(d.recipientID, d.outcome, d.reason)
	}
	return survivors
}

// evaluateRecipient applies the suppression checks in priority order,
// short-circuiting at the first match. Store failures are conservative: a
// failed dedup write never passes as "not a duplicate", and failed policy
// reads suppress rather than send.
func (o *Orchestrator) evaluateRecipient(
	ctx context.Context,
	entry catalog.Entry,
	intent *Intent,
	eventID, fingerprint string,
	cooldown time.Duration,
	recipientID string,
) decision {
	d := decision{recipientID: recipientID}

	inserted, err := o.ledger.TryRecord(ctx, eventID, recipientID)
	if err != nil {
		d.outcome = OutcomeFailed
		d.reason = "send log unavailable"
		d.err = fmt.Errorf("recipient %s: %w", recipientID, err)
		return d
	}
	if !inserted {
		d.outcome = OutcomeSuppressedDuplicate
		d.reason = "already dispatched"
		return d
	}
	d.reserved = true

	if !intent.SkipPreferenceCheck {
		prefs, err := o.policy.LoadPreferences(ctx, recipientID)
		if err != nil {
			d.outcome = OutcomeSuppressedPreference
			d.reason = "preference read failed"
			d.err = fmt.Errorf("recipient %s: %w", recipientID, err)
			return d
		}
		if !o.catalog.IsEnabled(entry, prefs) {
			d.outcome = OutcomeSuppressedPreference
			d.reason = "disabled by preference"
			return d
		}
	}

	if intent.LeagueID != "" {
		muted, err := o.policy.IsMuted(ctx, intent.LeagueID, recipientID)
		if err != nil {
			d.outcome = OutcomeSuppressedMuted
			d.reason = "mute read failed"
			d.err = fmt.Errorf("recipient %s: %w", recipientID, err)
			return d
		}
		if muted {
			d.outcome = OutcomeSuppressedMuted
			d.reason = "league muted"
			return d
		}
	}

	if !intent.SkipCooldownCheck && cooldown > 0 {
		within, err := o.policy.IsWithinCooldown(ctx, intent.NotificationKey, recipientID, fingerprint, cooldown)
		if err != nil {
			d.outcome = OutcomeSuppressedCooldown
			d.reason = "cooldown read failed"
			d.err = fmt.Errorf("recipient %s: %w", recipientID, err)
			return d
		}
		if within {
			d.outcome = OutcomeSuppressedCooldown
			d.reason = "within cooldown window"
			return d
		}
	}

	return d
}

// deliver resolves survivors to devices, verifies deliverability, issues
// one provider send per content variation, and correlates the per-device
// results back to recipients. Returns the accepted recipients.
func (o *Orchestrator) deliver(
	ctx context.Context,
	intent *Intent,
	eventID, collapseID, threadID string,
	survivors []string,
	result *BatchResult,
) []string {
	if len(survivors) == 0 {
		return nil
	}

	resolved, err := o.targeting.Resolve(ctx, survivors)
	if err != nil {
		result.addError(fmt.Errorf("targeting failed: %w", err))
		for _, recipientID := range survivors {
			o.releaseReservation(ctx, eventID, recipientID)
			result.record(recipientID, OutcomeFailed, "targeting failed")
		}
		return nil
	}

	for _, recipientID := range resolved.Untargetable {
		o.releaseReservation(ctx, eventID, recipientID)
		result.record(recipientID, OutcomeFailed, "no registered device")
	}

	verified := o.verifier.Verify(ctx, resolved.AllDeviceIDs)
	subscribed := make(map[string]bool, len(verified.Subscribed))
	for _, deviceID := range verified.Subscribed {
		subscribed[deviceID] = true
	}

	// Group deliverable devices by their recipient's content variation. A
	// recipient's devices always share one variation, so each recipient
	// belongs to exactly one group.
	type sendGroup struct {
		personalization Personalization
		deviceIDs       []string
		recipients      []string
		devicesOf       map[string][]string
	}
	groups := make(map[string]*sendGroup)

	for _, recipientID := range resolved.Targetable {
		var deliverable []string
		for _, deviceID := range resolved.DevicesByRecipient[recipientID] {
			if subscribed[deviceID] {
				deliverable = append(deliverable, deviceID)
			}
		}
		if len(deliverable) == 0 {
			o.releaseReservation(ctx, eventID, recipientID)
			result.record(recipientID, OutcomeSuppressedUnsubscribed, "no subscribed device")
			continue
		}

		p := intent.personalizationFor(recipientID)
		key := p.URL
		if p.BadgeCount != nil {
			key = fmt.Sprintf("%s|%d", key, *p.BadgeCount)
		}
		g, ok := groups[key]
		if !ok {
			g = &sendGroup{personalization: p, devicesOf: make(map[string][]string)}
			groups[key] = g
		}
		g.deviceIDs = append(g.deviceIDs, deliverable...)
		g.recipients = append(g.recipients, recipientID)
		g.devicesOf[recipientID] = deliverable
	}

	var accepted []string
	for _, g := range groups {
		sendResult, err := o.sender.Send(ctx, &provider.SendRequest{
			DeviceIDs:  g.deviceIDs,
			Title:      intent.Title,
			Body:       intent.Body,
			Data:       intent.Data,
			URL:        g.personalization.URL,
			CollapseID: collapseID,
			ThreadID:   threadID,
			BadgeCount: g.personalization.BadgeCount,
		})
		if err != nil {
			result.addError(fmt.Errorf("provider send failed: %w", err))
			for _, recipientID := range g.recipients {
				o.releaseReservation(ctx, eventID, recipientID)
				result.record(recipientID, OutcomeFailed, "provider send failed")
			}
			continue
		}

		erroredDevices := make(map[string]string, len(sendResult.DeviceErrors))
		for _, devErr := range sendResult.DeviceErrors {
			erroredDevices[devErr.DeviceID] = devErr.Message
			result.addError(fmt.Errorf("device %s: %s", devErr.DeviceID, devErr.Message))
		}

		for _, recipientID := range g.recipients {
			delivered := false
			for _, deviceID := range g.devicesOf[recipientID] {
				if _, errored := erroredDevices[deviceID]; !errored {
					delivered = true
					break
				}
			}
			if delivered {
				accepted = append(accepted, recipientID)
				result.record(recipientID, OutcomeAccepted, "")
			} else {
				o.releaseReservation(ctx, eventID, recipientID)
				result.record(recipientID, OutcomeFailed, "rejected for every device")
			}
		}
	}

	return accepted
}

func (o *Orchestrator) releaseReservation(ctx context.Context, eventID, recipientID string) {
	if err := o.ledger.Release(ctx, eventID, recipientID); err != nil {
		o.logger.Warn("could not release send reservation",
			zap.String("event_id", eventID),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
	}
}

func (o *Orchestrator) writeReceipts(ctx context.Context, eventID string, result *BatchResult) {
	if o.audit == nil || len(result.Outcomes) == 0 {
		return
	}

	now := time.Now().UTC()
	env := string(o.ledger.Environment())
	receipts := make([]storage.DispatchReceipt, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		receipts = append(receipts, storage.DispatchReceipt{
			ID:           uuid.New().String(),
			EventID:      eventID,
			RecipientID:  outcome.RecipientID,
			Environment:  env,
			Outcome:      string(outcome.Outcome),
			Reason:       outcome.Reason,
			DispatchedAt: now,
		})
	}
	if err := o.audit.BulkInsertReceipts(ctx, receipts); err != nil {
		o.logger.Warn("could not record dispatch receipts",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}
