package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/totl433/pushgate/internal/catalog"
	"github.com/totl433/pushgate/internal/provider"
)

// DispatchBroadcast sends to every currently subscribed device, paging
// through the store in cursor batches. This is deliberately a best-effort
// path: only the catalog enabled check applies, and the idempotency,
// preference, mute, and cooldown guarantees of DispatchNotification are
// bypassed. Callers own the decision that a broadcast may reach everyone
// twice before they retry it.
func (o *Orchestrator) DispatchBroadcast(ctx context.Context, intent *Intent) (*BatchResult, error) {
	entry, ok := o.catalog.Get(intent.NotificationKey)
	if !ok {
		return nil, &catalog.ConfigError{Key: intent.NotificationKey, Reason: "unknown notification key"}
	}
	if !entry.Enabled {
		return nil, &catalog.ConfigError{Key: intent.NotificationKey, Reason: "notification type disabled"}
	}

	result := &BatchResult{}

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

	// first-win per recipient across batches: accepted beats failed
	outcomes := make(map[string]Outcome)

	cursor := ""
	for {
		batch, err := o.audit.GetSubscribedDeviceBatch(ctx, cursor, o.opts.BroadcastBatchSize)
		if err != nil {
			result.addError(fmt.Errorf("error fetching device batch: %w", err))
			break
		}
		if len(batch.Devices) == 0 {
			break
		}

		deviceIDs := make([]string, 0, len(batch.Devices))
		deviceToRecipient := make(map[string]string, len(batch.Devices))
		for _, sub := range batch.Devices {
			deviceIDs = append(deviceIDs, sub.DeviceID)
			deviceToRecipient[sub.DeviceID] = sub.RecipientID
		}

		sendResult, err := o.sender.Send(ctx, &provider.SendRequest{
			DeviceIDs:  deviceIDs,
			Title:      intent.Title,
			Body:       intent.Body,
			Data:       intent.Data,
			URL:        intent.URL,
			CollapseID: collapseID,
			ThreadID:   threadID,
			BadgeCount: intent.BadgeCount,
		})
		if err != nil {
			result.addError(fmt.Errorf("provider send failed: %w", err))
			for _, recipientID := range deviceToRecipient {
				if _, seen := outcomes[recipientID]; !seen {
					outcomes[recipientID] = OutcomeFailed
				}
			}
		} else {
			erroredDevices := make(map[string]bool, len(sendResult.DeviceErrors))
			for _, devErr := range sendResult.DeviceErrors {
				erroredDevices[devErr.DeviceID] = true
				result.addError(fmt.Errorf("device %s: %s", devErr.DeviceID, devErr.Message))
			}
			for _, deviceID := range deviceIDs {
				recipientID := deviceToRecipient[deviceID]
				if !erroredDevices[deviceID] {
					outcomes[recipientID] = OutcomeAccepted
				} else if _, seen := outcomes[recipientID]; !seen {
					outcomes[recipientID] = OutcomeFailed
				}
			}
		}

		if !batch.HasMore {
			break
		}
		cursor = batch.NextCursor
	}

	for recipientID, outcome := range outcomes {
		reason := ""
		if outcome == OutcomeFailed {
			reason = "provider send failed"
		}
		result.record(recipientID, outcome, reason)
	}
	result.TotalRecipients = len(outcomes)

	o.logger.Info("broadcast complete",
		zap.String("notification_key", intent.NotificationKey),
		zap.Int("total", result.TotalRecipients),
		zap.Int("accepted", result.Accepted),
		zap.Int("failed", result.Failed))

	return result, nil
}
