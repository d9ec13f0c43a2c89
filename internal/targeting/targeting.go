package targeting

import (
	"context"
	"fmt"
	"sort"

	"github.com/totl433/pushgate/internal/storage"
)

// Result partitions the input recipients by deliverability. Every input
// recipient lands in exactly one partition; AllDeviceIDs carries no
// duplicates; DeviceToRecipient is the exact inverse of the flattened
// DevicesByRecipient pairs.
type Result struct {
	Targetable         []string
	Untargetable       []string
	DevicesByRecipient map[string][]string
	AllDeviceIDs       []string
	DeviceToRecipient  map[string]string
}

type SubscriptionStore interface {
	GetActiveSubscriptions(ctx context.Context, recipientIDs []string) ([]storage.DeviceSubscription, error)
}

// Resolver maps recipients to the device identifiers their pushes are
// addressed to.
type Resolver struct {
	store SubscriptionStore
}

func NewResolver(store SubscriptionStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, recipientIDs []string) (*Result, error) {
	subs, err := r.store.GetActiveSubscriptions(ctx, recipientIDs)
	if err != nil {
		return nil, fmt.Errorf("error resolving recipients: %w", err)
	}

	byRecipient := make(map[string][]string)
	seenDevice := make(map[string]bool)
	deviceToRecipient := make(map[string]string)
	for _, sub := range subs {
		if seenDevice[sub.DeviceID] {
			continue
		}
		seenDevice[sub.DeviceID] = true
		byRecipient[sub.RecipientID] = append(byRecipient[sub.RecipientID], sub.DeviceID)
		deviceToRecipient[sub.DeviceID] = sub.RecipientID
	}

	result := &Result{
		DevicesByRecipient: make(map[string][]string, len(byRecipient)),
		DeviceToRecipient:  deviceToRecipient,
	}

	seenRecipient := make(map[string]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		if seenRecipient[id] {
			continue
		}
		seenRecipient[id] = true

		devices := byRecipient[id]
		if len(devices) == 0 {
			result.Untargetable = append(result.Untargetable, id)
			continue
		}
		sort.Strings(devices)
		result.Targetable = append(result.Targetable, id)
		result.DevicesByRecipient[id] = devices
		result.AllDeviceIDs = append(result.AllDeviceIDs, devices...)
	}

	return result, nil
}
