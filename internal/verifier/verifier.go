package verifier

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/totl433/pushgate/internal/provider"
)

type StatusChecker interface {
	GetDeviceStatus(ctx context.Context, deviceID string) (*provider.DeviceStatus, error)
}

type HealthStore interface {
	UpdateSubscriptionHealth(ctx context.Context, deviceID string, subscribed, invalid bool, checkedAt time.Time) error
}

// Result partitions the checked devices. Every input device lands in exactly
// one slice.
type Result struct {
	Subscribed   []string
	Unsubscribed []string
}

// Verifier confirms device-level deliverability with the push provider
// before a send, and feeds the observed health state back into the store.
type Verifier struct {
	provider    StatusChecker
	store       HealthStore
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
}

func New(checker StatusChecker, store HealthStore, concurrency int, timeout time.Duration, logger *zap.Logger) *Verifier {
	if concurrency <= 0 {
		concurrency = 16
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Verifier{
		provider:    checker,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

type checkResult struct {
	deviceID   string
	subscribed bool
}

// Verify issues one status query per device, bounded-concurrently. Each
// check has its own timeout and failure boundary: an errored or timed-out
// check defaults that device to unsubscribed and never aborts the batch.
func (v *Verifier) Verify(ctx context.Context, deviceIDs []string) *Result {
	results := make(chan checkResult, len(deviceIDs))
	sem := make(chan struct{}, v.concurrency)

	var wg sync.WaitGroup
	for _, deviceID := range deviceIDs {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results <- checkResult{deviceID: deviceID, subscribed: v.checkOne(ctx, deviceID)}
		}(deviceID)
	}
	wg.Wait()
	close(results)

	result := &Result{}
	for r := range results {
		if r.subscribed {
			result.Subscribed = append(result.Subscribed, r.deviceID)
		} else {
			result.Unsubscribed = append(result.Unsubscribed, r.deviceID)
		}
	}
	sort.Strings(result.Subscribed)
	sort.Strings(result.Unsubscribed)
	return result
}

func (v *Verifier) checkOne(ctx context.Context, deviceID string) bool {
	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	status, err := v.provider.GetDeviceStatus(checkCtx, deviceID)
	if err != nil {
		// Unknown state excludes the device from this send, but the stored
		// health is left untouched: a transient provider failure must not
		// poison the subscription record.
		v.logger.Warn("device status check failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return false
	}

	subscribed := status.Subscribed()
	if err := v.store.UpdateSubscriptionHealth(ctx, deviceID, subscribed, status.InvalidIdentifier, time.Now().UTC()); err != nil {
		v.logger.Warn("could not write back subscription health",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
	return subscribed
}
