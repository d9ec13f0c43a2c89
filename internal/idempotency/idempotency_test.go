package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/totl433/pushgate/internal/storage"
)

type fakeSendLog struct {
	storage.Store

	reserved  map[string]bool
	confirmed map[string]bool
	failWith  error
}

func newFakeSendLog() *fakeSendLog {
	return &fakeSendLog{
		reserved:  make(map[string]bool),
		confirmed: make(map[string]bool),
	}
}

func (f *fakeSendLog) key(eventID, recipientID, env string) string {
	return eventID + "/" + recipientID + "/" + env
}

func (f *fakeSendLog) ReserveSend(_ context.Context, eventID, recipientID, env string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	k := f.key(eventID, recipientID, env)
	if f.reserved[k] {
		return false, nil
	}
	f.reserved[k] = true
	return true, nil
}

func (f *fakeSendLog) ConfirmSend(_ context.Context, eventID, recipientID, env string, _ time.Time) error {
	f.confirmed[f.key(eventID, recipientID, env)] = true
	return nil
}

func (f *fakeSendLog) ReleaseSend(_ context.Context, eventID, recipientID, env string) error {
	delete(f.reserved, f.key(eventID, recipientID, env))
	return nil
}

func TestParseEnvironment(t *testing.T) {
	for _, valid := range []string{"production", "staging", "preview"} {
		env, err := ParseEnvironment(valid)
		if err != nil {
			t.Fatalf("ParseEnvironment(%s): %v", valid, err)
		}
		if string(env) != valid {
			t.Fatalf("got %s", env)
		}
	}

	if _, err := ParseEnvironment("development"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
	if _, err := ParseEnvironment(""); err == nil {
		t.Fatal("expected error for empty environment")
	}
}

func TestTryRecordFirstWins(t *testing.T) {
	store := newFakeSendLog()
	client := NewClient(store, Staging)

	inserted, err := client.TryRecord(context.Background(), "ev1", "rcpt1")
	if err != nil || !inserted {
		t.Fatalf("first TryRecord = (%v, %v), want (true, nil)", inserted, err)
	}

	inserted, err = client.TryRecord(context.Background(), "ev1", "rcpt1")
	if err != nil || inserted {
		t.Fatalf("second TryRecord = (%v, %v), want (false, nil)", inserted, err)
	}
}

func TestEnvironmentsDoNotCollide(t *testing.T) {
	store := newFakeSendLog()
	prod := NewClient(store, Production)
	preview := NewClient(store, Preview)

	if ok, _ := prod.TryRecord(context.Background(), "ev1", "rcpt1"); !ok {
		t.Fatal("production reservation should succeed")
	}
	if ok, _ := preview.TryRecord(context.Background(), "ev1", "rcpt1"); !ok {
		t.Fatal("preview reservation must not collide with production")
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	store := newFakeSendLog()
	client := NewClient(store, Production)

	ctx := context.Background()
	if ok, _ := client.TryRecord(ctx, "ev1", "rcpt1"); !ok {
		t.Fatal("reservation should succeed")
	}
	if err := client.Release(ctx, "ev1", "rcpt1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := client.TryRecord(ctx, "ev1", "rcpt1"); !ok {
		t.Fatal("retry after release should succeed")
	}
}

func TestTryRecordStoreError(t *testing.T) {
	store := newFakeSendLog()
	store.failWith = errors.New("connection refused")
	client := NewClient(store, Production)

	inserted, err := client.TryRecord(context.Background(), "ev1", "rcpt1")
	if err == nil {
		t.Fatal("expected error")
	}
	if inserted {
		t.Fatal("a failed write must never report inserted")
	}
}

func TestConfirm(t *testing.T) {
	store := newFakeSendLog()
	client := NewClient(store, Production)

	ctx := context.Background()
	client.TryRecord(ctx, "ev1", "rcpt1")
	if err := client.Confirm(ctx, "ev1", "rcpt1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !store.confirmed["ev1/rcpt1/production"] {
		t.Fatal("expected confirmation in the store")
	}
}
