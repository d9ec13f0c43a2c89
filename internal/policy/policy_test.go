package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakePrefs struct {
	prefs map[string]map[string]bool
	muted map[string]bool
	err   error
}

func (f *fakePrefs) GetPreferences(_ context.Context, recipientID string) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.prefs[recipientID]; ok {
		return p, nil
	}
	return map[string]bool{}, nil
}

func (f *fakePrefs) IsMuted(_ context.Context, leagueID, recipientID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.muted[leagueID+"/"+recipientID], nil
}

type fakeRecents struct {
	sent map[string]bool
	ttls map[string]time.Duration
	err  error
}

func newFakeRecents() *fakeRecents {
	return &fakeRecents{sent: make(map[string]bool), ttls: make(map[string]time.Duration)}
}

func (f *fakeRecents) MarkSent(_ context.Context, key string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent[key] = true
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRecents) WasSent(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.sent[key], nil
}

func newTestEngine(t *testing.T, store *fakePrefs, recents *fakeRecents) *Engine {
	t.Helper()
	return NewEngine(store, recents, zaptest.NewLogger(t))
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint(nil); got != "-" {
		t.Fatalf("empty params fingerprint = %s, want -", got)
	}

	a := Fingerprint(map[string]string{"fixture_id": "f1", "gameweek_id": "gw8"})
	b := Fingerprint(map[string]string{"gameweek_id": "gw8", "fixture_id": "f1"})
	if a != b {
		t.Fatalf("fingerprint must be order independent: %s vs %s", a, b)
	}
	if a != "fixture_id=f1|gameweek_id=gw8" {
		t.Fatalf("got %s", a)
	}

	c := Fingerprint(map[string]string{"fixture_id": "f2", "gameweek_id": "gw8"})
	if a == c {
		t.Fatal("different subjects must produce different fingerprints")
	}
}

func TestCooldownRoundTrip(t *testing.T) {
	recents := newFakeRecents()
	engine := newTestEngine(t, &fakePrefs{}, recents)
	ctx := context.Background()

	within, err := engine.IsWithinCooldown(ctx, "league-chat", "rcpt1", "league_id=L1", 5*time.Minute)
	if err != nil || within {
		t.Fatalf("before marking: (%v, %v), want (false, nil)", within, err)
	}

	if err := engine.MarkCooldown(ctx, "league-chat", "rcpt1", "league_id=L1", 5*time.Minute); err != nil {
		t.Fatalf("MarkCooldown: %v", err)
	}
	if recents.ttls["cooldown:league-chat:rcpt1:league_id=L1"] != 5*time.Minute {
		t.Fatal("expected cooldown window as TTL")
	}

	within, err = engine.IsWithinCooldown(ctx, "league-chat", "rcpt1", "league_id=L1", 5*time.Minute)
	if err != nil || !within {
		t.Fatalf("after marking: (%v, %v), want (true, nil)", within, err)
	}

	// different subject, same type and recipient
	within, _ = engine.IsWithinCooldown(ctx, "league-chat", "rcpt1", "league_id=L2", 5*time.Minute)
	if within {
		t.Fatal("cooldown must be scoped per fingerprint, not per type")
	}
}

func TestZeroCooldownNeverSuppresses(t *testing.T) {
	recents := newFakeRecents()
	recents.err = errors.New("redis down")
	engine := newTestEngine(t, &fakePrefs{}, recents)

	within, err := engine.IsWithinCooldown(context.Background(), "fixture-result", "rcpt1", "-", 0)
	if err != nil || within {
		t.Fatalf("zero cooldown: (%v, %v), want (false, nil) without touching the store", within, err)
	}
	if err := engine.MarkCooldown(context.Background(), "fixture-result", "rcpt1", "-", 0); err != nil {
		t.Fatalf("zero cooldown MarkCooldown: %v", err)
	}
}

func TestCooldownReadError(t *testing.T) {
	recents := newFakeRecents()
	recents.err = errors.New("redis down")
	engine := newTestEngine(t, &fakePrefs{}, recents)

	_, err := engine.IsWithinCooldown(context.Background(), "league-chat", "rcpt1", "-", time.Minute)
	if err == nil {
		t.Fatal("expected error to surface so the caller can fail closed")
	}
}

func TestLoadPreferencesAndMute(t *testing.T) {
	store := &fakePrefs{
		prefs: map[string]map[string]bool{"rcpt1": {"chat": false}},
		muted: map[string]bool{"L1/rcpt1": true},
	}
	engine := newTestEngine(t, store, newFakeRecents())
	ctx := context.Background()

	prefs, err := engine.LoadPreferences(ctx, "rcpt1")
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if prefs["chat"] {
		t.Fatal("expected chat preference off")
	}

	muted, err := engine.IsMuted(ctx, "L1", "rcpt1")
	if err != nil || !muted {
		t.Fatalf("IsMuted(L1) = (%v, %v), want (true, nil)", muted, err)
	}
	muted, _ = engine.IsMuted(ctx, "L2", "rcpt1")
	if muted {
		t.Fatal("mute must be scoped per league")
	}
}
