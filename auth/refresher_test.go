package auth

import (
	"context"
	"testing"
	"time"
)

func expiringCredential() Credential {
	return Credential{AccessToken: "old-at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Minute)}
}

func TestStartRefresherSubJitterInterval(t *testing.T) {
	// An interval below jitter resolution collapses the random range to
	// zero; the refresher must keep running rather than panic.
	store := newMemStore()
	refreshed := make(chan string, 1)
	refresh := func(context.Context, string) (Credential, error) {
		cred := Credential{AccessToken: "new-at", RefreshToken: "rt2", ExpiresAt: time.Now().Add(time.Hour)}
		select {
		case refreshed <- cred.AccessToken:
		default:
		}
		return cred, nil
	}
	s := NewSession("twitch", "1", store, refresh)
	if err := s.SetCredential(context.Background(), expiringCredential()); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, s, time.Nanosecond, 15*time.Minute)

	select {
	case tok := <-refreshed:
		if tok != "new-at" {
			t.Fatalf("refreshed token = %q", tok)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("refresher never ran")
	}
}

func TestRefreshHookRunsOnProactiveRefresh(t *testing.T) {
	// The hook fires from the refresher goroutine at any time after
	// NewSession, so anything it closes over must exist beforehand.
	store := newMemStore()
	hooked := make(chan Credential, 1)
	refresh := func(context.Context, string) (Credential, error) {
		return Credential{AccessToken: "rotated", RefreshToken: "rt2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	s := NewSession("twitch", "1", store, refresh,
		WithRefreshHook(func(cred Credential) {
			select {
			case hooked <- cred:
			default:
			}
		}))
	if err := s.SetCredential(context.Background(), expiringCredential()); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	// SetCredential itself fires the hook; drain that invocation so the
	// assertion below observes the refresher's.
	<-hooked

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, s, 2*time.Millisecond, 15*time.Minute)

	select {
	case cred := <-hooked:
		if cred.AccessToken != "rotated" {
			t.Fatalf("hook observed %q, want the refreshed token", cred.AccessToken)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hook never fired from the refresher")
	}
}
