package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scorewatch/scorewatch/db"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes. Ready means the database answers
// and the feed has connected at least once since startup.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.DB.PingContext(r.Context()) }},
		{"feed", func() error {
			if !h.feedSeen.Load() {
				return fmt.Errorf("feed has not connected yet")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a point-in-time snapshot: feed state, last match, and
// the authorization state of both notification sessions.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	if state, err := db.GetKV(ctx, h.DB, "feed_state"); err == nil {
		out["feed_state"] = state
	}
	if last, err := db.GetKV(ctx, h.DB, "last_match_at"); err == nil {
		out["last_match_at"] = last
	}

	store := &db.TokenStore{DB: h.DB}
	sessions := map[string]interface{ Key() string }{}
	if h.TwitchSession != nil {
		sessions["twitch"] = h.TwitchSession
	}
	if h.TwitterSession != nil {
		sessions["twitter"] = h.TwitterSession
	}
	for name, s := range sessions {
		entry := map[string]any{"authorized": false}
		if at, ok, err := store.UpdatedAt(ctx, s.Key()); err == nil && ok {
			entry["authorized"] = true
			entry["token_updated_at"] = at.UTC().Format(time.RFC3339)
		}
		out[name] = entry
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
