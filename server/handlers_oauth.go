package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/scorewatch/scorewatch/social"
	"github.com/scorewatch/scorewatch/twitchapi"
)

func newState(w http.ResponseWriter) (string, bool) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	return hex.EncodeToString(b), true
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.Cfg.TwitchClientID == "" || h.Cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, ok := newState(w)
	if !ok {
		return
	}
	h.addState(st, oauthState{expiry: time.Now().Add(10 * time.Minute)})
	authURL, err := twitchapi.BuildAuthorizeURL(h.Cfg.TwitchClientID, h.Cfg.TwitchRedirectURI, h.Cfg.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and installs the credential on
// the chat session.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if _, ok := h.takeState(st); !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	res, err := twitchapi.ExchangeAuthCode(ctx, h.Cfg.TwitchClientID, h.Cfg.TwitchClientSecret, code, h.Cfg.TwitchRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.TwitchSession.SetCredential(ctx, res.Credential()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleTwitterOAuthStart initiates the Twitter PKCE flow.
func (h *Handlers) HandleTwitterOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.TwitterOAuth == nil || h.TwitterOAuth.ClientID == "" || h.TwitterOAuth.RedirectURL == "" {
		http.Error(w, "oauth not configured (need TWITTER_CLIENT_ID + TWITTER_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, ok := newState(w)
	if !ok {
		return
	}
	verifier := social.NewVerifier()
	h.addState(st, oauthState{expiry: time.Now().Add(10 * time.Minute), verifier: verifier})
	http.Redirect(w, r, social.AuthCodeURL(h.TwitterOAuth, st, verifier), http.StatusFound)
}

// HandleTwitterOAuthCallback exchanges the code with its stored PKCE verifier
// and installs the credential on the social session.
func (h *Handlers) HandleTwitterOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	pending, ok := h.takeState(st)
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	cred, err := social.Exchange(ctx, h.TwitterOAuth, code, pending.verifier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.TwitterSession.SetCredential(ctx, cred); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "expiry": cred.ExpiresAt, "refresh_token_present": cred.RefreshToken != ""}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
