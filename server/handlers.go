package server

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/scorewatch/scorewatch/auth"
	"github.com/scorewatch/scorewatch/config"
)

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	DB  *sql.DB
	Cfg *config.Config

	TwitchSession  *auth.Session
	TwitterSession *auth.Session
	TwitterOAuth   *oauth2.Config

	stateMu sync.Mutex
	states  map[string]oauthState

	// feedSeen flips once the feed connects in this process lifetime; a
	// restart starts not-ready regardless of persisted state.
	feedSeen atomic.Bool
}

// NoteFeedConnected records a feed state transition; wired to the feed's
// OnStateChange hook.
func (h *Handlers) NoteFeedConnected(connected bool) {
	if connected {
		h.feedSeen.Store(true)
	}
}

// oauthState is a pending authorize redirect. Twitter flows additionally
// carry the PKCE verifier generated at /start.
type oauthState struct {
	expiry   time.Time
	verifier string
}

// NewHandlers wires the handler set.
func NewHandlers(db *sql.DB, cfg *config.Config, twitchSession, twitterSession *auth.Session, twitterOAuth *oauth2.Config) *Handlers {
	return &Handlers{
		DB:             db,
		Cfg:            cfg,
		TwitchSession:  twitchSession,
		TwitterSession: twitterSession,
		TwitterOAuth:   twitterOAuth,
		states:         make(map[string]oauthState),
	}
}

func (h *Handlers) addState(state string, st oauthState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.states[state] = st
}

// takeState consumes a pending state; a state is single-use and expires ten
// minutes after /start.
func (h *Handlers) takeState(state string) (oauthState, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.states[state]
	if !ok {
		return oauthState{}, false
	}
	delete(h.states, state)
	if time.Now().After(st.expiry) {
		return oauthState{}, false
	}
	return st, true
}
