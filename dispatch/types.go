// Package dispatch consumes decoded score events, applies the accuracy
// filter, enriches matches with the player profile, and fans the
// announcement out to the platform notifiers.
package dispatch

import "context"

// Announcement is the payload handed to each platform notifier for one
// matched score.
type Announcement struct {
	ScoreID    int64
	Accuracy   string // rendered two-decimal percentage, e.g. "72.7"
	Song       string
	Difficulty string
	ReplayURL  string // default destination, keyed by score id

	PlayerName    string
	DisplayHandle string // "@handle" when the profile links a Twitter account, else PlayerName
	TwitchUserID  string // empty when the profile has no Twitch social
}

// Result is one platform's outcome for one dispatched event.
type Result struct {
	Platform string
	URL      string // canonical destination chosen by the notifier
	Err      error
}

// Notifier is one announcement target. Implementations are best-effort and
// at-most-once; the dispatcher never retries them.
type Notifier interface {
	Platform() string
	Announce(ctx context.Context, a Announcement) Result
}
