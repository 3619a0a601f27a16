package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scorewatch/scorewatch/dispatch"
	"github.com/scorewatch/scorewatch/telemetry"
	"github.com/scorewatch/scorewatch/twitchapi"
)

// Notifier announces a matched score on Twitch.
type Notifier struct {
	Helix           *twitchapi.HelixClient
	Speaker         Speaker
	OperatorChannel string
}

// Platform identifies the notifier in results and metrics.
func (n *Notifier) Platform() string { return "twitch" }

// Announce resolves the player's Twitch account, clips their live broadcast
// when possible, posts the caught message into their channel, and posts an
// operator summary no matter how the earlier steps went. The returned URL is
// the best destination found: clip > live channel > replay fallback.
func (n *Notifier) Announce(ctx context.Context, a dispatch.Announcement) dispatch.Result {
	url := a.ReplayURL
	// Operator summary goes out even when the player can't be resolved.
	defer func() {
		n.Speaker.Say(n.OperatorChannel, fmt.Sprintf("%s just got %s%% on %s (%s) %s",
			a.PlayerName, a.Accuracy, a.Song, a.Difficulty, url))
	}()

	user, err := n.Helix.GetUserByID(ctx, a.TwitchUserID)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			return dispatch.Result{Platform: n.Platform(), URL: url, Err: fmt.Errorf("twitch user %s: %w", a.TwitchUserID, err)}
		}
		return dispatch.Result{Platform: n.Platform(), URL: url, Err: fmt.Errorf("resolve twitch user: %w", err)}
	}

	url = "https://twitch.tv/" + user.Login
	stream, err := n.Helix.GetStream(ctx, user.ID)
	if err != nil {
		// Offline is the safe assumption; the channel message still goes out.
		slog.Warn("stream lookup failed", slog.String("login", user.Login), slog.Any("err", err))
	}
	if stream != nil {
		if clipURL, err := n.Helix.CreateClip(ctx, user.ID); err != nil {
			telemetry.ClipFailures.Inc()
			slog.Warn("failed to create clip", slog.String("login", user.Login), slog.Any("err", err))
		} else {
			url = clipURL
		}
	}

	n.Speaker.Join(user.Login)
	n.Speaker.Say(user.Login, fmt.Sprintf("! WHEN YOU SEE IT! You just got %s%% on %s (%s) %s",
		a.Accuracy, a.Song, a.Difficulty, url))

	return dispatch.Result{Platform: n.Platform(), URL: url}
}
