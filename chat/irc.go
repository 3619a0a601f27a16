package chat

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Speaker is the IRC surface the notifier uses. go-twitch-irc's client
// satisfies it directly.
type Speaker interface {
	Join(channels ...string)
	Say(channel, text string)
}

// NewIRC builds an IRC client authenticated with the operator's user token.
// The token carries the "oauth:" prefix Twitch IRC expects.
func NewIRC(botUsername, accessToken string) *twitch.Client {
	return twitch.NewClient(botUsername, "oauth:"+accessToken)
}

// Run connects the IRC client, joined to the operator channel, and blocks
// until ctx is cancelled. The client reconnects on its own; disconnect is
// only forced at shutdown.
func Run(ctx context.Context, client *twitch.Client, operatorChannel string) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("irc disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	client.Join(operatorChannel)
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
