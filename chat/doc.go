// Package chat turns a matched score into Twitch-side announcements.
//
// The Notifier resolves the player's Twitch account from their profile social
// link, checks whether they are live, clips the broadcast when possible
// (best-effort only), posts the "caught" message into the player's own
// channel, and always posts a summary into the operator's channel.
//
// IRC connectivity uses gempir/go-twitch-irc with the operator's user OAuth
// token; Run keeps the connection alive for the process lifetime and the
// session refresh hook feeds it rotated tokens for subsequent reconnects.
package chat
