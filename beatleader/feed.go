package beatleader

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scorewatch/scorewatch/telemetry"
)

// Feed maintains the long-lived websocket connection to the score feed. It
// runs for the process lifetime: any close or error tears the connection down
// and schedules another dial after ReconnectDelay. Decoded events are handed
// to Handler in wire order, one at a time.
type Feed struct {
	URL            string
	Handler        func(context.Context, ScoreEvent)
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	// OnStateChange, when set, observes connected/disconnected transitions
	// (used for the /status endpoint).
	OnStateChange func(connected bool)
}

func (f *Feed) dialer() *websocket.Dialer {
	if f.Dialer != nil {
		return f.Dialer
	}
	return websocket.DefaultDialer
}

func (f *Feed) delay() time.Duration {
	if f.ReconnectDelay > 0 {
		return f.ReconnectDelay
	}
	return 5 * time.Second
}

func (f *Feed) setConnected(connected bool) {
	telemetry.SetFeedConnected(connected)
	if f.OnStateChange != nil {
		f.OnStateChange(connected)
	}
}

// Run connects and consumes the feed until ctx is cancelled. Reconnect
// attempts are unbounded; feed outages are expected to be transient and the
// system's job is to be there when the feed comes back.
func (f *Feed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("feed connection lost", slog.String("url", f.URL), slog.Any("err", err))
		}
		f.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		telemetry.FeedReconnects.Inc()
		// ±20% jitter so restarts across instances don't thundering-herd the feed.
		base := f.delay()
		var jitter time.Duration
		if r := int64(base / 5); r > 0 {
			//nolint:gosec // G404: math/rand is sufficient for reconnect jitter, not used for security
			jitter = time.Duration(rand.Int63n(r*2) - r)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(base + jitter):
		}
	}
}

// consume performs one connect/read cycle; it returns when the connection
// closes or ctx is cancelled.
func (f *Feed) consume(ctx context.Context) error {
	slog.Info("connecting to score feed", slog.String("url", f.URL))
	conn, resp, err := f.dialer().DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("feed close", slog.Any("err", err))
		}
	}()
	slog.Info("connected to score feed")
	f.setConnected(true)

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev ScoreEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// One malformed payload is not a reason to drop the connection.
			telemetry.DecodeFailures.Inc()
			slog.Warn("dropping undecodable feed message", slog.Any("err", err), slog.Int("bytes", len(data)))
			continue
		}
		telemetry.ScoresReceived.Inc()
		f.Handler(ctx, ev)
	}
}
