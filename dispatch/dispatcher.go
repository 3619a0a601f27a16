package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/scorewatch/scorewatch/beatleader"
	"github.com/scorewatch/scorewatch/db"
	"github.com/scorewatch/scorewatch/telemetry"
)

// ProfileFetcher looks up a player profile; satisfied by *beatleader.Client.
type ProfileFetcher interface {
	Player(ctx context.Context, id string) (*beatleader.PlayerProfile, error)
}

// Dispatcher wires the filter, enrichment, and fan-out together. Events are
// filtered inline in arrival order; matched events then proceed as
// independent tasks, so a slow notification for one score never delays the
// next score.
type Dispatcher struct {
	Profiles ProfileFetcher
	Chat     Notifier // invoked only when the profile links a Twitch account
	Social   Notifier
	DB       *sql.DB // optional: archives dispatched scores and status keys

	tasks sync.WaitGroup
}

// HandleScore is the feed handler. It returns as soon as the filter decision
// is made; enrichment and notification run in their own goroutine.
func (d *Dispatcher) HandleScore(ctx context.Context, ev beatleader.ScoreEvent) {
	acc := FormatAccuracy(ev.Accuracy)
	slog.Debug("score received",
		slog.Int64("score_id", ev.ID),
		slog.String("player", ev.Player.Name),
		slog.String("accuracy", acc),
		slog.String("song", ev.Leaderboard.Song.Name))
	if !Matches(ev.Accuracy) {
		return
	}
	telemetry.ScoresMatched.Inc()

	// Once matched, the chain runs to completion even if the feed
	// connection (and its context) goes away mid-flight.
	corr := uuid.NewString()
	taskCtx := telemetry.WithCorrelation(context.WithoutCancel(ctx), corr)
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		d.process(taskCtx, ev, acc)
	}()
}

// Wait blocks until all in-flight enrichment/notification tasks finish; used
// at shutdown so announcements already past the filter still go out.
func (d *Dispatcher) Wait() {
	d.tasks.Wait()
}

func (d *Dispatcher) process(ctx context.Context, ev beatleader.ScoreEvent, acc string) {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.Int64("score_id", ev.ID))
	ctx, span := telemetry.StartSpan(ctx, "dispatch", "process_score",
		attribute.Int64("score_id", ev.ID),
		attribute.String("player_id", ev.PlayerID))
	defer span.End()

	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		profile, err := d.Profiles.Player(ctx, ev.PlayerID)
		if err != nil {
			telemetry.ProfileFetchFailures.Inc()
			telemetry.RecordError(span, err)
			logger.Warn("profile fetch failed, dropping event", slog.String("player_id", ev.PlayerID), slog.Any("err", err))
			return
		}

		a := d.buildAnnouncement(ev, acc, profile)
		results := d.fanOut(ctx, a)
		for _, res := range results {
			telemetry.CountNotification(res.Platform, res.Err == nil)
			if res.Err != nil {
				telemetry.RecordError(span, res.Err)
				logger.Warn("notification failed", slog.String("platform", res.Platform), slog.Any("err", res.Err))
				continue
			}
			logger.Info("notification sent", slog.String("platform", res.Platform), slog.String("url", res.URL))
		}

		d.archive(ctx, ev, logger)
	})
}

func (d *Dispatcher) buildAnnouncement(ev beatleader.ScoreEvent, acc string, profile *beatleader.PlayerProfile) Announcement {
	a := Announcement{
		ScoreID:       ev.ID,
		Accuracy:      acc,
		Song:          ev.Leaderboard.Song.Name,
		Difficulty:    ev.Leaderboard.Difficulty.DifficultyName,
		ReplayURL:     fmt.Sprintf("https://replay.beatleader.xyz/?scoreId=%d", ev.ID),
		PlayerName:    profile.Name,
		DisplayHandle: profile.Name,
	}
	if twitter := profile.Social("twitter"); twitter != nil {
		if handle := handleFromLink(twitter.Link); handle != "" {
			a.DisplayHandle = "@" + handle
		}
	}
	if tw := profile.Social("twitch"); tw != nil {
		a.TwitchUserID = tw.UserID
	}
	return a
}

// fanOut invokes both notifiers concurrently. Each runs in its own goroutine
// with a panic guard, so one platform's outage or bug cannot prevent or delay
// the other's announcement.
func (d *Dispatcher) fanOut(ctx context.Context, a Announcement) []Result {
	targets := make([]Notifier, 0, 2)
	if d.Chat != nil && a.TwitchUserID != "" {
		targets = append(targets, d.Chat)
	}
	if d.Social != nil {
		targets = append(targets, d.Social)
	}

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, n := range targets {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			results[i] = announceGuarded(ctx, n, a)
		}(i, n)
	}
	wg.Wait()
	return results
}

func announceGuarded(ctx context.Context, n Notifier, a Announcement) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Platform: n.Platform(), Err: fmt.Errorf("notifier panic: %v", r)}
		}
	}()
	return n.Announce(ctx, a)
}

// archive records the dispatched score and a last-match heartbeat. Failures
// here are log-only; the announcements already went out.
func (d *Dispatcher) archive(ctx context.Context, ev beatleader.ScoreEvent, logger *slog.Logger) {
	if d.DB == nil {
		return
	}
	timepost := time.Unix(ev.Timepost, 0).UTC()
	if err := db.InsertScore(ctx, d.DB, ev.ID, ev.Leaderboard.Song.ID, ev.Player.ID, ev.ModifiedScore, ev.Accuracy, timepost); err != nil {
		logger.Warn("score archive failed", slog.Any("err", err))
	}
	if err := db.SetKV(ctx, d.DB, "last_match_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("status update failed", slog.Any("err", err))
	}
}

// handleFromLink extracts the handle segment from a profile social link such
// as "https://twitter.com/handle".
func handleFromLink(link string) string {
	parts := strings.Split(link, "/")
	if len(parts) > 3 {
		return strings.TrimSpace(parts[3])
	}
	return ""
}
