package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scorewatch/scorewatch/beatleader"
	"github.com/scorewatch/scorewatch/telemetry"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*beatleader.PlayerProfile
	err      error
	calls    int
}

func (f *fakeProfiles) Player(_ context.Context, id string) (*beatleader.PlayerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.New("unknown player")
	}
	return p, nil
}

func (f *fakeProfiles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	platform string
	err      error
	panicMsg string

	mu    sync.Mutex
	calls []Announcement
}

func (f *fakeNotifier) Platform() string { return f.platform }

func (f *fakeNotifier) Announce(_ context.Context, a Announcement) Result {
	f.mu.Lock()
	f.calls = append(f.calls, a)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return Result{Platform: f.platform, Err: f.err}
	}
	return Result{Platform: f.platform, URL: "https://" + f.platform + ".example/post"}
}

func (f *fakeNotifier) announcements() []Announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Announcement(nil), f.calls...)
}

func scoreEvent(id int64, playerID string, accuracy float64) beatleader.ScoreEvent {
	ev := beatleader.ScoreEvent{ID: id, PlayerID: playerID, Accuracy: accuracy}
	ev.Player.ID = playerID
	ev.Player.Name = "Player " + playerID
	ev.Leaderboard.Song.ID = "song-1"
	ev.Leaderboard.Song.Name = "Some Song"
	ev.Leaderboard.Difficulty.DifficultyName = "Expert+"
	return ev
}

func profileWith(name string, socials ...beatleader.Social) *beatleader.PlayerProfile {
	return &beatleader.PlayerProfile{Name: name, Socials: socials}
}

func TestDispatchBelowThresholdNoSideEffects(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{}
	chat := &fakeNotifier{platform: "twitch"}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Chat: chat, Social: social}

	d.HandleScore(context.Background(), scoreEvent(1, "p-1", 0.5))
	d.Wait()

	if profiles.callCount() != 0 {
		t.Errorf("profile fetches = %d, want 0 for a non-matching score", profiles.callCount())
	}
	if len(chat.announcements()) != 0 || len(social.announcements()) != 0 {
		t.Error("notifiers invoked for a non-matching score")
	}
}

func TestDispatchTwitterOnlyProfile(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{
		"p-1": profileWith("PlayerOne",
			beatleader.Social{Service: "Twitter", Link: "https://twitter.com/somehandle"},
		),
	}}
	chat := &fakeNotifier{platform: "twitch"}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Chat: chat, Social: social}

	d.HandleScore(context.Background(), scoreEvent(42, "p-1", 0.7270))
	d.Wait()

	if len(chat.announcements()) != 0 {
		t.Error("chat notifier invoked without a Twitch social link")
	}
	got := social.announcements()
	if len(got) != 1 {
		t.Fatalf("social announcements = %d, want 1", len(got))
	}
	a := got[0]
	if a.DisplayHandle != "@somehandle" {
		t.Errorf("DisplayHandle = %q, want @somehandle", a.DisplayHandle)
	}
	if a.ReplayURL != "https://replay.beatleader.xyz/?scoreId=42" {
		t.Errorf("ReplayURL = %q", a.ReplayURL)
	}
	if a.Accuracy != "72.7" {
		t.Errorf("Accuracy = %q, want 72.7", a.Accuracy)
	}
}

func TestDispatchFanOutIsolation(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{
		"p-1": profileWith("PlayerOne",
			beatleader.Social{Service: "Twitch", UserID: "u-1", Link: "https://twitch.tv/playerone"},
			beatleader.Social{Service: "Twitter", Link: "https://twitter.com/playerone"},
		),
	}}
	chat := &fakeNotifier{platform: "twitch", err: errors.New("chat platform outage")}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Chat: chat, Social: social}

	d.HandleScore(context.Background(), scoreEvent(7, "p-1", 0.727))
	d.Wait()

	if len(chat.announcements()) != 1 {
		t.Fatalf("chat announcements = %d, want 1", len(chat.announcements()))
	}
	if len(social.announcements()) != 1 {
		t.Fatalf("social announcements = %d, want 1 despite chat failure", len(social.announcements()))
	}
}

func TestDispatchSurvivesPanickingNotifier(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{
		"p-1": profileWith("PlayerOne",
			beatleader.Social{Service: "Twitch", UserID: "u-1"},
		),
	}}
	chat := &fakeNotifier{platform: "twitch", panicMsg: "nil deref in platform client"}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Chat: chat, Social: social}

	d.HandleScore(context.Background(), scoreEvent(8, "p-1", 0.727))
	d.Wait()

	if len(social.announcements()) != 1 {
		t.Fatal("social notifier skipped after sibling panic")
	}
	// Next event still flows.
	d.HandleScore(context.Background(), scoreEvent(9, "p-1", 0.727))
	d.Wait()
	if len(social.announcements()) != 2 {
		t.Fatal("dispatcher stopped processing after a notifier panic")
	}
}

func TestDispatchProfileFetchFailureAbortsEventOnly(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{err: errors.New("profile service down")}
	chat := &fakeNotifier{platform: "twitch"}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Chat: chat, Social: social}

	d.HandleScore(context.Background(), scoreEvent(1, "p-1", 0.727))
	d.Wait()

	if len(chat.announcements()) != 0 || len(social.announcements()) != 0 {
		t.Fatal("notifiers invoked despite enrichment failure")
	}

	// Subsequent events are unaffected once the profile service recovers.
	profiles.mu.Lock()
	profiles.err = nil
	profiles.profiles = map[string]*beatleader.PlayerProfile{"p-2": profileWith("Recovered")}
	profiles.mu.Unlock()

	d.HandleScore(context.Background(), scoreEvent(2, "p-2", 0.727))
	d.Wait()
	if len(social.announcements()) != 1 {
		t.Fatal("dispatcher did not recover after a profile fetch failure")
	}
}

func TestDispatchHandleFallsBackToProfileName(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{
		"p-1": profileWith("JustAName"),
	}}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Social: social}

	d.HandleScore(context.Background(), scoreEvent(3, "p-1", 0.727))
	d.Wait()

	got := social.announcements()
	if len(got) != 1 {
		t.Fatalf("social announcements = %d, want 1", len(got))
	}
	if got[0].DisplayHandle != "JustAName" {
		t.Errorf("DisplayHandle = %q, want profile name fallback", got[0].DisplayHandle)
	}
}

func TestDispatchConcurrentEventsIndependent(t *testing.T) {
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{}}
	for i := 0; i < 5; i++ {
		profiles.profiles[fmt.Sprintf("p-%d", i)] = profileWith(fmt.Sprintf("Player%d", i))
	}
	slow := &slowNotifier{delay: 30 * time.Millisecond}
	d := &Dispatcher{Profiles: profiles, Social: slow}

	start := time.Now()
	for i := 0; i < 5; i++ {
		d.HandleScore(context.Background(), scoreEvent(int64(100+i), fmt.Sprintf("p-%d", i), 0.727))
	}
	d.Wait()
	elapsed := time.Since(start)

	if got := slow.count(); got != 5 {
		t.Fatalf("announcements = %d, want 5", got)
	}
	// Five serialized 30ms announcements would take >=150ms.
	if elapsed > 120*time.Millisecond {
		t.Errorf("events appear serialized: 5 events took %v", elapsed)
	}
}

type slowNotifier struct {
	delay time.Duration
	mu    sync.Mutex
	n     int
}

func (s *slowNotifier) Platform() string { return "twitter" }

func (s *slowNotifier) Announce(context.Context, Announcement) Result {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return Result{Platform: "twitter"}
}

func (s *slowNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestHandleFromLink(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://twitter.com/somehandle", "somehandle"},
		{"https://twitter.com/somehandle/status/1", "somehandle"},
		{"https://x.com/other", "other"},
		{"nonsense", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := handleFromLink(tt.link); got != tt.want {
			t.Errorf("handleFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestAnnouncementRendering(t *testing.T) {
	// The replay URL is keyed by score id and must survive into the payload
	// even when every social link is missing.
	telemetry.Init()
	profiles := &fakeProfiles{profiles: map[string]*beatleader.PlayerProfile{
		"p-1": profileWith("Solo"),
	}}
	social := &fakeNotifier{platform: "twitter"}
	d := &Dispatcher{Profiles: profiles, Social: social}

	d.HandleScore(context.Background(), scoreEvent(555, "p-1", 0.7272))
	d.Wait()

	got := social.announcements()
	if len(got) != 1 {
		t.Fatalf("announcements = %d", len(got))
	}
	if !strings.HasSuffix(got[0].ReplayURL, "scoreId=555") {
		t.Errorf("ReplayURL = %q", got[0].ReplayURL)
	}
	if got[0].Song != "Some Song" || got[0].Difficulty != "Expert+" {
		t.Errorf("payload = %+v", got[0])
	}
}
