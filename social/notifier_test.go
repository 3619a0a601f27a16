package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/scorewatch/scorewatch/dispatch"
	"github.com/scorewatch/scorewatch/testutil"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) {
	return "", errors.New("no credential")
}

func sampleAnnouncement() dispatch.Announcement {
	return dispatch.Announcement{
		ScoreID:       42,
		Accuracy:      "72.7",
		Song:          "Some Song",
		Difficulty:    "Expert+",
		ReplayURL:     "https://replay.beatleader.xyz/?scoreId=42",
		PlayerName:    "PlayerOne",
		DisplayHandle: "@somehandle",
	}
}

func TestAnnouncePostsTweet(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	var gotAuth, gotText string
	srv.Handle("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotText = body.Text
		testutil.RespondJSON(t, w, http.StatusCreated, map[string]any{
			"data": map[string]string{"id": "1234567890"},
		})
	})

	n := &Notifier{Tokens: staticToken("tw-access"), BaseURL: srv.URL}
	res := n.Announce(context.Background(), sampleAnnouncement())

	if res.Err != nil {
		t.Fatalf("Announce: %v", res.Err)
	}
	if res.Platform != "twitter" {
		t.Errorf("Platform = %q", res.Platform)
	}
	if res.URL != "https://twitter.com/i/web/status/1234567890" {
		t.Errorf("URL = %q", res.URL)
	}
	if gotAuth != "Bearer tw-access" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	want := "#WYSI @somehandle just got 72.7% on Some Song (Expert+) on #BeatSaber! https://replay.beatleader.xyz/?scoreId=42"
	if gotText != want {
		t.Errorf("tweet text = %q, want %q", gotText, want)
	}
}

func TestAnnounceAPIError(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	srv.Handle("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		testutil.RespondJSON(t, w, http.StatusTooManyRequests, map[string]string{"title": "Too Many Requests"})
	})

	n := &Notifier{Tokens: staticToken("tw-access"), BaseURL: srv.URL}
	res := n.Announce(context.Background(), sampleAnnouncement())

	if res.Err == nil {
		t.Fatal("expected error on 429 response")
	}
	if !strings.Contains(res.Err.Error(), "429") {
		t.Errorf("err = %v, want status in message", res.Err)
	}
	if res.URL != "" {
		t.Errorf("URL = %q, want empty on failure", res.URL)
	}
}

func TestAnnounceTokenFailure(t *testing.T) {
	called := false
	srv := testutil.NewMockAPIServer(t)
	srv.Handle("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	n := &Notifier{Tokens: failingToken{}, BaseURL: srv.URL}
	res := n.Announce(context.Background(), sampleAnnouncement())

	if res.Err == nil {
		t.Fatal("expected error when no token is available")
	}
	if called {
		t.Error("API called despite missing token")
	}
}

func TestAnnounceEmptyIDRejected(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	srv.Handle("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		testutil.RespondJSON(t, w, http.StatusCreated, map[string]any{"data": map[string]string{}})
	})

	n := &Notifier{Tokens: staticToken("tw-access"), BaseURL: srv.URL}
	res := n.Announce(context.Background(), sampleAnnouncement())
	if res.Err == nil {
		t.Fatal("expected error on response without a tweet id")
	}
}
