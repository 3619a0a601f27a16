package beatleader

import (
	"context"
	"net/http"
	"testing"

	"github.com/scorewatch/scorewatch/testutil"
)

func TestPlayerFetch(t *testing.T) {
	mock := testutil.NewMockAPIServer(t)
	mock.Handle("/player/76561198059961776", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("stats"); got != "true" {
			t.Errorf("stats query = %q, want true", got)
		}
		testutil.RespondJSON(t, w, http.StatusOK, map[string]any{
			"id":   "76561198059961776",
			"name": "SomePlayer",
			"socials": []map[string]string{
				{"service": "Twitch", "link": "https://twitch.tv/someplayer", "userId": "u-123"},
				{"service": "Twitter", "link": "https://twitter.com/somehandle"},
			},
		})
	})

	client := &Client{BaseURL: mock.URL}
	profile, err := client.Player(context.Background(), "76561198059961776")
	if err != nil {
		t.Fatalf("Player() error = %v", err)
	}
	if profile.Name != "SomePlayer" {
		t.Errorf("Name = %q", profile.Name)
	}
	if len(profile.Socials) != 2 {
		t.Fatalf("Socials = %v", profile.Socials)
	}

	twitch := profile.Social("twitch")
	if twitch == nil || twitch.UserID != "u-123" {
		t.Errorf("Social(twitch) = %+v", twitch)
	}
	if profile.Social("Discord") != nil {
		t.Error("Social(Discord) should be nil")
	}
}

func TestPlayerFetchErrors(t *testing.T) {
	mock := testutil.NewMockAPIServer(t)
	mock.Handle("/player/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mock.Handle("/player/garbled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	client := &Client{BaseURL: mock.URL}
	if _, err := client.Player(context.Background(), "gone"); err == nil {
		t.Error("Player() succeeded on 404")
	}
	if _, err := client.Player(context.Background(), "garbled"); err == nil {
		t.Error("Player() succeeded on malformed body")
	}
	if _, err := client.Player(context.Background(), ""); err == nil {
		t.Error("Player() accepted empty id")
	}
}
