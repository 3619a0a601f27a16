package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scorewatch/scorewatch/dispatch"
)

// TokenSource yields a currently valid user access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Notifier posts a tweet for each matched score.
type Notifier struct {
	Tokens     TokenSource
	BaseURL    string // defaults to https://api.twitter.com
	HTTPClient *http.Client
}

func (n *Notifier) Platform() string { return "twitter" }

// Announce posts the tweet. The returned Result carries a permalink to the
// created tweet on success.
func (n *Notifier) Announce(ctx context.Context, a dispatch.Announcement) dispatch.Result {
	text := fmt.Sprintf("#WYSI %s just got %s%% on %s (%s) on #BeatSaber! %s",
		a.DisplayHandle, a.Accuracy, a.Song, a.Difficulty, a.ReplayURL)
	id, err := n.postTweet(ctx, text)
	if err != nil {
		return dispatch.Result{Platform: n.Platform(), Err: err}
	}
	return dispatch.Result{Platform: n.Platform(), URL: "https://twitter.com/i/web/status/" + id}
}

func (n *Notifier) postTweet(ctx context.Context, text string) (string, error) {
	token, err := n.Tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("twitter token: %w", err)
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	base := n.BaseURL
	if base == "" {
		base = "https://api.twitter.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("post tweet: status %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("post tweet: empty id in response")
	}
	return out.Data.ID, nil
}
