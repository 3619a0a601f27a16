// Package twitchapi contains the Twitch OAuth grants and the minimal Helix
// surface the chat notifier depends on: user lookup, live-broadcast status,
// and clip creation, all authenticated with the operator's user token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrUserNotFound is returned when Helix has no user for the requested id.
var ErrUserNotFound = errors.New("twitchapi: user not found")

// TokenSource yields a currently valid user access token, typically an
// *auth.Session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// User is the subset of a Helix user the notifier needs.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream describes a live broadcast.
type Stream struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// HelixClient issues user-token-authenticated Helix requests.
type HelixClient struct {
	Tokens     TokenSource
	ClientID   string
	BaseURL    string // defaults to the public Helix host
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv"
}

func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	tok, err := hc.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("helix token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s failed: %s: %s", method, path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserByID resolves a Twitch user id to its login and display name.
// Returns ErrUserNotFound when the id does not exist.
func (hc *HelixClient) GetUserByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("user id empty")
	}
	q := url.Values{}
	q.Set("id", id)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/users", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &body.Data[0], nil
}

// GetStream returns the user's live broadcast, or nil when offline.
func (hc *HelixClient) GetStream(ctx context.Context, userID string) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/streams", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// CreateClip captures a clip of the user's live broadcast and returns its
// public URL. Clip creation is rate limited and flaky by nature; callers
// treat failure as non-fatal.
func (hc *HelixClient) CreateClip(ctx context.Context, broadcasterID string) (string, error) {
	if broadcasterID == "" {
		return "", fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/helix/clips", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", fmt.Errorf("empty clip response")
	}
	return "https://clips.twitch.tv/" + body.Data[0].ID, nil
}
