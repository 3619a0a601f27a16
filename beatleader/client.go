package beatleader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Client fetches player profiles from the BeatLeader REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Player fetches the profile for a player id. The stats flag matches what the
// web player requests; without it the socials array is omitted.
func (c *Client) Player(ctx context.Context, id string) (*PlayerProfile, error) {
	if id == "" {
		return nil, fmt.Errorf("player id empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/player/"+id+"?stats=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("player fetch failed: %s: %s", resp.Status, string(b))
	}
	var profile PlayerProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode player profile: %w", err)
	}
	return &profile, nil
}
