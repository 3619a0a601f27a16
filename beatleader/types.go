// Package beatleader holds the realtime score feed connector and the HTTP
// client for player profile lookups.
package beatleader

import "strings"

// ScoreEvent is one decoded score submission from the feed. Only the fields
// the pipeline consumes are decoded; everything else in the payload is
// ignored.
type ScoreEvent struct {
	ID            int64   `json:"id"`
	PlayerID      string  `json:"playerId"`
	Accuracy      float64 `json:"accuracy"`
	ModifiedScore int64   `json:"modifiedScore"`
	Timepost      int64   `json:"timepost"`
	Player        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"player"`
	Leaderboard struct {
		ID   string `json:"id"`
		Song struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Author string `json:"author"`
		} `json:"song"`
		Difficulty struct {
			DifficultyName string `json:"difficultyName"`
		} `json:"difficulty"`
	} `json:"leaderboard"`
}

// Social is one (service, link) pair on a player profile.
type Social struct {
	Service string `json:"service"`
	Link    string `json:"link"`
	UserID  string `json:"userId"`
}

// PlayerProfile is fetched fresh per matching score; social links can change
// between events so profiles are never cached.
type PlayerProfile struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Socials []Social `json:"socials"`
}

// Social returns the first social entry for the named service (case
// insensitive), or nil.
func (p *PlayerProfile) Social(service string) *Social {
	for i := range p.Socials {
		if strings.EqualFold(p.Socials[i].Service, service) {
			return &p.Socials[i]
		}
	}
	return nil
}
