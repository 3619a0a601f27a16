// Package social posts match announcements to Twitter via the v2 API. OAuth2
// uses the authorization-code + PKCE flow; the refresh token rotates on every
// refresh, so the new value must always be persisted.
package social

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/scorewatch/scorewatch/auth"
)

// Endpoint URLs are variables so tests can point them at a local server.
var (
	AuthURL  = "https://twitter.com/i/oauth2/authorize"
	TokenURL = "https://api.twitter.com/2/oauth2/token"
)

// NewOAuthConfig builds the OAuth2 config for the Twitter v2 API. Twitter
// requires client credentials via Basic auth on the token endpoint.
func NewOAuthConfig(clientID, clientSecret, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// NewVerifier returns a fresh PKCE code verifier for an authorize redirect.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL builds the authorize URL carrying the S256 challenge for the
// given verifier.
func AuthCodeURL(cfg *oauth2.Config, state, verifier string) string {
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code (plus its PKCE verifier) for a
// credential.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (auth.Credential, error) {
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return auth.Credential{}, err
	}
	return fromToken(tok), nil
}

// RefreshFunc adapts the OAuth2 config into the session refresh hook.
func RefreshFunc(cfg *oauth2.Config) auth.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (auth.Credential, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return auth.Credential{}, err
		}
		return fromToken(tok), nil
	}
}

func fromToken(tok *oauth2.Token) auth.Credential {
	return auth.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}
