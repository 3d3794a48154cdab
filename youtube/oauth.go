// Package youtube uploads videos through the YouTube Data API resumable upload protocol.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	ytapi "google.golang.org/api/youtube/v3"

	"vidmigrate/internal"
)

// LoadOAuthConfig reads an OAuth client secrets file downloaded from the Google console
func LoadOAuthConfig(clientSecretsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, internal.NewAuthRequiredError(fmt.Sprintf("cannot read client secrets %s", clientSecretsPath)).
			WithCause(err).
			WithSuggestion("Download an OAuth client (desktop app) JSON and point youtube.client_secrets at it")
	}
	config, err := google.ConfigFromJSON(data, ytapi.YoutubeUploadScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secrets file: %w", err)
	}
	return config, nil
}

// TokenStore persists an OAuth token as JSON
type TokenStore struct {
	path string
}

// NewTokenStore creates a TokenStore writing to path
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load returns the stored token
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, internal.NewAuthRequiredError("no YouTube token found").
				WithSuggestion("Run 'vidmigrate auth' once to authorize uploads")
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, internal.NewAuthRequiredError("stored YouTube token is corrupt").
			WithCause(err).
			WithSuggestion("Run 'vidmigrate auth' again")
	}
	return token, nil
}

// Save writes token with owner-only permissions
func (s *TokenStore) Save(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// persistingSource saves every refreshed token back to the store
type persistingSource struct {
	mu    sync.Mutex
	base  oauth2.TokenSource
	store *TokenStore
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, internal.NewAuthRequiredError("YouTube token refresh failed").
			WithCause(err).
			WithSuggestion("Run 'vidmigrate auth' to authorize again")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if err := p.store.Save(token); err != nil {
			internal.LogWarn("Failed to persist refreshed token: %v", err)
		}
	}
	return token, nil
}

// NewClient returns an HTTP client that authorizes requests with the stored token,
// refreshing and re-saving it as needed. base supplies the transport and may be nil.
func NewClient(ctx context.Context, config *oauth2.Config, store *TokenStore, base *http.Client) (*http.Client, error) {
	token, err := store.Load()
	if err != nil {
		return nil, err
	}

	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	source := &persistingSource{
		base:  config.TokenSource(ctx, token),
		store: store,
		last:  token.AccessToken,
	}
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source))
	return client, nil
}

// AuthCodeURL is the consent page the operator opens once
func AuthCodeURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the consent code for a token and stores it
func Exchange(ctx context.Context, config *oauth2.Config, store *TokenStore, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, internal.NewInvalidInputError("code", "authorization code cannot be empty")
	}
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, internal.NewAuthRequiredError("authorization code exchange failed").WithCause(err)
	}
	if err := store.Save(token); err != nil {
		return nil, err
	}
	return token, nil
}
