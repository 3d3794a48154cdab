// Package storage talks to a Rackspace Cloud Files (OpenStack Swift) account:
// identity authentication, ranged object reads and object deletion.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// tokenSlack renews a token this long before it expires
const tokenSlack = time.Minute

// Session is an authenticated identity: a token and the object-store endpoint it unlocks
type Session struct {
	Token      string
	StorageURL string
	ExpiresAt  time.Time
}

// AuthManager exchanges an API key for a token and caches it in memory
type AuthManager struct {
	client   *utils.HTTPClient
	authURL  string
	username string
	apiKey   string
	region   string
	clock    internal.Clock

	mutex   sync.RWMutex
	session *Session
}

// NewAuthManager creates a new AuthManager
func NewAuthManager(client *utils.HTTPClient, cfg internal.StorageConfig, clock internal.Clock) *AuthManager {
	return &AuthManager{
		client:   client,
		authURL:  cfg.AuthURL,
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		region:   cfg.Region,
		clock:    clock,
	}
}

type authRequest struct {
	Auth struct {
		Credentials struct {
			Username string `json:"username"`
			APIKey   string `json:"apiKey"`
		} `json:"RAX-KSKEY:apiKeyCredentials"`
	} `json:"auth"`
}

type authResponse struct {
	Access struct {
		Token struct {
			ID      string    `json:"id"`
			Expires time.Time `json:"expires"`
		} `json:"token"`
		ServiceCatalog []struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			Endpoints []struct {
				Region    string `json:"region"`
				PublicURL string `json:"publicURL"`
			} `json:"endpoints"`
		} `json:"serviceCatalog"`
	} `json:"access"`
}

// Session returns the cached session, authenticating when there is none or it is about to expire
func (a *AuthManager) Session(ctx context.Context) (*Session, error) {
	a.mutex.RLock()
	session := a.session
	a.mutex.RUnlock()

	if err := a.ValidateSession(session); err == nil {
		return session, nil
	}
	return a.Authenticate(ctx)
}

// Authenticate always performs a fresh token exchange
func (a *AuthManager) Authenticate(ctx context.Context) (*Session, error) {
	if a.username == "" || a.apiKey == "" {
		return nil, internal.NewAuthRequiredError("storage username and API key are required").
			WithSuggestion("Set storage.username and storage.api_key, or VIDMIGRATE_STORAGE_USERNAME and VIDMIGRATE_STORAGE_API_KEY")
	}

	internal.LogInfo("Authenticating against %s", a.authURL)

	var body authRequest
	body.Auth.Credentials.Username = a.username
	body.Auth.Credentials.APIKey = a.apiKey
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, utils.ClassifyError(err, "authenticate")
	}
	if err := utils.ClassifyResponse(resp, "authenticate"); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded authResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, internal.NewFatalRemoteError(resp.StatusCode, "identity response is not valid JSON").WithCause(err)
	}

	session, err := a.sessionFrom(&decoded)
	if err != nil {
		return nil, err
	}

	a.mutex.Lock()
	a.session = session
	a.mutex.Unlock()

	internal.LogInfo("Authenticated, storage endpoint %s", session.StorageURL)
	return session, nil
}

func (a *AuthManager) sessionFrom(decoded *authResponse) (*Session, error) {
	if decoded.Access.Token.ID == "" {
		return nil, internal.NewFatalRemoteError(0, "identity response carries no token")
	}

	for _, service := range decoded.Access.ServiceCatalog {
		if service.Type != "object-store" {
			continue
		}
		for _, endpoint := range service.Endpoints {
			if strings.EqualFold(endpoint.Region, a.region) && endpoint.PublicURL != "" {
				expires := decoded.Access.Token.Expires
				if expires.IsZero() {
					expires = a.clock.Now().Add(24 * time.Hour)
				}
				return &Session{
					Token:      decoded.Access.Token.ID,
					StorageURL: strings.TrimRight(endpoint.PublicURL, "/"),
					ExpiresAt:  expires,
				}, nil
			}
		}
		return nil, internal.NewFatalRemoteError(0, fmt.Sprintf("no object-store endpoint for region %s", a.region))
	}
	return nil, internal.NewFatalRemoteError(0, "object storage endpoint not found in service catalog")
}

// ValidateSession checks that a session is usable for at least another minute
func (a *AuthManager) ValidateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("no session")
	}
	if session.Token == "" || session.StorageURL == "" {
		return fmt.Errorf("session is incomplete")
	}
	if a.clock.Now().Add(tokenSlack).After(session.ExpiresAt) {
		return fmt.Errorf("session expired at %v", session.ExpiresAt)
	}
	return nil
}

// Invalidate drops the cached session so the next call re-authenticates. Sessions
// already handed out are left untouched.
func (a *AuthManager) Invalidate() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.session = nil
}
