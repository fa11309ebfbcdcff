// ABOUTME: OAuth configuration and token storage for Microsoft Graph, Dynamics, and Google
// ABOUTME: Tokens are stored per provider at XDG paths and refreshed through oauth2 token sources
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// OAuth providers
const (
	ProviderMicrosoft = "microsoft"
	ProviderDynamics  = "dynamics"
	ProviderGoogle    = "google"
)

// DefaultRedirectURL is where the local callback server listens.
const DefaultRedirectURL = "http://localhost:8080/oauth/callback"

// GraphScopes are the delegated permissions a scan needs.
var GraphScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/User.Read",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Chat.Read",
	"https://graph.microsoft.com/OnlineMeetings.Read",
	"https://graph.microsoft.com/OnlineMeetingTranscript.Read.All",
}

// NewMicrosoftOAuthConfig creates an Azure AD v2 config for the given scopes.
func NewMicrosoftOAuthConfig(tenantID, clientID, clientSecret string, scopes []string) (*oauth2.Config, error) {
	if clientID == "" {
		return nil, fmt.Errorf("microsoft OAuth client id not configured. Set MS_CLIENT_ID")
	}
	if tenantID == "" {
		tenantID = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  DefaultRedirectURL,
		Scopes:       scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenantID),
	}, nil
}

// DynamicsScopes returns the delegated scope for a Dynamics org URL.
func DynamicsScopes(orgURL string) []string {
	return []string{"offline_access", strings.TrimSuffix(orgURL, "/") + "/user_impersonation"}
}

// GoogleScopes cover the Gmail and Calendar sources.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// NewGoogleOAuthConfig creates OAuth2 config for the Gmail and Calendar APIs.
func NewGoogleOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google OAuth credentials not configured. Set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  DefaultRedirectURL,
		Scopes:       GoogleScopes,
		Endpoint:     google.Endpoint,
	}, nil
}

// TokenPath returns the XDG path where a provider's token is stored.
func TokenPath(provider string) string {
	return filepath.Join(xdg.DataHome, "cosell", provider+"-token.json")
}

// SaveToken saves a provider's OAuth token.
func SaveToken(provider string, token *oauth2.Token) error {
	return saveTokenAt(TokenPath(provider), token)
}

// LoadToken loads a provider's OAuth token.
func LoadToken(provider string) (*oauth2.Token, error) {
	return loadTokenAt(TokenPath(provider))
}

func saveTokenAt(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}

func loadTokenAt(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// persistingTokenSource writes refreshed tokens back to disk.
type persistingTokenSource struct {
	base     oauth2.TokenSource
	path     string
	lastSeen string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.lastSeen {
		p.lastSeen = token.AccessToken
		_ = saveTokenAt(p.path, token)
	}
	return token, nil
}

// StoredTokenSource loads a provider's token and returns a refreshing source that
// saves renewed tokens.
func StoredTokenSource(ctx context.Context, provider string, config *oauth2.Config) (oauth2.TokenSource, error) {
	token, err := LoadToken(provider)
	if err != nil {
		return nil, fmt.Errorf("not authenticated with %s (run 'cosell auth %s'): %w", provider, provider, err)
	}
	return oauth2.ReuseTokenSource(token, &persistingTokenSource{
		base:     config.TokenSource(ctx, token),
		path:     TokenPath(provider),
		lastSeen: token.AccessToken,
	}), nil
}
