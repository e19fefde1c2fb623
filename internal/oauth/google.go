// Package oauth integrates external identity providers. Providers hand back
// a verified Identity; account linking and session issuance stay in the
// service layer.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle is the provider name recorded on linked accounts.
const ProviderGoogle = "google"

// Identity is a provider-verified user identity.
type Identity struct {
	Provider      string
	SubjectID     string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// Provider exchanges an authorization code for a verified identity.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// AuthURL returns the URL to redirect the user to, bound to the given
	// anti-CSRF state.
	AuthURL(state string) string
	// Exchange redeems the authorization code and fetches the user's
	// identity from the provider.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProvider implements Provider against Google's OAuth2 endpoints.
type GoogleProvider struct {
	config      *oauth2.Config
	userinfoURL string
}

// NewGoogleProvider creates a Google OAuth2 provider.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userinfoURL: googleUserinfoURL,
	}
}

// Configured reports whether provider credentials are present. An
// unconfigured provider's routes respond 404.
func (p *GoogleProvider) Configured() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}

// AuthURL returns Google's consent page URL bound to state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// googleUserinfo is the subset of Google's userinfo response we use.
type googleUserinfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// Exchange redeems the code and fetches the user's profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	client := p.config.Client(ctx, tok)
	resp, err := client.Get(p.userinfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: unexpected status %d", resp.StatusCode)
	}

	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing id or email")
	}

	return &Identity{
		Provider:      ProviderGoogle,
		SubjectID:     info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
	}, nil
}
