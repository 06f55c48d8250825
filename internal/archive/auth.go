package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

const (
	// DefaultTokenURL is the Azure B2C ROPC endpoint used by the public API.
	DefaultTokenURL = "https://ercotb2c.b2clogin.com/ercotb2c.onmicrosoft.com/B2C_1_PUBAPI-ROPC-FLOW/oauth2/v2.0/token"
	// DefaultClientID is the public client registered for the API.
	DefaultClientID = "fec253ea-0d06-4272-a5e6-b478baeecd70"
)

// ErrMissingCredentials reports that one of username, password or subscription key is empty.
var ErrMissingCredentials = errors.New("missing ERCOT API credentials")

// Credentials identify an ERCOT API account.
type Credentials struct {
	Username        string
	Password        string
	SubscriptionKey string
}

// Validate returns ErrMissingCredentials naming each absent value.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "ERCOT_API_USERNAME")
	}
	if strings.TrimSpace(c.Password) == "" {
		missing = append(missing, "ERCOT_API_PASSWORD")
	}
	if strings.TrimSpace(c.SubscriptionKey) == "" {
		missing = append(missing, "ERCOT_SUBSCRIPTION_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// DefaultScope builds the "openid <client> offline_access" scope string.
func DefaultScope(clientID string) string {
	return "openid " + clientID + " offline_access"
}

// passwordGrant exchanges username and password for a bearer token.
type passwordGrant struct {
	http     *resty.Client
	tokenURL string
	clientID string
	scope    string
	creds    Credentials
}

type tokenResponse struct {
	IDToken          string `json:"id_token"`
	AccessToken      string `json:"access_token"`
	ExpiresIn        any    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token implements oauth2.TokenSource.
func (g *passwordGrant) Token() (*oauth2.Token, error) {
	var body tokenResponse
	resp, err := g.http.R().
		SetContext(context.Background()).
		SetFormData(map[string]string{
			"grant_type":    "password",
			"client_id":     g.clientID,
			"scope":         g.scope,
			"response_type": "id_token",
			"username":      g.creds.Username,
			"password":      g.creds.Password,
		}).
		SetResult(&body).
		SetError(&body).
		Post(g.tokenURL)
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	if resp.StatusCode() >= 400 {
		detail := strings.TrimSpace(body.ErrorDescription)
		if detail == "" {
			detail = strings.TrimSpace(body.Error)
		}
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		if detail == "" {
			detail = "No error payload returned by token endpoint."
		}
		return nil, fmt.Errorf("Token request failed (HTTP %d): %s", resp.StatusCode(), detail) //nolint:staticcheck // operator-facing message
	}

	token := body.IDToken
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return nil, errors.New("authentication succeeded but no id_token/access_token was returned")
	}
	out := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if secs := expiresInSeconds(body.ExpiresIn); secs > 0 {
		out.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return out, nil
}

func expiresInSeconds(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case string:
		var n int64
		if _, err := fmt.Sscan(val, &n); err == nil {
			return n
		}
	}
	return 0
}

// Authenticator caches the bearer token and can be forced to fetch a new one.
type Authenticator struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	cached oauth2.TokenSource
}

// NewAuthenticator wraps any token source with caching and forced refresh.
func NewAuthenticator(source oauth2.TokenSource) *Authenticator {
	return &Authenticator{source: source, cached: oauth2.ReuseTokenSource(nil, source)}
}

// NewPasswordAuthenticator builds an Authenticator backed by the ROPC password grant.
func NewPasswordAuthenticator(tokenURL, clientID, scope string, creds Credentials, timeout time.Duration) *Authenticator {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	if scope == "" {
		scope = DefaultScope(clientID)
	}
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")
	return NewAuthenticator(&passwordGrant{
		http:     httpClient,
		tokenURL: tokenURL,
		clientID: clientID,
		scope:    scope,
		creds:    creds,
	})
}

// Token returns the cached token, fetching one on first use or after expiry.
func (a *Authenticator) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	cached := a.cached
	a.mu.Unlock()
	tok, err := cached.Token()
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return tok, nil
}

// Refresh discards the cached token and fetches a new one.
func (a *Authenticator) Refresh() error {
	tok, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("re-authenticate: %w", err)
	}
	a.mu.Lock()
	a.cached = oauth2.ReuseTokenSource(tok, a.source)
	a.mu.Unlock()
	return nil
}
