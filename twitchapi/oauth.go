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
	"strings"
	"time"
)

const (
	authorizeURL = "https://id.twitch.tv/oauth2/authorize"
	tokenURL     = "https://id.twitch.tv/oauth2/token"
)

// TokenResult is the token endpoint response for both the authorization_code
// and refresh_token grants.
type TokenResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// OAuthClient performs the Twitch user OAuth code flow.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	HTTPClient   *http.Client
}

func (c *OAuthClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// AuthorizeURL constructs the user authorization URL for OAuth code grant.
func (c *OAuthClient) AuthorizeURL(state string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", c.ClientID)
	v.Set("redirect_uri", c.RedirectURI)
	if c.Scopes != "" {
		v.Set("scope", strings.Join(strings.Fields(strings.ReplaceAll(c.Scopes, ",", " ")), " "))
	}
	if state != "" {
		v.Set("state", state)
	}
	return authorizeURL + "?" + v.Encode(), nil
}

// Exchange trades an authorization code for access & refresh tokens.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*TokenResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || c.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.RedirectURI)
	res, err := c.postToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	return res, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	res, err := c.postToken(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	return res, nil
}

func (c *OAuthClient) postToken(ctx context.Context, form url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
		return nil, fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	var res TokenResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
