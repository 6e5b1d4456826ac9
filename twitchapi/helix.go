// Package twitchapi contains minimal helpers for the Twitch user OAuth flow
// and the Helix call that resolves the authenticated user's channel.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const usersURL = "https://api.twitch.tv/helix/users"

// ErrUserNotFound is returned when Helix answers with an empty user list.
var ErrUserNotFound = errors.New("user not found")

// User is the subset of a Helix user object the connector needs.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient issues Helix requests on behalf of a user access token.
type HelixClient struct {
	ClientID   string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetAuthenticatedUser returns the user the access token belongs to.
func (hc *HelixClient) GetAuthenticatedUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usersURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
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
		return nil, fmt.Errorf("helix users: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrUserNotFound
	}
	return &body.Data[0], nil
}
