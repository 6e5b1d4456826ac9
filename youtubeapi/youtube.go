// Package youtubeapi wraps the Google OAuth2 client config and the YouTube Data
// API for the two calls live chat needs: finding the active broadcast's chat
// and listing its messages. Credentials are read from the session store so a
// token refreshed by the oauth2 transport is written back for later polls.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/config"
	"github.com/onnwee/chatmerge/session"
)

const defaultScope = "https://www.googleapis.com/auth/youtube.readonly"

// ErrNoActiveBroadcast is returned when the account has no live broadcast.
var ErrNoActiveBroadcast = errors.New("no active youtube broadcast")

type Service struct {
	sessions session.Store
	oauth    *oauth2.Config
	// extra client options, e.g. a test endpoint
	opts []option.ClientOption
}

func New(cfg *config.Config, sessions session.Store, opts ...option.ClientOption) *Service {
	scopes := []string{defaultScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{sessions: sessions, oauth: oauth, opts: opts}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for credentials. Nothing is stored;
// the caller decides once the broadcast lookup has finished.
func (s *Service) Exchange(ctx context.Context, code string) (session.Credentials, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("youtube code exchange: %w", err)
	}
	return fromToken(tok), nil
}

// Refresh obtains a new access token from the stored refresh token.
func (s *Service) Refresh(ctx context.Context, creds session.Credentials) (session.Credentials, error) {
	if creds.RefreshToken == "" {
		return creds, errors.New("no youtube refresh token")
	}
	// no access token, so the source always refreshes
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return creds, fmt.Errorf("youtube refresh: %w", err)
	}
	out := fromToken(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = creds.RefreshToken
	}
	if out.Scope == "" {
		out.Scope = creds.Scope
	}
	return out, nil
}

// ActiveLiveChatID returns the live chat of the first active broadcast.
func (s *Service) ActiveLiveChatID(ctx context.Context, creds session.Credentials) (string, error) {
	svc, _, err := s.client(ctx, creds)
	if err != nil {
		return "", err
	}
	res, err := svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").
		BroadcastType("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("list live broadcasts: %w", err)
	}
	for _, b := range res.Items {
		if b.Snippet != nil && b.Snippet.LiveChatId != "" {
			return b.Snippet.LiveChatId, nil
		}
	}
	return "", ErrNoActiveBroadcast
}

// ListLiveChatMessages lists one page of the live chat using the stored
// YouTube session.
func (s *Service) ListLiveChatMessages(ctx context.Context, liveChatID, pageToken string) (chat.LiveChatPage, error) {
	st, err := s.sessions.Get(ctx, chat.YouTubePlatform)
	if err != nil {
		return chat.LiveChatPage{}, fmt.Errorf("youtube session: %w", err)
	}
	svc, ts, err := s.client(ctx, st.Credentials)
	if err != nil {
		return chat.LiveChatPage{}, err
	}
	call := svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return chat.LiveChatPage{}, fmt.Errorf("list live chat messages: %w", err)
	}
	s.writeBack(ctx, st, ts)

	page := chat.LiveChatPage{NextPageToken: res.NextPageToken, Items: make([]chat.LiveChatItem, 0, len(res.Items))}
	for _, item := range res.Items {
		it := chat.LiveChatItem{ID: item.Id}
		if item.AuthorDetails != nil {
			it.Author = item.AuthorDetails.DisplayName
		}
		if item.Snippet != nil {
			it.Text = item.Snippet.DisplayMessage
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

func (s *Service) client(ctx context.Context, creds session.Credentials) (*yt.Service, oauth2.TokenSource, error) {
	if !creds.Valid() {
		return nil, nil, errors.New("no youtube token stored")
	}
	ts := s.oauth.TokenSource(ctx, toToken(creds))
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, s.opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("youtube client: %w", err)
	}
	return svc, ts, nil
}

// writeBack stores a token the transport refreshed during a call. Only the
// credentials change, and only while the stored session still holds the
// token the call started with; a newer session from the callback wins.
func (s *Service) writeBack(ctx context.Context, used session.State, ts oauth2.TokenSource) {
	tok, err := ts.Token()
	if err != nil || tok.AccessToken == used.Credentials.AccessToken {
		return
	}
	st, err := s.sessions.Get(ctx, chat.YouTubePlatform)
	if err != nil || st.Credentials.AccessToken != used.Credentials.AccessToken {
		return
	}
	creds := fromToken(tok)
	if creds.RefreshToken == "" {
		creds.RefreshToken = st.Credentials.RefreshToken
	}
	if creds.Scope == "" {
		creds.Scope = st.Credentials.Scope
	}
	st.Credentials = creds
	st.UpdatedAt = time.Now().UTC()
	if err := s.sessions.Put(ctx, st); err != nil {
		slog.Warn("store refreshed youtube token", slog.Any("err", err))
	}
}

func toToken(c session.Credentials) *oauth2.Token {
	return &oauth2.Token{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, Expiry: c.Expiry, TokenType: "Bearer"}
}

func fromToken(tok *oauth2.Token) session.Credentials {
	creds := session.Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if scope, ok := tok.Extra("scope").(string); ok {
		creds.Scope = scope
	}
	return creds
}
