package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
)

// RefresherConfig configures the refresh-token grant
type RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPTimeout  time.Duration
}

// Refresher exchanges refresh tokens at the identity provider
type Refresher struct {
	config *oauth2.Config
	client *http.Client
}

// Tokens is the result of a refresh
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// AccessExpiresAt is zero when the provider did not say.
	AccessExpiresAt time.Time
	// RefreshExpiresIn is zero when the provider did not say.
	RefreshExpiresIn time.Duration
}

// NewRefresher creates a refresher for the configured token endpoint
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &Refresher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Refresh runs the refresh-token grant. A rejection by the provider is
// Unauthenticated; a transport failure is Unavailable.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	const op = "auth.Refresh"

	if refreshToken == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "missing refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	// An empty access token forces the source to refresh on first use.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "refresh token rejected")
		}
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "token endpoint unavailable")
	}

	out := &Tokens{
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		AccessExpiresAt:  tok.Expiry,
		RefreshExpiresIn: secondsExtra(tok, "refresh_expires_in"),
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = id
	}
	return out, nil
}

func secondsExtra(tok *oauth2.Token, key string) time.Duration {
	switch v := tok.Extra(key).(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}
